package congestion

import "time"

// Pacer is a per-peer token bucket refilled at recovery_maxbitrate bps
// (spec.md §4.2). Retransmits and originals draw from the same bucket; the
// pacer itself gives neither priority, and the sender keeps no retransmit
// queue: a retransmit is written when its NACK is handled, or dropped if
// the bucket is short.
type Pacer struct {
	bitrate  uint64 // bps
	capacity uint64 // bytes, the largest burst the bucket can hold
	tokens   float64
	prev     time.Time
}

// NewPacer builds a pacer budgeted at bitrate bits/sec, with a burst
// capacity of one MTU-sized packet to start.
func NewPacer(now time.Time, bitrate uint64, mtu uint64) *Pacer {
	return &Pacer{bitrate: bitrate, capacity: mtu, tokens: float64(mtu), prev: now}
}

// SetBitrate updates the refill rate, e.g. when recovery_maxbitrate changes.
func (p *Pacer) SetBitrate(bitrate uint64) { p.bitrate = bitrate }

// SetCapacity bounds the maximum burst the bucket can accumulate.
func (p *Pacer) SetCapacity(capacity uint64) {
	p.capacity = capacity
	if p.tokens > float64(capacity) {
		p.tokens = float64(capacity)
	}
}

func (p *Pacer) refill(now time.Time) {
	elapsed := now.Sub(p.prev)
	if elapsed <= 0 {
		return
	}
	p.tokens += elapsed.Seconds() * float64(p.bitrate) / 8
	if p.tokens > float64(p.capacity) {
		p.tokens = float64(p.capacity)
	}
	p.prev = now
}

// Allow reports whether n bytes may be sent now, consuming the tokens if
// so. A false return means the caller must not send n bytes now.
func (p *Pacer) Allow(now time.Time, n uint64) bool {
	p.refill(now)
	if p.tokens < float64(n) {
		return false
	}
	p.tokens -= float64(n)
	return true
}

// TimeUntilAvailable returns when n bytes' worth of tokens will exist,
// without consuming anything, for the run loop's deadline selection.
func (p *Pacer) TimeUntilAvailable(now time.Time, n uint64) time.Time {
	p.refill(now)
	if p.tokens >= float64(n) {
		return now
	}
	deficit := float64(n) - p.tokens
	secs := deficit * 8 / float64(p.bitrate)
	return now.Add(time.Duration(secs * float64(time.Second)))
}
