package congestion

import "time"

// BufferBloatMode selects how aggressively a peer reacts to RTT inflation
// (spec.md §4.2, §6 buffer_bloat_mode).
type BufferBloatMode byte

const (
	BufferBloatOff BufferBloatMode = iota
	BufferBloatNormal
	BufferBloatAggressive
)

// BufferBloat tracks whether a peer's RTT has inflated past its configured
// limit and what the sender should do about it: drop new retransmissions
// (NORMAL), or additionally throttle originals for one RTT (AGGRESSIVE).
// buffer_bloat_hard_limit is ignored outside AGGRESSIVE (spec.md §9).
type BufferBloat struct {
	mode           BufferBloatMode
	limit          time.Duration
	hardLimit      time.Duration
	lowWater       time.Duration
	tripped        bool
	throttleUntil  time.Time
}

// NewBufferBloat builds a controller. lowWater is the RTT below which a
// tripped controller resets (spec.md §4.2: "until RTT returns below a
// low-water threshold"); it is always 80% of limit.
func NewBufferBloat(mode BufferBloatMode, limit, hardLimit time.Duration) *BufferBloat {
	return &BufferBloat{
		mode:      mode,
		limit:     limit,
		hardLimit: hardLimit,
		lowWater:  limit * 4 / 5,
	}
}

// Observe folds in the peer's current smoothed RTT and updates trip state.
func (b *BufferBloat) Observe(now time.Time, srtt time.Duration) {
	if b.mode == BufferBloatOff {
		return
	}

	if !b.tripped && srtt > b.limit {
		b.tripped = true
	} else if b.tripped && srtt < b.lowWater {
		b.tripped = false
	}

	if b.mode == BufferBloatAggressive && srtt > b.hardLimit && b.throttleUntil.Before(now) {
		b.throttleUntil = now.Add(srtt)
	}
}

// DropRetransmits reports whether newly generated retransmissions for this
// peer should be dropped (spec.md §4.2: NORMAL+AGGRESSIVE while tripped).
func (b *BufferBloat) DropRetransmits() bool {
	return b.mode != BufferBloatOff && b.tripped
}

// ThrottleOriginals reports whether originals should pause, which only
// happens in AGGRESSIVE mode above the hard limit, for one RTT.
func (b *BufferBloat) ThrottleOriginals(now time.Time) bool {
	return b.mode == BufferBloatAggressive && now.Before(b.throttleUntil)
}
