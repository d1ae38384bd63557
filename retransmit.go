package rist

import (
	"time"

	"github.com/go-rist/rist/internal/protocol"
)

// retransmitSlot is the packet slot described by spec.md §3: wire bytes,
// original transmit time, retry count, and the deadline past which it must
// be evicted.
type retransmitSlot struct {
	occupied bool
	sequence uint32
	payload  []byte
	sentAt   time.Time
	deadline time.Time
	retries  int
}

// retransmitRing is the sender-side retransmit queue: a ring indexed by
// (sequence mod N), grounded on the teacher's retransmissionQueue
// (sorted-by-deadline slice) but generalized into a fixed-capacity array so
// the wrap-eviction invariant from spec.md §3/§4.2 ("when the retransmit
// ring wraps, the oldest slot is discarded regardless of retry state") is
// structural rather than incidental.
type retransmitRing struct {
	slots      []retransmitSlot
	maxRetries int
	lengthMax  time.Duration
	evicted    uint64
}

// newRetransmitRing sizes the ring at capacity N = ceil(recovery_length_max
// * peak_bitrate / mtu), per spec.md §3.
func newRetransmitRing(lengthMax time.Duration, peakBitrate uint64, mtu int, maxRetries int) *retransmitRing {
	n := ringCapacity(lengthMax, peakBitrate, mtu)
	return &retransmitRing{slots: make([]retransmitSlot, n), maxRetries: maxRetries, lengthMax: lengthMax}
}

func ringCapacity(lengthMax time.Duration, peakBitrate uint64, mtu int) int {
	if mtu <= 0 {
		mtu = protocol.DefaultMTU
	}
	bytesPerSec := float64(peakBitrate) / 8
	n := int(lengthMax.Seconds()*bytesPerSec/float64(mtu)) + 1
	if n < 16 {
		n = 16
	}
	return n
}

func (r *retransmitRing) index(sequence uint32) int {
	return int(sequence) % len(r.slots)
}

// Add stores a fresh copy of a transmitted packet. If the slot it lands on
// is occupied by an older, unevicted sequence, that sequence is evicted
// regardless of its retry state (the sole source of unrecoverable
// sender-side loss, spec.md §4.2).
func (r *retransmitRing) Add(now time.Time, sequence uint32, payload []byte) (evictedSeq uint32, evicted bool) {
	idx := r.index(sequence)
	slot := &r.slots[idx]
	if slot.occupied && slot.sequence != sequence {
		evictedSeq, evicted = slot.sequence, true
		r.evicted++
	}

	*slot = retransmitSlot{
		occupied: true,
		sequence: sequence,
		payload:  append([]byte(nil), payload...),
		sentAt:   now,
		deadline: now.Add(r.lengthMax),
	}
	return
}

// Lookup returns the slot for sequence if it is still present and not
// expired, per spec.md §3's eligibility invariant.
func (r *retransmitRing) Lookup(now time.Time, sequence uint32) (*retransmitSlot, bool) {
	idx := r.index(sequence)
	slot := &r.slots[idx]
	if !slot.occupied || slot.sequence != sequence {
		return nil, false
	}
	if now.After(slot.deadline) {
		return nil, false
	}
	return slot, true
}

// MarkRetransmitted bumps the retry count and resets sentAt so the
// one-RTT NACK-suppression window (spec.md §4.2) has a fresh anchor.
func (r *retransmitRing) MarkRetransmitted(now time.Time, sequence uint32) {
	idx := r.index(sequence)
	slot := &r.slots[idx]
	if slot.occupied && slot.sequence == sequence {
		slot.retries++
		slot.sentAt = now
	}
}

// Eligible reports whether sequence may still be retransmitted: present,
// not expired, and under the retry cap (spec.md §3).
func (r *retransmitRing) Eligible(now time.Time, sequence uint32) bool {
	slot, ok := r.Lookup(now, sequence)
	return ok && slot.retries < r.maxRetries
}

// Remove clears a slot once it is acknowledged indirectly (RIST has no
// direct ACK; this is used when the retransmit ring needs to free a slot
// that will never be requested again, e.g. on peer death).
func (r *retransmitRing) Remove(sequence uint32) {
	idx := r.index(sequence)
	slot := &r.slots[idx]
	if slot.occupied && slot.sequence == sequence {
		*slot = retransmitSlot{}
	}
}

// Evicted returns the cumulative count of wrap-evicted slots, surfaced via
// stats (spec.md §4.2: "reported via stats").
func (r *retransmitRing) Evicted() uint64 { return r.evicted }
