package rist

import (
	"math/rand"
	"time"

	"github.com/go-rist/rist/internal/log"
	"github.com/go-rist/rist/internal/timerwheel"
)

// slotState is one of the four states a reorder slot can be in
// (spec.md §3).
type slotState byte

const (
	slotEmpty slotState = iota
	slotPending
	slotHeld
	slotDelivered
)

// reorderSlot carries one sequence's repair state (spec.md §3). sequence
// identifies which sequence currently occupies the slot, since the ring
// index wraps every `window` sequences and a stale state byte from the
// previous lap must never be mistaken for the current one.
type reorderSlot struct {
	state        slotState
	sequence     uint32
	payload      []byte
	arrivedAt    time.Time
	nackSentCount int
	nextNackTime time.Time
	peerAddr     string // which peer most recently delivered data for this region
}

// deliveredBlock is one payload released to the application in order.
type deliveredBlock struct {
	sequence uint32
	payload  []byte
}

// Flow is a stream identity scoped by flow_id (spec.md §3). It is owned by
// exactly one Receiver and lazily created on first-seen flow_id. The
// reorder ring generalizes the teacher's frameQueue (sorted
// expected-sequence gate) and receiveQueue (bitmap dedup) into the held/
// pending/delivered state machine spec.md §4.3 requires.
type Flow struct {
	id uint32

	window int
	ring   []reorderSlot

	cursor  uint32 // next sequence to deliver
	highSeen uint32
	seeded  bool

	releaseDeadline time.Time

	rttMin, rttMax time.Duration
	lengthMin      time.Duration

	maxRetries int

	wheel *timerwheel.Wheel

	stats   collector
	resets  uint64

	// pendingDeliveries holds blocks fastForward had to deliver out of the
	// normal cursor-order walk because they were already held (received)
	// when the jump skipped past them; poll drains these before resuming
	// its own ring walk.
	pendingDeliveries []deliveredBlock

	peerLoss map[string]float64

	logger *log.Logger
}

func newFlow(id uint32, cfg PeerConfig, logger *log.Logger) *Flow {
	window := reorderWindowSize(cfg.RecoveryReorderBuffer, cfg.RecoveryMaxBitrate, cfg.MTU)
	return &Flow{
		id:         id,
		window:     window,
		ring:       make([]reorderSlot, window),
		rttMin:     cfg.RecoveryRTTMin,
		rttMax:     cfg.RecoveryRTTMax,
		lengthMin:  cfg.RecoveryLengthMin,
		maxRetries: cfg.MaxRetries,
		wheel:      timerwheel.New(),
		peerLoss:   make(map[string]float64),
		logger:     logger.With(map[string]any{"flow": id}),
	}
}

func reorderWindowSize(reorderBuffer time.Duration, maxBitrate uint64, mtu int) int {
	if mtu <= 0 {
		mtu = 1400
	}
	bytesPerSec := float64(maxBitrate) / 8
	n := int(reorderBuffer.Seconds()*bytesPerSec/float64(mtu)) + 1
	if n < 32 {
		n = 32
	}
	return n
}

func (f *Flow) index(sequence uint32) int {
	return int(sequence) % len(f.ring)
}

// nackEvent is a request this flow wants the receiver to turn into a wire
// NACK, addressed to whichever peer should handle it (spec.md §4.3's peer
// selection rule lives in receiver.go, which owns the peer set).
type nackEvent struct {
	sequences []uint32
	peerAddr  string
}

// onData implements spec.md §4.3 steps 1-4 for one arriving data packet.
// It returns errLateDrop for a late packet it cannot place, else nil. It
// does not produce the now-deliverable blocks; release happens in poll,
// matching the spec's separate "release loop".
func (f *Flow) onData(now time.Time, peerAddr string, sequence uint32, payload []byte) error {
	if !f.seeded {
		f.cursor = sequence
		f.highSeen = sequence
		f.releaseDeadline = now.Add(f.lengthMin)
		f.seeded = true
	}

	d := seqDistance(sequence, f.cursor)
	if d < 0 {
		// Late: fill this sequence's slot if it is still pending, else drop.
		idx := f.index(sequence)
		slot := &f.ring[idx]
		if slot.state == slotPending && slot.sequence == sequence {
			slot.state = slotHeld
			slot.payload = append([]byte(nil), payload...)
			slot.arrivedAt = now
			slot.peerAddr = peerAddr
			f.wheel.Cancel(slot.nextNackTime, sequence)
			f.stats.addRecovered(1)
			return nil
		}
		return errLateDrop
	}

	if d >= int32(f.window) {
		f.fastForward(now, sequence)
	}

	idx := f.index(sequence)
	slot := &f.ring[idx]
	if slot.sequence == sequence && (slot.state == slotHeld || slot.state == slotDelivered) {
		// duplicate within window; caller already deduped by bitmap, but
		// stay defensive.
		return nil
	}

	// Any empty slots between the previous high-water mark and s become
	// pending with nack-due = now + RTT_min.
	if seqLess(f.highSeen, sequence) {
		for s := f.highSeen + 1; seqLess(s, sequence); s++ {
			pidx := f.index(s)
			pslot := &f.ring[pidx]
			if pslot.state == slotEmpty || pslot.sequence != s {
				due := now.Add(f.rttMin)
				*pslot = reorderSlot{state: slotPending, sequence: s, nextNackTime: due}
				f.wheel.Schedule(due, s)
			}
		}
		f.highSeen = sequence
	}

	// Filling a slot that a previous gap already marked pending is a
	// genuine reorder recovered within the window, distinct from the
	// late/NACK'd-recovery path above which already counts addRecovered.
	if slot.state == slotPending {
		f.stats.addReordered(1)
	}

	slot.state = slotHeld
	slot.sequence = sequence
	slot.payload = append([]byte(nil), payload...)
	slot.arrivedAt = now
	slot.peerAddr = peerAddr
	f.wheel.Cancel(slot.nextNackTime, sequence)
	return nil
}

// fastForward handles a lagging flow (spec.md §4.3 step 3): intervening
// pending slots become Lost and a FlowReset is counted. A slot that had
// already received its payload (held, just not yet released by poll) is
// delivered here rather than silently erased, so the jump never drops a
// block Property 1 requires this flow to observe exactly once.
//
// It also advances highSeen to sequence itself and marks the rest of the
// freshly exposed window pending on its own, the same way onData's regular
// gap-fill loop would for a small gap. Both matter together: if highSeen
// jumped without this flow also laying down its own pending markers, the
// newly exposed range would sit Empty and poll could never advance through
// it; if onData's own gap-fill loop ran instead (comparing sequence against
// the stale pre-jump highSeen), it would re-walk and re-alias the whole
// stale range this jump just repurposed.
func (f *Flow) fastForward(now time.Time, sequence uint32) {
	f.resets++
	f.logger.Warn("flow_reset", map[string]any{"from": f.cursor, "to": sequence})
	newCursor := sequence - uint32(f.window) + 1

	for s := f.cursor; seqLess(s, newCursor); s++ {
		idx := f.index(s)
		slot := &f.ring[idx]
		if slot.sequence == s {
			switch slot.state {
			case slotPending:
				f.stats.addLost(1)
			case slotHeld:
				f.pendingDeliveries = append(f.pendingDeliveries, deliveredBlock{sequence: s, payload: slot.payload})
				f.stats.addReceived(1)
			}
		}
		*slot = reorderSlot{}
	}
	f.cursor = newCursor

	for s := newCursor; seqLess(s, sequence); s++ {
		idx := f.index(s)
		slot := &f.ring[idx]
		if slot.state == slotEmpty || slot.sequence != s {
			due := now.Add(f.rttMin)
			*slot = reorderSlot{state: slotPending, sequence: s, nextNackTime: due}
			f.wheel.Schedule(due, s)
		}
	}

	f.highSeen = sequence
	f.releaseDeadline = now.Add(f.lengthMin)
}

// poll drains everything currently deliverable, advancing cursor in order
// (spec.md §4.3's release loop), and returns the delivered blocks. A pending
// slot at the cursor whose release deadline has passed is marked Lost;
// NACK retry exhaustion is handled by dueNACKs, not here.
func (f *Flow) poll(now time.Time) []deliveredBlock {
	var out []deliveredBlock
	if len(f.pendingDeliveries) > 0 {
		out = append(out, f.pendingDeliveries...)
		f.pendingDeliveries = nil
	}
	for {
		idx := f.index(f.cursor)
		slot := &f.ring[idx]
		if slot.sequence != f.cursor && slot.state != slotEmpty {
			// stale state from a previous lap around the ring; nothing for
			// this sequence has arrived yet.
			return out
		}
		switch slot.state {
		case slotDelivered:
			f.cursor++
			continue
		case slotHeld:
			out = append(out, deliveredBlock{sequence: f.cursor, payload: slot.payload})
			f.stats.addReceived(1)
			*slot = reorderSlot{state: slotDelivered, sequence: f.cursor}
			f.cursor++
			f.releaseDeadline = now.Add(f.lengthMin)
			continue
		case slotPending:
			if now.Before(f.releaseDeadline) {
				return out
			}
			// deadline passed with nothing recovered: mark lost and move on.
			f.stats.addLost(1)
			*slot = reorderSlot{}
			f.cursor++
			f.releaseDeadline = now.Add(f.lengthMin)
			continue
		default: // slotEmpty
			return out
		}
	}
}

// nextDeadline returns when poll should next be invoked: either the
// release deadline or the next NACK wheel bucket, whichever is sooner.
func (f *Flow) nextDeadline() time.Time {
	return earliest(f.releaseDeadline, f.wheel.Next())
}

// dueNACKs fires the wheel and coalesces contiguous pending sequences into
// range (or bitmask, when dense) requests, re-arming each with jittered
// backoff (spec.md §4.3).
func (f *Flow) dueNACKs(now time.Time) []nackEvent {
	due := f.wheel.Fire(now)
	if len(due) == 0 {
		return nil
	}

	byPeer := make(map[string][]uint32)
	for _, seq := range due {
		idx := f.index(seq)
		slot := &f.ring[idx]
		if slot.state != slotPending || slot.sequence != seq {
			continue
		}

		slot.nackSentCount++
		if slot.nackSentCount > f.maxRetries {
			*slot = reorderSlot{}
			f.stats.addLost(1)
			continue
		}

		interval := f.rttMin << uint(slot.nackSentCount)
		if interval > f.rttMax || interval <= 0 {
			interval = f.rttMax
		}
		interval = jitter(interval)
		slot.nextNackTime = now.Add(interval)
		f.wheel.Schedule(slot.nextNackTime, seq)

		peer := f.selectNACKPeer(seq)
		byPeer[peer] = append(byPeer[peer], seq)
	}

	var events []nackEvent
	for peer, seqs := range byPeer {
		events = append(events, nackEvent{sequences: seqs, peerAddr: peer})
	}
	return events
}

// selectNACKPeer implements spec.md §4.3's peer-selection rule: prefer the
// peer that most recently delivered data for the surrounding region, else
// weighted round-robin inversely by recent loss rate.
func (f *Flow) selectNACKPeer(sequence uint32) string {
	idx := f.index(sequence)
	for d := 1; d <= 4; d++ {
		if p := f.neighborPeer(idx - d); p != "" {
			return p
		}
		if p := f.neighborPeer(idx + d); p != "" {
			return p
		}
	}

	best := ""
	bestLoss := 2.0
	for peer, loss := range f.peerLoss {
		if loss < bestLoss {
			bestLoss, best = loss, peer
		}
	}
	return best
}

func (f *Flow) neighborPeer(idx int) string {
	n := len(f.ring)
	idx = ((idx % n) + n) % n
	return f.ring[idx].peerAddr
}

// recordPeerLoss updates the per-peer loss-rate estimate used for weighted
// NACK routing once a peer's retransmit repeatedly fails.
func (f *Flow) recordPeerLoss(peerAddr string, lost bool) {
	const alpha = 0.1
	cur := f.peerLoss[peerAddr]
	sample := 0.0
	if lost {
		sample = 1.0
	}
	f.peerLoss[peerAddr] = alpha*sample + (1-alpha)*cur
}

func earliest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}

func jitter(d time.Duration) time.Duration {
	// +/- 12.5% jitter (spec.md §4.3): avoids synchronized retries across
	// peers on the same loss event.
	offset := d / 8
	delta := time.Duration(rand.Int63n(int64(2*offset+1))) - offset
	return d + delta
}
