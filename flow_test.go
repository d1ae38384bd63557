package rist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rist/rist/internal/log"
)

func testFlow(t *testing.T) *Flow {
	t.Helper()
	cfg := PeerConfig{
		RecoveryLengthMin:     10 * time.Millisecond,
		RecoveryRTTMin:        2 * time.Millisecond,
		RecoveryRTTMax:        50 * time.Millisecond,
		RecoveryReorderBuffer: 100 * time.Millisecond,
		RecoveryMaxBitrate:    1_000_000,
		MaxRetries:            3,
		MTU:                   1400,
	}
	return newFlow(1, cfg, log.New(nil, log.PerspectiveReceiver))
}

func TestFlowInOrderDelivery(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 100, []byte("a")))
	require.NoError(t, f.onData(now, "peerA", 101, []byte("b")))

	out := f.poll(now)
	require.Len(t, out, 2)
	assert.Equal(t, uint32(100), out[0].sequence)
	assert.Equal(t, uint32(101), out[1].sequence)
}

func TestFlowHoldsOutOfOrderUntilGapFills(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 100, []byte("a")))
	require.NoError(t, f.onData(now, "peerA", 102, []byte("c")))

	// 101 is missing: only 100 releases.
	out := f.poll(now)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(100), out[0].sequence)

	// 101 fills a slot the gap above already marked pending, within the
	// current window: a genuine reorder, not a post-deadline recovery.
	require.NoError(t, f.onData(now, "peerB", 101, []byte("b")))
	assert.Equal(t, uint64(1), f.stats.reordered)
	assert.Equal(t, uint64(0), f.stats.recovered)

	out = f.poll(now)
	require.Len(t, out, 2)
	assert.Equal(t, uint32(101), out[0].sequence)
	assert.Equal(t, uint32(102), out[1].sequence)
}

func TestFlowLateArrivalPastReleaseDeadlineIsDropped(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 100, []byte("a")))
	require.NoError(t, f.onData(now, "peerA", 102, []byte("c")))
	f.poll(now)

	// Let the release deadline for 101 pass without it arriving.
	later := now.Add(f.lengthMin + time.Millisecond)
	out := f.poll(later)
	require.Len(t, out, 1)
	assert.Equal(t, uint32(102), out[0].sequence)
	assert.Equal(t, uint64(1), f.stats.lost)

	// Now 101 shows up too late: the slot has already moved on.
	err := f.onData(later, "peerA", 101, []byte("late"))
	assert.ErrorIs(t, err, errLateDrop)
}

func TestFlowFastForwardOnLargeGap(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 0, []byte("a")))
	f.poll(now)

	jump := uint32(f.window) * 3
	require.NoError(t, f.onData(now, "peerA", jump, []byte("b")))

	assert.Equal(t, uint64(1), f.resets)
	assert.Equal(t, jump-uint32(f.window)+1, f.cursor)

	// The newly exposed window below jump is pending, not delivered yet:
	// draining it out takes repeated polls past each release deadline,
	// until the one that finally reaches the held jump sequence itself.
	var delivered []deliveredBlock
	for i := 0; i < f.window && len(delivered) == 0; i++ {
		now = now.Add(f.lengthMin + time.Millisecond)
		delivered = f.poll(now)
	}
	require.NotEmpty(t, delivered)
	assert.Equal(t, jump, delivered[len(delivered)-1].sequence)
}

func TestFlowFastForwardDeliversHeldSlotInsteadOfDroppingIt(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 0, []byte("zero")))
	out := f.poll(now)
	require.Len(t, out, 1)

	// 2 arrives out of order and is held; 1 stays pending behind it.
	require.NoError(t, f.onData(now, "peerA", 2, []byte("two")))

	jump := uint32(f.window) * 3
	require.NoError(t, f.onData(now, "peerA", jump, []byte("jump")))

	assert.Equal(t, uint64(1), f.resets)
	// fastForward must not leave onData's gap-fill loop to re-scan the
	// stale pre-jump range against an out-of-date highSeen.
	assert.Equal(t, jump, f.highSeen)

	// The already-received slot 2 must surface exactly once, not vanish.
	out = f.poll(now)
	require.NotEmpty(t, out)
	assert.Equal(t, uint32(2), out[0].sequence)
	assert.Equal(t, uint64(2), f.stats.received) // sequence 0 and sequence 2

	var delivered []deliveredBlock
	for i := 0; i < f.window && len(delivered) == 0; i++ {
		now = now.Add(f.lengthMin + time.Millisecond)
		delivered = f.poll(now)
	}
	require.NotEmpty(t, delivered)
	assert.Equal(t, jump, delivered[len(delivered)-1].sequence)
}

func TestFlowDueNACKsFireAfterRTTMin(t *testing.T) {
	f := testFlow(t)
	now := time.Now()

	require.NoError(t, f.onData(now, "peerA", 100, []byte("a")))
	require.NoError(t, f.onData(now, "peerA", 105, []byte("f")))

	// Sequences 101-104 are pending, due at now+rttMin.
	events := f.dueNACKs(now)
	assert.Empty(t, events)

	events = f.dueNACKs(now.Add(f.rttMin + time.Millisecond))
	require.NotEmpty(t, events)

	var total int
	for _, ev := range events {
		total += len(ev.sequences)
	}
	assert.Equal(t, 4, total)
}
