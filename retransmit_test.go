package rist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRing(t *testing.T) *retransmitRing {
	t.Helper()
	return newRetransmitRing(100*time.Millisecond, 1_000_000, 1400, 3)
}

func TestRetransmitRingAddAndLookup(t *testing.T) {
	r := testRing(t)
	now := time.Now()

	_, evicted := r.Add(now, 10, []byte("payload"))
	assert.False(t, evicted)

	slot, ok := r.Lookup(now, 10)
	require.True(t, ok)
	assert.Equal(t, uint32(10), slot.sequence)
	assert.Equal(t, []byte("payload"), slot.payload)
}

func TestRetransmitRingLookupMissExpired(t *testing.T) {
	r := testRing(t)
	now := time.Now()

	r.Add(now, 10, []byte("payload"))
	_, ok := r.Lookup(now.Add(200*time.Millisecond), 10)
	assert.False(t, ok)

	_, ok = r.Lookup(now, 99999)
	assert.False(t, ok)
}

func TestRetransmitRingWrapEvictsOldestRegardlessOfRetryState(t *testing.T) {
	r := testRing(t)
	now := time.Now()

	n := len(r.slots)
	r.Add(now, 5, []byte("old"))
	r.MarkRetransmitted(now, 5)
	r.MarkRetransmitted(now, 5)

	evictedSeq, evicted := r.Add(now, uint32(5+n), []byte("new"))
	require.True(t, evicted)
	assert.Equal(t, uint32(5), evictedSeq)
	assert.Equal(t, uint64(1), r.Evicted())

	_, ok := r.Lookup(now, 5)
	assert.False(t, ok)
}

func TestRetransmitRingEligibleRespectsRetryCap(t *testing.T) {
	r := testRing(t)
	now := time.Now()

	r.Add(now, 1, []byte("a"))
	assert.True(t, r.Eligible(now, 1))

	for i := 0; i < r.maxRetries; i++ {
		r.MarkRetransmitted(now, 1)
	}
	assert.False(t, r.Eligible(now, 1))
}

func TestRetransmitRingRemove(t *testing.T) {
	r := testRing(t)
	now := time.Now()

	r.Add(now, 1, []byte("a"))
	r.Remove(1)

	_, ok := r.Lookup(now, 1)
	assert.False(t, ok)
}
