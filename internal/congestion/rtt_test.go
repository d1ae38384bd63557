package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTSeedsAtMinBeforeFirstSample(t *testing.T) {
	r := NewRTT(10*time.Millisecond, 200*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, r.Smoothed())
}

func TestRTTClampsSamplesToBounds(t *testing.T) {
	r := NewRTT(10*time.Millisecond, 200*time.Millisecond)

	r.Add(5 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, r.Smoothed())

	r.Add(500 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, r.Latest())
}

func TestRTTIgnoresNonPositiveSamples(t *testing.T) {
	r := NewRTT(10*time.Millisecond, 200*time.Millisecond)
	r.Add(-5 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, r.Smoothed())
}

func TestRTTEWMAConvergesTowardLatest(t *testing.T) {
	r := NewRTT(time.Millisecond, time.Second)
	r.Add(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, r.Smoothed())

	r.Add(50 * time.Millisecond)
	assert.Less(t, r.Smoothed(), 100*time.Millisecond)
	assert.Greater(t, r.Smoothed(), 50*time.Millisecond)
}
