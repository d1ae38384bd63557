package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBufferBloatOffNeverTrips(t *testing.T) {
	b := NewBufferBloat(BufferBloatOff, 50*time.Millisecond, 200*time.Millisecond)
	b.Observe(time.Now(), 500*time.Millisecond)
	assert.False(t, b.DropRetransmits())
}

func TestBufferBloatNormalTripsAndResetsAtLowWater(t *testing.T) {
	b := NewBufferBloat(BufferBloatNormal, 50*time.Millisecond, 200*time.Millisecond)
	now := time.Now()

	b.Observe(now, 20*time.Millisecond)
	assert.False(t, b.DropRetransmits())

	b.Observe(now, 60*time.Millisecond)
	assert.True(t, b.DropRetransmits())

	// Low water is 80% of limit = 40ms; above that, stays tripped.
	b.Observe(now, 45*time.Millisecond)
	assert.True(t, b.DropRetransmits())

	b.Observe(now, 30*time.Millisecond)
	assert.False(t, b.DropRetransmits())
}

func TestBufferBloatNormalNeverThrottlesOriginals(t *testing.T) {
	b := NewBufferBloat(BufferBloatNormal, 50*time.Millisecond, 200*time.Millisecond)
	now := time.Now()
	b.Observe(now, 500*time.Millisecond)
	assert.False(t, b.ThrottleOriginals(now))
}

func TestBufferBloatAggressiveThrottlesOriginalsForOneRTT(t *testing.T) {
	b := NewBufferBloat(BufferBloatAggressive, 50*time.Millisecond, 200*time.Millisecond)
	now := time.Now()

	b.Observe(now, 250*time.Millisecond)
	assert.True(t, b.DropRetransmits())
	assert.True(t, b.ThrottleOriginals(now))

	after := now.Add(250 * time.Millisecond)
	assert.False(t, b.ThrottleOriginals(after))
}
