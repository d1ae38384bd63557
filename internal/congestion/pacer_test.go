package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerAllowsBurstUpToCapacity(t *testing.T) {
	now := time.Now()
	p := NewPacer(now, 8_000_000, 1000) // 1MB/s, 1000-byte burst

	assert.True(t, p.Allow(now, 1000))
	assert.False(t, p.Allow(now, 1))
}

func TestPacerRefillsOverTime(t *testing.T) {
	now := time.Now()
	p := NewPacer(now, 8_000_000, 1000) // 1,000,000 bytes/sec

	assert.True(t, p.Allow(now, 1000))
	assert.False(t, p.Allow(now, 1))

	later := now.Add(500 * time.Millisecond) // half a second -> 500,000 bytes, capped at capacity
	assert.True(t, p.Allow(later, 1000))
}

func TestPacerTimeUntilAvailableDoesNotConsumeTokens(t *testing.T) {
	now := time.Now()
	p := NewPacer(now, 8_000_000, 1000)
	p.Allow(now, 1000)

	when := p.TimeUntilAvailable(now, 1000)
	assert.True(t, when.After(now))

	// Querying again at the same time gives the same answer: no tokens consumed.
	when2 := p.TimeUntilAvailable(now, 1000)
	assert.Equal(t, when, when2)
}

func TestPacerSetCapacityClampsExistingTokens(t *testing.T) {
	now := time.Now()
	p := NewPacer(now, 8_000_000, 2000)
	p.SetCapacity(500)
	assert.False(t, p.Allow(now, 501))
	assert.True(t, p.Allow(now, 500))
}
