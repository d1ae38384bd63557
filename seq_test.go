package rist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqDistance(t *testing.T) {
	assert.Equal(t, int32(1), seqDistance(11, 10))
	assert.Equal(t, int32(-1), seqDistance(10, 11))
	assert.Equal(t, int32(1), seqDistance(0, 0xFFFFFFFF))
}

func TestSeqLessAndAdvance(t *testing.T) {
	assert.True(t, seqLess(10, 11))
	assert.False(t, seqLess(11, 10))
	assert.True(t, seqAdvance(11, 10))
	assert.True(t, seqAdvance(10, 10))
	assert.False(t, seqAdvance(10, 11))
}

func TestSeqLessAcrossWrap(t *testing.T) {
	assert.True(t, seqLess(0xFFFFFFFF, 0))
	assert.False(t, seqLess(0, 0xFFFFFFFF))
}

func TestExpandSequence(t *testing.T) {
	near := uint32(0x0001_8000)
	assert.Equal(t, uint32(0x0001_8010), expandSequence(0x8010, near))
}

func TestExpandSequenceAcrossHighWordBoundary(t *testing.T) {
	// near sits just below a high-word rollover; the true sequence is just
	// past it, so the low 16 bits alone look like they went backwards.
	near := uint32(0x0001_FFF0)
	got := expandSequence(0x0005, near)
	assert.Equal(t, uint32(0x0002_0005), got)
}
