package rist

// seqDistance returns the signed modular distance from b to a on the 32-bit
// sequence space, i.e. how far ahead a is of b. A negative result means a is
// behind b (late); the magnitude saturates at 2^31 per spec.md §3.
func seqDistance(a, b uint32) int32 {
	return int32(a - b)
}

// seqLess reports whether a precedes b in the modular sequence space.
func seqLess(a, b uint32) bool {
	return seqDistance(a, b) < 0
}

// seqAdvance reports whether a is at or ahead of b.
func seqAdvance(a, b uint32) bool {
	return seqDistance(a, b) >= 0
}

// expandSequence reconstructs a full 32-bit sequence from its low 16 bits
// (as carried by NACKRange.Base and the RTP sub-header's 16-bit seq field)
// given a nearby full sequence already known to the caller, by picking
// whichever of the three candidate high-word values puts the result closest
// to near (spec.md §6: NACK ranges echo the low 16 bits only).
func expandSequence(low uint16, near uint32) uint32 {
	highWord := near &^ 0xFFFF
	candidates := [3]uint32{highWord - 0x10000, highWord, highWord + 0x10000}

	best := candidates[0] | uint32(low)
	bestDist := seqDistance(best, near)
	if bestDist < 0 {
		bestDist = -bestDist
	}
	for _, h := range candidates[1:] {
		c := h | uint32(low)
		d := seqDistance(c, near)
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
