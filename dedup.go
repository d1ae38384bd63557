package rist

// dedupWindow implements spec.md §4.5's redundant-peer dedup: "first
// arrival wins; duplicates update per-peer arrival statistics but do not
// re-enter the reorder buffer." It generalizes the teacher's
// receiveQueue (a flat bitmap indexed by the full 32-bit sequence space)
// into a bounded ring tagged by the sequence each slot currently holds,
// the same technique flow.go's reorderSlot uses to survive ring wrap.
type dedupWindow struct {
	size uint32
	tag  []uint32
	seen []bool
}

func newDedupWindow(size int) *dedupWindow {
	if size < 32 {
		size = 32
	}
	return &dedupWindow{
		size: uint32(size),
		tag:  make([]uint32, size),
		seen: make([]bool, size),
	}
}

// check reports whether sequence has already been marked, and marks it
// if not.
func (w *dedupWindow) check(sequence uint32) bool {
	idx := sequence % w.size
	if w.seen[idx] && w.tag[idx] == sequence {
		return true
	}
	w.tag[idx] = sequence
	w.seen[idx] = true
	return false
}
