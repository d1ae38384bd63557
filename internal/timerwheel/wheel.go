// Package timerwheel implements the 1 ms-bucket timer wheel spec.md §4.3
// specifies for the NACK scheduler: "a timer wheel of 1-ms buckets over the
// reorder window. Each pending slot is enqueued at its nack-due time."
// Generalized from cooldogedev/spectral's connection.go run-loop pattern of
// always picking the single earliest deadline (firstTime) into a structure
// that can hold many independent per-sequence deadlines without an
// O(n) scan on every tick.
package timerwheel

import (
	"time"

	"github.com/go-rist/rist/internal/protocol"
)

// Wheel buckets sequence numbers by their due time, rounded down to
// TimerGranularity. It never allocates a bucket slice per tick; buckets are
// created lazily and removed once drained.
type Wheel struct {
	granularity time.Duration
	buckets     map[int64][]uint32
}

// New builds an empty wheel.
func New() *Wheel {
	return &Wheel{granularity: protocol.TimerGranularity, buckets: make(map[int64][]uint32)}
}

func (w *Wheel) bucketKey(t time.Time) int64 {
	return t.UnixNano() / int64(w.granularity)
}

// Schedule enqueues sequence to fire at due.
func (w *Wheel) Schedule(due time.Time, sequence uint32) {
	key := w.bucketKey(due)
	w.buckets[key] = append(w.buckets[key], sequence)
}

// Cancel removes sequence from the bucket it was scheduled in at due. Only
// that one bucket is searched: an entry scheduled under a different due
// time stays in the wheel.
func (w *Wheel) Cancel(due time.Time, sequence uint32) {
	key := w.bucketKey(due)
	list := w.buckets[key]
	for i, s := range list {
		if s == sequence {
			w.buckets[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Fire pops every sequence whose bucket is at or before now, across all
// expired buckets, and returns them. Buckets are deleted as they drain.
func (w *Wheel) Fire(now time.Time) []uint32 {
	nowKey := w.bucketKey(now)
	var due []uint32
	for key, list := range w.buckets {
		if key <= nowKey {
			due = append(due, list...)
			delete(w.buckets, key)
		}
	}
	return due
}

// Next returns the earliest bucket's time, or the zero Time if empty, for
// the run loop's deadline selection.
func (w *Wheel) Next() time.Time {
	var earliest int64
	found := false
	for key := range w.buckets {
		if !found || key < earliest {
			earliest = key
			found = true
		}
	}
	if !found {
		return time.Time{}
	}
	return time.Unix(0, earliest*int64(w.granularity))
}

// Len reports the number of scheduled sequences across all buckets.
func (w *Wheel) Len() int {
	n := 0
	for _, list := range w.buckets {
		n += len(list)
	}
	return n
}
