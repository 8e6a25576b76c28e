// Package expireheap implements the expiration heap: a min-heap of
// (deadline, owning entry) pairs that lets the reactor find the
// soonest-expiring key in O(1) and keep a back-index on the owning entry in
// sync with every heap movement.
//
// Built on stdlib container/heap rather than a hand-rolled array: an
// internal slice type satisfies heap.Interface, and the owner type carries
// its slot index through Item so heap.Fix/heap.Remove stay O(log n) for an
// arbitrary owner, not just a fixed record type.
package expireheap

import "container/heap"

// unset marks an item that is not currently in any heap.
const unset = -1

// Item is the back-index contract an owning value must satisfy so the
// heap can keep it informed of its current slot.
type Item interface {
	HeapIndex() int
	SetHeapIndex(int)
}

type slot[T Item] struct {
	deadlineMs int64
	value      T
}

type rawHeap[T Item] []*slot[T]

func (h rawHeap[T]) Len() int { return len(h) }
func (h rawHeap[T]) Less(i, j int) bool {
	return h[i].deadlineMs < h[j].deadlineMs
}
func (h rawHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].value.SetHeapIndex(i)
	h[j].value.SetHeapIndex(j)
}
func (h *rawHeap[T]) Push(x any) {
	s := x.(*slot[T])
	s.value.SetHeapIndex(len(*h))
	*h = append(*h, s)
}
func (h *rawHeap[T]) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.value.SetHeapIndex(unset)
	*h = old[:n-1]
	return s
}

// Heap is a min-heap of (deadline, owner) pairs ordered by deadline.
type Heap[T Item] struct {
	h rawHeap[T]
}

// New returns an empty heap.
func New[T Item]() *Heap[T] {
	return &Heap[T]{}
}

// Len returns the number of entries currently scheduled.
func (hp *Heap[T]) Len() int { return len(hp.h) }

// Upsert schedules value to expire at deadlineMs. If value is already
// scheduled (its HeapIndex is not unset), its deadline is updated in
// place; otherwise it is inserted.
func (hp *Heap[T]) Upsert(value T, deadlineMs int64) {
	if idx := value.HeapIndex(); idx != unset {
		hp.h[idx].deadlineMs = deadlineMs
		heap.Fix(&hp.h, idx)
		return
	}
	heap.Push(&hp.h, &slot[T]{deadlineMs: deadlineMs, value: value})
}

// Remove drops value from the heap. No-op if value is not scheduled.
func (hp *Heap[T]) Remove(value T) {
	idx := value.HeapIndex()
	if idx == unset {
		return
	}
	heap.Remove(&hp.h, idx)
}

// Peek returns the soonest-expiring value and its deadline without
// removing it. ok is false if the heap is empty.
func (hp *Heap[T]) Peek() (value T, deadlineMs int64, ok bool) {
	if len(hp.h) == 0 {
		var zero T
		return zero, 0, false
	}
	return hp.h[0].value, hp.h[0].deadlineMs, true
}

// Pop removes and returns the soonest-expiring value.
func (hp *Heap[T]) Pop() (value T, deadlineMs int64, ok bool) {
	if len(hp.h) == 0 {
		var zero T
		return zero, 0, false
	}
	s := heap.Pop(&hp.h).(*slot[T])
	return s.value, s.deadlineMs, true
}

// UnsetIndex is the sentinel value implementations of Item should use to
// indicate "not currently scheduled".
const UnsetIndex = unset
