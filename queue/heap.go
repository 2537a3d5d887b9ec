package queue

import (
	"container/heap"
	"time"

	"github.com/courierhq/courier/job"
)

// item is a heap entry: a job plus a monotonic sequence number that
// breaks due-time ties so same-instant jobs dispatch FIFO.
type item struct {
	j   *job.Job
	seq uint64
}

// readyHeap is a min-heap ordered by due time, then enqueue order.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, k int) bool {
	di, dk := h[i].j.DueAt(), h[k].j.DueAt()
	if di.Equal(dk) {
		return h[i].seq < h[k].seq
	}
	return di.Before(dk)
}

func (h readyHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// peek returns the earliest-due item without removing it.
func (h readyHeap) peek() *item {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// popItem removes and returns the earliest-due item.
func (h *readyHeap) popItem() *item {
	return heap.Pop(h).(*item)
}

// pushItem inserts an item preserving heap order.
func (h *readyHeap) pushItem(it *item) {
	heap.Push(h, it)
}

// nextDue returns the due time of the earliest item, or the zero time
// when the heap is empty.
func (h readyHeap) nextDue() time.Time {
	if it := h.peek(); it != nil {
		return it.j.DueAt()
	}
	return time.Time{}
}
