// Package readyqueue implements the priority queue used by every worker
// reactor and by the data fetcher: a strict total order over
// (user priority, internal priority, TaskId), smaller first, adapted from
// the teacher's container/heap-backed PriorityQueue
// (pkg/replication/priority_queue.go) down to a single-goroutine,
// unsynchronized structure — both owners run it from exactly one goroutine
// per the concurrency model, so the teacher's mutex buys nothing here.
package readyqueue

import "container/heap"

// Entry is one task waiting to be started or assigned, ordered by the
// spec's strict total order: smaller (user, internal, TaskID) sorts first
// and is popped first.
type Entry struct {
	TaskID          int64
	UserPriority    int64
	InternalPriority int64

	index int
}

// Queue is a min-heap of Entry ordered by (UserPriority, InternalPriority,
// TaskID).
type Queue struct {
	items []*Entry
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	heap.Init(q)
	return q
}

// Len implements heap.Interface.
func (q *Queue) Len() int { return len(q.items) }

// Less implements heap.Interface using the spec's strict total order.
func (q *Queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.UserPriority != b.UserPriority {
		return a.UserPriority < b.UserPriority
	}
	if a.InternalPriority != b.InternalPriority {
		return a.InternalPriority < b.InternalPriority
	}
	return a.TaskID < b.TaskID
}

// Swap implements heap.Interface.
func (q *Queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push implements heap.Interface; use Queue.Insert instead.
func (q *Queue) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

// Pop implements heap.Interface; use Queue.PopFront instead.
func (q *Queue) Pop() interface{} {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.items = old[:n-1]
	return e
}

// Insert adds an entry to the queue.
func (q *Queue) Insert(e *Entry) {
	heap.Push(q, e)
}

// PopFront removes and returns the highest-priority entry, or nil if empty.
func (q *Queue) PopFront() *Entry {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Entry)
}

// Peek returns the highest-priority entry without removing it.
func (q *Queue) Peek() *Entry {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Remove removes the entry with the given TaskID, if present, and reports
// whether it was found. Used when a task is stolen or canceled before it is
// popped.
func (q *Queue) Remove(taskID int64) bool {
	for i, e := range q.items {
		if e.TaskID == taskID {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

// Depth reports the current queue depth (exported name avoids clashing with
// the heap.Interface method above for callers outside this package).
func (q *Queue) Depth() int { return len(q.items) }

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }
