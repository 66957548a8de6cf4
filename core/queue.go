package core

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// dequeueWait bounds how long a single Dequeue attempt blocks for work.
const dequeueWait = 10 * time.Millisecond

// DequeueStatus distinguishes the three outcomes of a Dequeue attempt.
type DequeueStatus int

const (
	// DequeueOK means a task was returned.
	DequeueOK DequeueStatus = iota

	// DequeueEmpty means no work appeared within the bounded wait.
	DequeueEmpty

	// DequeueStopped means the queue has been shut down.
	DequeueStopped
)

// taskOrder pops the highest priority first, breaking ties by earlier
// submission timestamp, then by id.
func taskOrder(a, b any) int {
	ta, tb := a.(*Task), b.(*Task)
	switch {
	case ta.Priority() > tb.Priority():
		return -1
	case ta.Priority() < tb.Priority():
		return 1
	case ta.Timestamp().Before(tb.Timestamp()):
		return -1
	case tb.Timestamp().Before(ta.Timestamp()):
		return 1
	case ta.ID() < tb.ID():
		return -1
	case ta.ID() > tb.ID():
		return 1
	default:
		return 0
	}
}

// TaskQueue is the unbounded pending queue, ordered by (priority
// descending, submission timestamp ascending). Enqueue signals one
// waiting consumer; Dequeue blocks for a short bounded interval.
type TaskQueue struct {
	mu   sync.Mutex
	heap *binaryheap.Heap

	signal   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		heap:   binaryheap.NewWith(taskOrder),
		signal: make(chan struct{}, 64),
		stop:   make(chan struct{}),
	}
}

// Enqueue inserts a task and wakes one waiting consumer. It fails with
// ErrQueueStopped after Shutdown.
func (q *TaskQueue) Enqueue(t *Task) error {
	select {
	case <-q.stop:
		return ErrQueueStopped
	default:
	}

	q.mu.Lock()
	q.heap.Push(t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
		// Signal buffer full; a consumer will find the task on its next
		// pass anyway.
	}
	return nil
}

// Dequeue returns the best pending task. When the queue is empty it
// waits up to dequeueWait for work, then reports DequeueEmpty. After
// Shutdown it reports DequeueStopped.
func (q *TaskQueue) Dequeue() (*Task, DequeueStatus) {
	deadline := time.NewTimer(dequeueWait)
	defer deadline.Stop()

	for {
		select {
		case <-q.stop:
			return nil, DequeueStopped
		default:
		}

		q.mu.Lock()
		if v, ok := q.heap.Pop(); ok {
			q.mu.Unlock()
			return v.(*Task), DequeueOK
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-q.stop:
			return nil, DequeueStopped
		case <-deadline.C:
			return nil, DequeueEmpty
		}
	}
}

// Size reports the number of pending tasks.
func (q *TaskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Size()
}

// HasTasks reports whether any task is pending.
func (q *TaskQueue) HasTasks() bool {
	return q.Size() > 0
}

// Shutdown unblocks all waiters and makes subsequent Dequeue calls
// report DequeueStopped. Idempotent.
func (q *TaskQueue) Shutdown() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Drain removes and returns every pending task. Used at shutdown so
// their handles can be resolved as stopped.
func (q *TaskQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []*Task
	for {
		v, ok := q.heap.Pop()
		if !ok {
			return tasks
		}
		tasks = append(tasks, v.(*Task))
	}
}
