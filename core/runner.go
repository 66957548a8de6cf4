package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CompletionCallback is invoked after a task has left the running set,
// whatever its outcome.
type CompletionCallback func(t *Task)

// Runner owns the running set and executes admitted tasks. The running
// set lock is held only for insert, remove, and snapshot — never across
// closure execution.
type Runner struct {
	mu      sync.Mutex
	running map[TaskID]*Task

	notify   *notifier
	counters *statCounters
	log      zerolog.Logger

	profiling  bool
	nextTick   atomic.Uint64
	completion atomic.Value // CompletionCallback
}

func newRunner(notify *notifier, counters *statCounters, profiling bool, log zerolog.Logger) *Runner {
	return &Runner{
		running:   make(map[TaskID]*Task),
		notify:    notify,
		counters:  counters,
		profiling: profiling,
		log:       log,
	}
}

func (r *Runner) setCompletionCallback(cb CompletionCallback) {
	r.completion.Store(cb)
}

// register inserts the task into the running set. The dispatcher calls
// it inside the same critical section as the admission test so two
// dispatchers cannot admit conflicting tasks on one tag.
func (r *Runner) register(t *Task) {
	r.mu.Lock()
	r.running[t.ID()] = t
	r.mu.Unlock()
}

func (r *Runner) remove(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[t.ID()]; !ok {
		// Log-and-continue: a missing entry means a broken invariant,
		// not a reason to abort the process.
		r.log.Error().Uint32("task", uint32(t.ID())).Msg("task missing from running set on removal")
		return
	}
	delete(r.running, t.ID())
}

// Snapshot copies the running set for an admission test.
func (r *Runner) Snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.running))
	for _, t := range r.running {
		out = append(out, t)
	}
	return out
}

// RunningCount reports the size of the running set.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Execute registers the task and runs it to completion. Standalone
// entry point; the dispatcher uses the split register/run steps so
// registration happens inside its critical section.
func (r *Runner) Execute(t *Task) {
	r.register(t)
	r.run(t)
}

// run executes a task already present in the running set. On every exit
// path the task leaves the running set, its handle is resolved exactly
// once, and the completion callback fires.
func (r *Runner) run(t *Task) {
	fc := newFlowContext(r.nextTick.Add(1), r.profiling, t)

	r.notify.taskEvent(EventTaskStarted, t, fc.WorkerID(), "task started", 0)

	switch {
	case t.IsCancelled():
		t.Handle().resolve(nil, ErrCancelled)
		r.counters.cancelled.Add(1)
		r.notify.taskEvent(EventTaskCancelled, t, fc.WorkerID(), "task cancelled", 0)

	case t.IsTimedOut():
		t.Handle().resolve(nil, ErrTimedOut)
		r.counters.timedOut.Add(1)
		r.notify.taskEvent(EventTaskTimedOut, t, fc.WorkerID(), "task timed out", 0)

	default:
		value, err := r.invoke(t, fc)
		switch {
		case err != nil:
			failure := newClosureError(err)
			t.Handle().resolve(nil, failure)
			r.counters.failed.Add(1)
			r.notify.taskEvent(EventTaskFailed, t, fc.WorkerID(),
				fmt.Sprintf("task failed: %s", failure.Description), 0)

		case t.IsCancelled():
			t.Handle().resolve(nil, ErrCancelled)
			r.counters.cancelled.Add(1)
			r.notify.taskEvent(EventTaskCancelled, t, fc.WorkerID(), "task cancelled", 0)

		case t.IsTimedOut():
			t.Handle().resolve(nil, ErrTimedOut)
			r.counters.timedOut.Add(1)
			r.notify.taskEvent(EventTaskTimedOut, t, fc.WorkerID(), "task timed out", 0)

		default:
			t.Handle().resolve(value, nil)
			r.counters.completed.Add(1)
			description := "task completed"
			var duration time.Duration
			if profile, ok := fc.LastProfile(); ok {
				duration = profile.Duration()
				description = fmt.Sprintf("task completed (duration: %s)", duration)
			}
			r.notify.taskEvent(EventTaskCompleted, t, fc.WorkerID(), description, duration)
		}
	}

	r.remove(t)
	r.invokeCompletion(t)
}

// invoke runs the closure inside a failure-catching frame. A panic
// surfaces as a ClosureError; it never unwinds into the worker loop.
func (r *Runner) invoke(t *Task, fc *FlowContext) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newPanicError(rec)
		}
	}()

	fc.StartProfiling("task execution")
	value, err = t.Execute(fc)
	fc.EndProfiling()
	return value, err
}

func (r *Runner) invokeCompletion(t *Task) {
	cb, _ := r.completion.Load().(CompletionCallback)
	if cb == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn().Uint32("task", uint32(t.ID())).
				Interface("panic", rec).
				Msg("completion callback panicked")
		}
	}()
	cb(t)
}
