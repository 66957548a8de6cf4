package core

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// awaitPollInterval is how often Await re-checks the drain condition.
const awaitPollInterval = 10 * time.Millisecond

// statCounters are the process-wide atomic statistics counters.
type statCounters struct {
	completed  atomic.Uint64
	failed     atomic.Uint64
	cancelled  atomic.Uint64
	timedOut   atomic.Uint64
	reEnqueued atomic.Uint64
}

// Stats is a snapshot of the coordinator's counters. Queued and Running
// are instantaneous; the rest are monotonically non-decreasing.
type Stats struct {
	Queued     int
	Running    int
	Completed  uint64
	Failed     uint64
	Cancelled  uint64
	TimedOut   uint64
	ReEnqueued uint64
}

// Coordinator is the admission-and-dispatch engine behind the facade:
// it owns the pending queue, the conflict resolver, the runner, and the
// worker pool, and exposes the submission and control surface.
type Coordinator struct {
	queue    *TaskQueue
	resolver *ConflictResolver
	runner   *Runner
	pool     *WorkerPool
	notify   *notifier
	log      zerolog.Logger

	// dispatchMu serialises the admission test with the transition into
	// the running set (or back into the queue) so two dispatchers cannot
	// both admit mutually exclusive tasks on the same tag.
	dispatchMu sync.Mutex
	starvation map[TaskID]uint32

	starvationLimit atomic.Uint32
	nextTaskID      atomic.Uint32
	counters        statCounters
	stopping        atomic.Bool
	idle            atomic.Bool

	// inFlight counts tasks pulled from the queue but not yet moved into
	// the running set or back into the queue, so drain checks do not
	// observe a task in neither structure.
	inFlight atomic.Int32
}

// New builds a coordinator from cfg and eagerly starts its worker pool.
func New(cfg Config) *Coordinator {
	cfg = cfg.sanitized()

	c := &Coordinator{
		queue:      NewTaskQueue(),
		resolver:   NewConflictResolver(),
		starvation: make(map[TaskID]uint32),
		log:        cfg.Logger,
	}
	c.notify = newNotifier(cfg.Observer, cfg.Logger)
	c.resolver.setNotifier(c.notify)
	c.runner = newRunner(c.notify, &c.counters, cfg.Profiling, cfg.Logger)
	c.starvationLimit.Store(cfg.AntiStarvationLimit)

	if defaultPolicy, err := ParsePolicy(cfg.DefaultPolicy); err == nil {
		c.resolver.SetDefaultPolicy(defaultPolicy)
	}
	for tag, name := range cfg.Policies {
		if policy, err := ParsePolicy(name); err == nil {
			c.resolver.SetPolicy(tag, policy)
		} else {
			c.log.Warn().Str("tag", tag).Str("policy", name).Msg("ignoring unknown policy")
		}
	}

	c.pool = newWorkerPool(cfg.Workers, c.dispatchLoop)
	c.pool.Start()
	return c
}

// Submit wraps the closure in a task record, binds its completion
// handle, and pushes it into the pending queue. It fails with
// ErrQueueStopped after Shutdown.
func (c *Coordinator) Submit(fn TaskFunc, priority uint32, tags []string) (*Handle, error) {
	return c.SubmitWithTimeout(fn, priority, tags, 0)
}

// SubmitWithTimeout is Submit with a per-task deadline derived from now.
// A non-positive timeout means no deadline.
func (c *Coordinator) SubmitWithTimeout(fn TaskFunc, priority uint32, tags []string, timeout time.Duration) (*Handle, error) {
	if c.stopping.Load() {
		return nil, ErrQueueStopped
	}

	t := NewTask(TaskID(c.nextTaskID.Add(1)), fn, priority, tags)
	if timeout > 0 {
		t.SetTimeout(timeout)
	}

	c.notify.taskEvent(EventTaskQueued, t, "", "task queued", 0)
	if err := c.queue.Enqueue(t); err != nil {
		t.Handle().resolve(nil, ErrQueueStopped)
		return nil, err
	}
	return t.Handle(), nil
}

// SetPolicy maps a tag to a policy for subsequent admission tests.
func (c *Coordinator) SetPolicy(tag string, policy Policy) {
	c.resolver.SetPolicy(tag, policy)
}

// GetPolicy resolves a tag to its effective policy.
func (c *Coordinator) GetPolicy(tag string) Policy {
	return c.resolver.GetPolicy(tag)
}

// SetDefaultPolicy changes the fallback policy for unknown tags.
func (c *Coordinator) SetDefaultPolicy(policy Policy) {
	c.resolver.SetDefaultPolicy(policy)
}

// SetPoolSize drains the current workers and spawns n new ones.
func (c *Coordinator) SetPoolSize(n int) {
	c.pool.Resize(n)
}

// PoolSize reports the configured worker count.
func (c *Coordinator) PoolSize() int {
	return c.pool.Size()
}

// SetAntiStarvationLimit changes the number of re-enqueues after which a
// blocked task is force-admitted.
func (c *Coordinator) SetAntiStarvationLimit(limit uint32) {
	if limit < 1 {
		limit = 1
	}
	c.starvationLimit.Store(limit)
}

func (c *Coordinator) AntiStarvationLimit() uint32 {
	return c.starvationLimit.Load()
}

// SetCompletionCallback registers a callback invoked after each task
// leaves the running set, whatever its outcome.
func (c *Coordinator) SetCompletionCallback(cb CompletionCallback) {
	c.runner.setCompletionCallback(cb)
}

// Observer returns the configured observer so collaborators built on
// top of the coordinator can feed events through the same stream.
func (c *Coordinator) Observer() Observer {
	return c.notify.observer
}

// Await polls until both the pending queue and the running set are
// empty, up to timeout. It reports whether the coordinator drained in
// time.
func (c *Coordinator) Await(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.drained() {
			return true
		}
		time.Sleep(awaitPollInterval)
	}
	return c.drained()
}

// WaitForIdle blocks until the queue is empty and no worker is
// executing a task.
func (c *Coordinator) WaitForIdle() {
	for !c.drained() {
		time.Sleep(awaitPollInterval)
	}
}

func (c *Coordinator) drained() bool {
	return !c.queue.HasTasks() && c.inFlight.Load() == 0 && c.runner.RunningCount() == 0
}

// Stats snapshots the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Queued:     c.queue.Size(),
		Running:    c.runner.RunningCount(),
		Completed:  c.counters.completed.Load(),
		Failed:     c.counters.failed.Load(),
		Cancelled:  c.counters.cancelled.Load(),
		TimedOut:   c.counters.timedOut.Load(),
		ReEnqueued: c.counters.reEnqueued.Load(),
	}
}

// DebugDump renders a human-readable snapshot of the coordinator state.
func (c *Coordinator) DebugDump() string {
	stats := c.Stats()

	var b strings.Builder
	b.WriteString("FlowLock Debug Dump:\n")
	b.WriteString("==================\n")
	fmt.Fprintf(&b, "Queued tasks: %d\n", stats.Queued)
	fmt.Fprintf(&b, "Running tasks: %d\n", stats.Running)
	fmt.Fprintf(&b, "Completed tasks: %d\n", stats.Completed)
	fmt.Fprintf(&b, "Failed tasks: %d\n", stats.Failed)
	fmt.Fprintf(&b, "Cancelled tasks: %d\n", stats.Cancelled)
	fmt.Fprintf(&b, "Timed out tasks: %d\n", stats.TimedOut)
	fmt.Fprintf(&b, "Re-enqueued tasks: %d\n", stats.ReEnqueued)
	fmt.Fprintf(&b, "Anti-starvation limit: %d\n", c.starvationLimit.Load())
	b.WriteString("==================\n")
	b.WriteString("Running Tasks:\n")
	for _, t := range c.runner.Snapshot() {
		fmt.Fprintf(&b, "- Task %d: priority %d, tags: %s\n",
			t.ID(), t.Priority(), strings.Join(t.Tags(), " "))
	}
	return b.String()
}

// Shutdown sets the stop flag, unblocks the dispatchers, joins the
// workers (each finishes the task it is executing), and resolves any
// still-pending handles as stopped. Idempotent.
func (c *Coordinator) Shutdown() {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}

	c.queue.Shutdown()
	c.pool.Stop()

	for _, t := range c.queue.Drain() {
		t.Handle().resolve(nil, ErrQueueStopped)
	}
}

// dispatchLoop is the body each worker runs until the pool stops.
func (c *Coordinator) dispatchLoop(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		default:
		}
		if !c.dispatchOnce() {
			return
		}
	}
}

// dispatchOnce performs one dispatch step: pull the best pending task,
// test admission against a snapshot of the running set, and either start
// the task or re-enqueue it with starvation accounting. The admission
// test and the resulting state transition share one critical section;
// closure execution happens outside it. Returns false once the queue is
// stopped.
func (c *Coordinator) dispatchOnce() bool {
	t, status := c.queue.Dequeue()
	switch status {
	case DequeueStopped:
		return false
	case DequeueEmpty:
		if c.idle.CompareAndSwap(false, true) {
			c.notify.taskEvent(EventSchedulerEmpty, nil, "", "scheduler queue empty", 0)
		}
		return true
	}
	c.idle.Store(false)
	c.inFlight.Add(1)

	c.dispatchMu.Lock()
	running := c.runner.Snapshot()
	admit := c.resolver.CanExecute(t, running)
	forced := false
	if !admit {
		count := t.IncrementRequeue()
		c.starvation[t.ID()] = count
		c.counters.reEnqueued.Add(1)
		if count > c.starvationLimit.Load() {
			admit = true
			forced = true
		}
	}

	if admit {
		delete(c.starvation, t.ID())
		c.runner.register(t)
		c.inFlight.Add(-1)
		c.dispatchMu.Unlock()

		if forced {
			c.notify.taskEvent(EventAntiStarvationApplied, t, "",
				fmt.Sprintf("anti-starvation applied after %d re-enqueues", t.RequeueCount()), 0)
		}
		c.runner.run(t)
		return true
	}

	err := c.queue.Enqueue(t)
	if err != nil {
		delete(c.starvation, t.ID())
	}
	c.inFlight.Add(-1)
	c.dispatchMu.Unlock()

	if err != nil {
		t.Handle().resolve(nil, ErrQueueStopped)
		return false
	}

	// Brief yield so the running set can change before the next pass.
	time.Sleep(time.Millisecond)
	return true
}
