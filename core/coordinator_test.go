package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noStarvation disables forced admission so policy behavior can be
// observed in isolation.
const noStarvation = 1 << 20

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	c := New(cfg)
	t.Cleanup(c.Shutdown)
	return c
}

// recordingObserver collects events and signals selected types.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event

	starvation chan Event
	conflicts  chan Event
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		starvation: make(chan Event, 16),
		conflicts:  make(chan Event, 256),
	}
}

func (o *recordingObserver) record(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) eventsFor(id TaskID) []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []EventType
	for _, ev := range o.events {
		if ev.TaskID == id {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (o *recordingObserver) TaskQueued(ev Event)    { o.record(ev) }
func (o *recordingObserver) TaskStarted(ev Event)   { o.record(ev) }
func (o *recordingObserver) TaskCompleted(ev Event) { o.record(ev) }
func (o *recordingObserver) TaskFailed(ev Event)    { o.record(ev) }
func (o *recordingObserver) TaskCancelled(ev Event) { o.record(ev) }
func (o *recordingObserver) TaskTimedOut(ev Event)  { o.record(ev) }
func (o *recordingObserver) ConflictDetected(ev Event) {
	o.record(ev)
	select {
	case o.conflicts <- ev:
	default:
	}
}
func (o *recordingObserver) AntiStarvationApplied(ev Event) {
	o.record(ev)
	select {
	case o.starvation <- ev:
	default:
	}
}
func (o *recordingObserver) SchedulerEmpty(ev Event) { o.record(ev) }

// TestCoordinator_PriorityOrdering runs three closures with descending
// priorities on a single worker and expects them in priority order.
func TestCoordinator_PriorityOrdering(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	var mu sync.Mutex
	var log []int
	appendLog := func(n int) TaskFunc {
		return func(fc *FlowContext) (any, error) {
			mu.Lock()
			log = append(log, n)
			mu.Unlock()
			return nil, nil
		}
	}

	_, err := c.Submit(appendLog(1), 100, nil)
	require.NoError(t, err)
	_, err = c.Submit(appendLog(2), 50, nil)
	require.NoError(t, err)
	_, err = c.Submit(appendLog(3), 10, nil)
	require.NoError(t, err)

	require.True(t, c.Await(5*time.Second), "coordinator did not drain")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, log)
}

// TestCoordinator_TimestampOrderAtEqualPriority submits N independent
// tasks at one priority on a single worker and expects completion in
// submission order.
func TestCoordinator_TimestampOrderAtEqualPriority(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	var mu sync.Mutex
	var order []int
	for i := 0; i < 8; i++ {
		i := i
		_, err := c.Submit(func(fc *FlowContext) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}, 5, nil)
		require.NoError(t, err)
	}

	require.True(t, c.Await(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		assert.Equal(t, i, n, "completion order diverges from submission order")
	}
}

// TestCoordinator_ExclusiveTagSerialises configures an exclusive tag and
// expects the second task's start to follow the first task's end.
func TestCoordinator_ExclusiveTagSerialises(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 2, AntiStarvationLimit: noStarvation})
	c.SetPolicy("render", PolicyExclusive)

	type span struct{ start, end time.Time }
	var mu sync.Mutex
	spans := make([]span, 0, 2)

	sleeper := func(fc *FlowContext) (any, error) {
		start := time.Now()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		spans = append(spans, span{start: start, end: time.Now()})
		mu.Unlock()
		return nil, nil
	}

	_, err := c.Submit(sleeper, 0, []string{"render"})
	require.NoError(t, err)
	_, err = c.Submit(sleeper, 0, []string{"render"})
	require.NoError(t, err)

	require.True(t, c.Await(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, spans, 2)
	first, second := spans[0], spans[1]
	if second.start.Before(first.start) {
		first, second = second, first
	}
	assert.False(t, second.start.Before(first.end),
		"second exclusive task started %v before first ended", first.end.Sub(second.start))
}

// TestCoordinator_PriorityPreemptionAdmission starts a long low-priority
// task on a priority tag and expects a strictly higher-priority task to
// be admitted alongside it.
func TestCoordinator_PriorityPreemptionAdmission(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 2, AntiStarvationLimit: noStarvation})
	c.SetPolicy("phys", PolicyPriority)

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		close(firstStarted)
		<-release
		return nil, nil
	}, 10, []string{"phys"})
	require.NoError(t, err)

	select {
	case <-firstStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("first task never started")
	}

	secondStarted := make(chan struct{})
	_, err = c.Submit(func(fc *FlowContext) (any, error) {
		close(secondStarted)
		return nil, nil
	}, 20, []string{"phys"})
	require.NoError(t, err)

	select {
	case <-secondStarted:
		// Admitted while the first task is still running.
	case <-time.After(2 * time.Second):
		t.Fatal("higher-priority task not admitted alongside running task")
	}

	close(release)
	require.True(t, c.Await(5*time.Second))
}

// TestCoordinator_PriorityEqualDenied submits an equal-priority task on
// a priority tag and expects it to wait for the running task.
func TestCoordinator_PriorityEqualDenied(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 2, AntiStarvationLimit: noStarvation})
	c.SetPolicy("phys", PolicyPriority)

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		close(firstStarted)
		<-release
		close(firstDone)
		return nil, nil
	}, 10, []string{"phys"})
	require.NoError(t, err)

	<-firstStarted

	secondStarted := make(chan struct{})
	_, err = c.Submit(func(fc *FlowContext) (any, error) {
		close(secondStarted)
		return nil, nil
	}, 10, []string{"phys"})
	require.NoError(t, err)

	select {
	case <-secondStarted:
		t.Fatal("equal-priority task admitted while blocker still running")
	case <-time.After(150 * time.Millisecond):
		// Still denied, as required by the strict greater-than rule.
	}

	close(release)
	<-firstDone

	select {
	case <-secondStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("second task never started after blocker finished")
	}
	require.True(t, c.Await(5*time.Second))
}

// TestCoordinator_AntiStarvation holds an exclusive tag and expects the
// blocked task to be force-admitted after the configured number of
// re-enqueues, with the observer notified.
func TestCoordinator_AntiStarvation(t *testing.T) {
	obs := newRecordingObserver()
	c := newTestCoordinator(t, Config{Workers: 2, AntiStarvationLimit: 3, Observer: obs})
	c.SetPolicy("r", PolicyExclusive)

	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		close(blockerStarted)
		<-release
		return nil, nil
	}, 0, []string{"r"})
	require.NoError(t, err)
	<-blockerStarted

	second, err := c.Submit(func(fc *FlowContext) (any, error) {
		return "forced through", nil
	}, 0, []string{"r"})
	require.NoError(t, err)

	value, err := second.Wait(5 * time.Second)
	require.NoError(t, err, "blocked task never forced through")
	assert.Equal(t, "forced through", value)

	select {
	case ev := <-obs.starvation:
		assert.Equal(t, EventAntiStarvationApplied, ev.Type)
		assert.Equal(t, second.TaskID(), ev.TaskID)
	default:
		t.Fatal("anti_starvation_applied not observed")
	}

	// The blocker is still running: forced admission transiently
	// violated the exclusive policy, which is the documented safety
	// valve.
	assert.GreaterOrEqual(t, c.Stats().Running, 1)
	close(release)
	require.True(t, c.Await(5*time.Second))

	assert.GreaterOrEqual(t, c.Stats().ReEnqueued, uint64(3))
}

// TestCoordinator_FailureContainment submits a failing closure among
// healthy ones and expects containment plus accurate counters.
func TestCoordinator_FailureContainment(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 2})

	handle, err := c.Submit(func(fc *FlowContext) (any, error) {
		return nil, errors.New("boom")
	}, 0, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	healthy := 0
	for i := 0; i < 3; i++ {
		_, err := c.Submit(func(fc *FlowContext) (any, error) {
			mu.Lock()
			healthy++
			mu.Unlock()
			return nil, nil
		}, 0, nil)
		require.NoError(t, err)
	}

	require.True(t, c.Await(5*time.Second))

	_, err = handle.Wait(time.Second)
	var ce *ClosureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "boom", ce.Description)

	mu.Lock()
	assert.Equal(t, 3, healthy, "healthy tasks affected by the failure")
	mu.Unlock()

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(3), stats.Completed)
}

// TestCoordinator_CancelBeforeAdmission verifies a task cancelled while
// pending is still admitted but short-circuits to a cancelled
// completion.
func TestCoordinator_CancelBeforeAdmission(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	release := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		<-release
		return nil, nil
	}, 10, nil)
	require.NoError(t, err)

	invoked := false
	handle, err := c.Submit(func(fc *FlowContext) (any, error) {
		invoked = true
		return nil, nil
	}, 0, nil)
	require.NoError(t, err)

	handle.Cancel()
	close(release)

	_, err = handle.Wait(5 * time.Second)
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, invoked, "cancelled closure was invoked")
	require.True(t, c.Await(5*time.Second))
	assert.Equal(t, uint64(1), c.Stats().Cancelled)
}

// TestCoordinator_TimeoutResolvesTimedOut verifies the deadline path
// through submission.
func TestCoordinator_TimeoutResolvesTimedOut(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	release := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		<-release
		return nil, nil
	}, 10, nil)
	require.NoError(t, err)

	handle, err := c.SubmitWithTimeout(func(fc *FlowContext) (any, error) {
		return nil, nil
	}, 0, nil, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	close(release)

	_, err = handle.Wait(5 * time.Second)
	require.ErrorIs(t, err, ErrTimedOut)
	require.True(t, c.Await(5*time.Second))
	assert.Equal(t, uint64(1), c.Stats().TimedOut)
}

// TestCoordinator_ObserverOrdering verifies queued precedes started and
// the terminal event follows started for every task.
func TestCoordinator_ObserverOrdering(t *testing.T) {
	obs := newRecordingObserver()
	c := newTestCoordinator(t, Config{Workers: 2, Observer: obs})

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, nil }, uint32(i), nil)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.True(t, c.Await(5*time.Second))

	for _, h := range handles {
		sequence := obs.eventsFor(h.TaskID())
		require.NotEmpty(t, sequence)
		assert.Equal(t, EventTaskQueued, sequence[0], "first event must be queued")
		sawStarted := false
		for _, typ := range sequence {
			switch typ {
			case EventTaskStarted:
				sawStarted = true
			case EventTaskCompleted, EventTaskFailed, EventTaskCancelled, EventTaskTimedOut:
				assert.True(t, sawStarted, "terminal event before started")
			}
		}
	}
}

// TestCoordinator_SubmitAfterShutdown verifies the queue-stopped error.
func TestCoordinator_SubmitAfterShutdown(t *testing.T) {
	c := New(Config{Workers: 1})
	c.Shutdown()
	c.Shutdown() // idempotent

	_, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, nil }, 0, nil)
	require.ErrorIs(t, err, ErrQueueStopped)
}

// TestCoordinator_ShutdownResolvesPending verifies tasks still queued at
// shutdown resolve as stopped rather than hanging their waiters.
func TestCoordinator_ShutdownResolvesPending(t *testing.T) {
	c := New(Config{Workers: 1})

	release := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		<-release
		return nil, nil
	}, 100, nil)
	require.NoError(t, err)

	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, nil }, 0, nil)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	close(release)
	c.Shutdown()

	for _, h := range handles {
		require.True(t, h.Resolved(), "handle left unresolved after Shutdown")
		_, err := h.Wait(time.Second)
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueStopped)
		}
	}
}

// TestCoordinator_StatsQuiescence verifies the counter identity at
// quiescence: terminal counters sum to the submission count.
func TestCoordinator_StatsQuiescence(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 4})

	const submitted = 20
	for i := 0; i < submitted; i++ {
		i := i
		_, err := c.Submit(func(fc *FlowContext) (any, error) {
			if i%5 == 0 {
				return nil, errors.New("planned failure")
			}
			return i, nil
		}, uint32(i), nil)
		require.NoError(t, err)
	}

	require.True(t, c.Await(5*time.Second))

	stats := c.Stats()
	total := stats.Completed + stats.Failed + stats.Cancelled + stats.TimedOut
	assert.Equal(t, uint64(submitted), total)
	assert.Equal(t, uint64(4), stats.Failed)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0, stats.Running)
}

// TestCoordinator_SetPoolSize verifies resize keeps processing tasks.
func TestCoordinator_SetPoolSize(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	c.SetPoolSize(4)
	assert.Equal(t, 4, c.PoolSize())

	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		_, err := c.Submit(func(fc *FlowContext) (any, error) {
			done <- struct{}{}
			return nil, nil
		}, 0, nil)
		require.NoError(t, err)
	}
	require.True(t, c.Await(5*time.Second))
	assert.Len(t, done, 8)
}

// TestCoordinator_DebugDump spot-checks the rendered snapshot.
func TestCoordinator_DebugDump(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	_, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, nil }, 0, nil)
	require.NoError(t, err)
	require.True(t, c.Await(5*time.Second))

	dump := c.DebugDump()
	assert.Contains(t, dump, "FlowLock Debug Dump")
	assert.Contains(t, dump, "Completed tasks: 1")
	assert.Contains(t, dump, "Anti-starvation limit: 10")
}

// TestCoordinator_AwaitTimesOutWhileBusy verifies Await reports false
// while a task is still running.
func TestCoordinator_AwaitTimesOutWhileBusy(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 1})

	release := make(chan struct{})
	_, err := c.Submit(func(fc *FlowContext) (any, error) {
		<-release
		return nil, nil
	}, 0, nil)
	require.NoError(t, err)

	assert.False(t, c.Await(50*time.Millisecond))
	close(release)
	assert.True(t, c.Await(5*time.Second))
}

// TestCoordinator_CompletionCallback verifies the callback fires for
// both a completed and a failed task.
func TestCoordinator_CompletionCallback(t *testing.T) {
	c := newTestCoordinator(t, Config{Workers: 2})

	var mu sync.Mutex
	seen := map[TaskID]bool{}
	c.SetCompletionCallback(func(task *Task) {
		mu.Lock()
		seen[task.ID()] = true
		mu.Unlock()
	})

	good, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, nil }, 0, nil)
	require.NoError(t, err)
	bad, err := c.Submit(func(fc *FlowContext) (any, error) { return nil, errors.New("x") }, 0, nil)
	require.NoError(t, err)

	require.True(t, c.Await(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[good.TaskID()])
	assert.True(t, seen[bad.TaskID()])
}
