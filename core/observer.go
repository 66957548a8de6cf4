package core

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the lifecycle points the core reports.
type EventType int

const (
	EventTaskQueued EventType = iota
	EventTaskStarted
	EventTaskCompleted
	EventTaskFailed
	EventTaskCancelled
	EventTaskTimedOut
	EventConflictDetected
	EventAntiStarvationApplied
	EventSchedulerEmpty
)

func (t EventType) String() string {
	switch t {
	case EventTaskQueued:
		return "TASK_QUEUED"
	case EventTaskStarted:
		return "TASK_STARTED"
	case EventTaskCompleted:
		return "TASK_COMPLETED"
	case EventTaskFailed:
		return "TASK_FAILED"
	case EventTaskCancelled:
		return "TASK_CANCELLED"
	case EventTaskTimedOut:
		return "TASK_TIMED_OUT"
	case EventConflictDetected:
		return "CONFLICT_DETECTED"
	case EventAntiStarvationApplied:
		return "ANTI_STARVATION_APPLIED"
	case EventSchedulerEmpty:
		return "SCHEDULER_EMPTY"
	default:
		return "UNKNOWN"
	}
}

// Event is the structured payload handed to observers. TaskID 0 and an
// empty WorkerID mean "not applicable" for events without a task or
// worker. Duration is non-zero only on completion events recorded with
// profiling enabled.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	TaskID      TaskID
	WorkerID    string
	Tags        []string
	Priority    uint32
	Description string
	Duration    time.Duration
}

// Observer receives lifecycle events from the core. The core invokes
// every hook unconditionally; the collaborator decides whether to
// record. Implementations must be safe for concurrent use. A panic in an
// observer is contained by the core and logged, never propagated.
type Observer interface {
	TaskQueued(ev Event)
	TaskStarted(ev Event)
	TaskCompleted(ev Event)
	TaskFailed(ev Event)
	TaskCancelled(ev Event)
	TaskTimedOut(ev Event)
	ConflictDetected(ev Event)
	AntiStarvationApplied(ev Event)
	SchedulerEmpty(ev Event)
}

// NopObserver ignores every event. It is the default when no observer is
// configured.
type NopObserver struct{}

func (NopObserver) TaskQueued(Event)            {}
func (NopObserver) TaskStarted(Event)           {}
func (NopObserver) TaskCompleted(Event)         {}
func (NopObserver) TaskFailed(Event)            {}
func (NopObserver) TaskCancelled(Event)         {}
func (NopObserver) TaskTimedOut(Event)          {}
func (NopObserver) ConflictDetected(Event)      {}
func (NopObserver) AntiStarvationApplied(Event) {}
func (NopObserver) SchedulerEmpty(Event)        {}

// CombineObservers fans events out to several observers in order.
func CombineObservers(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) TaskQueued(ev Event) {
	for _, o := range m {
		o.TaskQueued(ev)
	}
}

func (m multiObserver) TaskStarted(ev Event) {
	for _, o := range m {
		o.TaskStarted(ev)
	}
}

func (m multiObserver) TaskCompleted(ev Event) {
	for _, o := range m {
		o.TaskCompleted(ev)
	}
}

func (m multiObserver) TaskFailed(ev Event) {
	for _, o := range m {
		o.TaskFailed(ev)
	}
}

func (m multiObserver) TaskCancelled(ev Event) {
	for _, o := range m {
		o.TaskCancelled(ev)
	}
}

func (m multiObserver) TaskTimedOut(ev Event) {
	for _, o := range m {
		o.TaskTimedOut(ev)
	}
}

func (m multiObserver) ConflictDetected(ev Event) {
	for _, o := range m {
		o.ConflictDetected(ev)
	}
}

func (m multiObserver) AntiStarvationApplied(ev Event) {
	for _, o := range m {
		o.AntiStarvationApplied(ev)
	}
}

func (m multiObserver) SchedulerEmpty(ev Event) {
	for _, o := range m {
		o.SchedulerEmpty(ev)
	}
}

// notifier dispatches events to the configured observer inside a
// recover frame so a misbehaving collaborator cannot unwind into the
// scheduler.
type notifier struct {
	observer Observer
	log      zerolog.Logger
}

func newNotifier(observer Observer, log zerolog.Logger) *notifier {
	if observer == nil {
		observer = NopObserver{}
	}
	return &notifier{observer: observer, log: log}
}

func (n *notifier) taskEvent(t EventType, task *Task, workerID, description string, duration time.Duration) {
	ev := Event{
		Type:        t,
		Timestamp:   time.Now(),
		WorkerID:    workerID,
		Description: description,
		Duration:    duration,
	}
	if task != nil {
		ev.TaskID = task.ID()
		ev.Tags = task.Tags()
		ev.Priority = task.Priority()
	}
	n.emit(ev)
}

func (n *notifier) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Warn().
				Stringer("event", ev.Type).
				Interface("panic", r).
				Msg("observer panicked; event dropped")
		}
	}()

	switch ev.Type {
	case EventTaskQueued:
		n.observer.TaskQueued(ev)
	case EventTaskStarted:
		n.observer.TaskStarted(ev)
	case EventTaskCompleted:
		n.observer.TaskCompleted(ev)
	case EventTaskFailed:
		n.observer.TaskFailed(ev)
	case EventTaskCancelled:
		n.observer.TaskCancelled(ev)
	case EventTaskTimedOut:
		n.observer.TaskTimedOut(ev)
	case EventConflictDetected:
		n.observer.ConflictDetected(ev)
	case EventAntiStarvationApplied:
		n.observer.AntiStarvationApplied(ev)
	case EventSchedulerEmpty:
		n.observer.SchedulerEmpty(ev)
	}
}
