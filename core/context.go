package core

import (
	"time"

	"github.com/google/uuid"
)

// ProfileRecord is the profiling scratch attached to an execution
// context while profiling is enabled.
type ProfileRecord struct {
	Label     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the elapsed time between start and end of the record.
// Zero until EndProfiling has been called.
func (p ProfileRecord) Duration() time.Duration {
	if p.EndedAt.IsZero() {
		return 0
	}
	return p.EndedAt.Sub(p.StartedAt)
}

// FlowContext is the per-invocation object passed to a closure: an
// opaque worker-local id, the process-wide logical tick assigned at task
// start, the profiling switch and scratch record, the deadline derived
// from the task's timeout, and a view of the cancellation flag.
type FlowContext struct {
	workerID    string
	logicalTick uint64
	profiling   bool
	profile     *ProfileRecord
	deadline    time.Time // zero = none
	task        *Task
}

func newFlowContext(tick uint64, profiling bool, task *Task) *FlowContext {
	fc := &FlowContext{
		workerID:    uuid.NewString(),
		logicalTick: tick,
		profiling:   profiling,
		task:        task,
	}
	if deadline, ok := task.Deadline(); ok {
		fc.deadline = deadline
	}
	return fc
}

// WorkerID is an opaque id freshly allocated for this invocation.
func (fc *FlowContext) WorkerID() string { return fc.workerID }

// LogicalTick is the process-wide sequence number assigned when the task
// started.
func (fc *FlowContext) LogicalTick() uint64 { return fc.logicalTick }

func (fc *FlowContext) ProfilingEnabled() bool { return fc.profiling }

// Deadline reports the absolute deadline derived from the task timeout.
func (fc *FlowContext) Deadline() (time.Time, bool) {
	return fc.deadline, !fc.deadline.IsZero()
}

// ShouldContinue returns false once cancellation has been requested or
// the deadline has passed. Closures poll it to cooperate with
// cancellation; the scheduler never preempts a running closure.
func (fc *FlowContext) ShouldContinue() bool {
	if fc.task != nil && fc.task.IsCancelled() {
		return false
	}
	if !fc.deadline.IsZero() && time.Now().After(fc.deadline) {
		return false
	}
	return true
}

// StartProfiling opens a labelled profile record. No-op when profiling
// is disabled.
func (fc *FlowContext) StartProfiling(label string) {
	if !fc.profiling {
		return
	}
	fc.profile = &ProfileRecord{Label: label, StartedAt: time.Now()}
}

// EndProfiling closes the current profile record.
func (fc *FlowContext) EndProfiling() {
	if !fc.profiling || fc.profile == nil {
		return
	}
	fc.profile.EndedAt = time.Now()
}

// LastProfile returns the most recent profile record, if any.
func (fc *FlowContext) LastProfile() (ProfileRecord, bool) {
	if fc.profile == nil {
		return ProfileRecord{}, false
	}
	return *fc.profile, true
}
