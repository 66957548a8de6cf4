package flowlock

import (
	"context"
	"sync"
	"time"

	"github.com/TheoBaudoinLighting/FlowLock/core"
)

// Re-export commonly used types from core for convenience. Most callers
// only need to import the flowlock package.

// Task is the immutable-after-submission descriptor of one unit of work.
type Task = core.Task

// TaskID identifies a task for the lifetime of the process.
type TaskID = core.TaskID

// TaskFunc is the unit of work (closure).
type TaskFunc = core.TaskFunc

// FlowContext is the per-invocation execution context handed to closures.
type FlowContext = core.FlowContext

// Handle is the one-shot completion handle returned by Submit.
type Handle = core.Handle

// Policy governs how tasks sharing a tag may overlap.
type Policy = core.Policy

// Observer receives structured lifecycle events from the core.
type Observer = core.Observer

// Event is the structured payload handed to observers.
type Event = core.Event

// Stats is a snapshot of the coordinator counters.
type Stats = core.Stats

// Config mirrors flowlock.yaml and carries injectable collaborators.
type Config = core.Config

// Policy constants.
const (
	PolicyShared    = core.PolicyShared
	PolicyExclusive = core.PolicyExclusive
	PolicyPriority  = core.PolicyPriority
)

// =============================================================================
// Global Coordinator Helper (Singleton)
// =============================================================================

var (
	globalCoordinator *core.Coordinator
	globalMu          sync.Mutex
)

// Init initializes the global coordinator with the given configuration
// and eagerly starts its worker pool. Repeated calls are no-ops.
func Init(cfg core.Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCoordinator != nil {
		return
	}
	globalCoordinator = core.New(cfg)
}

// InitDefault initializes the global coordinator with defaults.
func InitDefault() {
	Init(core.DefaultConfig())
}

// Get returns the global coordinator. It panics if Init has not been
// called; tests that need a private instance should use core.New
// directly.
func Get() *core.Coordinator {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCoordinator == nil {
		panic("flowlock: global coordinator not initialized, call flowlock.Init() first")
	}
	return globalCoordinator
}

// Shutdown tears the global coordinator down and clears it so tests can
// re-initialize cleanly.
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalCoordinator != nil {
		globalCoordinator.Shutdown()
		globalCoordinator = nil
	}
}

// Submit posts a closure to the global coordinator.
func Submit(fn core.TaskFunc, priority uint32, tags []string) (*core.Handle, error) {
	return Get().Submit(fn, priority, tags)
}

// Await waits up to timeout for the global coordinator to drain.
func Await(timeout time.Duration) bool {
	return Get().Await(timeout)
}

// =============================================================================
// Typed submission
// =============================================================================

// TypedHandle wraps a Handle with a concrete result type.
type TypedHandle[T any] struct {
	handle *core.Handle
}

// Untyped exposes the underlying handle for Done/Cancel.
func (h *TypedHandle[T]) Untyped() *core.Handle { return h.handle }

// Cancel requests cancellation of the underlying task.
func (h *TypedHandle[T]) Cancel() { h.handle.Cancel() }

// Get claims the result, converting it to T. Resolution and one-shot
// semantics are those of Handle.Get.
func (h *TypedHandle[T]) Get(ctx context.Context) (T, error) {
	var zero T
	value, err := h.handle.Get(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// Wait is Get with a timeout instead of a context.
func (h *TypedHandle[T]) Wait(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Get(ctx)
}

// SubmitTyped posts a closure returning T and yields a typed handle.
func SubmitTyped[T any](c *core.Coordinator, fn func(fc *core.FlowContext) (T, error), priority uint32, tags []string) (*TypedHandle[T], error) {
	handle, err := c.Submit(func(fc *core.FlowContext) (any, error) {
		return fn(fc)
	}, priority, tags)
	if err != nil {
		return nil, err
	}
	return &TypedHandle[T]{handle: handle}, nil
}
