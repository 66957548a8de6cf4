// Package flowlock provides an in-process task coordinator for
// workloads where independently submitted units of work must be ordered
// by priority and serialised against one another on shared logical
// resources.
//
// Callers submit a closure together with a priority and a set of string
// tags naming resources, and receive a handle through which they can
// observe completion, retrieve a return value, or propagate a failure.
// A policy table maps each tag to an admission rule (exclusive, shared,
// or priority-preemption) and the coordinator guarantees that no two
// running tasks violate any tag policy they collectively touch.
//
// # Quick Start
//
// Initialize the global coordinator at application startup:
//
//	flowlock.Init(core.DefaultConfig())
//	defer flowlock.Shutdown()
//
// Submit work with a priority and tags:
//
//	flowlock.Get().SetPolicy("render", core.PolicyExclusive)
//
//	handle, err := flowlock.Submit(func(fc *core.FlowContext) (any, error) {
//		return renderFrame(fc)
//	}, 10, []string{"render"})
//	if err != nil {
//		return err
//	}
//	value, err := handle.Wait(5 * time.Second)
//
// # Key Concepts
//
// Tags name logical resources. The policy per tag decides how tasks
// sharing it may overlap: PolicyShared imposes no constraint,
// PolicyExclusive admits one task per tag at a time, and PolicyPriority
// admits a candidate only when its priority is strictly greater than
// every running task on the tag.
//
// The dispatcher pulls the best pending task (priority descending,
// submission time ascending), tests it against the running set, and
// either starts it or re-enqueues it. A task denied more often than the
// anti-starvation limit is force-admitted so blocked work eventually
// runs.
//
// Closures cooperate with cancellation and timeouts by polling
// FlowContext.ShouldContinue; the scheduler never preempts a running
// closure.
//
// # Observability
//
// The coordinator emits structured lifecycle events to a core.Observer.
// The observability packages provide ready-made collaborators: an event
// tracer with JSON export, a per-tag metrics aggregator, and a
// Prometheus exporter.
package flowlock
