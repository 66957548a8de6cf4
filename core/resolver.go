package core

import (
	"fmt"
	"sync"
)

// ConflictResolver decides whether a candidate task may start given the
// set of currently running tasks. It holds the per-tag policy table and
// the default policy for unknown tags. CanExecute never mutates state
// and never blocks; serialisation against the running set is the
// dispatcher's job.
type ConflictResolver struct {
	mu            sync.RWMutex
	policies      map[string]Policy
	defaultPolicy Policy

	notify *notifier
}

func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{
		policies:      make(map[string]Policy),
		defaultPolicy: PolicyShared,
	}
}

func (r *ConflictResolver) setNotifier(n *notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = n
}

// SetPolicy maps a tag to a policy. Last writer wins; the update takes
// effect for admission tests performed after it.
func (r *ConflictResolver) SetPolicy(tag string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[tag] = policy
}

// GetPolicy resolves a tag to its policy, falling back to the default.
func (r *ConflictResolver) GetPolicy(tag string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[tag]; ok {
		return p
	}
	return r.defaultPolicy
}

// SetDefaultPolicy changes the fallback for tags absent from the table.
// The default is a dedicated field, never a magic key in the table.
func (r *ConflictResolver) SetDefaultPolicy(policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultPolicy = policy
}

func (r *ConflictResolver) DefaultPolicy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultPolicy
}

// CanExecute reports whether the candidate may start now. A candidate
// with no tags is always admitted. Each tag is tested independently and
// any denial denies the candidate:
//
//   - shared: no constraint
//   - exclusive: denied if any running task carries the tag
//   - priority: denied if any running task carries the tag and the
//     candidate's priority is not strictly greater
//
// A denial emits a conflict event naming the tag and both tasks.
func (r *ConflictResolver) CanExecute(candidate *Task, running []*Task) bool {
	if candidate == nil || len(running) == 0 {
		return true
	}

	tags := candidate.Tags()
	if len(tags) == 0 {
		return true
	}

	for _, tag := range tags {
		switch r.GetPolicy(tag) {
		case PolicyExclusive:
			for _, rt := range running {
				if rt.HasTag(tag) {
					r.reportConflict(candidate, fmt.Sprintf(
						"exclusive tag conflict on %q: task %d blocked by running task %d",
						tag, candidate.ID(), rt.ID()))
					return false
				}
			}
		case PolicyPriority:
			for _, rt := range running {
				if rt.HasTag(tag) && candidate.Priority() <= rt.Priority() {
					r.reportConflict(candidate, fmt.Sprintf(
						"priority conflict on tag %q: task %d (priority %d) <= running task %d (priority %d)",
						tag, candidate.ID(), candidate.Priority(), rt.ID(), rt.Priority()))
					return false
				}
			}
		case PolicyShared:
			// No constraint.
		}
	}

	return true
}

func (r *ConflictResolver) reportConflict(candidate *Task, reason string) {
	r.mu.RLock()
	n := r.notify
	r.mu.RUnlock()
	if n != nil {
		n.taskEvent(EventConflictDetected, candidate, "", reason, 0)
	}
}
