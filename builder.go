package flowlock

import (
	"time"

	"github.com/TheoBaudoinLighting/FlowLock/core"
)

// Builder assembles submission parameters fluently: priority, tags, an
// optional timeout, and an optional policy override applied to the
// builder's tags before submission.
type Builder struct {
	coordinator *core.Coordinator
	priority    uint32
	tags        []string
	timeout     time.Duration
	policy      core.Policy
	hasPolicy   bool
}

// NewBuilder starts a builder against an explicit coordinator.
func NewBuilder(c *core.Coordinator) *Builder {
	return &Builder{coordinator: c}
}

// Flow starts a builder against the global coordinator.
func Flow() *Builder {
	return NewBuilder(Get())
}

func (b *Builder) WithPriority(priority uint32) *Builder {
	b.priority = priority
	return b
}

func (b *Builder) WithTag(tag string) *Builder {
	b.tags = append(b.tags, tag)
	return b
}

func (b *Builder) WithTags(tags []string) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

// WithTimeout derives the task's deadline from submission time.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// Exclusive overrides the policy of every tag on this builder to
// exclusive at submission.
func (b *Builder) Exclusive() *Builder {
	b.policy, b.hasPolicy = core.PolicyExclusive, true
	return b
}

// Shared overrides the policy of every tag on this builder to shared.
func (b *Builder) Shared() *Builder {
	b.policy, b.hasPolicy = core.PolicyShared, true
	return b
}

// Prioritized overrides the policy of every tag on this builder to
// priority.
func (b *Builder) Prioritized() *Builder {
	b.policy, b.hasPolicy = core.PolicyPriority, true
	return b
}

// Run applies any policy override and submits the closure.
func (b *Builder) Run(fn core.TaskFunc) (*core.Handle, error) {
	if b.hasPolicy {
		for _, tag := range b.tags {
			b.coordinator.SetPolicy(tag, b.policy)
		}
	}
	return b.coordinator.SubmitWithTimeout(fn, b.priority, b.tags, b.timeout)
}
