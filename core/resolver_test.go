package core

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func resolverWithPolicies(policies map[string]Policy) *ConflictResolver {
	r := NewConflictResolver()
	for tag, p := range policies {
		r.SetPolicy(tag, p)
	}
	return r
}

// TestConflictResolver_CanExecute covers the admission matrix: empty
// tags, shared, exclusive, priority equality and strict dominance, and
// the any-tag-denies rule.
func TestConflictResolver_CanExecute(t *testing.T) {
	running := func(priority uint32, tags ...string) []*Task {
		return []*Task{NewTask(99, nil, priority, tags)}
	}

	tests := []struct {
		name      string
		policies  map[string]Policy
		candidate *Task
		running   []*Task
		want      bool
	}{
		{
			name:      "no tags always admitted",
			policies:  map[string]Policy{"io": PolicyExclusive},
			candidate: NewTask(1, nil, 0, nil),
			running:   running(100, "io"),
			want:      true,
		},
		{
			name:      "empty running set admits",
			policies:  map[string]Policy{"io": PolicyExclusive},
			candidate: NewTask(1, nil, 0, []string{"io"}),
			running:   nil,
			want:      true,
		},
		{
			name:      "shared never denies",
			policies:  map[string]Policy{"io": PolicyShared},
			candidate: NewTask(1, nil, 0, []string{"io"}),
			running:   running(100, "io"),
			want:      true,
		},
		{
			name:      "unknown tag uses shared default",
			policies:  nil,
			candidate: NewTask(1, nil, 0, []string{"mystery"}),
			running:   running(100, "mystery"),
			want:      true,
		},
		{
			name:      "exclusive denies on overlap",
			policies:  map[string]Policy{"render": PolicyExclusive},
			candidate: NewTask(1, nil, 100, []string{"render"}),
			running:   running(1, "render"),
			want:      false,
		},
		{
			name:      "exclusive admits disjoint tags",
			policies:  map[string]Policy{"render": PolicyExclusive},
			candidate: NewTask(1, nil, 0, []string{"render"}),
			running:   running(0, "audio"),
			want:      true,
		},
		{
			name:      "priority denies on equality",
			policies:  map[string]Policy{"phys": PolicyPriority},
			candidate: NewTask(1, nil, 10, []string{"phys"}),
			running:   running(10, "phys"),
			want:      false,
		},
		{
			name:      "priority denies on lower",
			policies:  map[string]Policy{"phys": PolicyPriority},
			candidate: NewTask(1, nil, 5, []string{"phys"}),
			running:   running(10, "phys"),
			want:      false,
		},
		{
			name:      "priority admits strictly greater",
			policies:  map[string]Policy{"phys": PolicyPriority},
			candidate: NewTask(1, nil, 20, []string{"phys"}),
			running:   running(10, "phys"),
			want:      true,
		},
		{
			name:      "any denying tag denies",
			policies:  map[string]Policy{"a": PolicyShared, "b": PolicyExclusive},
			candidate: NewTask(1, nil, 0, []string{"a", "b"}),
			running:   running(0, "b"),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolverWithPolicies(tt.policies)
			if got := r.CanExecute(tt.candidate, tt.running); got != tt.want {
				t.Errorf("CanExecute = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestConflictResolver_PolicyRoundTrip verifies set-then-get returns the
// written policy and that the default is a separate field, not a table
// entry.
func TestConflictResolver_PolicyRoundTrip(t *testing.T) {
	r := NewConflictResolver()

	r.SetPolicy("gpu", PolicyExclusive)
	if got := r.GetPolicy("gpu"); got != PolicyExclusive {
		t.Fatalf("GetPolicy(gpu) = %v, want exclusive", got)
	}

	// Last writer wins.
	r.SetPolicy("gpu", PolicyPriority)
	if got := r.GetPolicy("gpu"); got != PolicyPriority {
		t.Fatalf("GetPolicy(gpu) = %v after rewrite, want priority", got)
	}

	if got := r.GetPolicy("unknown"); got != PolicyShared {
		t.Fatalf("default policy = %v, want shared", got)
	}

	r.SetDefaultPolicy(PolicyExclusive)
	if got := r.GetPolicy("unknown"); got != PolicyExclusive {
		t.Fatalf("default policy after update = %v, want exclusive", got)
	}
	// The explicit mapping is untouched by the default change.
	if got := r.GetPolicy("gpu"); got != PolicyPriority {
		t.Fatalf("GetPolicy(gpu) = %v after default change, want priority", got)
	}
}

// TestConflictResolver_ConflictEvent verifies a denial emits a
// conflict_detected event naming the tag and both tasks.
func TestConflictResolver_ConflictEvent(t *testing.T) {
	r := NewConflictResolver()
	r.SetPolicy("render", PolicyExclusive)

	events := make(chan Event, 1)
	r.setNotifier(newNotifier(eventFunc(func(ev Event) {
		if ev.Type == EventConflictDetected {
			events <- ev
		}
	}), zerolog.Nop()))

	candidate := NewTask(7, nil, 3, []string{"render"})
	blocker := NewTask(8, nil, 9, []string{"render"})
	if r.CanExecute(candidate, []*Task{blocker}) {
		t.Fatal("expected denial")
	}

	select {
	case ev := <-events:
		if ev.TaskID != 7 {
			t.Errorf("event task id = %d, want 7", ev.TaskID)
		}
		for _, needle := range []string{"render", "7", "8"} {
			if !strings.Contains(ev.Description, needle) {
				t.Errorf("description %q missing %q", ev.Description, needle)
			}
		}
	default:
		t.Fatal("no conflict event emitted")
	}
}

// eventFunc adapts a function to the Observer interface for tests.
type eventFunc func(ev Event)

func (f eventFunc) TaskQueued(ev Event)            { f(ev) }
func (f eventFunc) TaskStarted(ev Event)           { f(ev) }
func (f eventFunc) TaskCompleted(ev Event)         { f(ev) }
func (f eventFunc) TaskFailed(ev Event)            { f(ev) }
func (f eventFunc) TaskCancelled(ev Event)         { f(ev) }
func (f eventFunc) TaskTimedOut(ev Event)          { f(ev) }
func (f eventFunc) ConflictDetected(ev Event)      { f(ev) }
func (f eventFunc) AntiStarvationApplied(ev Event) { f(ev) }
func (f eventFunc) SchedulerEmpty(ev Event)        { f(ev) }
