package flowlock

import (
	"time"

	"github.com/TheoBaudoinLighting/FlowLock/core"
)

// Section is a lexical helper that tags every task submitted through it
// with "section:<name>" and brackets the section's lifetime with a pair
// of observer events. Close it when the section ends:
//
//	s := flowlock.NewSection(c, "loading", 5)
//	defer s.Close()
//	s.Run(loadAssets)
type Section struct {
	coordinator *core.Coordinator
	name        string
	priority    uint32
	tags        []string
	closed      bool
}

// NewSection opens a section and announces it on the observer stream.
func NewSection(c *core.Coordinator, name string, priority uint32, tags ...string) *Section {
	s := &Section{
		coordinator: c,
		name:        name,
		priority:    priority,
		tags:        append(append([]string{}, tags...), "section:"+name),
	}
	s.emit(core.EventTaskQueued, "section started: "+name)
	return s
}

// Run submits a closure carrying the section's tags and priority.
func (s *Section) Run(fn core.TaskFunc) (*core.Handle, error) {
	wrapped := func(fc *core.FlowContext) (any, error) {
		fc.StartProfiling(s.name)
		value, err := fn(fc)
		fc.EndProfiling()
		return value, err
	}
	return s.coordinator.Submit(wrapped, s.priority, s.tags)
}

// Close announces the end of the section. Idempotent.
func (s *Section) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.emit(core.EventTaskCompleted, "section ended: "+s.name)
}

func (s *Section) emit(t core.EventType, description string) {
	observer := s.coordinator.Observer()
	if observer == nil {
		return
	}
	defer func() { recover() }()

	ev := core.Event{
		Type:        t,
		Timestamp:   time.Now(),
		Tags:        s.tags,
		Priority:    s.priority,
		Description: description,
	}
	switch t {
	case core.EventTaskQueued:
		observer.TaskQueued(ev)
	case core.EventTaskCompleted:
		observer.TaskCompleted(ev)
	}
}
