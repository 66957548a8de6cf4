// Package tracer records the coordinator's lifecycle events in a
// bounded in-memory ring and exports them as JSON. It is a passive
// collaborator: register it as the coordinator's observer and inspect
// the ring after the fact.
package tracer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/TheoBaudoinLighting/FlowLock/core"
)

const defaultMaxEvents = 1000

// Tracer is a core.Observer that keeps the most recent events in a
// fixed-capacity ring. Safe for concurrent use.
type Tracer struct {
	mu    sync.Mutex
	items []core.Event
	head  int
	count int

	enabled atomic.Bool
}

// New creates an enabled tracer holding up to maxEvents events;
// maxEvents < 1 selects the default capacity.
func New(maxEvents int) *Tracer {
	if maxEvents < 1 {
		maxEvents = defaultMaxEvents
	}
	t := &Tracer{items: make([]core.Event, maxEvents)}
	t.enabled.Store(true)
	return t
}

var _ core.Observer = (*Tracer)(nil)

func (t *Tracer) TaskQueued(ev core.Event)            { t.record(ev) }
func (t *Tracer) TaskStarted(ev core.Event)           { t.record(ev) }
func (t *Tracer) TaskCompleted(ev core.Event)         { t.record(ev) }
func (t *Tracer) TaskFailed(ev core.Event)            { t.record(ev) }
func (t *Tracer) TaskCancelled(ev core.Event)         { t.record(ev) }
func (t *Tracer) TaskTimedOut(ev core.Event)          { t.record(ev) }
func (t *Tracer) ConflictDetected(ev core.Event)      { t.record(ev) }
func (t *Tracer) AntiStarvationApplied(ev core.Event) { t.record(ev) }
func (t *Tracer) SchedulerEmpty(ev core.Event)        { t.record(ev) }

func (t *Tracer) record(ev core.Event) {
	if !t.enabled.Load() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.items) == 0 {
		return
	}
	t.items[t.head] = ev
	t.head = (t.head + 1) % len(t.items)
	if t.count < len(t.items) {
		t.count++
	}
}

// Events returns the recorded events, oldest first.
func (t *Tracer) Events() []core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]core.Event, 0, t.count)
	for i := 0; i < t.count; i++ {
		idx := (t.head - t.count + i + len(t.items)) % len(t.items)
		out = append(out, t.items[idx])
	}
	return out
}

// Clear drops all recorded events.
func (t *Tracer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head = 0
	t.count = 0
}

// SetMaxEvents resizes the ring, keeping the most recent events.
func (t *Tracer) SetMaxEvents(maxEvents int) {
	if maxEvents < 1 {
		return
	}

	recent := t.Events()
	if len(recent) > maxEvents {
		recent = recent[len(recent)-maxEvents:]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make([]core.Event, maxEvents)
	copy(t.items, recent)
	t.head = len(recent) % maxEvents
	t.count = len(recent)
}

// SetEnabled toggles recording; events arriving while disabled are
// dropped.
func (t *Tracer) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Tracer) IsEnabled() bool {
	return t.enabled.Load()
}

type eventJSON struct {
	Type        string   `json:"type"`
	TimestampMS int64    `json:"timestamp"`
	TaskID      uint32   `json:"taskId,omitempty"`
	WorkerID    string   `json:"workerId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Priority    uint32   `json:"priority"`
	Description string   `json:"description"`
}

type exportJSON struct {
	Events []eventJSON `json:"events"`
}

// ToJSON renders the recorded events, oldest first.
func (t *Tracer) ToJSON() (string, error) {
	events := t.Events()

	export := exportJSON{Events: make([]eventJSON, 0, len(events))}
	for _, ev := range events {
		export.Events = append(export.Events, eventJSON{
			Type:        ev.Type.String(),
			TimestampMS: ev.Timestamp.UnixMilli(),
			TaskID:      uint32(ev.TaskID),
			WorkerID:    ev.WorkerID,
			Tags:        ev.Tags,
			Priority:    ev.Priority,
			Description: ev.Description,
		})
	}

	data, err := json.Marshal(export)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
