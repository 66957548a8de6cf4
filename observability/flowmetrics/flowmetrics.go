// Package flowmetrics aggregates coordinator lifecycle events into
// per-tag metrics: execution counts, duration extremes and averages,
// and outcome counters. It consumes the observer stream out-of-band and
// exports snapshots as JSON.
package flowmetrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheoBaudoinLighting/FlowLock/core"
)

const untagged = "untagged"

// TagMetrics is the aggregate for one tag.
type TagMetrics struct {
	Tag      string `json:"tag"`
	Priority uint32 `json:"priority"`

	ExecutionCount     uint64        `json:"executionCount"`
	TotalExecutionTime time.Duration `json:"totalExecutionTimeNs"`
	MinExecutionTime   time.Duration `json:"minExecutionTimeNs"`
	MaxExecutionTime   time.Duration `json:"maxExecutionTimeNs"`
	AvgExecutionTime   time.Duration `json:"avgExecutionTimeNs"`

	QueuedCount     uint64 `json:"queuedCount"`
	CancelledCount  uint64 `json:"cancelledCount"`
	TimedOutCount   uint64 `json:"timedOutCount"`
	FailedCount     uint64 `json:"failedCount"`
	ReEnqueuedCount uint64 `json:"reEnqueuedCount"`
}

// Collector is a core.Observer aggregating per-tag metrics. A task
// carrying several tags contributes to each of them; an untagged task
// contributes to the "untagged" bucket.
type Collector struct {
	mu      sync.Mutex
	metrics map[string]*TagMetrics

	enabled atomic.Bool
}

func New() *Collector {
	c := &Collector{metrics: make(map[string]*TagMetrics)}
	c.enabled.Store(true)
	return c
}

var _ core.Observer = (*Collector)(nil)

func (c *Collector) TaskQueued(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) { m.QueuedCount++ })
}

func (c *Collector) TaskStarted(core.Event) {}

func (c *Collector) TaskCompleted(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) {
		m.ExecutionCount++
		m.TotalExecutionTime += ev.Duration
		if m.MinExecutionTime == 0 || ev.Duration < m.MinExecutionTime {
			m.MinExecutionTime = ev.Duration
		}
		if ev.Duration > m.MaxExecutionTime {
			m.MaxExecutionTime = ev.Duration
		}
		m.AvgExecutionTime = m.TotalExecutionTime / time.Duration(m.ExecutionCount)
	})
}

func (c *Collector) TaskFailed(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) { m.FailedCount++ })
}

func (c *Collector) TaskCancelled(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) { m.CancelledCount++ })
}

func (c *Collector) TaskTimedOut(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) { m.TimedOutCount++ })
}

// ConflictDetected counts as a re-enqueue: the dispatcher re-queues a
// denied task except on the final, force-admitted pass.
func (c *Collector) ConflictDetected(ev core.Event) {
	c.bump(ev, func(m *TagMetrics) { m.ReEnqueuedCount++ })
}

func (c *Collector) AntiStarvationApplied(core.Event) {}
func (c *Collector) SchedulerEmpty(core.Event)        {}

func (c *Collector) bump(ev core.Event, update func(*TagMetrics)) {
	if !c.enabled.Load() {
		return
	}

	tags := ev.Tags
	if len(tags) == 0 {
		tags = []string{untagged}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		m, ok := c.metrics[tag]
		if !ok {
			m = &TagMetrics{Tag: tag}
			c.metrics[tag] = m
		}
		m.Priority = ev.Priority
		update(m)
	}
}

// MetricsForTag snapshots the aggregate for one tag.
func (c *Collector) MetricsForTag(tag string) (TagMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metrics[tag]
	if !ok {
		return TagMetrics{}, false
	}
	return *m, true
}

// AllMetrics snapshots every tag's aggregate.
func (c *Collector) AllMetrics() []TagMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TagMetrics, 0, len(c.metrics))
	for _, m := range c.metrics {
		out = append(out, *m)
	}
	return out
}

// Reset drops every aggregate.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = make(map[string]*TagMetrics)
}

func (c *Collector) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

func (c *Collector) IsEnabled() bool {
	return c.enabled.Load()
}

// ToJSON renders all aggregates as a single JSON document.
func (c *Collector) ToJSON() (string, error) {
	data, err := json.Marshal(struct {
		Metrics []TagMetrics `json:"metrics"`
	}{Metrics: c.AllMetrics()})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
