// Package prometheus exports coordinator lifecycle events and stats
// snapshots as Prometheus collectors.
package prometheus

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/TheoBaudoinLighting/FlowLock/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Observer to Prometheus collectors.
type MetricsExporter struct {
	taskEventsTotal     *prom.CounterVec
	taskDurationSeconds *prom.HistogramVec
	conflictsTotal      *prom.CounterVec
	starvationTotal     prom.Counter
}

var _ core.Observer = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for the
// observer stream.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "flowlock"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	eventsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_events_total",
		Help:      "Total lifecycle events by type.",
	}, []string{"event"})
	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"priority"})
	conflictsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Total admission denials by first candidate tag.",
	}, []string{"tag"})
	starvationCounter := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "anti_starvation_total",
		Help:      "Total forced admissions after repeated denials.",
	})

	var err error
	if eventsVec, err = registerCollector(reg, eventsVec); err != nil {
		return nil, err
	}
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if conflictsVec, err = registerCollector(reg, conflictsVec); err != nil {
		return nil, err
	}
	if starvationCounter, err = registerCollector(reg, starvationCounter); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskEventsTotal:     eventsVec,
		taskDurationSeconds: durationVec,
		conflictsTotal:      conflictsVec,
		starvationTotal:     starvationCounter,
	}, nil
}

func (m *MetricsExporter) TaskQueued(ev core.Event)    { m.countEvent(ev) }
func (m *MetricsExporter) TaskStarted(ev core.Event)   { m.countEvent(ev) }
func (m *MetricsExporter) TaskFailed(ev core.Event)    { m.countEvent(ev) }
func (m *MetricsExporter) TaskCancelled(ev core.Event) { m.countEvent(ev) }
func (m *MetricsExporter) TaskTimedOut(ev core.Event)  { m.countEvent(ev) }

func (m *MetricsExporter) TaskCompleted(ev core.Event) {
	m.countEvent(ev)
	if ev.Duration > 0 {
		m.taskDurationSeconds.
			WithLabelValues(strconv.FormatUint(uint64(ev.Priority), 10)).
			Observe(ev.Duration.Seconds())
	}
}

func (m *MetricsExporter) ConflictDetected(ev core.Event) {
	m.countEvent(ev)
	tag := untagged
	if len(ev.Tags) > 0 {
		tag = ev.Tags[0]
	}
	m.conflictsTotal.WithLabelValues(tag).Inc()
}

func (m *MetricsExporter) AntiStarvationApplied(ev core.Event) {
	m.countEvent(ev)
	m.starvationTotal.Inc()
}

func (m *MetricsExporter) SchedulerEmpty(ev core.Event) { m.countEvent(ev) }

func (m *MetricsExporter) countEvent(ev core.Event) {
	if m == nil {
		return
	}
	m.taskEventsTotal.WithLabelValues(ev.Type.String()).Inc()
}

const untagged = "untagged"

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
