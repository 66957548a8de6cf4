package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/TheoBaudoinLighting/FlowLock/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// StatsProvider provides coordinator statistics snapshots.
type StatsProvider interface {
	Stats() core.Stats
}

// SnapshotPoller periodically exports coordinator Stats() snapshots into
// Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	providersMu sync.RWMutex
	providers   map[string]StatsProvider

	queued     *prom.GaugeVec
	running    *prom.GaugeVec
	completed  *prom.GaugeVec
	failed     *prom.GaugeVec
	cancelled  *prom.GaugeVec
	timedOut   *prom.GaugeVec
	reEnqueued *prom.GaugeVec

	stateMu sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its
// collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	labels := []string{"coordinator"}
	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "flowlock",
			Name:      name,
			Help:      help,
		}, labels)
	}

	queued := gauge("queued_tasks", "Tasks waiting in the pending queue.")
	running := gauge("running_tasks", "Tasks currently executing.")
	completed := gauge("completed_tasks_total", "Completed task count snapshot.")
	failed := gauge("failed_tasks_total", "Failed task count snapshot.")
	cancelled := gauge("cancelled_tasks_total", "Cancelled task count snapshot.")
	timedOut := gauge("timed_out_tasks_total", "Timed out task count snapshot.")
	reEnqueued := gauge("re_enqueued_tasks_total", "Re-enqueue count snapshot.")

	var err error
	for _, g := range []**prom.GaugeVec{&queued, &running, &completed, &failed, &cancelled, &timedOut, &reEnqueued} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}

	return &SnapshotPoller{
		interval:   interval,
		providers:  make(map[string]StatsProvider),
		queued:     queued,
		running:    running,
		completed:  completed,
		failed:     failed,
		cancelled:  cancelled,
		timedOut:   timedOut,
		reEnqueued: reEnqueued,
	}, nil
}

// AddCoordinator adds or replaces a stats provider by name.
func (p *SnapshotPoller) AddCoordinator(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "coordinator")
	p.providersMu.Lock()
	p.providers[name] = provider
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.active {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.active {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.active = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()

	for name, provider := range p.providers {
		stats := provider.Stats()
		p.queued.WithLabelValues(name).Set(float64(stats.Queued))
		p.running.WithLabelValues(name).Set(float64(stats.Running))
		p.completed.WithLabelValues(name).Set(float64(stats.Completed))
		p.failed.WithLabelValues(name).Set(float64(stats.Failed))
		p.cancelled.WithLabelValues(name).Set(float64(stats.Cancelled))
		p.timedOut.WithLabelValues(name).Set(float64(stats.TimedOut))
		p.reEnqueued.WithLabelValues(name).Set(float64(stats.ReEnqueued))
	}
}
