// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/ripple/internal/engine"
)

const namespace = "ripple"

// Collector is an engine.Observer that counts flushes, node actions and
// cycle changes.
type Collector struct {
	flushes       *prometheus.CounterVec
	flushSteps    prometheus.Histogram
	flushDuration prometheus.Histogram
	rewinds       prometheus.Counter
	swept         prometheus.Counter
	actions       *prometheus.CounterVec
	changes       prometheus.Counter
	cycles        *prometheus.CounterVec
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector registers the engine metrics with reg. Pass
// prometheus.NewRegistry() in tests to keep them isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Completed flushes by result",
		}, []string{"result"}),
		flushSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_steps",
			Help:      "Node or cycle-group visits per flush",
			Buckets:   []float64{1, 10, 100, 1000, 10000, 100000},
		}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time to run one flush",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		rewinds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_rewinds_total",
			Help:      "Traversal rewinds caused by mid-flush reordering",
		}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_nodes_total",
			Help:      "Dirty nodes invalidated without recomputation because nothing retained needs them",
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_actions_total",
			Help:      "Scheduler actions applied to nodes",
		}, []string{"action"}),
		changes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_changes_total",
			Help:      "Recomputations whose result changed and propagated",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_changes_total",
			Help:      "Cycle records formed or broken",
		}, []string{"change"}),
	}
}

func (c *Collector) FlushStarted(engine.FlushInfo) {}

func (c *Collector) NodeProcessed(ev engine.NodeEvent) {
	c.actions.WithLabelValues(ev.Action.String()).Inc()
	if ev.Changed {
		c.changes.Inc()
	}
}

func (c *Collector) FlushFinished(r engine.FlushResult) {
	result := "ok"
	if r.Err != nil {
		result = "error"
	}
	c.flushes.WithLabelValues(result).Inc()
	c.flushSteps.Observe(float64(r.Steps))
	c.flushDuration.Observe(r.Duration.Seconds())
	c.rewinds.Add(float64(r.Rewinds))
	c.swept.Add(float64(r.Swept))
}

func (c *Collector) CycleChanged(ev engine.CycleEvent) {
	change := "broken"
	if ev.Formed {
		change = "formed"
	}
	c.cycles.WithLabelValues(change).Inc()
}
