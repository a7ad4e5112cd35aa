package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus metrics for engine execution, namespaced
// "deepresearch_". Attach with WithMetrics; all methods are safe for
// concurrent use.
type Metrics struct {
	stepsTotal       *prometheus.CounterVec
	nodeLatency      *prometheus.HistogramVec
	inflightBranches prometheus.Gauge
	checkpointWrites prometheus.Counter
	runsTotal        *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "steps_total",
			Help:      "Node executions by graph, node and status.",
		}, []string{"graph", "node", "status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "node_latency_ms",
			Help:      "Node execution latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"graph", "node"}),
		inflightBranches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepresearch",
			Name:      "inflight_branches",
			Help:      "Fan-out branches currently executing.",
		}),
		checkpointWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoints persisted.",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "runs_total",
			Help:      "Completed runs by graph and outcome.",
		}, []string{"graph", "outcome"}),
	}
}

func (m *Metrics) observeStep(graph, node, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(graph, node, status).Inc()
	m.nodeLatency.WithLabelValues(graph, node).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) branchStarted() {
	if m == nil {
		return
	}
	m.inflightBranches.Inc()
}

func (m *Metrics) branchDone() {
	if m == nil {
		return
	}
	m.inflightBranches.Dec()
}

func (m *Metrics) checkpointWritten() {
	if m == nil {
		return
	}
	m.checkpointWrites.Inc()
}

func (m *Metrics) runFinished(graph, outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(graph, outcome).Inc()
}
