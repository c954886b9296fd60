package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bakkerme/culler/internal/core"
)

// Collector holds the Prometheus metrics for runs and removals. Each collector
// owns its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ResourcesSeen   *prometheus.GaugeVec
	Removals        *prometheus.CounterVec
	RemovalDuration *prometheus.HistogramVec
	ItemErrors      *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "culler"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of runs by job and final status",
		}, []string{"job", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		ResourcesSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources_seen",
			Help:      "Resources in the most recent snapshot of a job",
		}, []string{"job"}),
		Removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removals_total",
			Help:      "Removal outcomes by status",
		}, []string{"status"}),
		RemovalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "removal_duration_seconds",
			Help:      "Latency of removal requests including retries",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"status"}),
		ItemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_errors_total",
			Help:      "Per-item errors by job and phase",
		}, []string{"job", "phase"}),
	}
	c.registry.MustRegister(c.Runs, c.RunDuration, c.ResourcesSeen, c.Removals, c.RemovalDuration, c.ItemErrors)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRemoval records one removal outcome. Safe on a nil collector.
func (c *Collector) ObserveRemoval(status core.OutcomeStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.Removals.WithLabelValues(string(status)).Inc()
	c.RemovalDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveRun records a finished run. Safe on a nil collector.
func (c *Collector) ObserveRun(run *core.Run, d time.Duration) {
	if c == nil || run == nil {
		return
	}
	c.Runs.WithLabelValues(run.Job, string(run.Status)).Inc()
	c.RunDuration.WithLabelValues(run.Job).Observe(d.Seconds())
	c.ResourcesSeen.WithLabelValues(run.Job).Set(float64(run.Summary.ResourcesSeen))
	for _, e := range run.Summary.Errors() {
		c.ItemErrors.WithLabelValues(run.Job, string(e.Phase)).Inc()
	}
}
