// Package metrics exposes run counters on a private Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the run's Prometheus metrics. All methods are safe on a nil
// receiver so instrumentation points never need guarding.
type Collector struct {
	registry *prometheus.Registry

	swapsTotal    *prometheus.CounterVec
	swapAttempts  prometheus.Histogram
	retriesTotal  *prometheus.CounterVec
	fundingTotal  *prometheus.CounterVec
	sweepsTotal   *prometheus.CounterVec
	verifications *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "swaps_total",
			Help:      "Swap results by final status.",
		}, []string{"status"}),
		swapAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarm",
			Name:      "swap_attempts",
			Help:      "Attempts needed per swap.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "retries_total",
			Help:      "Retries by error category.",
		}, []string{"category"}),
		fundingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "funding_children_total",
			Help:      "Funding outcomes per child wallet.",
		}, []string{"outcome"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "sweeps_total",
			Help:      "Sweep outcomes per child wallet.",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarm",
			Name:      "balance_verifications_total",
			Help:      "Balance verification outcomes.",
		}, []string{"outcome"}),
	}

	c.registry.MustRegister(
		c.swapsTotal,
		c.swapAttempts,
		c.retriesTotal,
		c.fundingTotal,
		c.sweepsTotal,
		c.verifications,
	)
	return c
}

// Registry returns the private registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveSwap records a finished swap and its attempt count.
func (c *Collector) ObserveSwap(status string, attempts int) {
	if c == nil {
		return
	}
	c.swapsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		c.swapAttempts.Observe(float64(attempts))
	}
}

// ObserveRetry records a retry in the given error category.
func (c *Collector) ObserveRetry(category string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(category).Inc()
}

// ObserveFunding records a per-child funding outcome.
func (c *Collector) ObserveFunding(outcome string) {
	if c == nil {
		return
	}
	c.fundingTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweep records a per-child sweep outcome.
func (c *Collector) ObserveSweep(outcome string) {
	if c == nil {
		return
	}
	c.sweepsTotal.WithLabelValues(outcome).Inc()
}

// ObserveVerification records a balance verification outcome.
func (c *Collector) ObserveVerification(verified bool) {
	if c == nil {
		return
	}
	outcome := "failed"
	if verified {
		outcome = "verified"
	}
	c.verifications.WithLabelValues(outcome).Inc()
}
