// Package observability exports dispatch metrics to Prometheus.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stratumai/internal/catalog"
	"stratumai/internal/resultcache"
	"stratumai/internal/retry"
	"stratumai/internal/selection"
	"stratumai/internal/tracelog"
)

const namespace = "stratumai"

// Metrics holds the collectors. Create it once per registry.
type Metrics struct {
	factory promauto.Factory

	selections      *prometheus.CounterVec
	complexity      prometheus.Histogram
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	dispatches      *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	dispatchCost    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		selections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Backends chosen by automatic selection.",
		}, []string{"strategy", "provider", "model"}),
		complexity: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_complexity",
			Help:      "Complexity scores of selected conversations.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend calls made by the retry orchestrator.",
		}, []string{"provider", "model", "phase", "result"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_duration_seconds",
			Help:      "Duration of individual backend calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "phase"}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatched requests by final outcome.",
		}, []string{"outcome", "provider"}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "End-to-end dispatch latency including retries and backoff.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 12),
		}),
		dispatchCost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated spend from catalog prices.",
		}, []string{"provider"}),
	}
}

// ObserveSelection counts a selection and records its complexity.
func (m *Metrics) ObserveSelection(r selection.Result) {
	m.selections.WithLabelValues(string(r.Strategy), r.Provider, r.Model).Inc()
	m.complexity.Observe(r.Complexity)
}

// ObserveDispatch records a finished dispatch.
func (m *Metrics) ObserveDispatch(e *tracelog.Entry) {
	m.dispatches.WithLabelValues(e.Outcome, e.Provider).Inc()
	m.dispatchLatency.Observe(float64(e.LatencyMs) / 1000)
	if e.EstimatedCost > 0 {
		m.dispatchCost.WithLabelValues(e.Provider).Add(e.EstimatedCost)
	}
}

// RetryHook returns an attempt hook for retry.WithAttemptHook.
func (m *Metrics) RetryHook() retry.AttemptHook {
	return func(_ context.Context, step retry.Step, err error) {
		result := "success"
		if err != nil {
			result = string(step.ErrorKind)
			if result == "" {
				result = "error"
			}
		}
		m.attempts.WithLabelValues(step.Provider, step.Model, string(step.Phase), result).Inc()
		m.attemptDuration.WithLabelValues(step.Provider, string(step.Phase)).Observe(step.Duration.Seconds())
	}
}

// RegisterCache exposes the result cache counters, read at scrape time.
func (m *Metrics) RegisterCache(c *resultcache.Cache) {
	stat := func(fn func(resultcache.Stats) float64) func() float64 {
		return func() float64 { return fn(c.Stats()) }
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "result_cache", Name: "entries",
		Help: "Entries currently cached.",
	}, stat(func(s resultcache.Stats) float64 { return float64(s.Size) }))
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "result_cache", Name: "hits_total",
		Help: "Cache lookups that returned a fresh entry.",
	}, stat(func(s resultcache.Stats) float64 { return float64(s.Hits) }))
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "result_cache", Name: "misses_total",
		Help: "Cache lookups that found nothing fresh.",
	}, stat(func(s resultcache.Stats) float64 { return float64(s.Misses) }))
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "result_cache", Name: "evictions_total",
		Help: "Entries evicted to make room.",
	}, stat(func(s resultcache.Stats) float64 { return float64(s.Evictions) }))
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "result_cache", Name: "estimated_savings_usd_total",
		Help: "Estimated spend avoided by cache hits.",
	}, stat(func(s resultcache.Stats) float64 { return s.EstimatedSavings }))
}

// RegisterCatalog exposes the size of the published catalog snapshot.
func (m *Metrics) RegisterCatalog(store *catalog.Store) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "catalog", Name: "backends",
		Help: "Backends in the current catalog snapshot.",
	}, func() float64 { return float64(store.Snapshot().Len()) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "catalog", Name: "loaded_timestamp_seconds",
		Help: "Unix time the current catalog snapshot was built.",
	}, func() float64 {
		snap := store.Snapshot()
		if snap == nil || snap.LoadedAt().IsZero() {
			return 0
		}
		return float64(snap.LoadedAt().Unix())
	})
}
