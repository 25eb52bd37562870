package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's Prometheus collectors. Every component that
// records telemetry receives this struct explicitly; nothing registers
// against a process-wide default, so tests can run multiple instances.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec
	EvaluationScore  prometheus.Histogram

	ProviderAttempts *prometheus.CounterVec
	FallbacksTotal   prometheus.Counter

	SnapshotSaves    prometheus.Counter
	SnapshotFailures prometheus.Counter

	ProviderUp *prometheus.GaugeVec
}

// New creates the collectors and registers them on the given registry.
// A nil registry gets a fresh one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Registry: reg,
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_evaluations_total",
			Help: "Evaluations performed, by provider, model and outcome.",
		}, []string{"provider", "model", "outcome"}),
		EvaluationScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eval_overall_score",
			Help:    "Distribution of weighted overall quality scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_provider_attempts_total",
			Help: "Provider attempts made by the fallback chain, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_fallbacks_total",
			Help: "Requests that did not succeed on the first provider attempted.",
		}),
		SnapshotSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_store_snapshot_saves_total",
			Help: "Successful performance store flushes.",
		}),
		SnapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_store_snapshot_failures_total",
			Help: "Failed performance store flushes.",
		}),
		ProviderUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eval_provider_up",
			Help: "Latest availability probe result per provider (1 up, 0 down).",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationScore,
		m.ProviderAttempts,
		m.FallbacksTotal,
		m.SnapshotSaves,
		m.SnapshotFailures,
		m.ProviderUp,
	)
	return m
}
