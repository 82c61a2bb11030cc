// Package metrics provides Prometheus metrics collection for chatgate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every chatgate metric.
const Namespace = "chatgate"

// Collector holds all Prometheus metrics for chatgate.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Chat turn metrics
	ChatTurns        *prometheus.CounterVec
	QuotaRejections  *prometheus.CounterVec
	TurnsInFlight    prometheus.Gauge
	CommittedCost    prometheus.Counter
	CostCapCrossings prometheus.Counter

	// Provider metrics
	CompletionDuration *prometheus.HistogramVec
	CompletionErrors   *prometheus.CounterVec

	// Ledger metrics
	LedgerErrors *prometheus.CounterVec
	LedgerSweeps prometheus.Counter
	LedgerSwept  prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),

		ChatTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "chat_turns_total",
				Help:      "Chat turns by outcome",
			},
			[]string{"outcome"},
		),
		QuotaRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "quota_rejections_total",
				Help:      "Chat turns rejected by the quota gate, by limit",
			},
			[]string{"limit"},
		),
		TurnsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "chat_turns_in_flight",
				Help:      "Admitted chat turns waiting for the provider",
			},
		),
		CommittedCost: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "committed_cost_dollars_total",
				Help:      "Estimated dollar cost committed to the usage ledger",
			},
		),
		CostCapCrossings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cost_cap_crossings_total",
				Help:      "Turns whose commit pushed a user over the daily cost cap",
			},
		),

		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "completion_duration_seconds",
				Help:      "Provider completion duration in seconds",
				Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 45, 60, 90},
			},
			[]string{"provider", "result"},
		),
		CompletionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "completion_errors_total",
				Help:      "Provider completion errors",
			},
			[]string{"provider", "retryable"},
		),

		LedgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ledger_errors_total",
				Help:      "Usage ledger operation errors",
			},
			[]string{"op"},
		),
		LedgerSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ledger_sweeps_total",
				Help:      "Stale-record sweeps run against the usage ledger",
			},
		),
		LedgerSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ledger_swept_records_total",
				Help:      "Stale usage records removed by sweeps",
			},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// NormalizePath bounds label cardinality for unmatched paths.
func NormalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	if len(path) > 50 {
		return path[:50] + "..."
	}
	return path
}
