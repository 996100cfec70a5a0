// Package observability provides Prometheus metrics and error reporting.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Distribution metrics
	CyclesTotal          *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	ClaimDuration        *prometheus.HistogramVec
	LamportsDistributed  prometheus.Counter
	EligibleHolders      prometheus.Gauge
	TriggersCoalesced    prometheus.Counter
	SnapshotArchiveFails prometheus.Counter

	// Solana metrics
	RPCCallLatency   *prometheus.HistogramVec
	RPCCallErrors    *prometheus.CounterVec
	WSMessageLatency prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastDistribution prometheus.Gauge
	LastCycleID      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer), namespace)
}

func newMetrics(f promauto.Factory, namespace string) *Metrics {
	if namespace == "" {
		namespace = "holder_lottery"
	}

	return &Metrics{
		// Distribution metrics
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "cycles_total",
			Help:      "Total number of distribution runs by result",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full distribution run in seconds",
			Buckets:   []float64{1, 5, 10, 15, 20, 30, 60, 120},
		}),
		ClaimDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feeclaim",
			Name:      "claim_duration_seconds",
			Help:      "Fee claim request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		LamportsDistributed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "lamports_distributed_total",
			Help:      "Total lamports transferred to winners",
		}),
		EligibleHolders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "eligible_holders",
			Help:      "Number of holders eligible in the last draw",
		}),
		TriggersCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "triggers_coalesced_total",
			Help:      "Triggers that joined an in-flight run for the same cycle",
		}),
		SnapshotArchiveFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "snapshot_archive_failures_total",
			Help:      "Holder snapshot archive writes that failed",
		}),

		// Solana metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_errors_total",
			Help:      "Solana RPC calls that returned an error",
		}, []string{"method"}),
		WSMessageLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_confirmation_latency_seconds",
			Help:      "Time from subscription to signature notification in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		// HTTP metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastDistribution: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_distribution_timestamp",
			Help:      "Unix timestamp of the last recorded outcome",
		}),
		LastCycleID: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_cycle_id",
			Help:      "Cycle ID of the last recorded outcome",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCycle records a finished distribution run.
// result is one of distributed, no_fees, failed, duplicate, in_progress, unconfigured.
func RecordCycle(result string, durationSeconds float64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(result).Inc()
	if durationSeconds > 0 {
		DefaultMetrics.CycleDuration.Observe(durationSeconds)
	}
}

// RecordOutcome updates the health gauges and distributed total for a stored outcome.
func RecordOutcome(cycleID int64, lamports uint64, unixSeconds int64) {
	DefaultMetrics.LastCycleID.Set(float64(cycleID))
	DefaultMetrics.LastDistribution.Set(float64(unixSeconds))
	if lamports > 0 {
		DefaultMetrics.LamportsDistributed.Add(float64(lamports))
	}
}

// RecordClaim records a fee claim request.
func RecordClaim(status string, seconds float64) {
	DefaultMetrics.ClaimDuration.WithLabelValues(status).Observe(seconds)
}

// RecordEligibleHolders sets the eligible holder gauge.
func RecordEligibleHolders(n int) {
	DefaultMetrics.EligibleHolders.Set(float64(n))
}

// RecordTriggerCoalesced increments the coalesced trigger counter.
func RecordTriggerCoalesced() {
	DefaultMetrics.TriggersCoalesced.Inc()
}

// RecordSnapshotArchiveFailure increments the snapshot archive failure counter.
func RecordSnapshotArchiveFailure() {
	DefaultMetrics.SnapshotArchiveFails.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordConfirmationLatency records websocket confirmation latency.
func RecordConfirmationLatency(seconds float64) {
	DefaultMetrics.WSMessageLatency.Observe(seconds)
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, httpCode(code)).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
