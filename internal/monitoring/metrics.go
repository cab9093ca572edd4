package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface of the status server.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccwatch_http_in_flight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccwatch_websocket_clients",
			Help: "Number of connected event-stream clients",
		},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccwatch_ratelimit_keys",
			Help: "Number of per-client rate limiters currently tracked",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccwatch_ratelimit_sweeps_total",
			Help: "Total number of expired rate limiter sweeps",
		},
	)

	// Usage endpoint calls.
	UsageFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_usage_fetch_total",
			Help: "Total number of usage endpoint fetches",
		},
		[]string{"outcome"},
	)

	UsageFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ccwatch_usage_fetch_duration_seconds",
			Help:    "Usage endpoint fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Refresh orchestration.
	RefreshCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_refresh_cycles_total",
			Help: "Total number of refresh cycles",
		},
		[]string{"trigger", "result"},
	)

	RefreshRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccwatch_refresh_retries_total",
			Help: "Total number of transient-failure backoffs inside refresh cycles",
		},
	)

	RefreshState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccwatch_refresh_state",
			Help: "Current refresh state, 1 for the active variant",
		},
		[]string{"state"},
	)

	// Credential resolution.
	CredentialResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_credential_resolutions_total",
			Help: "Total number of successful credential resolutions",
		},
		[]string{"source"},
	)

	CredentialErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_credential_errors_total",
			Help: "Total number of failed credential resolutions",
		},
		[]string{"kind"},
	)

	// Last good snapshot.
	SnapshotUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ccwatch_usage_utilization_percent",
			Help: "Utilization of the last fetched usage windows",
		},
		[]string{"window"},
	)

	SnapshotFetchedAt = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccwatch_snapshot_fetched_at_seconds",
			Help: "Unix time of the last successful usage fetch",
		},
	)

	// Upstream CLI refresh side effect.
	CLIRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_cli_refresh_total",
			Help: "Total number of upstream CLI refresh spawns",
		},
		[]string{"result"},
	)

	// Update checker.
	UpdateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccwatch_update_checks_total",
			Help: "Total number of release update checks",
		},
		[]string{"result"},
	)

	// Usage history store.
	HistoryInsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccwatch_history_inserts_total",
			Help: "Total number of snapshots recorded to history",
		},
	)

	HistoryPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ccwatch_history_pruned_rows_total",
			Help: "Total number of history rows removed by retention sweeps",
		},
	)
)

// StatusClass collapses an HTTP status code into its class label ("2xx").
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
