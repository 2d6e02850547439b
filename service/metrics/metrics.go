package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec
	mintCacheLookups           *prometheus.CounterVec

	// Ledger Metrics
	submissionsTotal      *prometheus.CounterVec
	submissionDuration    *prometheus.HistogramVec
	confirmationsTotal    *prometheus.CounterVec
	confirmationPolls     *prometheus.HistogramVec
	accountEnsuresTotal   *prometheus.CounterVec
	batchItemsTotal       *prometheus.CounterVec
	activitiesDecoded     *prometheus.CounterVec
	metadataFetchesTotal  *prometheus.CounterVec
	metadataFetchDuration *prometheus.HistogramVec

	// Workflow Metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestsInFlight *prometheus.GaugeVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"endpoint"},
		),
		mintCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_cache_lookups_total",
				Help: "Total number of mint cache lookups by result",
			},
			[]string{"result"},
		),

		// Ledger Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submissions_total",
				Help: "Total number of submitted transactions by kind and confirmation status",
			},
			[]string{"kind", "status"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_submission_duration_seconds",
				Help:    "Time from submit to confirmation outcome in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_confirmations_total",
				Help: "Total number of confirmation polls by outcome",
			},
			[]string{"status"},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_confirmation_polls",
				Help:    "Number of status polls per confirmation",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		),
		accountEnsuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_account_ensures_total",
				Help: "Total number of associated account creations by outcome",
			},
			[]string{"outcome"},
		),
		batchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_batch_items_total",
				Help: "Total number of batch items by operation and status",
			},
			[]string{"op", "status"},
		),
		activitiesDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_activities_decoded_total",
				Help: "Total number of decoded history records by kind",
			},
			[]string{"kind"},
		),
		metadataFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nft_metadata_fetches_total",
				Help: "Total number of NFT metadata document fetches by status",
			},
			[]string{"status"},
		),
		metadataFetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nft_metadata_fetch_duration_seconds",
				Help:    "Duration of NFT metadata document fetches in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"status"},
		),

		// Workflow Metrics
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_workflow_duration_seconds",
				Help:    "Duration of confirmation workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_workflow_executions_total",
				Help: "Total number of confirmation workflow executions",
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirm_activity_duration_seconds",
				Help:    "Duration of confirmation workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "HTTP requests being served, including open event streams",
			},
			[]string{"handler"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// RecordMintCache records a mint cache "hit" or "miss".
func (m *Metrics) RecordMintCache(result string) {
	m.mintCacheLookups.WithLabelValues(result).Inc()
}

// Ledger metric helpers

// RecordSubmission records a submitted transaction and how long the
// submit (and optional confirmation) took.
func (m *Metrics) RecordSubmission(kind, status string, duration float64) {
	m.submissionsTotal.WithLabelValues(kind, status).Inc()
	m.submissionDuration.WithLabelValues(kind).Observe(duration)
}

// RecordConfirmation records a confirmation poll outcome.
func (m *Metrics) RecordConfirmation(status string, polls int) {
	m.confirmationsTotal.WithLabelValues(status).Inc()
	m.confirmationPolls.WithLabelValues(status).Observe(float64(polls))
}

// RecordAccountEnsure records an associated account creation outcome.
func (m *Metrics) RecordAccountEnsure(outcome string) {
	m.accountEnsuresTotal.WithLabelValues(outcome).Inc()
}

// RecordBatchItem records one batch item result.
func (m *Metrics) RecordBatchItem(op, status string) {
	m.batchItemsTotal.WithLabelValues(op, status).Inc()
}

// RecordActivityDecoded records a decoded history record.
func (m *Metrics) RecordActivityDecoded(kind string) {
	m.activitiesDecoded.WithLabelValues(kind).Inc()
}

// RecordMetadataFetch records an NFT metadata document fetch.
func (m *Metrics) RecordMetadataFetch(status string, duration float64) {
	m.metadataFetchesTotal.WithLabelValues(status).Inc()
	m.metadataFetchDuration.WithLabelValues(status).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.workflowDuration.WithLabelValues(status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// HTTPRequestStarted marks a request in flight and returns the func that
// ends it.
func (m *Metrics) HTTPRequestStarted(handler string) func() {
	g := m.httpRequestsInFlight.WithLabelValues(handler)
	g.Inc()
	return g.Dec
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
