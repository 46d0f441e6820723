package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger RPC metrics
	ledgerCallsTotal   *prometheus.CounterVec
	ledgerCallDuration *prometheus.HistogramVec

	// Connection pool metrics
	poolAcquiresTotal       *prometheus.CounterVec
	poolOpenConnections     prometheus.Gauge
	poolHealthCheckFailures prometheus.Counter

	// Submission pipeline metrics
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	submissionRetries  *prometheus.CounterVec

	// Lifecycle orchestrator metrics
	operationsTotal       *prometheus.CounterVec
	reconciliationPending prometheus.Counter
	reconcileChecked      prometheus.Counter
	reconcileSettled      prometheus.Counter

	// Database metrics
	dbOperationDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
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
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrpl_calls_total",
				Help: "Total number of XRPL WebSocket API calls by command and status",
			},
			[]string{"command", "status", "endpoint"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xrpl_call_duration_seconds",
				Help:    "Duration of XRPL WebSocket API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"command", "endpoint"},
		),

		poolAcquiresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrpl_pool_acquires_total",
				Help: "Total number of pool acquires by network and source (cached, dialed, error)",
			},
			[]string{"network", "source"},
		),
		poolOpenConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xrpl_pool_open_connections",
				Help: "Number of open ledger sessions held by the pool",
			},
		),
		poolHealthCheckFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xrpl_pool_health_check_failures_total",
				Help: "Total number of failed session health checks",
			},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Total number of submit-and-wait cycles by network and outcome class",
			},
			[]string{"network", "class"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submission_duration_seconds",
				Help:    "Elapsed time from first submit attempt to validated-or-timeout",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
			[]string{"network", "class"},
		),
		submissionRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submission_retries_total",
				Help: "Total number of submission retries by network and engine result code",
			},
			[]string{"network", "engine_result"},
		),

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mpt_operations_total",
				Help: "Total number of MPT lifecycle operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		reconciliationPending: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mpt_reconciliation_pending_total",
				Help: "Total number of on-chain successes whose off-chain persistence failed and awaits reconciliation",
			},
		),
		reconcileChecked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mpt_reconcile_checked_total",
				Help: "Total number of stale pending authorizations checked by the reconcile pass",
			},
		),
		reconcileSettled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mpt_reconcile_settled_total",
				Help: "Total number of pending authorizations settled by the reconcile pass",
			},
		),

		dbOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_operation_duration_seconds",
				Help:    "Duration of database operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 30.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status class",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published by subject and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish calls in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RecordLedgerCall records one XRPL API call.
func (m *Metrics) RecordLedgerCall(command, status, endpoint string, duration float64) {
	m.ledgerCallsTotal.WithLabelValues(command, status, endpoint).Inc()
	m.ledgerCallDuration.WithLabelValues(command, endpoint).Observe(duration)
}

// RecordPoolAcquire records one pool acquire. Source is "cached" when an
// existing session was handed back, "dialed" when a new one was created,
// "error" when no endpoint was reachable.
func (m *Metrics) RecordPoolAcquire(network, source string) {
	m.poolAcquiresTotal.WithLabelValues(network, source).Inc()
}

// SetPoolOpenConnections sets the open-session gauge.
func (m *Metrics) SetPoolOpenConnections(n int) {
	m.poolOpenConnections.Set(float64(n))
}

// RecordHealthCheckFailure counts one failed liveness probe.
func (m *Metrics) RecordHealthCheckFailure() {
	m.poolHealthCheckFailures.Inc()
}

// RecordSubmission records one completed submit-and-wait cycle. Class is one
// of validated_success, validated_failure, rejected, timeout.
func (m *Metrics) RecordSubmission(network, class string, duration float64) {
	m.submissionsTotal.WithLabelValues(network, class).Inc()
	m.submissionDuration.WithLabelValues(network, class).Observe(duration)
}

// RecordSubmissionRetry counts one taxonomy-driven submission retry.
func (m *Metrics) RecordSubmissionRetry(network, engineResult string) {
	m.submissionRetries.WithLabelValues(network, engineResult).Inc()
}

// RecordOperation records one orchestrator operation by status
// (success, failure, timeout, rejected).
func (m *Metrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordReconciliationPending counts one dual-write divergence awaiting the
// reconcile pass.
func (m *Metrics) RecordReconciliationPending() {
	m.reconciliationPending.Inc()
}

// RecordReconcileRun records one reconcile pass over stale authorizations.
func (m *Metrics) RecordReconcileRun(checked, settled int) {
	m.reconcileChecked.Add(float64(checked))
	m.reconcileSettled.Add(float64(settled))
}

// RecordDBOperation records one store call.
func (m *Metrics) RecordDBOperation(operation, status string, duration float64) {
	m.dbOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(handler, method, statusString(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(duration)
}

// RecordNATSPublish records one publish attempt.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusString(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
