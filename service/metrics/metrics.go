package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// Every Record helper is safe to call on a nil *Metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Vault Transaction Metrics
	vaultTransactionsTotal   *prometheus.CounterVec
	vaultTransactionDuration *prometheus.HistogramVec
	vaultTransactionState    *prometheus.GaugeVec

	// Query Metrics
	queryLoadsTotal         *prometheus.CounterVec
	queryInvalidationsTotal *prometheus.CounterVec

	// Network Binding Metrics
	networkBindingChanges *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

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

		// Vault Transaction Metrics
		vaultTransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_transactions_total",
				Help: "Total number of vault operations by outcome and error kind",
			},
			[]string{"operation", "status", "kind"},
		),
		vaultTransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_transaction_duration_seconds",
				Help:    "Duration from build to confirmation of vault operations in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "status"},
		),
		vaultTransactionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vault_transaction_state",
				Help: "Current transaction lifecycle status (1 for the active status)",
			},
			[]string{"state"},
		),

		// Query Metrics
		queryLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_loads_total",
				Help: "Total number of query loads by result (hit, miss, shared, error)",
			},
			[]string{"query", "result"},
		),
		queryInvalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_invalidations_total",
				Help: "Total number of query cache invalidations",
			},
			[]string{"reason"},
		),

		// Network Binding Metrics
		networkBindingChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "network_binding_changes_total",
				Help: "Total number of wallet network changes observed",
			},
			[]string{"network", "supported"},
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
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"wallet_address"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"wallet_address", "event_type"},
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
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Vault transaction metric helpers

// RecordVaultTransaction records the outcome of one vault operation.
// kind is empty for successful operations.
func (m *Metrics) RecordVaultTransaction(operation, status, kind string, duration float64) {
	if m == nil {
		return
	}
	m.vaultTransactionsTotal.WithLabelValues(operation, status, kind).Inc()
	m.vaultTransactionDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordTransactionState moves the state gauge from prev to next.
func (m *Metrics) RecordTransactionState(prev, next string) {
	if m == nil {
		return
	}
	if prev != "" {
		m.vaultTransactionState.WithLabelValues(prev).Set(0)
	}
	m.vaultTransactionState.WithLabelValues(next).Set(1)
}

// Query metric helpers

// RecordQueryLoad records a query load result: hit, miss, shared or error.
func (m *Metrics) RecordQueryLoad(query, result string) {
	if m == nil {
		return
	}
	m.queryLoadsTotal.WithLabelValues(query, result).Inc()
}

// RecordQueryInvalidation records a cache flush.
func (m *Metrics) RecordQueryInvalidation(reason string) {
	if m == nil {
		return
	}
	m.queryInvalidationsTotal.WithLabelValues(reason).Inc()
}

// Network binding metric helpers

// RecordNetworkChange records a detected wallet network change.
func (m *Metrics) RecordNetworkChange(network string, supported bool) {
	if m == nil {
		return
	}
	label := "false"
	if supported {
		label = "true"
	}
	m.networkBindingChanges.WithLabelValues(network, label).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(walletAddress string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(walletAddress).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(walletAddress, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(walletAddress, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
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
