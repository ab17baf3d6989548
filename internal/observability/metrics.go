// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	TxConflicts       *prometheus.CounterVec

	// Exchange metrics
	TradesTotal       *prometheus.CounterVec
	TradePriceImpact  *prometheus.HistogramVec
	CommissionsTotal  *prometheus.CounterVec
	CurrenciesCreated prometheus.Counter

	// Engagement metrics
	ClaimsTotal  prometheus.Counter
	RewardsTotal prometheus.Counter

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedMessagesSent    prometheus.Counter
	FeedMessagesDropped prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "amm_ledger"
	}

	return &Metrics{
		// Ledger operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds, including conflict retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		TxConflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_conflicts_total",
			Help:      "Total number of units of work retried after a concurrent update conflict",
		}, []string{"store"}),

		// Exchange metrics
		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "trades_total",
			Help:      "Total number of committed trades by route",
		}, []string{"route"}),
		TradePriceImpact: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "price_impact_percent",
			Help:      "Price impact of committed trades in percent",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 40, 50},
		}, []string{"route"}),
		CommissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "commissions_total",
			Help:      "Total commission collected by unit (base or token)",
		}, []string{"unit"}),
		CurrenciesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "currencies_created_total",
			Help:      "Total number of currencies issued",
		}),

		// Engagement metrics
		ClaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engagement",
			Name:      "claims_total",
			Help:      "Total number of reward claims",
		}),
		RewardsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engagement",
			Name:      "rewards_base_total",
			Help:      "Total BASE paid out as rewards",
		}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected trade feed clients",
		}),
		FeedMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_sent_total",
			Help:      "Total number of trade messages written to clients",
		}),
		FeedMessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Total number of trade messages dropped for slow clients",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the outcome and duration of a ledger operation.
// outcome is "ok" or an error kind.
func RecordOperation(operation, outcome string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordConflict increments the conflict counter for a store.
func RecordConflict(store string) {
	DefaultMetrics.TxConflicts.WithLabelValues(store).Inc()
}

// RecordTrade records a committed trade.
func RecordTrade(route string, priceImpact float64) {
	DefaultMetrics.TradesTotal.WithLabelValues(route).Inc()
	DefaultMetrics.TradePriceImpact.WithLabelValues(route).Observe(priceImpact)
}

// RecordCommission adds collected commission. unit is "base" or "token".
func RecordCommission(unit string, amount float64) {
	if amount <= 0 {
		return
	}
	DefaultMetrics.CommissionsTotal.WithLabelValues(unit).Add(amount)
}

// RecordCurrencyCreated increments the issued currencies counter.
func RecordCurrencyCreated() {
	DefaultMetrics.CurrenciesCreated.Inc()
}

// RecordClaim records an engagement reward payout.
func RecordClaim(reward float64) {
	DefaultMetrics.ClaimsTotal.Inc()
	DefaultMetrics.RewardsTotal.Add(reward)
}

// SetFeedClients updates the connected feed clients gauge.
func SetFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedMessage records a feed message as sent or dropped.
func RecordFeedMessage(sent bool) {
	if sent {
		DefaultMetrics.FeedMessagesSent.Inc()
		return
	}
	DefaultMetrics.FeedMessagesDropped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, status int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
