// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine registers.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	OrdersSubmittedTotal *prometheus.CounterVec
	OrdersFilledTotal    *prometheus.CounterVec
	OrdersRejectedTotal  *prometheus.CounterVec
	OrderFillDuration    prometheus.Histogram

	HumanMatchesTotal    prometheus.Counter
	LiquidationsTotal    *prometheus.CounterVec

	DBQueryDuration *prometheus.HistogramVec
	DBErrorsTotal   *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec

	OrderBookSize    *prometheus.GaugeVec
	TradeQueueDepth  prometheus.Gauge
}

// New constructs and registers every collector under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sim_exchange"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),

		OrdersSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_submitted_total", Help: "Total orders submitted",
		}, []string{"ticker_id", "side", "order_type"}),
		OrdersFilledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_filled_total", Help: "Total orders filled",
		}, []string{"ticker_id", "side"}),
		OrdersRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_rejected_total", Help: "Total orders rejected",
		}, []string{"ticker_id", "kind"}),
		OrderFillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_fill_duration_seconds", Help: "Time from accept to fill",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),

		HumanMatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "human_matches_total", Help: "Total P2P matches settled",
		}),
		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "liquidations_total", Help: "Total forced liquidations",
		}, []string{"ticker_id"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "db_query_duration_seconds", Help: "Database query duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation", "table"}),
		DBErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "db_errors_total", Help: "Total database errors",
		}, []string{"operation", "table"}),

		CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state", Help: "0=closed 1=open 2=half-open",
		}, []string{"breaker"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_breaker_trips_total", Help: "Total circuit breaker trips",
		}, []string{"breaker"}),

		EventsPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total", Help: "Total events published",
		}, []string{"channel"}),
		EventsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total", Help: "Total events dropped",
		}, []string{"channel"}),

		OrderBookSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "order_book_cache_size", Help: "Pending conditional orders cached",
		}, []string{"ticker_id", "group"}),
		TradeQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trade_queue_depth", Help: "Unacked rows in trade_queue",
		}),
	}
}
