package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ExpectedEdgeBps     prometheus.Histogram
	RealizedEdgeBps     prometheus.Histogram
	OpportunitiesSeen   *prometheus.CounterVec
	OrdersPlacedTotal   *prometheus.CounterVec
	OrderCancelTotal    *prometheus.CounterVec
	OrderRejectTotal    prometheus.Counter
	FillsTotal          *prometheus.CounterVec
	HedgeAttemptsTotal  prometheus.Counter
	HedgeFailuresTotal  prometheus.Counter
	CycleDurationSecs   prometheus.Histogram
	BookAgeMs           *prometheus.GaugeVec
	VenueWSReconnect    *prometheus.CounterVec
	VenueAPIError       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExpectedEdgeBps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "expected_edge_bps",
			Help:    "Expected profit at placement time in basis points",
			Buckets: prometheus.LinearBuckets(0, 5, 20),
		}),

		RealizedEdgeBps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "realized_edge_bps",
			Help:    "Realized profit after reconciliation in basis points",
			Buckets: prometheus.LinearBuckets(-50, 5, 30),
		}),

		OpportunitiesSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opportunities_seen_total",
			Help: "Profitable opportunities observed by the evaluator",
		}, []string{"side"}),

		OrdersPlacedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Maker limit orders placed",
		}, []string{"side"}),

		OrderCancelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_cancel_total",
			Help: "Cancellations issued by reason",
		}, []string{"reason"}),

		OrderRejectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_reject_total",
			Help: "Maker orders rejected by the venue",
		}),

		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fills_total",
			Help: "Fill events accepted by the state machine",
		}, []string{"kind", "source"}),

		HedgeAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hedge_attempts_total",
			Help: "Hedge market-order attempts including retries",
		}),

		HedgeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hedge_failures_total",
			Help: "Hedge attempts that failed",
		}),

		CycleDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cycle_duration_seconds",
			Help:    "Wall time from fill handling to the end of reconciliation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),

		BookAgeMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "book_age_ms",
			Help: "Age of the latest top-of-book per venue",
		}, []string{"venue"}),

		VenueWSReconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_ws_reconnect_total",
			Help: "Total venue WebSocket reconnections",
		}, []string{"venue"}),

		VenueAPIError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_api_error_total",
			Help: "Total venue API errors",
		}, []string{"venue", "endpoint"}),
	}

	reg.MustRegister(
		m.ExpectedEdgeBps,
		m.RealizedEdgeBps,
		m.OpportunitiesSeen,
		m.OrdersPlacedTotal,
		m.OrderCancelTotal,
		m.OrderRejectTotal,
		m.FillsTotal,
		m.HedgeAttemptsTotal,
		m.HedgeFailuresTotal,
		m.CycleDurationSecs,
		m.BookAgeMs,
		m.VenueWSReconnect,
		m.VenueAPIError,
	)

	return m
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
