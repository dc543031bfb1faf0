// Package metrics exposes the engine's operational counters and gauges
// in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all instruments. A nil *Metrics is valid and records
// nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced    *prometheus.CounterVec
	OrdersCanceled  prometheus.Counter
	OrdersFailed    prometheus.Counter
	TradesExecuted  *prometheus.CounterVec
	RiskAlerts      *prometheus.CounterVec
	Rebalances      *prometheus.CounterVec
	TickErrors      prometheus.Counter
	CurrentPrice    prometheus.Gauge
	GridCenterPrice prometheus.Gauge
	RealizedPnL     prometheus.Gauge
	UnrealizedPnL   prometheus.Gauge
	MaxDrawdown     prometheus.Gauge
	OpenOrders      prometheus.Gauge
	OpenPositions   prometheus.Gauge
	TradingAllowed  prometheus.Gauge
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a Metrics registered on reg. Useful in tests
// to avoid duplicate-registration panics.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpilot_orders_placed_total",
			Help: "Orders acknowledged by the exchange, by side.",
		}, []string{"side"}),
		OrdersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpilot_orders_canceled_total",
			Help: "Orders canceled.",
		}),
		OrdersFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpilot_orders_failed_total",
			Help: "Order placements rejected or failed.",
		}),
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpilot_trades_executed_total",
			Help: "Fills recorded, by side.",
		}, []string{"side"}),
		RiskAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpilot_risk_alerts_total",
			Help: "Risk alerts raised, by type.",
		}, []string{"type"}),
		Rebalances: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gridpilot_rebalances_total",
			Help: "Grid shifts, by terminal status.",
		}, []string{"status"}),
		TickErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gridpilot_tick_errors_total",
			Help: "Control loop iterations that hit an error.",
		}),
		CurrentPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_current_price",
			Help: "Last traded price of the symbol.",
		}),
		GridCenterPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_grid_center_price",
			Help: "Center price the grid is built around.",
		}),
		RealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_realized_pnl",
			Help: "Realized profit and loss in quote currency.",
		}),
		UnrealizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_unrealized_pnl",
			Help: "Unrealized profit and loss in quote currency.",
		}),
		MaxDrawdown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_max_drawdown",
			Help: "Peak-to-trough equity drawdown as a fraction.",
		}),
		OpenOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_open_orders",
			Help: "Orders currently working on the exchange.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_open_positions",
			Help: "Grid levels holding inventory.",
		}),
		TradingAllowed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gridpilot_trading_allowed",
			Help: "1 when new orders may be placed, 0 when halted.",
		}),
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Nil-safe recording helpers. The engine calls these without caring
// whether metrics are enabled.

func (m *Metrics) OrderPlaced(side string) {
	if m != nil {
		m.OrdersPlaced.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) OrderCanceled() {
	if m != nil {
		m.OrdersCanceled.Inc()
	}
}

func (m *Metrics) OrderFailed() {
	if m != nil {
		m.OrdersFailed.Inc()
	}
}

func (m *Metrics) TradeExecuted(side string) {
	if m != nil {
		m.TradesExecuted.WithLabelValues(side).Inc()
	}
}

func (m *Metrics) RiskAlertRaised(alertType string) {
	if m != nil {
		m.RiskAlerts.WithLabelValues(alertType).Inc()
	}
}

func (m *Metrics) RebalanceFinished(status string) {
	if m != nil {
		m.Rebalances.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TickError() {
	if m != nil {
		m.TickErrors.Inc()
	}
}

// UpdateGauges refreshes the point-in-time gauges in one call.
func (m *Metrics) UpdateGauges(price, center, realized, unrealized, drawdown float64, openOrders, openPositions int, tradingAllowed bool) {
	if m == nil {
		return
	}
	m.CurrentPrice.Set(price)
	m.GridCenterPrice.Set(center)
	m.RealizedPnL.Set(realized)
	m.UnrealizedPnL.Set(unrealized)
	m.MaxDrawdown.Set(drawdown)
	m.OpenOrders.Set(float64(openOrders))
	m.OpenPositions.Set(float64(openPositions))
	if tradingAllowed {
		m.TradingAllowed.Set(1)
	} else {
		m.TradingAllowed.Set(0)
	}
}
