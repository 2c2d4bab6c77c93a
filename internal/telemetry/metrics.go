// Package telemetry exposes Prometheus metrics and an optional HTTP
// /metrics + /snapshot server: CounterVec/GaugeVec series registered in a
// constructor, with small typed setter methods.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the simulator's exported series in one registry so
// multiple simulator instances in tests don't collide on the default
// global registerer.
type Metrics struct {
	registry *prometheus.Registry

	ordersPlaced  *prometheus.CounterVec
	fills         *prometheus.CounterVec
	cancels       *prometheus.CounterVec
	fees          prometheus.Counter
	equity        prometheus.Gauge
	position      prometheus.Gauge
	drawdown      prometheus.Gauge
	orderTradeRat prometheus.Gauge
	riskGateTrips *prometheus.CounterVec
	latencyUs     *prometheus.HistogramVec
}

// New creates a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_orders_placed_total",
			Help: "Orders placed or amended, by side.",
		}, []string{"side"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_fills_total",
			Help: "Fills received, by side.",
		}, []string{"side"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_cancels_total",
			Help: "Cancels issued, by reason.",
		}, []string{"reason"}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mm_fees_paid_total",
			Help: "Cumulative fees paid.",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mm_equity",
			Help: "Current mark-to-market equity.",
		}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mm_position",
			Help: "Current net position.",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mm_max_drawdown_pct",
			Help: "Largest observed drawdown fraction this session.",
		}),
		orderTradeRat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mm_order_trade_ratio",
			Help: "Rolling 5-minute (placements+amendments)/fills ratio.",
		}),
		riskGateTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mm_risk_gate_trips_total",
			Help: "Pre-trade gate failures, by gate.",
		}, []string{"gate"}),
		latencyUs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mm_latency_us",
			Help:    "Simulated processing latency, by kind.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.ordersPlaced, m.fills, m.cancels, m.fees,
		m.equity, m.position, m.drawdown, m.orderTradeRat,
		m.riskGateTrips, m.latencyUs,
	)
	return m
}

func (m *Metrics) ObserveOrderPlaced(side string) { m.ordersPlaced.WithLabelValues(side).Inc() }
func (m *Metrics) ObserveFill(side string)        { m.fills.WithLabelValues(side).Inc() }
func (m *Metrics) ObserveCancel(reason string)    { m.cancels.WithLabelValues(reason).Inc() }
func (m *Metrics) ObserveFee(amount float64)      { m.fees.Add(amount) }
func (m *Metrics) SetEquity(v float64)            { m.equity.Set(v) }
func (m *Metrics) SetPosition(v float64)          { m.position.Set(v) }
func (m *Metrics) SetMaxDrawdown(v float64)       { m.drawdown.Set(v) }
func (m *Metrics) SetOrderTradeRatio(v float64)   { m.orderTradeRat.Set(v) }
func (m *Metrics) ObserveGateTrip(gate string)    { m.riskGateTrips.WithLabelValues(gate).Inc() }
func (m *Metrics) ObserveLatency(kind string, us int) {
	m.latencyUs.WithLabelValues(kind).Observe(float64(us))
}
