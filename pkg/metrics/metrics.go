// Package metrics exposes matching engine counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchcore"

// Metrics owns a private registry so that several engines (or tests) can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	ordersAccepted *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	cancels        *prometheus.CounterVec
	trades         *prometheus.CounterVec
	tradedVolume   *prometheus.CounterVec
	restingOrders  *prometheus.GaugeVec
	batchSize      prometheus.Histogram
	markets        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_accepted_total",
			Help:      "Orders accepted by a book.",
		}, []string{"pair", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected before reaching a book.",
		}, []string{"pair", "reason"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Cancel requests by outcome.",
		}, []string{"pair", "result"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executions.",
		}, []string{"pair"}),
		tradedVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_lots_total",
			Help:      "Executed size in lots.",
		}, []string{"pair"}),
		restingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders currently resting on a book.",
		}, []string{"pair"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_commands",
			Help:      "Commands applied per mempool batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		markets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markets",
			Help:      "Registered markets.",
		}),
	}

	m.registry.MustRegister(
		m.ordersAccepted,
		m.ordersRejected,
		m.cancels,
		m.trades,
		m.tradedVolume,
		m.restingOrders,
		m.batchSize,
		m.markets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) OrderAccepted(pair, side string) { m.ordersAccepted.WithLabelValues(pair, side).Inc() }

func (m *Metrics) OrderRejected(pair, reason string) {
	m.ordersRejected.WithLabelValues(pair, reason).Inc()
}

func (m *Metrics) Cancel(pair string, ok bool) {
	result := "ok"
	if !ok {
		result = "miss"
	}
	m.cancels.WithLabelValues(pair, result).Inc()
}

func (m *Metrics) Trade(pair string, size uint64) {
	m.trades.WithLabelValues(pair).Inc()
	m.tradedVolume.WithLabelValues(pair).Add(float64(size))
}

func (m *Metrics) SetResting(pair string, n int) { m.restingOrders.WithLabelValues(pair).Set(float64(n)) }

func (m *Metrics) Batch(n int) { m.batchSize.Observe(float64(n)) }

func (m *Metrics) SetMarkets(n int) { m.markets.Set(float64(n)) }

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
