// ==============================================================================
// METRICS PACKAGE - pkg/metrics/metrics.go
// ==============================================================================
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the switch collectors under a private registry.
// All methods are safe on a nil receiver so components can run without it.
type Metrics struct {
	registry    *prometheus.Registry
	packets     *prometheus.CounterVec
	settlements *prometheus.CounterVec
	streams     *prometheus.CounterVec
	streamTime  *prometheus.HistogramVec
	balances    *prometheus.GaugeVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ilpsdk",
			Subsystem: "ledger",
			Name:      "packets_total",
			Help:      "Packets handled by uplink ledgers, by settlement type, direction and outcome.",
		}, []string{"settler", "direction", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ilpsdk",
			Subsystem: "ledger",
			Name:      "settlements_total",
			Help:      "Settlements sent or received, by settlement type and outcome.",
		}, []string{"settler", "direction", "outcome"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ilpsdk",
			Subsystem: "stream",
			Name:      "completed_total",
			Help:      "Finished money streams by outcome.",
		}, []string{"outcome"}),
		streamTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ilpsdk",
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Duration of money streams in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		balances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ilpsdk",
			Subsystem: "uplink",
			Name:      "balance_base_units",
			Help:      "Current payable/receivable balance per uplink in base units.",
		}, []string{"uplink", "kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ilpsdk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed by the API.",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ilpsdk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.registry.MustRegister(m.packets, m.settlements, m.streams, m.streamTime, m.balances, m.requests, m.latency)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Packet(settler, direction, outcome string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(settler, direction, outcome).Inc()
}

func (m *Metrics) Settlement(settler, direction, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(settler, direction, outcome).Inc()
}

func (m *Metrics) Stream(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(outcome).Inc()
	m.streamTime.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) Balance(uplinkID, kind string, value float64) {
	if m == nil {
		return
	}
	m.balances.WithLabelValues(uplinkID, kind).Set(value)
}

// ForgetUplink drops the gauges of a removed uplink.
func (m *Metrics) ForgetUplink(uplinkID string) {
	if m == nil {
		return
	}
	m.balances.DeleteLabelValues(uplinkID, "payable")
	m.balances.DeleteLabelValues(uplinkID, "receivable")
}

func (m *Metrics) Request(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method).Observe(d.Seconds())
}
