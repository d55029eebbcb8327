// Package metrics owns the gateway's Prometheus collectors. Each Metrics has
// its own registry so tests and multiple instances do not collide.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	requests       *prometheus.CounterVec
	riskScore      prometheus.Histogram
	upstreamErrors prometheus.Counter
	reloads        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_requests_total",
			Help: "Requests by terminal outcome and response status.",
		}, []string{"outcome", "status"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gate_risk_score",
			Help:    "Anomaly score of scored requests.",
			Buckets: []float64{0, 20, 40, 60, 70, 80, 120, 200},
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_upstream_errors_total",
			Help: "Forwarding failures answered with 500.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_policy_reloads_total",
			Help: "Policy reload attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.requests, m.riskScore, m.upstreamErrors, m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveDecision(outcome string, status int) {
	m.requests.WithLabelValues(outcome, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveScore(score int) { m.riskScore.Observe(float64(score)) }

func (m *Metrics) UpstreamError() { m.upstreamErrors.Inc() }

func (m *Metrics) Reload(ok bool) {
	if ok {
		m.reloads.WithLabelValues("ok").Inc()
		return
	}
	m.reloads.WithLabelValues("error").Inc()
}

// RegisterAuditDropped exposes a counter read from fn at scrape time.
func (m *Metrics) RegisterAuditDropped(fn func() uint64) {
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "gate_audit_dropped_total",
		Help: "Audit records dropped because the async buffer was full.",
	}, func() float64 { return float64(fn()) }))
}

// RegisterInFlight exposes the number of requests currently inside the gate.
func (m *Metrics) RegisterInFlight(fn func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gate_in_flight_requests",
		Help: "Requests holding a concurrency slot.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
