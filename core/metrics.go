package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the API process.
type Metrics struct {
	registry *prometheus.Registry

	LoginAttempts       *prometheus.CounterVec
	RequestAuthOutcomes *prometheus.CounterVec
	GateDenials         *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgr_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		RequestAuthOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgr_request_authentications_total",
				Help: "Bearer authentication outcomes per request",
			},
			[]string{"outcome"},
		),
		GateDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgr_authorization_denials_total",
				Help: "Requests rejected by the authorization gate",
			},
			[]string{"method"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgr_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usermgr_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(
		m.LoginAttempts,
		m.RequestAuthOutcomes,
		m.GateDenials,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeAuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RequestAuthOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDenial(method string) {
	if m == nil {
		return
	}
	m.GateDenials.WithLabelValues(method).Inc()
}
