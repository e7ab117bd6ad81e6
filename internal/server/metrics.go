package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	CodesIssued  prometheus.Counter
	PollResults  *prometheus.CounterVec
	Decisions    *prometheus.CounterVec
	TokensIssued prometheus.Counter
	Requests     *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CodesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "device_codes_issued_total",
			Help:      "Device authorization requests that returned a code pair.",
		}),
		PollResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "token_polls_total",
			Help:      "Token endpoint responses by result.",
		}, []string{"result"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "grant_decisions_total",
			Help:      "Approve and deny requests by decision and outcome.",
		}, []string{"decision", "outcome"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "access_tokens_issued_total",
			Help:      "Access tokens issued through the device grant.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devauth",
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code and method.",
		}, []string{"code", "method"}),
	}
	m.registry.MustRegister(
		m.CodesIssued,
		m.PollResults,
		m.Decisions,
		m.TokensIssued,
		m.Requests,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts requests handled by next.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.Requests, next)
}
