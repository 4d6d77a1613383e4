// Package metrics exposes Prometheus counters for the redirect protocol and
// the HTTP server
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jikku/portfolio/internal/spa"
)

// Metrics holds all collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	RedirectOutcomes  *prometheus.CounterVec
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	Deployments       *prometheus.CounterVec
	ContactMessages   *prometheus.CounterVec
	LiveReloadClients prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RedirectOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_spa_redirect_outcomes_total",
				Help: "Redirect protocol handler runs by handler and outcome",
			},
			[]string{"handler", "outcome"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portfolio_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		Deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_deployments_total",
				Help: "Site deployments by result",
			},
			[]string{"result"},
		),
		ContactMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_contact_messages_total",
				Help: "Contact form submissions by result",
			},
			[]string{"result"},
		),
		LiveReloadClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "portfolio_livereload_clients",
				Help: "Connected live-reload websocket clients",
			},
		),
	}
}

// ObserveRedirect counts a protocol outcome. It matches spa.Observer.
func (m *Metrics) ObserveRedirect(handler string, outcome spa.Outcome) {
	m.RedirectOutcomes.WithLabelValues(handler, string(outcome)).Inc()
}

// ObserveRequest records one finished HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
