// Package metrics owns the prometheus collectors on a private registry so
// tests can build as many as they like.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	registry *prometheus.Registry

	salesCommitted prometheus.Counter
	commitFailures *prometheus.CounterVec
	commitRetries  prometheus.Counter
	revenue        prometheus.Counter
	commitLatency  prometheus.Histogram
	httpRequests   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		salesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bodega",
			Name:      "sales_committed_total",
			Help:      "Sales committed to the ledger.",
		}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodega",
			Name:      "sale_commit_failures_total",
			Help:      "Sale commits rolled back, by reason.",
		}, []string{"reason"}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bodega",
			Name:      "sale_commit_retries_total",
			Help:      "Commit attempts repeated after a stock conflict.",
		}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bodega",
			Name:      "revenue_total",
			Help:      "Sum of committed sale totals.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bodega",
			Name:      "sale_commit_duration_seconds",
			Help:      "Wall time of sale commits including retries.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bodega",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.salesCommitted,
		m.commitFailures,
		m.commitRetries,
		m.revenue,
		m.commitLatency,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleCommitted(total decimal.Decimal, elapsed time.Duration) {
	m.salesCommitted.Inc()
	if f := total.InexactFloat64(); f > 0 {
		m.revenue.Add(f)
	}
	m.commitLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) SaleFailed(reason string, elapsed time.Duration) {
	m.commitFailures.WithLabelValues(reason).Inc()
	m.commitLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) CommitRetried() {
	m.commitRetries.Inc()
}

func (m *Metrics) HTTPRequest(method string, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
