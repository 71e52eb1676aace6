// Package metrics exposes the lending service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lending"

// Metrics holds the collectors updated by the lending service and its transports.
type Metrics struct {
	registry *prometheus.Registry

	LoansIssued     prometheus.Counter
	LoansReturned   prometheus.Counter
	Rejections      *prometheus.CounterVec
	FinesAssessed   prometheus.Counter
	ActiveLoans     prometheus.Gauge
	CatalogTitles   prometheus.Gauge
	CatalogCopies   prometheus.Gauge
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		LoansIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_issued_total",
			Help:      "Number of loans opened.",
		}),
		LoansReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loans_returned_total",
			Help:      "Number of loans closed.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Lending operations rejected, by operation and reason.",
		}, []string{"operation", "reason"}),
		FinesAssessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fines_assessed_total",
			Help:      "Sum of fines assessed on returned loans.",
		}),
		ActiveLoans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Loans currently open.",
		}),
		CatalogTitles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_titles",
			Help:      "Titles in the catalog.",
		}),
		CatalogCopies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_copies",
			Help:      "Copies available for new loans across the catalog.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.LoansIssued,
		m.LoansReturned,
		m.Rejections,
		m.FinesAssessed,
		m.ActiveLoans,
		m.CatalogTitles,
		m.CatalogCopies,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
