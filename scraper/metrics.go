package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one search.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	OffersTotal     prometheus.Counter
	SkippedTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfind_requests_total",
			Help: "Total search requests by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookfind_request_duration_seconds",
			Help:    "Latency of the search request.",
			Buckets: prometheus.DefBuckets,
		},
	)
	offers := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfind_offers_extracted_total",
			Help: "Offers extracted from the results page.",
		},
	)
	skipped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookfind_rows_skipped_total",
			Help: "Result rows dropped because they could not be parsed.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfind_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, offers, skipped, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		OffersTotal:     offers,
		SkippedTotal:    skipped,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncOffers counts one offer read from the results page.
func (m *Metrics) IncOffers() {
	if m == nil {
		return
	}
	m.OffersTotal.Inc()
}

// IncSkipped counts one result row dropped as unparsable.
func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.SkippedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// WriteFile dumps the registry in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
