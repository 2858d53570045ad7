package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the session coordinator.
type Metrics struct {
	Registry           *prometheus.Registry
	PagesScrapedTotal  prometheus.Counter
	RecordsMergedTotal prometheus.Counter
	SessionsTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	PageDuration       prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricescout_pages_scraped_total",
			Help: "Total result pages extracted across all sessions.",
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pricescout_records_merged_total",
			Help: "Total product records merged into accumulated result sets.",
		},
	)
	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricescout_sessions_total",
			Help: "Total sessions reaching a terminal state, by outcome.",
		},
		[]string{"outcome"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricescout_errors_total",
			Help: "Total coordinator errors by type.",
		},
		[]string{"error_type"},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricescout_page_duration_seconds",
			Help:    "Wall time per page including navigation and settling.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(pages, records, sessions, errorsTotal, pageDuration)

	return &Metrics{
		Registry:           registry,
		PagesScrapedTotal:  pages,
		RecordsMergedTotal: records,
		SessionsTotal:      sessions,
		ErrorsTotal:        errorsTotal,
		PageDuration:       pageDuration,
	}
}

// IncPage increments the pages scraped counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesScrapedTotal.Inc()
}

// AddRecords adds to the merged records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsMergedTotal.Add(float64(n))
}

// IncSession increments the terminal-outcome counter.
func (m *Metrics) IncSession(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObservePage records one page cycle's duration.
func (m *Metrics) ObservePage(d time.Duration) {
	if m == nil {
		return
	}
	m.PageDuration.Observe(d.Seconds())
}
