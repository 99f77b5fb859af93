package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for pipeline runs.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	AlertsTotal     *prometheus.CounterVec
	RowsTotal       *prometheus.CounterVec
	FieldErrorTotal *prometheus.CounterVec
	ArchiveBytes    *prometheus.HistogramVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capetl_runs_total",
			Help: "Total pipeline step runs by step and result.",
		}, []string{"step", "result"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capetl_run_duration_seconds",
			Help:    "Duration of pipeline step runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"step"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capetl_feed_alerts_total",
			Help: "Alerts seen in ingested feeds by dedup outcome.",
		}, []string{"outcome"}),
		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capetl_rows_total",
			Help: "Rows written to staged tables by kind.",
		}, []string{"kind"}),
		FieldErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capetl_field_errors_total",
			Help: "Alerts that failed extraction by failure policy.",
		}, []string{"policy"}),
		ArchiveBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capetl_archive_bytes",
			Help:    "Size of raw archives written in bytes.",
			Buckets: prometheus.ExponentialBuckets(512, 4, 8), // 512B .. ~8MB
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.AlertsTotal,
		m.RowsTotal,
		m.FieldErrorTotal,
		m.ArchiveBytes,
	)

	return m
}

// The helpers below are nil-safe so the service runs without metrics.

func (m *Metrics) observeRun(step string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(step, result).Inc()
	m.RunDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeDedup(retained, duplicates, malformed int) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues("retained").Add(float64(retained))
	m.AlertsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	m.AlertsTotal.WithLabelValues("malformed").Add(float64(malformed))
}

func (m *Metrics) observeRows(kind Kind, rows int) {
	if m == nil {
		return
	}
	m.RowsTotal.WithLabelValues(string(kind)).Add(float64(rows))
}

func (m *Metrics) observeFieldErrors(policy string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FieldErrorTotal.WithLabelValues(policy).Add(float64(n))
}

func (m *Metrics) observeArchive(kind Kind, size int) {
	if m == nil {
		return
	}
	m.ArchiveBytes.WithLabelValues(string(kind)).Observe(float64(size))
}
