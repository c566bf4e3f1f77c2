package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lowStock    *prometheus.GaugeVec
	staleOrders *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// SetLowStock publishes the number of low stock records found for a company.
func (m *Metrics) SetLowStock(companyID int64, count int) {
	if m == nil {
		return
	}
	m.lowStock.WithLabelValues(formatInt(companyID)).Set(float64(count))
}

// ResetLowStock drops every per-company low stock series so companies that
// recovered since the last scan stop reporting.
func (m *Metrics) ResetLowStock() {
	if m == nil {
		return
	}
	m.lowStock.Reset()
}

// SetStaleOrders publishes how many orders sit in a pending status past the cutoff.
func (m *Metrics) SetStaleOrders(status string, count int) {
	if m == nil {
		return
	}
	m.staleOrders.WithLabelValues(status).Set(float64(count))
}

// LowStockGauge returns the low stock gauge of one company.
func (m *Metrics) LowStockGauge(companyID int64) prometheus.Gauge {
	return m.lowStock.WithLabelValues(formatInt(companyID))
}

// StaleOrdersGauge returns the stale order gauge of one status.
func (m *Metrics) StaleOrdersGauge(status string) prometheus.Gauge {
	return m.staleOrders.WithLabelValues(status)
}

func formatInt(v int64) string {
	if v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildflow_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildflow_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buildflow_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lowStock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buildflow_low_stock_items",
		Help: "Stock records at or below their minimum threshold, per company.",
	}, []string{"company"})
	staleOrders := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buildflow_stale_orders",
		Help: "Purchase orders waiting on a decision past the stale cutoff, per status.",
	}, []string{"status"})
	registerer.MustRegister(runs, failures, duration, lowStock, staleOrders)
	return &Metrics{runs: runs, failures: failures, duration: duration, lowStock: lowStock, staleOrders: staleOrders}
}
