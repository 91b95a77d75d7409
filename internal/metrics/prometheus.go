package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the alert engine
type PrometheusMetrics struct {
	// Ingestion metrics
	UpsertsTotal   *prometheus.CounterVec
	UpsertDuration prometheus.Histogram

	// Notification metrics
	NotificationsCreatedTotal *prometheus.CounterVec
	EscalationAdvancesTotal   *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal      prometheus.Counter
	SweepDuration       prometheus.Histogram
	SweepGroupsExamined prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine state metrics
	ActiveIncidents prometheus.Gauge
	OpenGroups      prometheus.Gauge

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		UpsertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storealert_upserts_total",
				Help: "Total number of signal upserts processed",
			},
			[]string{"result", "category"},
		),

		UpsertDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storealert_upsert_duration_seconds",
				Help:    "Time spent processing individual upsert calls",
				Buckets: prometheus.DefBuckets,
			},
		),

		NotificationsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storealert_notifications_created_total",
				Help: "Total number of notification records created",
			},
			[]string{"kind", "source"},
		),

		EscalationAdvancesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storealert_escalation_advances_total",
				Help: "Total number of escalation step advances",
			},
			[]string{"step"},
		),

		SweepRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storealert_sweep_runs_total",
				Help: "Total number of reminder sweep passes",
			},
		),

		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storealert_sweep_duration_seconds",
				Help:    "Duration of reminder sweep passes",
				Buckets: prometheus.DefBuckets,
			},
		),

		SweepGroupsExamined: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storealert_sweep_groups_examined",
				Help:    "Number of open groups examined per sweep pass",
				Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
			},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storealert_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storealert_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storealert_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storealert_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ActiveIncidents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storealert_active_incidents",
				Help: "Number of incidents currently OPEN or ACK",
			},
		),

		OpenGroups: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storealert_open_notification_groups",
				Help: "Number of notification groups currently open",
			},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storealert_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storealert_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storealert_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storealert_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordUpsert records an upsert call
func (m *PrometheusMetrics) RecordUpsert(result, category string, duration time.Duration) {
	m.UpsertsTotal.WithLabelValues(result, category).Inc()
	m.UpsertDuration.Observe(duration.Seconds())
}

// RecordNotification records a created notification record
func (m *PrometheusMetrics) RecordNotification(kind, source string) {
	m.NotificationsCreatedTotal.WithLabelValues(kind, source).Inc()
}

// RecordEscalationAdvance records an escalation step advance
func (m *PrometheusMetrics) RecordEscalationAdvance(step string) {
	m.EscalationAdvancesTotal.WithLabelValues(step).Inc()
}

// RecordSweep records one sweep pass
func (m *PrometheusMetrics) RecordSweep(groupsExamined int, duration time.Duration) {
	m.SweepRunsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepGroupsExamined.Observe(float64(groupsExamined))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateEngineState updates the active incident and open group gauges
func (m *PrometheusMetrics) UpdateEngineState(activeIncidents, openGroups int64) {
	m.ActiveIncidents.Set(float64(activeIncidents))
	m.OpenGroups.Set(float64(openGroups))
}

// UpdateComponentHealth updates a component's health gauge
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates the memory usage gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
