package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager owns the alert engine's metric collectors and the process-level
// gauges that back the health endpoints.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a metrics manager with all collectors registered
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the underlying collectors for recording
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// UpdateSystemMetrics refreshes the memory, goroutine and uptime gauges.
// Called on server start and from the server's periodic updater.
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
