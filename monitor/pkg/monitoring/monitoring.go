// Package monitoring exposes the monitor's Prometheus metrics.
package monitoring

import (
	"fmt"

	"github.com/grafana/pyroscope-go"
)

// Monitoring provides monitoring capabilities for the monitor service.
type Monitoring interface {
	// Metrics returns the metric labeler for recording metrics.
	Metrics() *MetricLabeler
}

var (
	_ Monitoring = (*PrometheusMonitoring)(nil)
	_ Monitoring = (*NoopMonitoring)(nil)
)

// PrometheusMonitoring records metrics to the default Prometheus registry.
type PrometheusMonitoring struct {
	metrics *MetricLabeler
}

// NewPrometheusMonitoring creates a Prometheus backed Monitoring.
func NewPrometheusMonitoring() *PrometheusMonitoring {
	return &PrometheusMonitoring{metrics: NewMetricLabeler()}
}

func (p *PrometheusMonitoring) Metrics() *MetricLabeler {
	return p.metrics
}

// StartProfiling starts continuous profiling against a Pyroscope server.
func StartProfiling(applicationName, serverAddress string) (*pyroscope.Profiler, error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: applicationName,
		ServerAddress:   serverAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pyroscope client: %w", err)
	}
	return profiler, nil
}
