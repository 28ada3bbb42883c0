package monitoring

// NoopMonitoring provides a no-op implementation of Monitoring.
type NoopMonitoring struct {
	metrics *MetricLabeler
}

// NewNoopMonitoring creates a new noop monitoring instance.
func NewNoopMonitoring() Monitoring {
	return &NoopMonitoring{
		metrics: NewNoopMetricLabeler(),
	}
}

func (n *NoopMonitoring) Metrics() *MetricLabeler {
	return n.metrics
}
