package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	PromGatewayFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcify_monitor_gateway_fetch_total",
			Help: "Number of gateway retrievals by origin and result",
		},
		[]string{"origin", "result"},
	)
	PromGatewayFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sourcify_monitor_gateway_fetch_duration_seconds",
			Help: "Duration of gateway retrievals in seconds",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"origin"},
	)
	PromPendingSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sourcify_monitor_pending_subscriptions",
			Help: "Number of content addresses waiting to be fetched",
		},
	)
	PromContractsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcify_monitor_contracts_detected_total",
			Help: "Number of contract deployments with a recognised metadata trailer",
		},
		[]string{"chain"},
	)
	PromContractsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourcify_monitor_contracts_finalized_total",
			Help: "Number of reconciled contracts handed to the injector by result",
		},
		[]string{"chain", "result"},
	)
	PromBlockCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sourcify_monitor_block_cursor",
			Help: "Last fully processed block per chain",
		},
		[]string{"chain"},
	)
	PromCursorQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sourcify_monitor_cursor_query_duration_seconds",
			Help: "Duration of block cursor store queries in seconds",
			Buckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
			},
		},
		[]string{"method"},
	)
)

// MetricLabeler records monitor metrics. A nil or disabled labeler is a no-op.
type MetricLabeler struct {
	enabled bool
}

// NewMetricLabeler creates a labeler that records to the default Prometheus registry.
func NewMetricLabeler() *MetricLabeler {
	return &MetricLabeler{enabled: true}
}

// NewNoopMetricLabeler creates a labeler that doesn't record metrics.
func NewNoopMetricLabeler() *MetricLabeler {
	return &MetricLabeler{enabled: false}
}

func (m *MetricLabeler) active() bool {
	return m != nil && m.enabled
}

// RecordGatewayFetch records the outcome and duration of one retrieval.
func (m *MetricLabeler) RecordGatewayFetch(origin string, err error, duration time.Duration) {
	if !m.active() {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	PromGatewayFetchTotal.WithLabelValues(origin, result).Inc()
	PromGatewayFetchDuration.WithLabelValues(origin).Observe(duration.Seconds())
}

func (m *MetricLabeler) SetPendingSubscriptions(n int) {
	if !m.active() {
		return
	}
	PromPendingSubscriptions.Set(float64(n))
}

func (m *MetricLabeler) IncrementContractsDetected(chainID uint64) {
	if !m.active() {
		return
	}
	PromContractsDetected.WithLabelValues(chainLabel(chainID)).Inc()
}

func (m *MetricLabeler) IncrementContractsFinalized(chainID uint64, err error) {
	if !m.active() {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	PromContractsFinalized.WithLabelValues(chainLabel(chainID), result).Inc()
}

func (m *MetricLabeler) SetBlockCursor(chainID, block uint64) {
	if !m.active() {
		return
	}
	PromBlockCursor.WithLabelValues(chainLabel(chainID)).Set(float64(block))
}

func (m *MetricLabeler) RecordCursorQueryDuration(method string, duration time.Duration) {
	if !m.active() {
		return
	}
	PromCursorQueryDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
