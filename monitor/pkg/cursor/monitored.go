package cursor

import (
	"context"
	"time"

	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/affiliatedkat/sourcify/protocol"
)

var _ protocol.BlockCursorStore = (*MonitoredStore)(nil)

// MonitoredStore is a decorator that records query durations of a BlockCursorStore.
type MonitoredStore struct {
	store   protocol.BlockCursorStore
	metrics *monitoring.MetricLabeler
}

// NewMonitoredStore creates a new MonitoredStore decorator.
func NewMonitoredStore(store protocol.BlockCursorStore, metrics *monitoring.MetricLabeler) *MonitoredStore {
	return &MonitoredStore{
		store:   store,
		metrics: metrics,
	}
}

// WriteCursor writes the cursor and records query duration with method "writeCursor".
func (m *MonitoredStore) WriteCursor(ctx context.Context, chainID, blockNumber uint64) error {
	start := time.Now()
	err := m.store.WriteCursor(ctx, chainID, blockNumber)
	m.metrics.RecordCursorQueryDuration("writeCursor", time.Since(start))
	if err == nil {
		m.metrics.SetBlockCursor(chainID, blockNumber)
	}
	return err
}

// ReadCursor reads the cursor and records query duration with method "readCursor".
func (m *MonitoredStore) ReadCursor(ctx context.Context, chainID uint64) (uint64, error) {
	start := time.Now()
	block, err := m.store.ReadCursor(ctx, chainID)
	m.metrics.RecordCursorQueryDuration("readCursor", time.Since(start))
	return block, err
}
