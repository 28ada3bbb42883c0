package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/affiliatedkat/sourcify/pkg/chainaccess"
	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

// ChainSpec describes one chain the Monitor watches.
type ChainSpec struct {
	Config ChainMonitorConfig
	Reader chainaccess.ChainReader
}

type Params struct {
	Lggr      logger.Logger
	Fetcher   FetcherConfig
	Content   ContentFetcher
	Chains    []ChainSpec
	Cursor    protocol.BlockCursorStore
	Validator protocol.ValidationService
	Injector  protocol.Injector
	Metrics   *monitoring.MetricLabeler
}

// Status is a point-in-time view of the whole monitor.
type Status struct {
	Chains  []ChainStatus `json:"chains"`
	Fetcher FetcherStats  `json:"fetcher"`
}

// Monitor runs one ChainMonitor per configured chain over a shared
// SourceFetcher and FetchFinalizer.
type Monitor struct {
	services.StateMachine
	lggr    logger.Logger
	fetcher *SourceFetcher
	chains  []*ChainMonitor
	// Resources owned by the monitor, released after everything is stopped.
	cleanup []func() error
}

func New(params Params) (*Monitor, error) {
	if params.Content == nil {
		return nil, errors.New("content fetcher is required")
	}
	if params.Validator == nil || params.Injector == nil {
		return nil, errors.New("validation service and injector are required")
	}
	if len(params.Chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}
	lggr := logger.Named(params.Lggr, "Monitor")

	fetcher, err := NewSourceFetcher(lggr, params.Content, params.Metrics, params.Fetcher)
	if err != nil {
		return nil, fmt.Errorf("failed to create source fetcher: %w", err)
	}
	finalizer := NewFetchFinalizer(lggr, params.Validator, params.Injector)

	m := &Monitor{lggr: lggr, fetcher: fetcher}
	for _, spec := range params.Chains {
		cm, err := NewChainMonitor(ChainMonitorParams{
			Lggr:       lggr,
			Config:     spec.Config,
			Reader:     spec.Reader,
			Cursor:     params.Cursor,
			Subscriber: fetcher,
			Finalizer:  finalizer,
			Metrics:    params.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create monitor for chain %d: %w", spec.Config.ChainID, err)
		}
		m.chains = append(m.chains, cm)
	}
	return m, nil
}

// Start starts the fetcher before any chain so early detections are picked up.
func (m *Monitor) Start(ctx context.Context) error {
	return m.StartOnce("Monitor", func() error {
		if err := m.fetcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start source fetcher: %w", err)
		}
		for i, cm := range m.chains {
			if err := cm.Start(ctx); err != nil {
				for _, started := range slices.Backward(m.chains[:i]) {
					_ = started.Close()
				}
				_ = m.fetcher.Close()
				return fmt.Errorf("failed to start chain monitor %d: %w", cm.cfg.ChainID, err)
			}
		}
		m.lggr.Infow("Monitor started", "chains", len(m.chains))
		return nil
	})
}

// Close stops the chains before the fetcher they subscribe through.
func (m *Monitor) Close() error {
	return m.StopOnce("Monitor", func() error {
		var errs []error
		for _, cm := range slices.Backward(m.chains) {
			errs = append(errs, cm.Close())
		}
		errs = append(errs, m.fetcher.Close())
		for _, fn := range slices.Backward(m.cleanup) {
			errs = append(errs, fn())
		}
		m.lggr.Infow("Monitor stopped")
		return errors.Join(errs...)
	})
}

// Subscribe registers fn for the content at addr on the shared fetcher, for
// flows that start from a known address rather than a deployment.
func (m *Monitor) Subscribe(addr protocol.SourceAddress, fn SubscriberFunc) error {
	return m.fetcher.Subscribe(addr, fn)
}

func (m *Monitor) Name() string { return "Monitor" }

// HealthReport merges the reports of the fetcher and every chain.
func (m *Monitor) HealthReport() map[string]error {
	report := map[string]error{m.Name(): m.Healthy()}
	maps.Copy(report, m.fetcher.HealthReport())
	for _, cm := range m.chains {
		maps.Copy(report, cm.HealthReport())
	}
	return report
}

func (m *Monitor) Status(ctx context.Context) Status {
	st := Status{Chains: make([]ChainStatus, 0, len(m.chains))}
	for _, cm := range m.chains {
		st.Chains = append(st.Chains, cm.Status())
	}
	stats, err := m.fetcher.Stats(ctx)
	if err != nil {
		m.lggr.Debugw("Fetcher stats unavailable", "error", err)
	}
	st.Fetcher = stats
	return st
}
