package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/affiliatedkat/sourcify/pkg/chainaccess"
	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
)

const (
	DefaultChainPollInterval = 5 * time.Second
	DefaultMaxBlocksPerPoll  = 50
	DefaultFinalizeTimeout   = 2 * time.Minute

	// Bounded by deployments per retried block range, not by chain history.
	seenCacheMaxEntries = 10_000
	seenCacheTTL        = time.Hour
)

// Finalizer submits a reconciled contract.
type Finalizer interface {
	Finalize(ctx context.Context, chainCtx protocol.ChainContext, sources map[string]string) (*protocol.MatchResult, error)
}

type ChainMonitorConfig struct {
	ChainID   uint64
	ChainName string
	// StartBlock is used when no cursor is persisted. Zero means the current head.
	StartBlock       uint64
	PollInterval     time.Duration
	MaxBlocksPerPoll uint64
	FinalizeTimeout  time.Duration
}

func (c *ChainMonitorConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultChainPollInterval
	}
	if c.MaxBlocksPerPoll == 0 {
		c.MaxBlocksPerPoll = DefaultMaxBlocksPerPoll
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
}

type ChainMonitorParams struct {
	Lggr       logger.Logger
	Config     ChainMonitorConfig
	Reader     chainaccess.ChainReader
	Cursor     protocol.BlockCursorStore
	Subscriber Subscriber
	Finalizer  Finalizer
	Metrics    *monitoring.MetricLabeler
}

// ChainStatus is a point-in-time view of one chain monitor.
type ChainStatus struct {
	ChainID     uint64 `json:"chain_id"`
	ChainName   string `json:"chain_name,omitempty"`
	Initialized bool   `json:"initialized"`
	Cursor      uint64 `json:"cursor"`
	Pending     int    `json:"pending"`
}

// ChainMonitor polls one chain for contract creations and starts a
// PendingContract for every deployment carrying a metadata trailer.
//
// Blocks are processed in ascending order and the cursor is persisted only
// after every transaction of a block has been handled, so a restart resumes
// at the first block that was not fully processed.
type ChainMonitor struct {
	services.StateMachine
	lggr        logger.Logger
	cfg         ChainMonitorConfig
	reader      chainaccess.ChainReader
	cursorStore protocol.BlockCursorStore
	subscriber  Subscriber
	finalizer   Finalizer
	metrics     *monitoring.MetricLabeler
	signer      types.Signer
	// Contracts already handed to a PendingContract, so retried blocks do not
	// start a second reconciliation.
	seen *expirable.LRU[common.Address, struct{}]

	stopCh services.StopChan
	wg     sync.WaitGroup

	mu          sync.RWMutex
	initialized bool
	cursor      uint64
	pending     map[common.Address]*PendingContract
	lastPollErr error
}

func NewChainMonitor(params ChainMonitorParams) (*ChainMonitor, error) {
	if params.Reader == nil {
		return nil, errors.New("chain reader is required")
	}
	if params.Cursor == nil {
		return nil, errors.New("cursor store is required")
	}
	if params.Subscriber == nil {
		return nil, errors.New("subscriber is required")
	}
	if params.Finalizer == nil {
		return nil, errors.New("finalizer is required")
	}
	if params.Config.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	cfg := params.Config
	cfg.setDefaults()

	lggr := logger.With(params.Lggr, "component", "ChainMonitor", "chainID", cfg.ChainID)
	if cfg.ChainName != "" {
		lggr = logger.With(lggr, "chain", cfg.ChainName)
	}

	return &ChainMonitor{
		lggr:        lggr,
		cfg:         cfg,
		reader:      params.Reader,
		cursorStore: params.Cursor,
		subscriber:  params.Subscriber,
		finalizer:   params.Finalizer,
		metrics:     params.Metrics,
		signer:      types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		seen:        expirable.NewLRU[common.Address, struct{}](seenCacheMaxEntries, nil, seenCacheTTL),
		stopCh:      make(chan struct{}),
		pending:     make(map[common.Address]*PendingContract),
	}, nil
}

func (m *ChainMonitor) Start(ctx context.Context) error {
	return m.StartOnce("ChainMonitor", func() error {
		m.lggr.Infow("Starting chain monitor",
			"pollInterval", m.cfg.PollInterval,
			"maxBlocksPerPoll", m.cfg.MaxBlocksPerPoll,
			"startBlock", m.cfg.StartBlock)
		m.wg.Go(m.pollLoop)
		return nil
	})
}

func (m *ChainMonitor) Close() error {
	return m.StopOnce("ChainMonitor", func() error {
		m.lggr.Infow("Stopping chain monitor")
		close(m.stopCh)
		m.wg.Wait()
		m.lggr.Infow("Chain monitor stopped", "cursor", m.Status().Cursor)
		return nil
	})
}

// Status returns the cursor and number of live reconciliations.
func (m *ChainMonitor) Status() ChainStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ChainStatus{
		ChainID:     m.cfg.ChainID,
		ChainName:   m.cfg.ChainName,
		Initialized: m.initialized,
		Cursor:      m.cursor,
		Pending:     len(m.pending),
	}
}

func (m *ChainMonitor) Name() string {
	return fmt.Sprintf("ChainMonitor.%d", m.cfg.ChainID)
}

// HealthReport is unhealthy while the latest poll failed.
func (m *ChainMonitor) HealthReport() map[string]error {
	m.mu.RLock()
	pollErr := m.lastPollErr
	m.mu.RUnlock()
	return map[string]error{m.Name(): errors.Join(m.Healthy(), pollErr)}
}

func (m *ChainMonitor) recordPoll(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		m.lggr.Warnw("Poll failed, will retry", "error", err)
	}
	m.mu.Lock()
	m.lastPollErr = err
	m.mu.Unlock()
}

// PendingCount returns the number of contracts still reconciling.
func (m *ChainMonitor) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

func (m *ChainMonitor) pollLoop() {
	ctx, cancel := m.stopCh.NewCtx()
	defer cancel()

	m.recordPoll(m.poll(ctx))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.recordPoll(m.poll(ctx))
		}
	}
}

// initializeCursor loads the persisted cursor or derives the starting point.
func (m *ChainMonitor) initializeCursor(ctx context.Context) error {
	block, err := m.cursorStore.ReadCursor(ctx, m.cfg.ChainID)
	switch {
	case err == nil:
		m.lggr.Infow("Resuming from persisted cursor", "cursor", block)
	case errors.Is(err, protocol.ErrCursorNotFound):
		if m.cfg.StartBlock > 0 {
			block = m.cfg.StartBlock - 1
			m.lggr.Infow("No persisted cursor, starting from configured block", "startBlock", m.cfg.StartBlock)
		} else {
			head, err := m.reader.LatestBlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("failed to read chain head: %w", err)
			}
			block = head
			m.lggr.Infow("No persisted cursor, starting after current head", "head", head)
		}
		// A restart must resume here, not at a later head.
		if err := m.cursorStore.WriteCursor(ctx, m.cfg.ChainID, block); err != nil {
			return fmt.Errorf("failed to persist initial cursor: %w", err)
		}
	default:
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	m.mu.Lock()
	m.cursor = block
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *ChainMonitor) poll(ctx context.Context) error {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		if err := m.initializeCursor(ctx); err != nil {
			return fmt.Errorf("failed to initialize cursor: %w", err)
		}
	}

	latest, err := m.reader.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to read latest block: %w", err)
	}

	m.mu.RLock()
	cursor := m.cursor
	m.mu.RUnlock()
	if latest <= cursor {
		return nil
	}
	to := min(latest, cursor+m.cfg.MaxBlocksPerPoll)

	for n := cursor + 1; n <= to; n++ {
		select {
		case <-m.stopCh:
			return nil
		default:
		}

		if err := m.processBlock(ctx, n); err != nil {
			return fmt.Errorf("failed to process block %d: %w", n, err)
		}
		if err := m.cursorStore.WriteCursor(ctx, m.cfg.ChainID, n); err != nil {
			return fmt.Errorf("failed to persist cursor at block %d: %w", n, err)
		}
		m.mu.Lock()
		m.cursor = n
		m.mu.Unlock()
	}
	m.lggr.Debugw("Processed blocks", "from", cursor+1, "to", to, "latest", latest)
	return nil
}

// processBlock returns an error only for failures that must be retried.
func (m *ChainMonitor) processBlock(ctx context.Context, number uint64) error {
	block, err := m.reader.BlockByNumber(ctx, number)
	if err != nil {
		return err
	}

	creations, err := chainaccess.ContractCreations(block, m.signer)
	if err != nil {
		m.lggr.Warnw("Skipping transactions with unrecoverable sender", "block", number, "error", err)
	}

	for _, creation := range creations {
		if m.seen.Contains(creation.Address) {
			continue
		}

		code, err := m.reader.CodeAt(ctx, creation.Address, number)
		if err != nil {
			return err
		}
		lggr := logger.With(m.lggr, "address", creation.Address.Hex(), "tx", creation.TxHash.Hex(), "block", number)
		if len(code) == 0 {
			lggr.Debugw("Contract creation left no code, skipping")
			m.seen.Add(creation.Address, struct{}{})
			continue
		}

		metadataAddr, err := ExtractMetadataAddress(code)
		if err != nil {
			lggr.Infow("Skipping contract without usable metadata", "error", err)
			m.seen.Add(creation.Address, struct{}{})
			continue
		}

		chainCtx := protocol.ChainContext{
			ChainID:  m.cfg.ChainID,
			Address:  creation.Address,
			Bytecode: code,
		}
		if err := m.track(chainCtx, metadataAddr, lggr); err != nil {
			return err
		}
		m.seen.Add(creation.Address, struct{}{})
		m.metrics.IncrementContractsDetected(m.cfg.ChainID)
		lggr.Infow("Contract detected", "metadata", metadataAddr.Key())
	}
	return nil
}

func (m *ChainMonitor) track(chainCtx protocol.ChainContext, metadataAddr protocol.SourceAddress, lggr logger.Logger) error {
	addr := chainCtx.Address

	// Held across construction so callbacks cannot observe the map before the entry exists.
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, err := NewPendingContract(PendingContractParams{
		Lggr:            lggr,
		MetadataAddress: metadataAddr,
		Subscriber:      m.subscriber,
		Finalize: func(sources map[string]string) {
			m.finalize(chainCtx, sources, lggr)
		},
		OnFailure: func(error) {
			m.untrack(addr)
		},
	})
	if err != nil {
		return err
	}
	m.pending[addr] = pc
	return nil
}

func (m *ChainMonitor) untrack(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, addr)
}

func (m *ChainMonitor) finalize(chainCtx protocol.ChainContext, sources map[string]string, lggr logger.Logger) {
	defer m.untrack(chainCtx.Address)

	ctx, cancel := m.stopCh.CtxWithTimeout(m.cfg.FinalizeTimeout)
	defer cancel()

	result, err := m.finalizer.Finalize(ctx, chainCtx, sources)
	if err == nil && result == nil {
		err = protocol.ErrNoMatchResult
	}
	m.metrics.IncrementContractsFinalized(chainCtx.ChainID, err)
	if err != nil {
		lggr.Errorw("Failed to finalize contract", "sources", len(sources), "error", err)
		return
	}
	lggr.Infow("Contract finalized", "status", result.Status)
}
