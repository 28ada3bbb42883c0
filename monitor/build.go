package monitor

import (
	"context"
	"fmt"
	"strconv"

	selectors "github.com/smartcontractkit/chain-selectors"

	"github.com/affiliatedkat/sourcify/monitor/pkg/config"
	"github.com/affiliatedkat/sourcify/monitor/pkg/cursor"
	"github.com/affiliatedkat/sourcify/monitor/pkg/monitoring"
	"github.com/affiliatedkat/sourcify/pkg/chainaccess"
	"github.com/affiliatedkat/sourcify/pkg/gateway"
	"github.com/affiliatedkat/sourcify/pkg/verification"
	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// NewFromConfig dials every configured chain, opens the cursor store and wires
// the gateway and verification clients into a Monitor.
func NewFromConfig(ctx context.Context, cfg *config.Config, lggr logger.Logger, metrics *monitoring.MetricLabeler) (*Monitor, error) {
	var cleanup []func() error
	release := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
	}

	store, err := cursor.Open(cfg.Cursor, lggr)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	cleanup = append(cleanup, store.Close)

	chains := make([]ChainSpec, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		reader, err := chainaccess.DialEVMReader(ctx, chainCfg.RPCURL, lggr, chainCfg.RPCTimeout.Duration())
		if err != nil {
			release()
			return nil, err
		}
		cleanup = append(cleanup, func() error { reader.Close(); return nil })

		chainID, err := reader.ChainID(ctx)
		if err != nil {
			release()
			return nil, err
		}
		if chainID != chainCfg.ChainID {
			release()
			return nil, fmt.Errorf("rpc %s serves chain %d, configured for %d", chainCfg.RPCURL, chainID, chainCfg.ChainID)
		}

		chains = append(chains, ChainSpec{
			Config: ChainMonitorConfig{
				ChainID:          chainCfg.ChainID,
				ChainName:        chainName(chainCfg, lggr),
				StartBlock:       chainCfg.StartBlock,
				PollInterval:     chainCfg.PollInterval.Duration(),
				MaxBlocksPerPoll: chainCfg.MaxBlocksPerPoll,
				FinalizeTimeout:  2 * cfg.Verification.Timeout.Duration(),
			},
			Reader: reader,
		})
	}

	registry := gateway.NewRegistry(gatewaysFromConfig(cfg.Gateways)...)
	resilience := gateway.DefaultResilienceConfig()
	resilience.RequestTimeout = cfg.Fetcher.RequestTimeout.Duration()
	resilience.MaxConcurrentRequests = uint(cfg.Fetcher.MaxConcurrentFetches)
	resilience.MaxResponseBytes = cfg.Fetcher.MaxResponseBytes
	resilience.FailureThreshold = cfg.Fetcher.CircuitBreakerFailureThreshold
	resilience.CircuitBreakerDelay = cfg.Fetcher.CircuitBreakerDelay.Duration()

	timeout := cfg.Verification.Timeout.Duration()
	m, err := New(Params{
		Lggr: lggr,
		Fetcher: FetcherConfig{
			PollInterval:         cfg.Fetcher.PollInterval.Duration(),
			MaxConcurrentFetches: cfg.Fetcher.MaxConcurrentFetches,
			DeliveryWorkers:      cfg.Fetcher.DeliveryWorkers,
		},
		Content:   gateway.NewClient(registry, lggr, resilience),
		Chains:    chains,
		Cursor:    cursor.NewMonitoredStore(store, metrics),
		Validator: verification.NewValidationClient(cfg.Verification.ValidationURL, timeout, lggr),
		Injector:  verification.NewInjectorClient(cfg.Verification.InjectorURL, timeout, lggr),
		Metrics:   metrics,
	})
	if err != nil {
		release()
		return nil, err
	}
	m.cleanup = cleanup
	return m, nil
}

// gatewaysFromConfig puts configured gateways ahead of the defaults, so the
// defaults only serve origins nothing else was configured for.
func gatewaysFromConfig(gws []config.GatewayConfig) []gateway.Gateway {
	out := make([]gateway.Gateway, 0, len(gws)+2)
	for _, gw := range gws {
		out = append(out, gateway.NewSimpleGateway(protocol.Origin(gw.Origin), gw.URL))
	}
	return append(out, gateway.DefaultGateways()...)
}

func chainName(cfg config.ChainConfig, lggr logger.Logger) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	details, err := selectors.GetChainDetailsByChainIDAndFamily(strconv.FormatUint(cfg.ChainID, 10), selectors.FamilyEVM)
	if err != nil {
		lggr.Debugw("Chain not in selectors registry", "chainID", cfg.ChainID, "error", err)
		return ""
	}
	return details.ChainName
}
