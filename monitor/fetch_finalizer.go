package monitor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// FetchFinalizer hands a reconciled source set to the validation service and
// the injector. It enforces one contract per (chain, address) submission.
type FetchFinalizer struct {
	lggr      logger.Logger
	validator protocol.ValidationService
	injector  protocol.Injector
}

func NewFetchFinalizer(lggr logger.Logger, validator protocol.ValidationService, injector protocol.Injector) *FetchFinalizer {
	return &FetchFinalizer{
		lggr:      logger.With(lggr, "component", "FetchFinalizer"),
		validator: validator,
		injector:  injector,
	}
}

// Finalize validates sources and, if they form exactly one complete contract,
// submits it for chainCtx. Injector errors are returned unchanged.
func (f *FetchFinalizer) Finalize(ctx context.Context, chainCtx protocol.ChainContext, sources map[string]string) (*protocol.MatchResult, error) {
	lggr := logger.With(f.lggr, "chainID", chainCtx.ChainID, "address", chainCtx.Address.Hex())

	contracts, err := f.validator.CheckFiles(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to check files: %w", err)
	}

	if len(contracts) != 1 {
		err := &protocol.AmbiguousOrEmptyContractSetError{
			ChainID: chainCtx.ChainID,
			Address: chainCtx.Address,
			Count:   len(contracts),
		}
		lggr.Errorw("Cannot inject contract set", "count", len(contracts), "error", err)
		return nil, err
	}

	contract := contracts[0]
	if !contract.IsValid() {
		err := &protocol.IncompleteContractError{
			ChainID: chainCtx.ChainID,
			Address: chainCtx.Address,
			Name:    contract.Name,
			Missing: contract.Missing,
			Invalid: contract.Invalid,
		}
		lggr.Errorw("Invalid contract", "name", contract.Name, "missing", contract.Missing, "invalid", contract.Invalid)
		return nil, err
	}

	result, err := f.injector.Inject(ctx, protocol.InjectRequest{
		Addresses: []common.Address{chainCtx.Address},
		ChainID:   chainCtx.ChainID,
		Bytecode:  hexutil.Encode(chainCtx.Bytecode),
		Contracts: []protocol.ContractUnit{contract},
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, protocol.ErrNoMatchResult
	}
	lggr.Infow("Contract injected", "name", contract.Name, "status", result.Status)
	return result, nil
}
