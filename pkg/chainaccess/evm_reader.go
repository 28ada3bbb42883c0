package chainaccess

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const defaultRPCTimeout = 10 * time.Second

var _ ChainReader = (*EVMReader)(nil)

// EVMReader implements ChainReader over a go-ethereum client. Every call is
// bounded by the configured RPC timeout.
type EVMReader struct {
	client     EthClient
	closer     func()
	lggr       logger.Logger
	rpcTimeout time.Duration
}

// NewEVMReader wraps an existing client.
func NewEVMReader(client EthClient, lggr logger.Logger, rpcTimeout time.Duration) *EVMReader {
	if rpcTimeout <= 0 {
		rpcTimeout = defaultRPCTimeout
	}
	return &EVMReader{
		client:     client,
		lggr:       logger.With(lggr, "component", "EVMReader"),
		rpcTimeout: rpcTimeout,
	}
}

// DialEVMReader connects to rpcURL and returns a reader owning the connection.
func DialEVMReader(ctx context.Context, rpcURL string, lggr logger.Logger, rpcTimeout time.Duration) (*EVMReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	r := NewEVMReader(client, lggr, rpcTimeout)
	r.closer = client.Close
	return r, nil
}

func (r *EVMReader) ChainID(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	defer cancel()

	id, err := r.client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s does not fit in uint64", id)
	}
	return id.Uint64(), nil
}

func (r *EVMReader) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	defer cancel()

	n, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return n, nil
}

func (r *EVMReader) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	defer cancel()

	block, err := r.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return block, nil
}

func (r *EVMReader) CodeAt(ctx context.Context, addr common.Address, blockNumber uint64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rpcTimeout)
	defer cancel()

	code, err := r.client.CodeAt(ctx, addr, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// Close releases the underlying connection when the reader owns it.
func (r *EVMReader) Close() {
	if r.closer != nil {
		r.closer()
	}
}
