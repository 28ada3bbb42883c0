package chainaccess

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainReader provides the read access the chain monitor needs.
//
// Thread-safety: All methods must be safe for concurrent calls.
type ChainReader interface {
	// ChainID returns the chain id reported by the node.
	ChainID(ctx context.Context) (uint64, error)
	// LatestBlockNumber returns the current head.
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// BlockByNumber returns the full block including transactions.
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	// CodeAt returns the deployed code of addr as of blockNumber.
	CodeAt(ctx context.Context, addr common.Address, blockNumber uint64) ([]byte, error)
}

// EthClient is the subset of ethclient.Client used by EVMReader. It is also
// satisfied by the simulated backend client.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}
