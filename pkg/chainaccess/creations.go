package chainaccess

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractCreation describes a contract-creation transaction found in a block.
type ContractCreation struct {
	TxHash      common.Hash
	Sender      common.Address
	Nonce       uint64
	Address     common.Address
	BlockNumber uint64
}

// IsContractCreation reports whether tx deploys a contract: no recipient and non-empty input.
func IsContractCreation(tx *types.Transaction) bool {
	return tx.To() == nil && len(tx.Data()) > 0
}

// ContractCreations returns the contract creations in block in transaction order.
// The created address is derived from the recovered sender and the tx nonce.
// Transactions whose sender cannot be recovered are skipped and reported in the
// returned error; the creations that could be derived are still returned.
func ContractCreations(block *types.Block, signer types.Signer) ([]ContractCreation, error) {
	var creations []ContractCreation
	var errs []error
	for _, tx := range block.Transactions() {
		if !IsContractCreation(tx) {
			continue
		}
		sender, err := types.Sender(signer, tx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to recover sender of tx %s: %w", tx.Hash().Hex(), err))
			continue
		}
		creations = append(creations, ContractCreation{
			TxHash:      tx.Hash(),
			Sender:      sender,
			Nonce:       tx.Nonce(),
			Address:     crypto.CreateAddress(sender, tx.Nonce()),
			BlockNumber: block.NumberU64(),
		})
	}
	return creations, errors.Join(errs...)
}
