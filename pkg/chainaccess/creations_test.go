package chainaccess

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractCreations(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	signer := types.LatestSignerForChainID(big.NewInt(1337))
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	create := types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 7, Gas: 100000, GasPrice: big.NewInt(1), Data: []byte{0x60, 0x00}})
	transfer := types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 8, To: &recipient, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(1)})
	emptyCreate := types.MustSignNewTx(key, signer, &types.LegacyTx{Nonce: 9, Gas: 100000, GasPrice: big.NewInt(1)})
	create2 := types.MustSignNewTx(key, signer, &types.DynamicFeeTx{ChainID: big.NewInt(1337), Nonce: 10, Gas: 100000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Data: []byte{0x60, 0x01}})

	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(42)}).
		WithBody(types.Body{Transactions: []*types.Transaction{create, transfer, emptyCreate, create2}})

	creations, err := ContractCreations(block, signer)
	require.NoError(t, err)
	require.Len(t, creations, 2)

	assert.Equal(t, sender, creations[0].Sender)
	assert.Equal(t, uint64(7), creations[0].Nonce)
	assert.Equal(t, crypto.CreateAddress(sender, 7), creations[0].Address)
	assert.Equal(t, create.Hash(), creations[0].TxHash)
	assert.Equal(t, uint64(42), creations[0].BlockNumber)

	assert.Equal(t, crypto.CreateAddress(sender, 10), creations[1].Address)
}

func TestIsContractCreation(t *testing.T) {
	to := common.HexToAddress("0x01")
	assert.True(t, IsContractCreation(types.NewTx(&types.LegacyTx{Data: []byte{0x01}})))
	assert.False(t, IsContractCreation(types.NewTx(&types.LegacyTx{})))
	assert.False(t, IsContractCreation(types.NewTx(&types.LegacyTx{To: &to, Data: []byte{0x01}})))
}

func TestContractCreations_SkipsUnrecoverableSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1337))
	otherChain := types.LatestSignerForChainID(big.NewInt(5))

	good := types.MustSignNewTx(key, signer, &types.DynamicFeeTx{ChainID: big.NewInt(1337), Nonce: 0, Gas: 100000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Data: []byte{0x60, 0x00}})
	foreign := types.MustSignNewTx(key, otherChain, &types.DynamicFeeTx{ChainID: big.NewInt(5), Nonce: 1, Gas: 100000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Data: []byte{0x60, 0x00}})

	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(1)}).
		WithBody(types.Body{Transactions: []*types.Transaction{foreign, good}})

	creations, err := ContractCreations(block, signer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), foreign.Hash().Hex())
	require.Len(t, creations, 1)
	assert.Equal(t, good.Hash(), creations[0].TxHash)
}
