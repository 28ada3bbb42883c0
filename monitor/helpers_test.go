package monitor

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/affiliatedkat/sourcify/testutil"
)

const (
	testChainID  = 1337
	eventualWait = 5 * time.Second
	eventualTick = 10 * time.Millisecond
)

var errGatewayDown = errors.New("gateway down")

// fakeContent serves fixed content per key and can fail a number of attempts first.
type fakeContent struct {
	mu       sync.Mutex
	content  map[string][]byte
	failures map[string]int
	calls    map[string]int
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		content:  make(map[string][]byte),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeContent) set(addr protocol.SourceAddress, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[addr.Key()] = content
}

func (f *fakeContent) failFirst(addr protocol.SourceAddress, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[addr.Key()] = n
}

func (f *fakeContent) callCount(addr protocol.SourceAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[addr.Key()]
}

func (f *fakeContent) Fetch(_ context.Context, addr protocol.SourceAddress) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := addr.Key()
	f.calls[key]++
	if f.failures[key] > 0 {
		f.failures[key]--
		return nil, errGatewayDown
	}
	content, ok := f.content[key]
	if !ok {
		return nil, errGatewayDown
	}
	return content, nil
}

// manualSubscriber records subscriptions and lets the test deliver content by hand.
type manualSubscriber struct {
	mu   sync.Mutex
	subs map[string][]SubscriberFunc
	keys []string
	err  error
}

func newManualSubscriber() *manualSubscriber {
	return &manualSubscriber{subs: make(map[string][]SubscriberFunc)}
}

func (s *manualSubscriber) Subscribe(addr protocol.SourceAddress, fn SubscriberFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.subs[addr.Key()] = append(s.subs[addr.Key()], fn)
	s.keys = append(s.keys, addr.Key())
	return nil
}

func (s *manualSubscriber) subscribedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *manualSubscriber) deliver(t *testing.T, addr protocol.SourceAddress, content []byte) {
	t.Helper()
	s.mu.Lock()
	fns := s.subs[addr.Key()]
	delete(s.subs, addr.Key())
	s.mu.Unlock()
	require.NotEmpty(t, fns, "no subscribers for %s", addr.Key())
	for _, fn := range fns {
		fn(content)
	}
}

type fakeValidator struct {
	mu     sync.Mutex
	units  []protocol.ContractUnit
	err    error
	inputs []map[string]string
}

func (v *fakeValidator) CheckFiles(_ context.Context, files map[string]string) ([]protocol.ContractUnit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inputs = append(v.inputs, files)
	if v.err != nil {
		return nil, v.err
	}
	return v.units, nil
}

func (v *fakeValidator) calls() []map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]map[string]string(nil), v.inputs...)
}

type fakeInjector struct {
	mu        sync.Mutex
	err       error
	nilResult bool
	requests  []protocol.InjectRequest
}

func (i *fakeInjector) Inject(_ context.Context, req protocol.InjectRequest) (*protocol.MatchResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requests = append(i.requests, req)
	if i.err != nil || i.nilResult {
		return nil, i.err
	}
	return &protocol.MatchResult{Address: req.Addresses[0], Status: protocol.MatchStatusPerfect}, nil
}

func (i *fakeInjector) injected() []protocol.InjectRequest {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]protocol.InjectRequest(nil), i.requests...)
}

// fakeChain is an in-memory ChainReader whose blocks are appended by the test.
type fakeChain struct {
	mu        sync.Mutex
	chainID   uint64
	key       *ecdsa.PrivateKey
	signer    types.Signer
	nonce     uint64
	blocks    map[uint64]*types.Block
	code      map[common.Address][]byte
	head      uint64
	failBlock map[uint64]int
	failCode  map[common.Address]int
	blockReqs map[uint64]int
}

func newFakeChain(t *testing.T) *fakeChain {
	return newFakeChainWithID(t, testChainID)
}

func newFakeChainWithID(t *testing.T, chainID uint64) *fakeChain {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeChain{
		chainID:   chainID,
		key:       key,
		signer:    types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
		blocks:    make(map[uint64]*types.Block),
		code:      make(map[common.Address][]byte),
		failBlock: make(map[uint64]int),
		failCode:  make(map[common.Address]int),
		blockReqs: make(map[uint64]int),
	}
}

// nextAddress returns the address the next deployment will create.
func (c *fakeChain) nextAddress(offset uint64) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return crypto.CreateAddress(crypto.PubkeyToAddress(c.key.PublicKey), c.nonce+offset)
}

// mine appends a block deploying each runtime and returns the created addresses.
func (c *fakeChain) mine(t *testing.T, runtimes ...[]byte) []common.Address {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	sender := crypto.PubkeyToAddress(c.key.PublicKey)
	var txs []*types.Transaction
	var addrs []common.Address
	for _, runtime := range runtimes {
		tx := types.MustSignNewTx(c.key, c.signer, &types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(c.chainID),
			Nonce:     c.nonce,
			Gas:       1_000_000,
			GasFeeCap: big.NewInt(1),
			GasTipCap: big.NewInt(1),
			Data:      append([]byte{0x60, 0x00}, runtime...),
		})
		addr := crypto.CreateAddress(sender, c.nonce)
		c.code[addr] = runtime
		c.nonce++
		txs = append(txs, tx)
		addrs = append(addrs, addr)
	}

	c.head++
	c.blocks[c.head] = types.NewBlockWithHeader(&types.Header{Number: new(big.Int).SetUint64(c.head)}).
		WithBody(types.Body{Transactions: txs})
	return addrs
}

func (c *fakeChain) failBlockFetches(number uint64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failBlock[number] = n
}

func (c *fakeChain) failCodeFetches(addr common.Address, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCode[addr] = n
}

func (c *fakeChain) blockRequests(number uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockReqs[number]
}

func (c *fakeChain) ChainID(context.Context) (uint64, error) {
	return c.chainID, nil
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockByNumber(_ context.Context, number uint64) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockReqs[number]++
	if c.failBlock[number] > 0 {
		c.failBlock[number]--
		return nil, errors.New("rpc unavailable")
	}
	block, ok := c.blocks[number]
	if !ok {
		return nil, errors.New("block not found")
	}
	return block, nil
}

func (c *fakeChain) CodeAt(_ context.Context, addr common.Address, _ uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCode[addr] > 0 {
		c.failCode[addr]--
		return nil, errors.New("rpc unavailable")
	}
	return c.code[addr], nil
}

// metadataJSON builds a metadata document whose sources are served from IPFS
// addresses derived from their content.
func metadataJSON(t *testing.T, sources map[string]string) ([]byte, map[string]protocol.SourceAddress) {
	t.Helper()
	addrs := make(map[string]protocol.SourceAddress, len(sources))
	doc := map[string]any{"language": "Solidity"}
	srcs := make(map[string]any, len(sources))
	for name, content := range sources {
		_, b58 := testutil.IPFSHash(t, []byte(content))
		addrs[name] = protocol.NewSourceAddress(protocol.OriginIPFS, b58)
		srcs[name] = map[string]any{
			"keccak256": crypto.Keccak256Hash([]byte(content)).Hex(),
			"urls":      []string{"dweb:/ipfs/" + b58},
		}
	}
	doc["sources"] = srcs
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw, addrs
}

// publish serves metadata and its sources from content and returns runtime
// bytecode pointing at the metadata.
func publish(t *testing.T, content *fakeContent, sources map[string]string) []byte {
	t.Helper()
	metadata, addrs := metadataJSON(t, sources)
	runtime, b58 := testutil.IPFSRuntime(t, metadata)
	content.set(protocol.NewSourceAddress(protocol.OriginIPFS, b58), metadata)
	for name, addr := range addrs {
		content.set(addr, []byte(sources[name]))
	}
	return runtime
}
