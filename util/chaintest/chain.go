// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package chaintest is an in-memory chain for tests. It mines blocks with an
// engine.Engine, keeps every historical state as go-ethereum tries and
// answers remote.Remote queries from them, directly or over JSON-RPC.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

var ErrUnknownBlock = errors.New("unknown block")

const (
	GasLimit  = 30_000_000
	BlockTime = 12
)

type Chain struct {
	chainID  primitives.ChainID
	config   *params.ChainConfig
	engine   engine.Engine
	coinbase common.Address

	mutex  sync.Mutex
	blocks []*types.Block
	states []*stateTries

	headFeed event.Feed

	// Calls counts remote queries, by method.
	Calls sync.Map
	// failProofs makes the next n GetProof calls fail.
	failProofs atomic.Int32
}

var _ remote.Remote = (*Chain)(nil)
var _ remote.NodeResolver = (*Chain)(nil)

// New starts a chain on the dev chain configuration with genesis as its
// first state.
func New(t *testing.T, eng engine.Engine, genesis Alloc) *Chain {
	t.Helper()
	return NewWithChainID(t, primitives.DevChainID, eng, genesis)
}

func NewWithChainID(t *testing.T, chainID primitives.ChainID, eng engine.Engine, genesis Alloc) *Chain {
	t.Helper()
	config, err := chainID.ChainConfig()
	testhelpers.RequireImpl(t, err)
	tries, err := buildTries(genesis.Copy())
	testhelpers.RequireImpl(t, err)
	zero := uint64(0)
	header := &types.Header{
		ParentHash:       common.Hash{},
		UncleHash:        types.EmptyUncleHash,
		Root:             tries.root,
		Difficulty:       common.Big0,
		Number:           common.Big0,
		GasLimit:         GasLimit,
		Time:             0,
		BaseFee:          big.NewInt(params.InitialBaseFee),
		BlobGasUsed:      &zero,
		ExcessBlobGas:    &zero,
		ParentBeaconRoot: &common.Hash{},
	}
	if config.IsPrague(header.Number, header.Time) {
		requestsHash := engine.RequestsHash(nil)
		header.RequestsHash = &requestsHash
	}
	genesisBlock := types.NewBlock(header, &types.Body{Withdrawals: types.Withdrawals{}}, nil, trie.NewStackTrie(nil))
	return &Chain{
		chainID:  chainID,
		config:   config,
		engine:   eng,
		coinbase: common.HexToAddress("0xc014ba5e"),
		blocks:   []*types.Block{genesisBlock},
		states:   []*stateTries{tries},
	}
}

func (c *Chain) Config() *params.ChainConfig { return c.config }

func (c *Chain) ID() primitives.ChainID { return c.chainID }

func (c *Chain) Coinbase() common.Address { return c.coinbase }

func (c *Chain) SetCoinbase(addr common.Address) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.coinbase = addr
}

func (c *Chain) Head() *types.Block {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.blocks[len(c.blocks)-1]
}

func (c *Chain) Block(number uint64) *types.Block {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if number >= uint64(len(c.blocks)) {
		return nil
	}
	return c.blocks[number]
}

// State returns a copy of the world state after block number.
func (c *Chain) State(number uint64) Alloc {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.states[number].alloc.Copy()
}

// Ancestors returns up to count headers preceding block number, parent first.
func (c *Chain) Ancestors(number uint64, count int) []*types.Header {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var headers []*types.Header
	for n := int64(number) - 1; n >= 0 && len(headers) < count; n-- {
		headers = append(headers, c.blocks[n].Header())
	}
	return headers
}

// Input packages block number the way a host would before recording.
func (c *Chain) Input(number uint64, ancestors int) *primitives.BlockInput {
	return primitives.NewBlockInput(c.chainID, c.Block(number), c.Ancestors(number, ancestors))
}

// FailNextProofs makes the next n GetProof calls return an error.
func (c *Chain) FailNextProofs(n int) {
	c.failProofs.Store(int32(n))
}

// CallCount returns how often method was called.
func (c *Chain) CallCount(method string) int {
	v, ok := c.Calls.Load(method)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}

func (c *Chain) count(method string) {
	v, _ := c.Calls.LoadOrStore(method, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (c *Chain) SubscribeNewHead(ch chan<- *types.Header) event.Subscription {
	return c.headFeed.Subscribe(ch)
}

func (c *Chain) nextHeader(parent *types.Header) *types.Header {
	header := &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   c.coinbase,
		Difficulty: common.Big0,
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   parent.GasLimit,
		Time:       parent.Time + BlockTime,
	}
	if c.config.IsLondon(header.Number) {
		header.BaseFee = eip1559.CalcBaseFee(c.config, parent)
	}
	if c.config.IsCancun(header.Number, header.Time) {
		zero := uint64(0)
		header.BlobGasUsed = &zero
		header.ExcessBlobGas = &zero
		beaconRoot := crypto.Keccak256Hash(header.Number.Bytes())
		header.ParentBeaconRoot = &beaconRoot
	}
	return header
}

func (c *Chain) getHash(number uint64) (common.Hash, error) {
	if number >= uint64(len(c.blocks)) {
		return common.Hash{}, fmt.Errorf("%w: %d", ErrUnknownBlock, number)
	}
	return c.blocks[number].Hash(), nil
}

// NextBaseFee is the base fee of the block Mine would produce next.
func (c *Chain) NextBaseFee() *big.Int {
	return c.nextHeader(c.Head().Header()).BaseFee
}

// Mine executes txs and withdrawals on top of the head and appends the block.
func (c *Chain) Mine(t *testing.T, txs types.Transactions, withdrawals types.Withdrawals) *types.Block {
	t.Helper()
	block, err := c.mine(txs, withdrawals)
	testhelpers.RequireImpl(t, err)
	return block
}

func (c *Chain) mine(txs types.Transactions, withdrawals types.Withdrawals) (*types.Block, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	parent := c.blocks[len(c.blocks)-1].Header()
	header := c.nextHeader(parent)
	state := newMemoryState(c.states[len(c.states)-1].alloc.Copy())
	env := engine.NewBlockEnv(c.config, header, c.getHash)
	if err := c.engine.BeginBlock(env, state); err != nil {
		return nil, err
	}
	receipts := make(types.Receipts, 0, len(txs))
	for i, tx := range txs {
		receipt, err := c.engine.ApplyTransaction(env, tx, i, state)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		receipts = append(receipts, receipt)
	}
	requests, err := c.engine.Finalize(env, withdrawals, state)
	if err != nil {
		return nil, err
	}
	if c.config.IsPrague(header.Number, header.Time) {
		h := engine.RequestsHash(requests)
		header.RequestsHash = &h
	}
	header.GasUsed = env.GasUsed
	return c.appendBlock(header, txs, withdrawals, receipts, state.alloc)
}

// MineState appends an empty block whose post state is produced by mutate
// instead of by the engine. Replaying such a block diverges, but its states
// serve proofs like any other.
func (c *Chain) MineState(t *testing.T, mutate func(Alloc)) *types.Block {
	t.Helper()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	parent := c.blocks[len(c.blocks)-1].Header()
	header := c.nextHeader(parent)
	alloc := c.states[len(c.states)-1].alloc.Copy()
	mutate(alloc)
	if c.config.IsPrague(header.Number, header.Time) {
		h := engine.RequestsHash(nil)
		header.RequestsHash = &h
	}
	block, err := c.appendBlock(header, nil, types.Withdrawals{}, nil, alloc)
	testhelpers.RequireImpl(t, err)
	return block
}

func (c *Chain) appendBlock(header *types.Header, txs types.Transactions, withdrawals types.Withdrawals, receipts types.Receipts, alloc Alloc) (*types.Block, error) {
	tries, err := buildTries(alloc)
	if err != nil {
		return nil, err
	}
	header.Root = tries.root
	if withdrawals == nil && c.config.IsShanghai(header.Number, header.Time) {
		withdrawals = types.Withdrawals{}
	}
	block := types.NewBlock(header, &types.Body{Transactions: txs, Withdrawals: withdrawals}, receipts, trie.NewStackTrie(nil))
	c.blocks = append(c.blocks, block)
	c.states = append(c.states, tries)
	c.headFeed.Send(block.Header())
	return block, nil
}

// Transfer signs a dynamic fee value transfer that pays the next base fee plus tip.
func (c *Chain) Transfer(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	tip := big.NewInt(params.GWei)
	feeCap := new(big.Int).Mul(c.NextBaseFee(), common.Big2)
	feeCap.Add(feeCap, tip)
	tx, err := types.SignNewTx(key, types.LatestSigner(c.config), &types.DynamicFeeTx{
		ChainID:   c.config.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       params.TxGas,
		To:        &to,
		Value:     value,
	})
	testhelpers.RequireImpl(t, err)
	return tx
}

// Funded returns an account holding ether.
func Funded(ether uint64) *Account {
	balance := new(uint256.Int).Mul(uint256.NewInt(ether), uint256.NewInt(params.Ether))
	return &Account{Balance: balance, Storage: make(map[common.Hash]common.Hash)}
}

// Key derives a deterministic private key from seed.
func Key(t *testing.T, seed uint64) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	source := testhelpers.NewPseudoRandomDataSource(t, seed)
	key, err := crypto.ToECDSA(source.GetHash().Bytes())
	testhelpers.RequireImpl(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func (c *Chain) state(number uint64) (*stateTries, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if number >= uint64(len(c.states)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlock, number)
	}
	return c.states[number], nil
}

func (c *Chain) ChainID(ctx context.Context) (uint64, error) {
	c.count("eth_chainId")
	return uint64(c.chainID), nil
}

func (c *Chain) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	c.count("eth_getBlockByNumber")
	if block := c.Block(number); block != nil {
		return block, nil
	}
	return nil, fmt.Errorf("%w: %w: %d", primitives.ErrRemoteQueryFailure, ErrUnknownBlock, number)
}

func (c *Chain) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	block, err := c.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return block.Header(), nil
}

func (c *Chain) HeadersByRange(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	var headers []*types.Header
	for n := from; n <= to; n++ {
		h, err := c.HeaderByNumber(ctx, n)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

func (c *Chain) GetProof(ctx context.Context, account common.Address, slots []common.Hash, number uint64) (*remote.AccountResult, error) {
	c.count("eth_getProof")
	if c.failProofs.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: injected failure", primitives.ErrRemoteQueryFailure)
	}
	state, err := c.state(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err)
	}
	return state.getProof(account, slots)
}

func toHexBytes(proof [][]byte) []hexutil.Bytes {
	res := make([]hexutil.Bytes, len(proof))
	for i, n := range proof {
		res[i] = n
	}
	return res
}

func (s *stateTries) getProof(addr common.Address, slots []common.Hash) (*remote.AccountResult, error) {
	accountProof, err := s.accountProof(addr)
	if err != nil {
		return nil, err
	}
	res := &remote.AccountResult{
		Address:      addr,
		AccountProof: toHexBytes(accountProof),
		Balance:      new(hexutil.Big),
		CodeHash:     types.EmptyCodeHash,
		StorageHash:  types.EmptyRootHash,
		StorageProof: make([]remote.StorageResult, 0, len(slots)),
	}
	account, exists := s.alloc[addr]
	if exists {
		res.Balance = (*hexutil.Big)(account.Balance.ToBig())
		res.CodeHash = account.codeHash()
		res.Nonce = hexutil.Uint64(account.Nonce)
		res.StorageHash = s.storage[addr].Hash()
	}
	for _, slot := range slots {
		proof, err := s.storageProof(addr, slot)
		if err != nil {
			return nil, err
		}
		value := new(big.Int)
		if exists {
			value.SetBytes(account.Storage[slot].Bytes())
		}
		res.StorageProof = append(res.StorageProof, remote.StorageResult{
			Key:   slot.Hex(),
			Value: (*hexutil.Big)(value),
			Proof: toHexBytes(proof),
		})
	}
	return res, nil
}

func (c *Chain) CodeAt(ctx context.Context, account common.Address, number uint64) ([]byte, error) {
	c.count("eth_getCode")
	state, err := c.state(number)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err)
	}
	if acc, ok := state.alloc[account]; ok {
		return common.CopyBytes(acc.Code), nil
	}
	return nil, nil
}

func (c *Chain) StateRoot(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return header.Root, nil
}

// NodeByHash searches every historical state for the node.
func (c *Chain) NodeByHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	c.count("debug_dbGet")
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i := len(c.states) - 1; i >= 0; i-- {
		nodes, err := c.states[i].collectNodes()
		if err != nil {
			return nil, err
		}
		if enc, ok := nodes[hash]; ok {
			return common.CopyBytes(enc), nil
		}
	}
	return nil, fmt.Errorf("%w: node %v not found", primitives.ErrRemoteQueryFailure, hash)
}

// WithoutResolver hides the NodeResolver capability of r.
func WithoutResolver(r remote.Remote) remote.Remote {
	return struct{ remote.Remote }{r}
}
