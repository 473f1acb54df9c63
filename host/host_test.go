// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/client"
	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/stateprovider"
	"github.com/offchainlabs/blockproofs/util/chaintest"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}

func newHost(t *testing.T, r remote.Remote, config Config) *Host {
	t.Helper()
	h, err := New(context.Background(), func() *Config { return &config }, r, transfer.New())
	Require(t, err)
	return h
}

type twoAccounts struct {
	chain *chaintest.Chain
	alice common.Address
	bob   common.Address
}

// transferChain mines one block in which alice, holding 10 ether, sends one
// ether to bob, who does not exist yet.
func transferChain(t *testing.T) *twoAccounts {
	t.Helper()
	aliceKey, alice := chaintest.Key(t, 1)
	bob := common.HexToAddress("0xb0b")
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{alice: chaintest.Funded(10)})
	chain.Mine(t, types.Transactions{chain.Transfer(t, aliceKey, 0, bob, big.NewInt(params.Ether))}, nil)
	return &twoAccounts{chain: chain, alice: alice, bob: bob}
}

func TestPrepareTwoAccountTransfer(t *testing.T) {
	s := transferChain(t)
	head := s.chain.Head()
	h := newHost(t, s.chain, TestConfig)

	witness, program, err := h.Prepare(context.Background(), 1)
	Require(t, err)
	require.Equal(t, s.chain.Block(0).Root(), witness.PriorRoot)
	require.Equal(t, head.Root(), witness.PostRoot)
	require.Equal(t, head.Hash(), program.Block.Hash())
	require.Len(t, program.Block.Ancestors, 1)
	require.Empty(t, witness.Codes)

	// the prior state as the witness sees it
	provider, err := stateprovider.NewWitnessProvider(witness.Copy())
	Require(t, err)
	account, err := provider.Account(s.alice)
	Require(t, err)
	require.Equal(t, chaintest.Funded(10).Balance, account.Balance)
	account, err = provider.Account(s.bob)
	Require(t, err)
	require.Nil(t, account)

	commitment, err := client.Execute(program, transfer.New())
	Require(t, err)
	require.Equal(t, &primitives.Commitment{
		PriorRoot: s.chain.Block(0).Root(),
		PostRoot:  head.Root(),
		BlockHash: head.Hash(),
	}, commitment)

	post := s.chain.State(1)
	require.Equal(t, uint256.NewInt(params.Ether), post[s.bob].Balance)
}

func TestPrepareTransferBetweenExistingAccounts(t *testing.T) {
	aliceKey, alice := chaintest.Key(t, 1)
	bob := common.HexToAddress("0xb0b")
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{
		alice: chaintest.Funded(10),
		bob:   chaintest.Funded(5),
	})
	value := big.NewInt(params.Ether)
	tx := chain.Transfer(t, aliceKey, 0, bob, value)
	chain.Mine(t, types.Transactions{tx}, nil)
	head := chain.Head()
	require.Equal(t, params.TxGas, head.GasUsed())

	witness, program, err := newHost(t, chain, TestConfig).Prepare(context.Background(), 1)
	Require(t, err)

	// exactly the pre-state paths of the accounts the block reads
	touched := mpt.NodeSet{}
	for _, addr := range []common.Address{alice, bob, chain.Coinbase(), transfer.BeaconRootsAddress} {
		res, err := chain.GetProof(context.Background(), addr, nil, 0)
		Require(t, err)
		touched.AddProof(remote.Nodes(res.AccountProof))
	}
	require.Equal(t, touched, witness.Nodes)

	// post-state from the transfer's balance deltas alone
	tip, err := tx.EffectiveGasTip(head.BaseFee())
	Require(t, err)
	gas := new(big.Int).SetUint64(head.GasUsed())
	price := new(big.Int).Add(tip, head.BaseFee())
	spent := new(big.Int).Add(value, new(big.Int).Mul(gas, price))
	post := chain.State(0)
	post[alice].Nonce++
	post[alice].Balance.Sub(post[alice].Balance, uint256.MustFromBig(spent))
	post[bob].Balance.Add(post[bob].Balance, uint256.MustFromBig(value))
	_, exists := post[chain.Coinbase()]
	require.False(t, exists)
	post[chain.Coinbase()] = &chaintest.Account{
		Balance: uint256.MustFromBig(new(big.Int).Mul(gas, tip)),
		Storage: make(map[common.Hash]common.Hash),
	}
	expected, err := post.Root()
	Require(t, err)
	require.Equal(t, expected, witness.PostRoot)
	require.Equal(t, expected, head.Root())

	commitment, err := client.Execute(program, transfer.New())
	Require(t, err)
	require.Equal(t, expected, commitment.PostRoot)
}

func TestPreparedInputSurvivesEncoding(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)
	_, program, err := h.Prepare(context.Background(), 1)
	Require(t, err)

	enc, err := program.Encode()
	Require(t, err)
	decoded, err := primitives.DecodeProgramInput(enc)
	Require(t, err)
	require.Equal(t, program.SelfHash(), decoded.SelfHash())
	commitment, err := client.Execute(decoded, transfer.New())
	Require(t, err)
	require.Equal(t, s.chain.Head().Root(), commitment.PostRoot)
}

func TestPrepareWitnessOnlyHoldsTouchedPaths(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)
	witness, _, err := h.Prepare(context.Background(), 1)
	Require(t, err)

	touched := mpt.NodeSet{}
	for _, addr := range []common.Address{s.alice, s.bob, s.chain.Coinbase(), transfer.BeaconRootsAddress} {
		res, err := s.chain.GetProof(context.Background(), addr, nil, 0)
		Require(t, err)
		touched.AddProof(remote.Nodes(res.AccountProof))
	}
	require.NotEmpty(t, witness.Nodes)
	for hash := range witness.Nodes {
		if _, ok := touched[hash]; !ok {
			Fail(t, "witness holds node", hash, "outside the touched proof paths")
		}
	}
}

func TestPrefetchDoesNotChangeWitness(t *testing.T) {
	s := transferChain(t)
	config := TestConfig
	config.Prefetch = false
	config.SelfValidate = false
	plain, _, err := newHost(t, s.chain, config).Prepare(context.Background(), 1)
	Require(t, err)
	prefetched, _, err := newHost(t, s.chain, TestConfig).Prepare(context.Background(), 1)
	Require(t, err)
	require.Equal(t, plain.Nodes, prefetched.Nodes)
}

func TestTamperedWitnessIsRejected(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)
	_, program, err := h.Prepare(context.Background(), 1)
	Require(t, err)

	for hash := range program.Witness.Nodes {
		for _, pos := range []int{0, len(program.Witness.Nodes[hash]) / 2, len(program.Witness.Nodes[hash]) - 1} {
			witness := program.Witness.Copy()
			witness.Nodes[hash][pos] ^= 0x01
			tampered := &primitives.ProgramInput{Block: program.Block, Witness: *witness}
			if _, err := client.Execute(tampered, transfer.New()); err == nil {
				Fail(t, "client accepted node", hash, "with byte", pos, "flipped")
			}
		}
	}
}

func TestPrepareRejectsGenesis(t *testing.T) {
	s := transferChain(t)
	_, _, err := newHost(t, s.chain, TestConfig).Prepare(context.Background(), 0)
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestPrepareDetectsRootDivergence(t *testing.T) {
	s := transferChain(t)
	s.chain.MineState(t, func(alloc chaintest.Alloc) {
		alloc[s.alice].Balance.AddUint64(alloc[s.alice].Balance, 1)
	})
	h := newHost(t, s.chain, TestConfig)

	_, _, err := h.Prepare(context.Background(), 2)
	require.ErrorIs(t, err, primitives.ErrHostExecutionDivergence)
	var divergence *DivergenceError
	require.True(t, errors.As(err, &divergence))
	require.Equal(t, uint64(2), divergence.Number)
	require.Equal(t, s.chain.Block(2).Root(), divergence.Expected)
	require.Equal(t, s.chain.Block(1).Root(), divergence.Got)
}

// rootReportingRemote answers StateRoot with a fixed root.
type rootReportingRemote struct {
	remote.Remote
	root  common.Hash
	calls *int
}

func (r rootReportingRemote) StateRoot(ctx context.Context, number uint64) (common.Hash, error) {
	*r.calls++
	return r.root, nil
}

func TestPrepareChecksReportedStateRoot(t *testing.T) {
	s := transferChain(t)
	calls := 0
	reported := common.HexToHash("0xdead")
	h := newHost(t, rootReportingRemote{s.chain, reported, &calls}, TestConfig)

	_, _, err := h.Prepare(context.Background(), 1)
	require.ErrorIs(t, err, primitives.ErrHostExecutionDivergence)
	var divergence *DivergenceError
	require.True(t, errors.As(err, &divergence))
	require.Equal(t, reported, divergence.Expected)
	require.Equal(t, s.chain.Head().Root(), divergence.Got)
	require.Equal(t, 1, calls)

	calls = 0
	h = newHost(t, rootReportingRemote{s.chain, s.chain.Head().Root(), &calls}, TestConfig)
	_, _, err = h.Prepare(context.Background(), 1)
	Require(t, err)
	require.Equal(t, 1, calls)
}

func TestPrepareEmptyBlockWithoutPrefetch(t *testing.T) {
	_, alice := chaintest.Key(t, 1)
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{alice: chaintest.Funded(1)})
	chain.Mine(t, nil, nil)
	config := TestConfig
	config.Prefetch = false

	witness, program, err := newHost(t, chain, config).Prepare(context.Background(), 1)
	Require(t, err)
	require.Equal(t, chain.Block(0).Root(), chain.Head().Root())
	require.Contains(t, witness.Nodes, witness.PriorRoot)
	commitment, err := client.Execute(program, transfer.New())
	Require(t, err)
	require.Equal(t, chain.Head().Root(), commitment.PostRoot)
}

func TestPrepareDetectsHeaderDivergence(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)

	input := s.chain.Input(1, 1)
	header := types.CopyHeader(input.Header)
	header.GasUsed++
	input.Header = header
	_, _, err := h.PrepareInput(context.Background(), input)
	require.ErrorIs(t, err, primitives.ErrHostExecutionDivergence)
}

func TestPrepareInputChecksInput(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)

	input := s.chain.Input(1, 1)
	input.ChainID = primitives.MainnetChainID
	_, _, err := h.PrepareInput(context.Background(), input)
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)

	input = s.chain.Input(1, 1)
	input.PriorRoot = crypto.Keccak256Hash([]byte("elsewhere"))
	_, _, err = h.PrepareInput(context.Background(), input)
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)

	input = s.chain.Input(1, 0)
	_, _, err = h.PrepareInput(context.Background(), input)
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestPrepareReportsRemoteFailure(t *testing.T) {
	s := transferChain(t)
	h := newHost(t, s.chain, TestConfig)
	s.chain.FailNextProofs(1000)
	_, _, err := h.Prepare(context.Background(), 1)
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
}

type otherChainRemote struct {
	remote.Remote
}

func (otherChainRemote) ChainID(ctx context.Context) (uint64, error) {
	return 424242, nil
}

func TestNewChecksChainAndConfig(t *testing.T) {
	s := transferChain(t)
	config := TestConfig
	_, err := New(context.Background(), func() *Config { return &config }, otherChainRemote{s.chain}, transfer.New())
	require.Error(t, err)

	config.MaxLookback = 0
	_, err = New(context.Background(), func() *Config { return &config }, s.chain, transfer.New())
	require.Error(t, err)
	config.MaxLookback = primitives.MaxBlockHashLookback + 1
	require.Error(t, config.Validate())
	config = DefaultConfig
	Require(t, config.Validate())

	h := newHost(t, s.chain, TestConfig)
	require.Equal(t, primitives.DevChainID, h.ChainID())
}

func TestPreparePragueBlock(t *testing.T) {
	aliceKey, alice := chaintest.Key(t, 1)
	genesis := chaintest.Alloc{alice: chaintest.Funded(10)}
	for _, addr := range []common.Address{
		transfer.BeaconRootsAddress,
		transfer.HistoryStorageAddress,
		transfer.WithdrawalQueueAddress,
		transfer.ConsolidationQueueAddress,
	} {
		genesis.Deploy(addr, []byte{0x00})
	}
	chain := chaintest.NewWithChainID(t, primitives.DevPragueChainID, transfer.New(), genesis)
	for nonce := uint64(0); nonce < 3; nonce++ {
		chain.Mine(t, types.Transactions{chain.Transfer(t, aliceKey, nonce, common.HexToAddress("0xca201"), big.NewInt(params.GWei))}, nil)
	}
	h := newHost(t, chain, TestConfig)
	witness, program, err := h.Prepare(context.Background(), 3)
	Require(t, err)
	require.Equal(t, chain.Head().Root(), witness.PostRoot)
	require.NotNil(t, program.Block.Header.RequestsHash)
	// system contract storage is part of the witness
	require.Greater(t, len(witness.Nodes), 2)
	commitment, err := client.Execute(program, transfer.New())
	Require(t, err)
	require.Equal(t, chain.Head().Hash(), commitment.BlockHash)
}
