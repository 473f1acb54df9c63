// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package client_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/client"
	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/host"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/chaintest"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

type fixture struct {
	chain   *chaintest.Chain
	alice   common.Address
	program *primitives.ProgramInput
}

// prepared mines a transfer from alice among a few unrelated accounts and
// returns the program input of that block.
func prepared(t *testing.T) *fixture {
	t.Helper()
	aliceKey, alice := chaintest.Key(t, 1)
	genesis := chaintest.Alloc{alice: chaintest.Funded(10)}
	source := testhelpers.NewPseudoRandomDataSource(t, 7)
	for i := 0; i < 16; i++ {
		genesis[source.GetAddress()] = chaintest.Funded(1)
	}
	chain := chaintest.New(t, transfer.New(), genesis)
	chain.Mine(t, types.Transactions{
		chain.Transfer(t, aliceKey, 0, source.GetAddress(), big.NewInt(params.Ether)),
		chain.Transfer(t, aliceKey, 1, alice, big.NewInt(params.GWei)),
	}, nil)

	config := host.TestConfig
	h, err := host.New(context.Background(), func() *host.Config { return &config }, chain, transfer.New())
	Require(t, err)
	_, program, err := h.Prepare(context.Background(), 1)
	Require(t, err)
	return &fixture{chain: chain, alice: alice, program: program}
}

func clone(t *testing.T, program *primitives.ProgramInput) *primitives.ProgramInput {
	t.Helper()
	enc, err := program.Encode()
	Require(t, err)
	cpy, err := primitives.DecodeProgramInput(enc)
	Require(t, err)
	return cpy
}

func TestReplayStates(t *testing.T) {
	f := prepared(t)
	r := client.NewReplay(f.program, transfer.New())
	require.Equal(t, client.Unstarted, r.State())

	Require(t, r.AssembleTrie())
	require.Equal(t, client.TrieAssembled, r.State())
	require.Nil(t, r.Commitment())

	Require(t, r.Execute())
	require.Equal(t, client.Committed, r.State())
	require.NoError(t, r.Err())
	require.Len(t, r.Result().Receipts, 2)
	require.Equal(t, f.chain.Head().GasUsed(), r.Result().GasUsed)
	require.Equal(t, f.chain.Head().Root(), r.Commitment().PostRoot)
	require.Equal(t, f.chain.Head().Hash(), r.Commitment().BlockHash)

	// committed is final
	require.Error(t, r.AssembleTrie())
	require.Error(t, r.Execute())
	require.Equal(t, client.Committed, r.State())
	require.Equal(t, "committed", r.State().String())
}

func TestReplayStepsOutOfOrder(t *testing.T) {
	f := prepared(t)
	r := client.NewReplay(f.program, transfer.New())
	require.Error(t, r.Execute())
	require.Equal(t, client.Unstarted, r.State())
	_, err := r.Run()
	Require(t, err)
}

func TestReplayFailureIsSticky(t *testing.T) {
	f := prepared(t)
	program := clone(t, f.program)
	delete(program.Witness.Nodes, program.Witness.PriorRoot)

	r := client.NewReplay(program, transfer.New())
	err := r.AssembleTrie()
	require.ErrorIs(t, err, primitives.ErrIncompleteWitness)
	require.Equal(t, client.Failed, r.State())
	require.ErrorIs(t, r.Err(), primitives.ErrIncompleteWitness)

	require.ErrorIs(t, r.Execute(), primitives.ErrIncompleteWitness)
	require.ErrorIs(t, r.AssembleTrie(), primitives.ErrIncompleteWitness)
	require.Equal(t, client.Failed, r.State())
	require.Nil(t, r.Commitment())
}

func TestReplayReportsMissingLeaf(t *testing.T) {
	f := prepared(t)
	res, err := f.chain.GetProof(context.Background(), f.alice, nil, 0)
	Require(t, err)
	leaf := res.AccountProof[len(res.AccountProof)-1]

	program := clone(t, f.program)
	delete(program.Witness.Nodes, crypto.Keccak256Hash(leaf))
	r := client.NewReplay(program, transfer.New())
	Require(t, r.AssembleTrie())
	err = r.Execute()
	require.ErrorIs(t, err, primitives.ErrMissingWitnessData)
	require.Equal(t, client.Failed, r.State())
}

func TestReplayChecksRoots(t *testing.T) {
	f := prepared(t)

	program := clone(t, f.program)
	program.Witness.PostRoot = common.Hash{1}
	_, err := client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)

	program = clone(t, f.program)
	program.Witness.PriorRoot = common.Hash{1}
	_, err = client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)

	// a header claiming a different post state
	program = clone(t, f.program)
	header := types.CopyHeader(program.Block.Header)
	header.Root = common.Hash{2}
	program.Block.Header = header
	program.Witness.PostRoot = header.Root
	_, err = client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrRootMismatch)

	program = clone(t, f.program)
	program.Block.ChainID = 424242
	_, err = client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestReplayChecksWitnessAncestors(t *testing.T) {
	f := prepared(t)
	require.Len(t, f.program.Witness.Headers, len(f.program.Block.Ancestors))
	require.NotEmpty(t, f.program.Witness.Headers)

	program := clone(t, f.program)
	program.Witness.Headers = nil
	_, err := client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)

	program = clone(t, f.program)
	header := types.CopyHeader(program.Witness.Headers[0])
	header.Extra = []byte("elsewhere")
	program.Witness.Headers[0] = header
	_, err = client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestReplayRejectsSwappedTransactions(t *testing.T) {
	f := prepared(t)
	program := clone(t, f.program)
	txs := program.Block.Transactions
	program.Block.Transactions = types.Transactions{txs[1], txs[0]}
	_, err := client.Execute(program, transfer.New())
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestExecuteIsDeterministic(t *testing.T) {
	f := prepared(t)
	before := f.program.SelfHash()
	first, err := client.Execute(f.program, transfer.New())
	Require(t, err)
	second, err := client.Execute(f.program, transfer.New())
	Require(t, err)
	require.Equal(t, first, second)
	require.Equal(t, before, f.program.SelfHash())
	require.Equal(t, first.Encode(), second.Encode())
}
