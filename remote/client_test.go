// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package remote_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/util/chaintest"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

type testSetup struct {
	chain  *chaintest.Chain
	alice  common.Address
	bob    common.Address
	slot   common.Hash
	code   []byte
	client remote.Remote
}

func setup(t *testing.T, config remote.ClientConfig, withDebug bool) *testSetup {
	t.Helper()
	aliceKey, alice := chaintest.Key(t, 1)
	source := testhelpers.NewPseudoRandomDataSource(t, 2)
	bob := source.GetAddress()
	slot := source.GetHash()
	code := source.GetData(64)
	genesis := chaintest.Alloc{alice: chaintest.Funded(5)}
	genesis.Deploy(bob, code)
	genesis[bob].Storage[slot] = common.HexToHash("0x2a")
	chain := chaintest.New(t, transfer.New(), genesis)
	carol := source.GetAddress()
	for nonce := uint64(0); nonce < 10; nonce++ {
		chain.Mine(t, types.Transactions{chain.Transfer(t, aliceKey, nonce, carol, big.NewInt(params.GWei))},
			types.Withdrawals{{Index: nonce, Validator: 1, Address: carol, Amount: 1}})
	}
	client := remote.NewClientFromRPC(func() *remote.ClientConfig { return &config }, chain.Serve(t, withDebug))
	return &testSetup{chain: chain, alice: alice, bob: bob, slot: slot, code: code, client: client.Remote()}
}

func TestClientBlocksAndHeaders(t *testing.T) {
	s := setup(t, remote.TestClientConfig, true)
	ctx := context.Background()

	id, err := s.client.ChainID(ctx)
	Require(t, err)
	require.Equal(t, uint64(primitives.DevChainID), id)

	expected := s.chain.Block(3)
	block, err := s.client.BlockByNumber(ctx, 3)
	Require(t, err)
	require.Equal(t, expected.Hash(), block.Hash())
	require.Len(t, block.Transactions(), 1)
	require.Equal(t, expected.Transactions()[0].Hash(), block.Transactions()[0].Hash())
	require.Equal(t, expected.Withdrawals()[0].Index, block.Withdrawals()[0].Index)
	require.Equal(t, expected.TxHash(), types.DeriveSha(block.Transactions(), mpt.NewListHasher()))

	header, err := s.client.HeaderByNumber(ctx, 7)
	Require(t, err)
	require.Equal(t, s.chain.Block(7).Hash(), header.Hash())

	root, err := s.client.StateRoot(ctx, 5)
	Require(t, err)
	require.Equal(t, s.chain.Block(5).Root(), root)

	_, err = s.client.BlockByNumber(ctx, 100)
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
}

func TestClientSubscribeNewHead(t *testing.T) {
	s := setup(t, remote.TestClientConfig, false)
	config := remote.TestClientConfig
	client := remote.NewClientFromRPC(func() *remote.ClientConfig { return &config }, s.chain.Serve(t, false))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	heads := make(chan *types.Header, 4)
	sub, err := client.SubscribeNewHead(ctx, heads)
	Require(t, err)
	defer sub.Unsubscribe()

	block := s.chain.Mine(t, nil, nil)
	select {
	case header := <-heads:
		require.Equal(t, block.Hash(), header.Hash())
	case err := <-sub.Err():
		testhelpers.FailImpl(t, "subscription ended:", err)
	case <-ctx.Done():
		testhelpers.FailImpl(t, "no head announced")
	}
}

func TestClientHeadersByRange(t *testing.T) {
	for _, batchSize := range []int{1, 3, 64} {
		config := remote.TestClientConfig
		config.BatchSize = batchSize
		s := setup(t, config, true)
		headers, err := s.client.HeadersByRange(context.Background(), 2, 9)
		Require(t, err)
		require.Len(t, headers, 8)
		for i, header := range headers {
			require.Equal(t, s.chain.Block(uint64(i+2)).Hash(), header.Hash(), "batch size %d", batchSize)
		}
	}
}

func TestClientHeadersByRangeReusesCachedHeaders(t *testing.T) {
	s := setup(t, remote.TestClientConfig, true)
	ctx := context.Background()
	_, err := s.client.HeadersByRange(ctx, 2, 9)
	Require(t, err)
	calls := s.chain.CallCount("eth_getBlockByNumber")

	headers, err := s.client.HeadersByRange(ctx, 4, 10)
	Require(t, err)
	require.Equal(t, calls+1, s.chain.CallCount("eth_getBlockByNumber"))
	for i, header := range headers {
		require.Equal(t, s.chain.Block(uint64(i+4)).Hash(), header.Hash())
	}

	config := remote.TestClientConfig
	config.HeaderCache = 0
	uncached := setup(t, config, true)
	_, err = uncached.client.HeadersByRange(ctx, 2, 9)
	Require(t, err)
	calls = uncached.chain.CallCount("eth_getBlockByNumber")
	_, err = uncached.client.HeadersByRange(ctx, 2, 9)
	Require(t, err)
	require.Equal(t, calls+8, uncached.chain.CallCount("eth_getBlockByNumber"))
}

func TestClientHeadersByRangeFailsPastHead(t *testing.T) {
	s := setup(t, remote.TestClientConfig, true)
	_, err := s.client.HeadersByRange(context.Background(), 8, 12)
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
	_, err = s.client.HeadersByRange(context.Background(), 5, 4)
	require.Error(t, err)
}

func TestClientProofsAndCode(t *testing.T) {
	s := setup(t, remote.TestClientConfig, true)
	ctx := context.Background()

	res, err := s.client.GetProof(ctx, s.bob, []common.Hash{s.slot}, 4)
	Require(t, err)
	expected, err := s.chain.GetProof(ctx, s.bob, []common.Hash{s.slot}, 4)
	Require(t, err)
	require.Equal(t, expected.AccountProof, res.AccountProof)
	require.Equal(t, crypto.Keccak256Hash(s.code), res.CodeHash)
	require.Len(t, res.StorageProof, 1)
	require.Equal(t, int64(0x2a), res.StorageProof[0].Value.ToInt().Int64())
	require.Equal(t, expected.StorageProof[0].Proof, res.StorageProof[0].Proof)

	code, err := s.client.CodeAt(ctx, s.bob, 4)
	Require(t, err)
	require.Equal(t, s.code, code)
	code, err = s.client.CodeAt(ctx, s.alice, 4)
	Require(t, err)
	require.Empty(t, code)
}

func TestClientNodeByHash(t *testing.T) {
	s := setup(t, remote.TestClientConfig, true)
	ctx := context.Background()
	resolver, ok := s.client.(remote.NodeResolver)
	require.True(t, ok)

	res, err := s.chain.GetProof(ctx, s.alice, nil, 2)
	Require(t, err)
	node := []byte(res.AccountProof[0])
	enc, err := resolver.NodeByHash(ctx, crypto.Keccak256Hash(node))
	Require(t, err)
	require.Equal(t, node, enc)

	_, err = resolver.NodeByHash(ctx, common.HexToHash("0x1234"))
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
}

func TestClientWithoutNodeResolver(t *testing.T) {
	config := remote.TestClientConfig
	config.NodeResolver = false
	s := setup(t, config, true)
	_, ok := s.client.(remote.NodeResolver)
	require.False(t, ok)

	s = setup(t, remote.TestClientConfig, false)
	resolver := s.client.(remote.NodeResolver)
	res, err := s.chain.GetProof(context.Background(), s.alice, nil, 2)
	Require(t, err)
	_, err = resolver.NodeByHash(context.Background(), crypto.Keccak256Hash(res.AccountProof[0]))
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
}

func TestClientConfigValidate(t *testing.T) {
	config := remote.DefaultClientConfig
	Require(t, config.Validate())
	config.BatchSize = 0
	require.Error(t, config.Validate())
	config = remote.DefaultClientConfig
	config.Parallelism = 0
	require.Error(t, config.Validate())
	config = remote.DefaultClientConfig
	config.RPC.RetryErrors = "("
	require.Error(t, config.Validate())
}
