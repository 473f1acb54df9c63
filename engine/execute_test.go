// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package engine_test

import (
	"context"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/stateprovider"
	"github.com/offchainlabs/blockproofs/util/chaintest"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func hashes(chain *chaintest.Chain) engine.HashFunc {
	return func(number uint64) (common.Hash, error) {
		return chain.Block(number).Hash(), nil
	}
}

// replayHead executes the head block of chain against header on a provider
// that reads the parent state from chain.
func replayHead(t *testing.T, chain *chaintest.Chain, header *types.Header) (*engine.Result, stateprovider.StateProvider, error) {
	t.Helper()
	head := chain.Head()
	config := stateprovider.TestRecordingConfig
	p := stateprovider.NewRecordingProvider(context.Background(), &config, chain, stateprovider.BlockRef{
		Number:    head.NumberU64(),
		PriorRoot: chain.Block(head.NumberU64() - 1).Root(),
		PostRoot:  head.Root(),
	}, stateprovider.NewAccumulator())
	env := engine.NewBlockEnv(chain.Config(), header, hashes(chain))
	res, err := engine.ExecuteBlock(transfer.New(), env, head.Transactions(), head.Withdrawals(), p)
	return res, p, err
}

func mineTransfers(t *testing.T) *chaintest.Chain {
	t.Helper()
	aliceKey, alice := chaintest.Key(t, 1)
	bobKey, bob := chaintest.Key(t, 2)
	carol := common.HexToAddress("0xca201")
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{
		alice: chaintest.Funded(10),
		bob:   chaintest.Funded(10),
	})
	chain.Mine(t, types.Transactions{
		chain.Transfer(t, aliceKey, 0, bob, big.NewInt(params.Ether)),
		chain.Transfer(t, bobKey, 0, carol, big.NewInt(params.GWei)),
		chain.Transfer(t, aliceKey, 1, carol, big.NewInt(params.GWei)),
	}, types.Withdrawals{{Index: 0, Validator: 1, Address: carol, Amount: 3}})
	return chain
}

func TestExecuteBlockReproducesChain(t *testing.T) {
	chain := mineTransfers(t)
	head := chain.Head()

	res, state, err := replayHead(t, chain, head.Header())
	Require(t, err)
	require.Len(t, res.Receipts, 3)
	require.Equal(t, head.GasUsed(), res.GasUsed)
	require.Equal(t, uint64(3*params.TxGas), res.GasUsed)
	for i, receipt := range res.Receipts {
		require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
		require.Equal(t, uint64(i+1)*params.TxGas, receipt.CumulativeGasUsed)
		require.Equal(t, head.Transactions()[i].Hash(), receipt.TxHash)
	}
	require.Nil(t, res.Requests)

	root, err := state.Commit()
	Require(t, err)
	require.Equal(t, head.Root(), root)
}

func TestExecuteBlockDetectsMismatch(t *testing.T) {
	chain := mineTransfers(t)
	for name, tamper := range map[string]func(*types.Header){
		"gas used": func(h *types.Header) { h.GasUsed++ },
		"receipts": func(h *types.Header) { h.ReceiptHash = common.HexToHash("0x01") },
		"bloom":    func(h *types.Header) { h.Bloom[0] = 1 },
		"blob gas": func(h *types.Header) {
			blobGas := uint64(params.BlobTxBlobGasPerBlob)
			h.BlobGasUsed = &blobGas
		},
		"requests": func(h *types.Header) {
			requestsHash := types.EmptyRequestsHash
			h.RequestsHash = &requestsHash
			h.RequestsHash[0]++
		},
	} {
		t.Run(name, func(t *testing.T) {
			header := types.CopyHeader(chain.Head().Header())
			tamper(header)
			_, _, err := replayHead(t, chain, header)
			require.ErrorIs(t, err, engine.ErrBlockMismatch)
		})
	}
}

func TestExecuteBlockStopsAtInvalidTransaction(t *testing.T) {
	aliceKey, alice := chaintest.Key(t, 1)
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{alice: chaintest.Funded(1)})
	chain.Mine(t, nil, nil)
	head := chain.Head()

	// a block claiming a transaction the sender cannot afford
	tx := chain.Transfer(t, aliceKey, 0, common.HexToAddress("0xb0b"), big.NewInt(2*params.Ether))
	config := stateprovider.TestRecordingConfig
	p := stateprovider.NewRecordingProvider(context.Background(), &config, chain, stateprovider.BlockRef{
		Number:    head.NumberU64(),
		PriorRoot: chain.Block(0).Root(),
		PostRoot:  head.Root(),
	}, stateprovider.NewAccumulator())
	env := engine.NewBlockEnv(chain.Config(), head.Header(), hashes(chain))
	_, err := engine.ExecuteBlock(transfer.New(), env, types.Transactions{tx}, nil, p)
	require.ErrorIs(t, err, engine.ErrInvalidTransaction)
}

func TestRequestsHash(t *testing.T) {
	require.Equal(t, types.EmptyRequestsHash, engine.RequestsHash(nil))
	require.Equal(t, types.EmptyRequestsHash, engine.RequestsHash([][]byte{{0x00}, {0x01}, {0x02}}))

	withdrawal := append([]byte{0x01}, make([]byte, 76)...)
	inner := sha256.Sum256(withdrawal)
	expected := sha256.Sum256(inner[:])
	require.Equal(t, common.Hash(expected), engine.RequestsHash([][]byte{{0x00}, withdrawal, {0x02}}))
}

func TestBlockBloom(t *testing.T) {
	logs := []*types.Log{{Address: common.HexToAddress("0x1"), Topics: []common.Hash{common.HexToHash("0x2")}}}
	receipts := types.Receipts{
		{Bloom: engine.LogsBloom(logs)},
		{Bloom: engine.LogsBloom(nil)},
	}
	bloom := engine.BlockBloom(receipts)
	require.True(t, bloom.Test(common.HexToAddress("0x1").Bytes()))
	require.True(t, bloom.Test(common.HexToHash("0x2").Bytes()))
	require.False(t, bloom.Test(common.HexToHash("0x3").Bytes()))
	require.Equal(t, types.Bloom{}, engine.BlockBloom(nil))
}
