// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

func proofList(set NodeSet) [][]byte {
	proof := make([][]byte, 0, len(set))
	for _, enc := range set {
		proof = append(proof, enc)
	}
	return proof
}

func TestVerifyProof(t *testing.T) {
	entries := randomEntries(t, 7, 200)
	oracle := oracleTrie(t, entries)
	root := oracle.Hash()

	for _, e := range entries[:20] {
		val, used, err := VerifyProofPath(root, e.key, proofList(proveAll(t, oracle, e.key)))
		Require(t, err)
		require.Equal(t, e.val, val)
		require.NotEmpty(t, used)
	}

	absent := common.HexToHash("0xabcdef").Bytes()
	val, err := VerifyProof(root, absent, proofList(proveAll(t, oracle, absent)))
	Require(t, err)
	require.Nil(t, val)
}

func TestVerifyProofIgnoresUnusedNodes(t *testing.T) {
	entries := randomEntries(t, 8, 200)
	oracle := oracleTrie(t, entries)
	root := oracle.Hash()

	exact := proveAll(t, oracle, entries[0].key)
	padded := proveAll(t, oracle, entries[0].key, entries[1].key, entries[2].key)
	_, used, err := VerifyProofPath(root, entries[0].key, proofList(padded))
	Require(t, err)
	require.Equal(t, exact, used)
}

func TestVerifyProofRejectsIncompleteProof(t *testing.T) {
	entries := randomEntries(t, 9, 200)
	oracle := oracleTrie(t, entries)
	root := oracle.Hash()

	set := proveAll(t, oracle, entries[0].key)
	delete(set, root)
	_, err := VerifyProof(root, entries[0].key, proofList(set))
	require.ErrorIs(t, err, ErrBadProof)
}

func TestVerifyProofEmptyRoot(t *testing.T) {
	val, err := VerifyProof(types.EmptyRootHash, []byte{1}, nil)
	Require(t, err)
	require.Nil(t, val)
}

func TestListHasherMatchesStackTrie(t *testing.T) {
	require.Equal(t, types.EmptyRootHash, DeriveRoot(types.Transactions{}))

	var txs types.Transactions
	for i := 0; i < 300; i++ {
		to := common.BigToAddress(big.NewInt(int64(i)))
		txs = append(txs, types.NewTx(&types.LegacyTx{
			Nonce:    uint64(i),
			GasPrice: big.NewInt(1),
			Gas:      21000,
			To:       &to,
			Value:    big.NewInt(int64(i) * 1000),
		}))
		require.Equal(t, types.DeriveSha(txs, trie.NewStackTrie(nil)), DeriveRoot(txs), "list of %d", len(txs))
	}

	withdrawals := types.Withdrawals{
		{Index: 0, Validator: 1, Address: common.HexToAddress("0x01"), Amount: 100},
		{Index: 1, Validator: 2, Address: common.HexToAddress("0x02"), Amount: 200},
	}
	require.Equal(t, types.DeriveSha(withdrawals, trie.NewStackTrie(nil)), DeriveRoot(withdrawals))
}
