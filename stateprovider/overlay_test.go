// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func TestOverlayDecides(t *testing.T) {
	source := testhelpers.NewPseudoRandomDataSource(t, 1)
	addr, other := source.GetAddress(), source.GetAddress()
	slot := source.GetHash()
	o := NewOverlay()

	_, ok := o.Account(addr)
	require.False(t, ok)
	_, ok = o.Storage(addr, slot)
	require.False(t, ok)

	// a storage write alone leaves the account to the base state
	o.SetStorage(addr, slot, common.HexToHash("0x01"))
	_, ok = o.Account(addr)
	require.False(t, ok)
	value, ok := o.Storage(addr, slot)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0x01"), value)
	_, ok = o.Storage(addr, source.GetHash())
	require.False(t, ok)

	account := NewAccount()
	account.Balance = uint256.NewInt(7)
	o.SetAccount(other, account)
	account.Balance = uint256.NewInt(8)
	got, ok := o.Account(other)
	require.True(t, ok)
	require.Equal(t, uint64(7), got.Balance.Uint64())
	got.Nonce = 3
	got, _ = o.Account(other)
	require.Zero(t, got.Nonce)

	require.ElementsMatch(t, []common.Address{addr, other}, o.Dirty())
}

func TestOverlayDeleteWipesStorage(t *testing.T) {
	source := testhelpers.NewPseudoRandomDataSource(t, 2)
	addr := source.GetAddress()
	slot, later := source.GetHash(), source.GetHash()
	o := NewOverlay()

	o.SetStorage(addr, slot, common.HexToHash("0x01"))
	o.SetAccount(addr, nil)
	got, ok := o.Account(addr)
	require.True(t, ok)
	require.Nil(t, got)
	value, ok := o.Storage(addr, slot)
	require.True(t, ok)
	require.Equal(t, common.Hash{}, value)

	// recreated within the block, the account starts with empty storage
	o.SetAccount(addr, NewAccount())
	o.SetStorage(addr, later, common.HexToHash("0x02"))
	value, ok = o.Storage(addr, slot)
	require.True(t, ok)
	require.Equal(t, common.Hash{}, value)
	value, ok = o.Storage(addr, later)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0x02"), value)
}

func TestOverlayCode(t *testing.T) {
	o := NewOverlay()
	code := []byte{0x60, 0x00}
	hash := o.SetCode(code)
	require.Equal(t, crypto.Keccak256Hash(code), hash)
	code[0] = 0xff
	got, ok := o.Code(hash)
	require.True(t, ok)
	require.Equal(t, []byte{0x60, 0x00}, got)
	_, ok = o.Code(types.EmptyCodeHash)
	require.False(t, ok)
}

func TestCommitOverlayOnEmptyTrie(t *testing.T) {
	source := testhelpers.NewPseudoRandomDataSource(t, 3)
	addr := source.GetAddress()
	slot := source.GetHash()
	o := NewOverlay()
	account := NewAccount()
	account.Balance = uint256.NewInt(1)
	o.SetAccount(addr, account)
	o.SetStorage(addr, slot, common.HexToHash("0x2a"))

	base := func(common.Address) (*types.StateAccount, error) { return nil, nil }
	open := func(common.Address, common.Hash) (*mpt.Trie, error) { return mpt.New(), nil }
	root, err := commitOverlay(mpt.New(), o, base, open)
	Require(t, err)

	storage := mpt.New()
	enc, err := encodeStorage(common.HexToHash("0x2a"))
	Require(t, err)
	Require(t, storage.Update(crypto.Keccak256(slot.Bytes()), enc))
	account.Root = storage.Hash()
	accounts := mpt.New()
	enc, err = encodeAccount(account)
	Require(t, err)
	Require(t, accounts.Update(crypto.Keccak256(addr.Bytes()), enc))
	require.Equal(t, accounts.Hash(), root)

	// deleting everything again yields the empty root
	o = NewOverlay()
	o.SetAccount(addr, nil)
	base = func(common.Address) (*types.StateAccount, error) { return account, nil }
	root, err = commitOverlay(accounts.Copy(), o, base, open)
	Require(t, err)
	require.Equal(t, types.EmptyRootHash, root)
}

func TestStorageCodec(t *testing.T) {
	for _, value := range []common.Hash{{}, common.HexToHash("0x01"), common.MaxHash} {
		enc, err := encodeStorage(value)
		Require(t, err)
		got, err := decodeStorage(enc)
		Require(t, err)
		require.Equal(t, value, got)
	}
	got, err := decodeStorage(nil)
	Require(t, err)
	require.Equal(t, common.Hash{}, got)
}

func TestAccumulator(t *testing.T) {
	source := testhelpers.NewPseudoRandomDataSource(t, 4)
	acc := NewAccumulator()

	enc := source.GetData(40)
	hash := acc.AddNode(enc)
	require.Equal(t, crypto.Keccak256Hash(enc), hash)
	acc.AddNodes(mpt.NodeSet{hash: enc})

	code := source.GetData(10)
	Require(t, acc.AddCode(crypto.Keccak256Hash(code), code))
	err := acc.AddCode(source.GetHash(), code)
	require.ErrorIs(t, err, primitives.ErrRootMismatch)

	nodes, codes := acc.Size()
	require.Equal(t, 1, nodes)
	require.Equal(t, 1, codes)

	// snapshots do not alias the accumulator
	snapshot := acc.Nodes()
	delete(snapshot, hash)
	nodes, _ = acc.Size()
	require.Equal(t, 1, nodes)

	for _, n := range []int64{5, 9, 7} {
		acc.AddHeader(&types.Header{Number: big.NewInt(n)})
	}
	require.Equal(t, uint64(7), acc.Header(7).Number.Uint64())
	require.Nil(t, acc.Header(6))

	prior, post := source.GetHash(), source.GetHash()
	w := acc.Freeze(prior, post)
	require.Equal(t, prior, w.PriorRoot)
	require.Equal(t, post, w.PostRoot)
	require.Equal(t, enc, w.Nodes[hash])
	require.Equal(t, code, w.Codes[crypto.Keccak256Hash(code)])
	var numbers []uint64
	for _, h := range w.Headers {
		numbers = append(numbers, h.Number.Uint64())
	}
	require.Equal(t, []uint64{9, 7, 5}, numbers)
}
