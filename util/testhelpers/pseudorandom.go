// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package testhelpers

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PseudoRandomDataSource yields the same sequence on every run for a given salt.
type PseudoRandomDataSource struct {
	salt  common.Hash
	index uint64
}

// T param is to make sure it's only used in testing
func NewPseudoRandomDataSource(_ *testing.T, saltParam uint64) *PseudoRandomDataSource {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], saltParam)
	return &PseudoRandomDataSource{
		salt: crypto.Keccak256Hash([]byte{'s'}, seed[:]),
	}
}

func (r *PseudoRandomDataSource) GetHash() common.Hash {
	r.index++
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], r.index)
	return crypto.Keccak256Hash(r.salt[:], idx[:])
}

func (r *PseudoRandomDataSource) GetAddress() common.Address {
	return common.BytesToAddress(r.GetHash().Bytes()[:20])
}

func (r *PseudoRandomDataSource) GetUint64() uint64 {
	return binary.BigEndian.Uint64(r.GetHash().Bytes()[:8])
}

// GetBalance returns a value below 2^64 wei so sums never overflow in tests.
func (r *PseudoRandomDataSource) GetBalance() *uint256.Int {
	return uint256.NewInt(r.GetUint64() >> 1)
}

func (r *PseudoRandomDataSource) GetData(size int) []byte {
	ret := []byte{}
	for len(ret) < size {
		ret = append(ret, r.GetHash().Bytes()...)
	}
	return ret[:size]
}
