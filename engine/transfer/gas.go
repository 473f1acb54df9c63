// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package transfer

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

const (
	txGas                     = 21000
	txDataZeroGas             = 4
	txDataNonZeroGasFrontier  = 68
	txDataNonZeroGasEIP2028   = 16
	txAccessListAddressGas    = 2400
	txAccessListStorageKeyGas = 1900
	txCostFloorPerToken       = 10
	txTokenPerNonZeroByte     = 4
)

// intrinsicGas is the gas charged for a call before any code runs.
func intrinsicGas(data []byte, accessList types.AccessList, rules params.Rules) uint64 {
	gas := uint64(txGas)
	zeros, nonZeros := countBytes(data)
	nonZeroGas := uint64(txDataNonZeroGasFrontier)
	if rules.IsIstanbul {
		nonZeroGas = txDataNonZeroGasEIP2028
	}
	gas += zeros*txDataZeroGas + nonZeros*nonZeroGas
	for _, tuple := range accessList {
		gas += txAccessListAddressGas
		gas += uint64(len(tuple.StorageKeys)) * txAccessListStorageKeyGas
	}
	return gas
}

// floorDataGas is the minimum a transaction pays for its calldata from
// Prague on (EIP-7623).
func floorDataGas(data []byte) uint64 {
	zeros, nonZeros := countBytes(data)
	tokens := zeros + nonZeros*txTokenPerNonZeroByte
	return txGas + tokens*txCostFloorPerToken
}

func countBytes(data []byte) (zeros, nonZeros uint64) {
	for _, b := range data {
		if b == 0 {
			zeros++
		} else {
			nonZeros++
		}
	}
	return zeros, nonZeros
}
