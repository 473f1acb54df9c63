// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package transfer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

func TestIntrinsicGas(t *testing.T) {
	data := []byte{0, 0, 1, 2, 0, 3}
	accessList := types.AccessList{
		{Address: common.HexToAddress("0x1"), StorageKeys: []common.Hash{{1}, {2}}},
		{Address: common.HexToAddress("0x2")},
	}
	for _, rules := range []params.Rules{
		{},
		{IsHomestead: true, IsIstanbul: true},
		{IsHomestead: true, IsIstanbul: true, IsBerlin: true, IsShanghai: true},
	} {
		expected, err := core.IntrinsicGas(data, accessList, nil, false, rules.IsHomestead, rules.IsIstanbul, rules.IsShanghai)
		require.NoError(t, err)
		require.Equal(t, expected, intrinsicGas(data, accessList, rules))
	}
	require.Equal(t, params.TxGas, intrinsicGas(nil, nil, params.Rules{IsIstanbul: true}))
}

func TestFloorDataGas(t *testing.T) {
	data := make([]byte, 100)
	data[0] = 1
	expected, err := core.FloorDataGas(data)
	require.NoError(t, err)
	require.Equal(t, expected, floorDataGas(data))
	require.Equal(t, uint64(params.TxGas+99*10+4*10), floorDataGas(data))
}
