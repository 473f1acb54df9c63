// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/host"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/chaintest"
)

func writeInput(t *testing.T) (string, *chaintest.Chain) {
	t.Helper()
	key, alice := chaintest.Key(t, 1)
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{alice: chaintest.Funded(1)})
	chain.Mine(t, types.Transactions{chain.Transfer(t, key, 0, common.HexToAddress("0xb0b"), big.NewInt(params.GWei))}, nil)
	config := host.TestConfig
	h, err := host.New(context.Background(), func() *host.Config { return &config }, chain, transfer.New())
	require.NoError(t, err)
	_, input, err := h.Prepare(context.Background(), 1)
	require.NoError(t, err)
	data, err := input.Encode()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, chain
}

func TestReplayFile(t *testing.T) {
	path, chain := writeInput(t)
	expected := primitives.Commitment{
		PriorRoot: chain.Block(0).Root(),
		PostRoot:  chain.Block(1).Root(),
		BlockHash: chain.Block(1).Hash(),
	}

	var stdout bytes.Buffer
	require.NoError(t, replayFile(path, "", &stdout))
	require.Equal(t, fmt.Sprintf("%x\n", expected.Encode()), stdout.String())

	output := filepath.Join(t.TempDir(), "commitment.bin")
	require.NoError(t, replayFile(path, output, &stdout))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	got, err := primitives.DecodeCommitment(data)
	require.NoError(t, err)
	require.Equal(t, expected, *got)
}

func TestReplayFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, []byte("not an input"), 0600))
	require.Error(t, replayFile(path, "", &bytes.Buffer{}))
	require.Error(t, replayFile(filepath.Join(t.TempDir(), "missing.bin"), "", &bytes.Buffer{}))
}

func TestParseReplay(t *testing.T) {
	config, err := parseReplay([]string{"--input", "block.bin"})
	require.NoError(t, err)
	require.Equal(t, "block.bin", config.Input)
	config, err = parseReplay([]string{"--connect"})
	require.NoError(t, err)
	require.True(t, config.Connect)

	_, err = parseReplay(nil)
	require.Error(t, err)
	_, err = parseReplay([]string{"--connect", "--input", "block.bin"})
	require.Error(t, err)
	_, err = parseReplay([]string{"--connect", "--output", "out.bin"})
	require.Error(t, err)
}
