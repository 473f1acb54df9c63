// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/blockproofs/prover"
)

func TestParseSingleBlock(t *testing.T) {
	config, err := ParseBlockProver([]string{
		"--remote.rpc.url", "http://localhost:8545",
		"--block", "21000000",
		"--mode", "prove",
		"--prover.binary", "./guest",
		"--prover.timeout", "10m",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(21000000), config.Block)
	require.Equal(t, prover.ModeProve.String(), config.Mode)
	require.Equal(t, "./guest", config.Prover.Binary)
	require.Equal(t, 10*time.Minute, config.Prover.Timeout)
	require.Equal(t, BlockProverConfigDefault.Host, config.Host)
	require.False(t, config.Ethproofs.Enabled())
}

func TestParseWatch(t *testing.T) {
	config, err := ParseBlockProver([]string{
		"--remote.rpc.url", "ws://localhost:8546",
		"--watch",
		"--watcher.interval", "10",
		"--ethproofs.endpoint", "https://registry.example/api/v0",
		"--ethproofs.cluster-id", "3",
	})
	require.NoError(t, err)
	require.True(t, config.Watch)
	require.Equal(t, uint64(10), config.Watcher.Interval)
	require.Equal(t, uint64(3), config.Ethproofs.ClusterID)
}

func TestParseRejectsInvalidCombinations(t *testing.T) {
	for _, args := range [][]string{
		{"--remote.rpc.url", "http://localhost:8545"},
		{"--remote.rpc.url", "http://localhost:8545", "--block", "1", "--watch"},
		{"--block", "1"},
		{"--remote.rpc.url", "http://localhost:8545", "--block", "1", "--mode", "verify"},
		{"--remote.rpc.url", "http://localhost:8545", "--watch", "--proof-file", "proof.bin"},
		{"--remote.rpc.url", "http://localhost:8545", "--block", "1", "--host.max-lookback", "0"},
		{"--remote.rpc.url", "http://localhost:8545", "--block", "1", "--input-cache.compression-level", "12"},
	} {
		_, err := ParseBlockProver(args)
		require.Error(t, err, args)
	}
}
