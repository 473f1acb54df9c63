// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package remote is the boundary to the execution node that serves live
// chain data: blocks, headers, account and storage proofs and bytecode.
package remote

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Remote answers queries about the canonical chain. Implementations must be
// safe for concurrent use. State queries are answered for the state after
// block number.
type Remote interface {
	ChainID(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
	// HeadersByRange returns the headers from..to inclusive, ascending.
	HeadersByRange(ctx context.Context, from, to uint64) ([]*types.Header, error)
	GetProof(ctx context.Context, account common.Address, slots []common.Hash, number uint64) (*AccountResult, error)
	CodeAt(ctx context.Context, account common.Address, number uint64) ([]byte, error)
	// StateRoot is the post-state root of block number as reported by the chain.
	StateRoot(ctx context.Context, number uint64) (common.Hash, error)
}

// NodeResolver is implemented by remotes that can serve raw trie nodes by digest.
type NodeResolver interface {
	NodeByHash(ctx context.Context, hash common.Hash) ([]byte, error)
}

// AccountResult is the eth_getProof response.
type AccountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

type StorageResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// Nodes returns proof as raw node encodings.
func Nodes(proof []hexutil.Bytes) [][]byte {
	nodes := make([][]byte, len(proof))
	for i, n := range proof {
		nodes[i] = n
	}
	return nodes
}
