// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package engine is the boundary to the block execution function. An Engine
// only ever sees a stateprovider.StateProvider, so the same replay runs on
// the host while recording and on the client from a witness.
package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/stateprovider"
)

var (
	// ErrInvalidTransaction is returned for a transaction no valid block could contain.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrUnsupportedTransaction is returned for a transaction the engine cannot execute.
	ErrUnsupportedTransaction = errors.New("unsupported transaction")
	// ErrBlockMismatch means the replay does not reproduce a field of the block header.
	ErrBlockMismatch = errors.New("replay does not match block header")
)

// HashFunc resolves the hash of an ancestor block, as the BLOCKHASH opcode does.
type HashFunc func(number uint64) (common.Hash, error)

// BlockEnv is the per-block execution context. GasUsed accumulates while the
// block's transactions are applied.
type BlockEnv struct {
	Header  *types.Header
	Config  *params.ChainConfig
	Rules   params.Rules
	Signer  types.Signer
	GetHash HashFunc

	GasUsed uint64
}

func NewBlockEnv(config *params.ChainConfig, header *types.Header, getHash HashFunc) *BlockEnv {
	isMerge := header.Difficulty == nil || header.Difficulty.Sign() == 0
	return &BlockEnv{
		Header:  header,
		Config:  config,
		Rules:   config.Rules(header.Number, isMerge, header.Time),
		Signer:  types.MakeSigner(config, header.Number, header.Time),
		GetHash: getHash,
	}
}

// GasLeft is what remains of the block gas limit.
func (env *BlockEnv) GasLeft() uint64 {
	if env.GasUsed >= env.Header.GasLimit {
		return 0
	}
	return env.Header.GasLimit - env.GasUsed
}

// Engine executes blocks one step at a time. Implementations must be
// deterministic: the same header, transactions and state yield the same
// receipts and state writes.
type Engine interface {
	// BeginBlock runs the system updates that precede the first transaction.
	BeginBlock(env *BlockEnv, state stateprovider.StateProvider) error
	// ApplyTransaction executes tx, adds its gas to env.GasUsed and returns its receipt.
	ApplyTransaction(env *BlockEnv, tx *types.Transaction, index int, state stateprovider.StateProvider) (*types.Receipt, error)
	// Finalize processes withdrawals and end of block system updates. It
	// returns the block's execution requests, nil before Prague.
	Finalize(env *BlockEnv, withdrawals types.Withdrawals, state stateprovider.StateProvider) ([][]byte, error)
}
