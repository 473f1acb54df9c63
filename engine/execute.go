// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package engine

import (
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

type Result struct {
	Receipts types.Receipts
	GasUsed  uint64
	Requests [][]byte
}

// ExecuteBlock replays a block's transactions in order and checks the
// outcome against the execution fields of env.Header. It does not commit
// state; the caller compares roots after state.Commit.
func ExecuteBlock(eng Engine, env *BlockEnv, txs types.Transactions, withdrawals types.Withdrawals, state stateprovider.StateProvider) (*Result, error) {
	header := env.Header
	if err := eng.BeginBlock(env, state); err != nil {
		return nil, fmt.Errorf("block %d: begin: %w", header.Number, err)
	}
	receipts := make(types.Receipts, 0, len(txs))
	for i, tx := range txs {
		receipt, err := eng.ApplyTransaction(env, tx, i, state)
		if err != nil {
			return nil, fmt.Errorf("block %d: tx %d (%v): %w", header.Number, i, tx.Hash(), err)
		}
		receipts = append(receipts, receipt)
	}
	requests, err := eng.Finalize(env, withdrawals, state)
	if err != nil {
		return nil, fmt.Errorf("block %d: finalize: %w", header.Number, err)
	}

	if env.GasUsed != header.GasUsed {
		return nil, fmt.Errorf("%w: gas used %d, header says %d", ErrBlockMismatch, env.GasUsed, header.GasUsed)
	}
	if root := types.DeriveSha(receipts, mpt.NewListHasher()); root != header.ReceiptHash {
		return nil, fmt.Errorf("%w: receipts root %v, header says %v", ErrBlockMismatch, root, header.ReceiptHash)
	}
	if bloom := BlockBloom(receipts); bloom != header.Bloom {
		return nil, fmt.Errorf("%w: logs bloom differs from header", ErrBlockMismatch)
	}
	if header.BlobGasUsed != nil {
		var blobGas uint64
		for _, r := range receipts {
			blobGas += r.BlobGasUsed
		}
		if blobGas != *header.BlobGasUsed {
			return nil, fmt.Errorf("%w: blob gas used %d, header says %d", ErrBlockMismatch, blobGas, *header.BlobGasUsed)
		}
	}
	if header.RequestsHash != nil {
		if h := RequestsHash(requests); h != *header.RequestsHash {
			return nil, fmt.Errorf("%w: requests hash %v, header says %v", ErrBlockMismatch, h, *header.RequestsHash)
		}
	}
	log.Trace("executed block", "number", header.Number, "txs", len(txs), "withdrawals", len(withdrawals), "gas", env.GasUsed)
	return &Result{Receipts: receipts, GasUsed: env.GasUsed, Requests: requests}, nil
}

// LogsBloom is the bloom filter of a receipt's logs.
func LogsBloom(logs []*types.Log) types.Bloom {
	var bloom types.Bloom
	for _, l := range logs {
		bloom.Add(l.Address.Bytes())
		for _, topic := range l.Topics {
			bloom.Add(topic.Bytes())
		}
	}
	return bloom
}

// BlockBloom merges the blooms of all receipts.
func BlockBloom(receipts types.Receipts) types.Bloom {
	var bloom types.Bloom
	for _, r := range receipts {
		for i := range bloom {
			bloom[i] |= r.Bloom[i]
		}
	}
	return bloom
}

// RequestsHash commits to a block's execution requests as in EIP-7685. Each
// request is its type byte followed by the request data; requests without
// data are skipped.
func RequestsHash(requests [][]byte) common.Hash {
	outer := sha256.New()
	for _, r := range requests {
		if len(r) <= 1 {
			continue
		}
		inner := sha256.Sum256(r)
		outer.Write(inner[:])
	}
	var h common.Hash
	outer.Sum(h[:0])
	return h
}
