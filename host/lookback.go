// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

// lookback serves ancestor hashes to the engine, fetching headers on demand
// and recording every header it hands out. Ancestors always form an
// unbroken chain from the parent down to the deepest lookup.
type lookback struct {
	ctx       context.Context
	remote    remote.Remote
	acc       *stateprovider.Accumulator
	number    uint64
	limit     uint64
	ancestors []*types.Header // parent first
}

func newLookback(ctx context.Context, r remote.Remote, acc *stateprovider.Accumulator, input *primitives.BlockInput, limit uint64) *lookback {
	l := &lookback{
		ctx:       ctx,
		remote:    r,
		acc:       acc,
		number:    input.Number(),
		limit:     limit,
		ancestors: append([]*types.Header{}, input.Ancestors...),
	}
	for _, h := range l.ancestors {
		acc.AddHeader(h)
	}
	return l
}

// Hash resolves number the way BLOCKHASH does: zero outside of the last 256
// blocks.
func (l *lookback) Hash(number uint64) (common.Hash, error) {
	if number >= l.number || l.number-number > primitives.MaxBlockHashLookback {
		return common.Hash{}, nil
	}
	depth := l.number - number
	if depth > l.limit {
		return common.Hash{}, fmt.Errorf("block %d looks up ancestor %d, deeper than max-lookback %d", l.number, number, l.limit)
	}
	if depth > uint64(len(l.ancestors)) {
		if err := l.extend(number); err != nil {
			return common.Hash{}, err
		}
	}
	return l.ancestors[depth-1].Hash(), nil
}

// extend fetches the headers from number up to the deepest known ancestor
// in one range request.
func (l *lookback) extend(number uint64) error {
	deepest := l.ancestors[len(l.ancestors)-1]
	to := deepest.Number.Uint64() - 1
	headers, err := l.remote.HeadersByRange(l.ctx, number, to)
	if err != nil {
		return fmt.Errorf("fetching ancestors %d..%d: %w", number, to, err)
	}
	if uint64(len(headers)) != to-number+1 {
		return fmt.Errorf("%w: got %d ancestor headers for %d..%d", primitives.ErrRemoteQueryFailure, len(headers), number, to)
	}
	child := deepest
	for i := len(headers) - 1; i >= 0; i-- {
		h := headers[i]
		if h.Hash() != child.ParentHash {
			return fmt.Errorf("%w: header %v does not match parent hash %v of block %v", primitives.ErrRemoteQueryFailure, h.Number, child.ParentHash, child.Number)
		}
		l.ancestors = append(l.ancestors, h)
		l.acc.AddHeader(h)
		child = h
	}
	log.Debug("extended ancestor headers", "block", l.number, "deepest", number, "count", len(headers))
	return nil
}

// Ancestors returns the headers that were made available, parent first.
func (l *lookback) Ancestors() []*types.Header {
	return l.ancestors
}
