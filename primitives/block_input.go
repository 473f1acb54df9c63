// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/offchainlabs/blockproofs/mpt"
)

// MaxBlockHashLookback is how far back the BLOCKHASH opcode can see.
const MaxBlockHashLookback = 256

// BlockInput is everything needed to execute one block apart from state.
// It is treated as immutable once built.
type BlockInput struct {
	ChainID      ChainID
	Header       *types.Header
	Transactions types.Transactions
	Withdrawals  types.Withdrawals
	// Ancestors holds consecutive headers starting with the parent and
	// going back as far as the block looks.
	Ancestors []*types.Header
	PriorRoot common.Hash
}

// NewBlockInput packages block together with its ancestor headers, parent first.
func NewBlockInput(chainID ChainID, block *types.Block, ancestors []*types.Header) *BlockInput {
	input := &BlockInput{
		ChainID:      chainID,
		Header:       block.Header(),
		Transactions: block.Transactions(),
		Withdrawals:  block.Withdrawals(),
		Ancestors:    ancestors,
	}
	if len(ancestors) > 0 {
		input.PriorRoot = ancestors[0].Root
	}
	return input
}

func (b *BlockInput) Number() uint64 {
	return b.Header.Number.Uint64()
}

func (b *BlockInput) Hash() common.Hash {
	return b.Header.Hash()
}

// Validate checks that the body belongs to the header and that the ancestors
// are the header's actual parent chain.
func (b *BlockInput) Validate() error {
	if b.Header == nil || b.Header.Number == nil {
		return fmt.Errorf("%w: missing header", ErrInvalidBlockInput)
	}
	if _, err := b.ChainID.ChainConfig(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlockInput, err)
	}
	if got := mpt.DeriveRoot(b.Transactions); got != b.Header.TxHash {
		return fmt.Errorf("%w: transaction root %v, header has %v", ErrInvalidBlockInput, got, b.Header.TxHash)
	}
	if b.Header.WithdrawalsHash != nil {
		if got := mpt.DeriveRoot(b.Withdrawals); got != *b.Header.WithdrawalsHash {
			return fmt.Errorf("%w: withdrawals root %v, header has %v", ErrInvalidBlockInput, got, *b.Header.WithdrawalsHash)
		}
	} else if len(b.Withdrawals) > 0 {
		return fmt.Errorf("%w: withdrawals present in a pre-shanghai block", ErrInvalidBlockInput)
	}
	if len(b.Ancestors) == 0 {
		return fmt.Errorf("%w: parent header missing", ErrInvalidBlockInput)
	}
	if len(b.Ancestors) > MaxBlockHashLookback {
		return fmt.Errorf("%w: %d ancestors, at most %d are reachable", ErrInvalidBlockInput, len(b.Ancestors), MaxBlockHashLookback)
	}
	child := b.Header
	for i, ancestor := range b.Ancestors {
		if ancestor.Hash() != child.ParentHash {
			return fmt.Errorf("%w: ancestor %d (number %v) is not the parent of %v", ErrInvalidBlockInput, i, ancestor.Number, child.Number)
		}
		if ancestor.Number.Uint64()+1 != child.Number.Uint64() {
			return fmt.Errorf("%w: ancestor %d has number %v, want %d", ErrInvalidBlockInput, i, ancestor.Number, child.Number.Uint64()-1)
		}
		child = ancestor
	}
	if b.PriorRoot != b.Ancestors[0].Root {
		return fmt.Errorf("%w: prior root %v is not the parent's root %v", ErrInvalidBlockInput, b.PriorRoot, b.Ancestors[0].Root)
	}
	return nil
}

// BlockHash resolves number to a block hash the way BLOCKHASH does. Numbers
// out of range yield the zero hash; in-range numbers that the ancestors do
// not cover are an error, since the answer would otherwise be made up.
func (b *BlockInput) BlockHash(number uint64) (common.Hash, error) {
	current := b.Number()
	if number >= current || current-number > MaxBlockHashLookback {
		return common.Hash{}, nil
	}
	idx := current - number - 1
	if idx >= uint64(len(b.Ancestors)) {
		return common.Hash{}, fmt.Errorf("%w: header %d is not among the %d recorded ancestors", ErrMissingWitnessData, number, len(b.Ancestors))
	}
	return b.Ancestors[idx].Hash(), nil
}
