// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ProgramInput is the opaque input of the client program: one block and the
// witness recorded for it.
type ProgramInput struct {
	Block   BlockInput
	Witness Witness
}

// programInputVersion is bumped whenever the encoding changes.
const programInputVersion = 1

var errNonCanonical = errors.New("non-canonical program input")

type extBlockInput struct {
	ChainID      uint64
	Header       *types.Header
	Transactions []*types.Transaction
	Withdrawals  []*types.Withdrawal
	Ancestors    []*types.Header
	PriorRoot    common.Hash
}

type extWitness struct {
	PriorRoot common.Hash
	PostRoot  common.Hash
	Nodes     [][]byte // sorted by digest
	Codes     [][]byte // sorted by digest
	Headers   []*types.Header
}

type extProgramInput struct {
	Version uint64
	Block   extBlockInput
	Witness extWitness
}

func sortedBlobs(m map[common.Hash][]byte) [][]byte {
	keys := slices.SortedFunc(maps.Keys(m), func(a, b common.Hash) int { return a.Cmp(b) })
	blobs := make([][]byte, len(keys))
	for i, k := range keys {
		blobs[i] = m[k]
	}
	return blobs
}

// Encode serializes the input. Nodes and codes are ordered by digest, so
// equal inputs always encode to equal bytes.
func (p *ProgramInput) Encode() ([]byte, error) {
	ext := extProgramInput{
		Version: programInputVersion,
		Block: extBlockInput{
			ChainID:      uint64(p.Block.ChainID),
			Header:       p.Block.Header,
			Transactions: p.Block.Transactions,
			Withdrawals:  p.Block.Withdrawals,
			Ancestors:    p.Block.Ancestors,
			PriorRoot:    p.Block.PriorRoot,
		},
		Witness: extWitness{
			PriorRoot: p.Witness.PriorRoot,
			PostRoot:  p.Witness.PostRoot,
			Nodes:     sortedBlobs(p.Witness.Nodes),
			Codes:     sortedBlobs(p.Witness.Codes),
			Headers:   p.Witness.Headers,
		},
	}
	return rlp.EncodeToBytes(&ext)
}

func decodeBlobs(blobs [][]byte, add func(common.Hash, []byte) error) error {
	var prev common.Hash
	for i, blob := range blobs {
		h := crypto.Keccak256Hash(blob)
		if i > 0 && bytes.Compare(prev[:], h[:]) >= 0 {
			return fmt.Errorf("%w: entry %d out of order", errNonCanonical, i)
		}
		if err := add(h, blob); err != nil {
			return err
		}
		prev = h
	}
	return nil
}

// DecodeProgramInput is the inverse of Encode. Only canonical encodings are accepted.
func DecodeProgramInput(data []byte) (*ProgramInput, error) {
	var ext extProgramInput
	if err := rlp.DecodeBytes(data, &ext); err != nil {
		return nil, fmt.Errorf("decoding program input: %w", err)
	}
	if ext.Version != programInputVersion {
		return nil, fmt.Errorf("unsupported program input version %d", ext.Version)
	}
	if ext.Block.Header == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidBlockInput)
	}
	input := &ProgramInput{
		Block: BlockInput{
			ChainID:      ChainID(ext.Block.ChainID),
			Header:       ext.Block.Header,
			Transactions: ext.Block.Transactions,
			Withdrawals:  ext.Block.Withdrawals,
			Ancestors:    ext.Block.Ancestors,
			PriorRoot:    ext.Block.PriorRoot,
		},
		Witness: *NewWitness(ext.Witness.PriorRoot, ext.Witness.PostRoot),
	}
	input.Witness.Headers = ext.Witness.Headers
	if err := decodeBlobs(ext.Witness.Nodes, input.Witness.AddNode); err != nil {
		return nil, fmt.Errorf("witness nodes: %w", err)
	}
	if err := decodeBlobs(ext.Witness.Codes, input.Witness.AddCode); err != nil {
		return nil, fmt.Errorf("witness codes: %w", err)
	}
	return input, nil
}

// SelfHash is a cheap fingerprint of the encoded input, used as a cache and log key.
func (p *ProgramInput) SelfHash() string {
	data, err := p.Encode()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d", xxhash.Sum64(data))
}
