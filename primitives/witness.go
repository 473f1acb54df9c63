// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/blockproofs/mpt"
)

// Witness is the state a block touches: the trie nodes on the proof paths
// of every account and storage access, the bytecode that was loaded and the
// ancestor headers that were looked up.
type Witness struct {
	PriorRoot common.Hash
	PostRoot  common.Hash
	Nodes     mpt.NodeSet
	Codes     map[common.Hash][]byte
	Headers   []*types.Header
}

func NewWitness(priorRoot, postRoot common.Hash) *Witness {
	return &Witness{
		PriorRoot: priorRoot,
		PostRoot:  postRoot,
		Nodes:     make(mpt.NodeSet),
		Codes:     make(map[common.Hash][]byte),
	}
}

// AddNode stores a trie node under hash, which must be its digest.
func (w *Witness) AddNode(hash common.Hash, enc []byte) error {
	if got := crypto.Keccak256Hash(enc); got != hash {
		return fmt.Errorf("%w: node content hashes to %v, not %v", ErrRootMismatch, got, hash)
	}
	w.Nodes[hash] = common.CopyBytes(enc)
	return nil
}

// AddCode stores a bytecode blob under hash, which must be its digest.
func (w *Witness) AddCode(hash common.Hash, code []byte) error {
	if got := crypto.Keccak256Hash(code); got != hash {
		return fmt.Errorf("%w: code hashes to %v, not %v", ErrRootMismatch, got, hash)
	}
	w.Codes[hash] = common.CopyBytes(code)
	return nil
}

// Copy returns a deep copy. Host and client never share a witness.
func (w *Witness) Copy() *Witness {
	cpy := NewWitness(w.PriorRoot, w.PostRoot)
	for h, enc := range w.Nodes {
		cpy.Nodes[h] = common.CopyBytes(enc)
	}
	for h, code := range w.Codes {
		cpy.Codes[h] = common.CopyBytes(code)
	}
	for _, h := range w.Headers {
		cpy.Headers = append(cpy.Headers, types.CopyHeader(h))
	}
	return cpy
}

// CheckAncestors fails unless the witness headers are exactly the given
// ancestors, in the same order.
func (w *Witness) CheckAncestors(ancestors []*types.Header) error {
	if len(w.Headers) != len(ancestors) {
		return fmt.Errorf("%w: witness holds %d ancestor headers, block input %d", ErrInvalidBlockInput, len(w.Headers), len(ancestors))
	}
	for i, header := range w.Headers {
		if header.Hash() != ancestors[i].Hash() {
			return fmt.Errorf("%w: witness ancestor %d is %v, block input has %v", ErrInvalidBlockInput, i, header.Hash(), ancestors[i].Hash())
		}
	}
	return nil
}

func (w *Witness) String() string {
	return fmt.Sprintf("Witness(prior:%v post:%v nodes:%d codes:%d headers:%d)", w.PriorRoot, w.PostRoot, len(w.Nodes), len(w.Codes), len(w.Headers))
}
