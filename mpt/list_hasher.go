// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ListHasher computes transaction, receipt and withdrawal roots.
// Use it with types.DeriveSha.
type ListHasher struct {
	trie *Trie
}

var _ types.TrieHasher = (*ListHasher)(nil)

func NewListHasher() *ListHasher {
	return &ListHasher{trie: New()}
}

func (h *ListHasher) Reset() {
	h.trie = New()
}

// Update inserts a list item. DeriveSha reuses its buffers, Trie.Update copies the value.
func (h *ListHasher) Update(key, value []byte) error {
	return h.trie.Update(key, value)
}

func (h *ListHasher) Hash() common.Hash {
	return h.trie.Hash()
}

// DeriveRoot is shorthand for types.DeriveSha(list, NewListHasher()).
func DeriveRoot(list types.DerivableList) common.Hash {
	return types.DeriveSha(list, NewListHasher())
}
