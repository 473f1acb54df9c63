// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// NodeSet is a flat collection of RLP encoded trie nodes keyed by their digest.
type NodeSet map[common.Hash][]byte

// Add stores enc under its keccak256 digest and returns the digest.
func (s NodeSet) Add(enc []byte) common.Hash {
	h := crypto.Keccak256Hash(enc)
	if _, ok := s[h]; !ok {
		s[h] = common.CopyBytes(enc)
	}
	return h
}

// AddProof stores every node of an eth_getProof style proof.
func (s NodeSet) AddProof(proof [][]byte) {
	for _, enc := range proof {
		s.Add(enc)
	}
}

// maxDepth bounds recursion while resolving. A 32 byte key has 64 nibbles,
// so no canonical trie comes close.
const maxDepth = 160

// Build assembles the partial trie rooted at root from nodes. References
// missing from the set stay as hashNode stubs. Every resolved node must hash
// to the digest it was referenced by, and the assembled root must equal root.
func Build(root common.Hash, nodes NodeSet) (*Trie, error) {
	if root == types.EmptyRootHash {
		return New(), nil
	}
	if _, ok := nodes[root]; !ok {
		return nil, missingNode(nil, hashNode(root), ErrIncompleteWitness)
	}
	b := &builder{nodes: nodes, resolved: make(map[common.Hash]node)}
	n, err := b.resolve(hashNode(root), nil, 0)
	if err != nil {
		return nil, err
	}
	t := &Trie{root: n}
	if got := t.Hash(); got != root {
		return nil, fmt.Errorf("%w: assembled root %v, want %v", ErrRootMismatch, got, root)
	}
	return t, nil
}

type builder struct {
	nodes    NodeSet
	resolved map[common.Hash]node
}

func (b *builder) resolve(ref node, path []byte, depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: trie deeper than %d at path %x", errInvalidNode, maxDepth, path)
	}
	switch n := ref.(type) {
	case hashNode:
		digest := common.Hash(n)
		if cached, ok := b.resolved[digest]; ok {
			return cached, nil
		}
		enc, ok := b.nodes[digest]
		if !ok {
			return n, nil
		}
		if crypto.Keccak256Hash(enc) != digest {
			return nil, fmt.Errorf("%w: node at path %x does not hash to %v", ErrRootMismatch, path, digest)
		}
		dec, err := decodeNode(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: node %v at path %x: %v", ErrRootMismatch, digest, path, err)
		}
		res, err := b.resolve(dec, path, depth+1)
		if err != nil {
			return nil, err
		}
		b.resolved[digest] = res
		return res, nil
	case *shortNode:
		if _, ok := n.Val.(valueNode); ok {
			return n, nil
		}
		child, err := b.resolve(n.Val, concat(path, n.Key...), depth+1)
		if err != nil {
			return nil, err
		}
		n.Val = child
		return n, nil
	case *branchNode:
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			child, err := b.resolve(n.Children[i], concat(path, byte(i)), depth+1)
			if err != nil {
				return nil, err
			}
			n.Children[i] = child
		}
		return n, nil
	case valueNode, nil:
		return n, nil
	default:
		panic(fmt.Sprintf("%T: invalid node: %v", ref, ref))
	}
}
