// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package mpt implements a partial hexary Merkle-Patricia trie.
//
// A partial trie is assembled from a flat set of RLP encoded nodes keyed by
// their keccak256 digest. Every child reference found in the set is resolved
// into an in-memory node; references that are not in the set stay behind as
// hashNode stubs. The root digest of the assembled structure is identical to
// the canonical one, so a trie built from a witness can be checked against a
// block's declared state root before it is trusted.
//
// Reads and writes that would need the content behind a hashNode stub fail
// with a *MissingNodeError instead of silently treating the subtree as empty.
package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// node is one of the following variants, every traversal switches on all of them:
//
//	*branchNode  resolved branch with 16 children and a value slot
//	*shortNode   resolved extension (Val is a child) or leaf (Key has the terminator, Val is a valueNode)
//	hashNode     unresolved reference, only the digest is known
//	valueNode    leaf payload
type node interface {
	fstring(string) string
}

type (
	branchNode struct {
		Children [17]node
		flags    nodeFlag
	}
	shortNode struct {
		Key   []byte // hex encoded, terminated by 16 for leaves
		Val   node
		flags nodeFlag
	}
	hashNode  common.Hash
	valueNode []byte
)

// nodeFlag caches the encoding of a resolved node. It is only ever filled from
// the node's own content, never from the digest it was looked up by.
type nodeFlag struct {
	enc  []byte
	hash *common.Hash
}

func (n *branchNode) copy() *branchNode {
	cpy := *n
	cpy.flags = nodeFlag{}
	return &cpy
}

func (n *shortNode) copy() *shortNode {
	cpy := *n
	cpy.flags = nodeFlag{}
	return &cpy
}

var indices = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "a", "b", "c", "d", "e", "f", "[17]"}

func (n *branchNode) String() string { return n.fstring("") }
func (n *shortNode) String() string  { return n.fstring("") }
func (n hashNode) String() string    { return n.fstring("") }
func (n valueNode) String() string   { return n.fstring("") }

func (n *branchNode) fstring(ind string) string {
	resp := "[\n" + ind + "  "
	for i, child := range &n.Children {
		if child == nil {
			resp += fmt.Sprintf("%s: <nil> ", indices[i])
		} else {
			resp += fmt.Sprintf("%s: %v", indices[i], child.fstring(ind+"  "))
		}
	}
	return resp + fmt.Sprintf("\n%s] ", ind)
}

func (n *shortNode) fstring(ind string) string {
	return fmt.Sprintf("{%x: %v} ", n.Key, n.Val.fstring(ind+"  "))
}

func (n hashNode) fstring(ind string) string {
	return fmt.Sprintf("<%x> ", common.Hash(n).Bytes())
}

func (n valueNode) fstring(ind string) string {
	return fmt.Sprintf("%x ", []byte(n))
}
