// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Trie is a partial Merkle-Patricia trie. Mutations are copy-on-write, so a
// copied Trie can be modified without affecting the original.
// A Trie is not safe for concurrent use.
type Trie struct {
	root node
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{}
}

// Copy returns an independent trie sharing the unmodified nodes.
func (t *Trie) Copy() *Trie {
	return &Trie{root: t.root}
}

// Hash returns the root digest. The empty trie hashes to types.EmptyRootHash.
func (t *Trie) Hash() common.Hash {
	switch root := t.root.(type) {
	case nil:
		return types.EmptyRootHash
	case hashNode:
		return common.Hash(root)
	default:
		// the root is always referenced by digest, even when its encoding is short
		return crypto.Keccak256Hash(encodeNode(root))
	}
}

// Get returns the value stored under key, or nil if the trie proves it absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return get(t.root, keybytesToHex(key), 0)
}

func get(n node, key []byte, pos int) ([]byte, error) {
	for {
		switch cur := n.(type) {
		case nil:
			return nil, nil
		case valueNode:
			return cur, nil
		case *shortNode:
			if len(key)-pos < len(cur.Key) || !bytes.Equal(cur.Key, key[pos:pos+len(cur.Key)]) {
				return nil, nil
			}
			n = cur.Val
			pos += len(cur.Key)
		case *branchNode:
			n = cur.Children[key[pos]]
			pos++
		case hashNode:
			return nil, missingNode(key[:pos], cur, ErrMissingWitnessData)
		default:
			panic(fmt.Sprintf("%T: invalid node: %v", n, n))
		}
	}
}

// Update associates key with value. An empty value deletes the key.
// The write fails with ErrUnresolvedBoundary if it has to descend into, or
// restructure around, a node whose content is unknown.
func (t *Trie) Update(key, value []byte) error {
	if len(value) == 0 {
		return t.Delete(key)
	}
	k := keybytesToHex(key)
	_, n, err := insert(t.root, nil, k, valueNode(common.CopyBytes(value)))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

// Delete removes key from the trie. Deleting an absent key is not an error.
func (t *Trie) Delete(key []byte) error {
	k := keybytesToHex(key)
	_, n, err := del(t.root, nil, k)
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

func insert(n node, prefix, key []byte, value node) (bool, node, error) {
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok {
			return !bytes.Equal(v, value.(valueNode)), value, nil
		}
		return true, value, nil
	}
	switch n := n.(type) {
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		// If the whole key matches, keep this short node as is
		// and only update the value.
		if matchlen == len(n.Key) {
			dirty, nn, err := insert(n.Val, concat(prefix, key[:matchlen]...), key[matchlen:], value)
			if !dirty || err != nil {
				return false, n, err
			}
			return true, &shortNode{Key: n.Key, Val: nn}, nil
		}
		// Otherwise branch out at the index where they differ.
		branch := &branchNode{}
		var err error
		_, branch.Children[n.Key[matchlen]], err = insert(nil, concat(prefix, n.Key[:matchlen+1]...), n.Key[matchlen+1:], n.Val)
		if err != nil {
			return false, nil, err
		}
		_, branch.Children[key[matchlen]], err = insert(nil, concat(prefix, key[:matchlen+1]...), key[matchlen+1:], value)
		if err != nil {
			return false, nil, err
		}
		// Replace this shortNode with the branch if it occurs at index 0.
		if matchlen == 0 {
			return true, branch, nil
		}
		// Otherwise, replace it with a short node leading up to the branch.
		return true, &shortNode{Key: key[:matchlen], Val: branch}, nil

	case *branchNode:
		dirty, nn, err := insert(n.Children[key[0]], concat(prefix, key[0]), key[1:], value)
		if !dirty || err != nil {
			return false, n, err
		}
		n = n.copy()
		n.Children[key[0]] = nn
		return true, n, nil

	case nil:
		return true, &shortNode{Key: key, Val: value}, nil

	case hashNode:
		return false, nil, missingNode(prefix, n, ErrUnresolvedBoundary)

	default:
		panic(fmt.Sprintf("%T: invalid node: %v", n, n))
	}
}

func del(n node, prefix, key []byte) (bool, node, error) {
	switch n := n.(type) {
	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen < len(n.Key) {
			return false, n, nil // don't replace n on mismatch
		}
		if matchlen == len(key) {
			return true, nil, nil // remove n entirely for whole matches
		}
		// The key is longer than n.Key. Remove the remaining suffix
		// from the subtrie. Child can never be nil here since the
		// subtrie must contain at least two other values with keys
		// longer than n.Key.
		dirty, child, err := del(n.Val, concat(prefix, key[:len(n.Key)]...), key[len(n.Key):])
		if !dirty || err != nil {
			return false, n, err
		}
		switch child := child.(type) {
		case *shortNode:
			// The child short node is merged into its parent, which
			// avoids a short node pointing at another short node.
			return true, &shortNode{Key: concat(n.Key, child.Key...), Val: child.Val}, nil
		default:
			return true, &shortNode{Key: n.Key, Val: child}, nil
		}

	case *branchNode:
		dirty, nn, err := del(n.Children[key[0]], concat(prefix, key[0]), key[1:])
		if !dirty || err != nil {
			return false, n, err
		}
		n = n.copy()
		n.Children[key[0]] = nn

		// Because n is a full node, it must've contained at least two children
		// before the delete operation. If the new child value is non-nil, n still
		// has at least two children after the deletion, and cannot be reduced to
		// a short node.
		if nn != nil {
			return true, n, nil
		}
		// Reduction:
		// Check how many non-nil entries are left after deleting and
		// reduce the full node to a short node if only one entry is
		// left. Since n must've contained at least two children
		// before deletion (otherwise it would not be a full node) n
		// can never be reduced to nil.
		pos := -1
		for i, cld := range &n.Children {
			if cld != nil {
				if pos == -1 {
					pos = i
				} else {
					pos = -2
					break
				}
			}
		}
		if pos >= 0 {
			if pos != 16 {
				// The remaining child decides the shape of the replacement,
				// so its content must be known.
				switch cnode := n.Children[pos].(type) {
				case hashNode:
					return false, nil, missingNode(concat(prefix, byte(pos)), cnode, ErrUnresolvedBoundary)
				case *shortNode:
					k := append([]byte{byte(pos)}, cnode.Key...)
					return true, &shortNode{Key: k, Val: cnode.Val}, nil
				}
			}
			// Otherwise, n is replaced by a one-nibble short node
			// containing the child.
			return true, &shortNode{Key: []byte{byte(pos)}, Val: n.Children[pos]}, nil
		}
		// n still contains at least two values and cannot be reduced.
		return true, n, nil

	case valueNode:
		return true, nil, nil

	case nil:
		return false, nil, nil

	case hashNode:
		return false, nil, missingNode(prefix, n, ErrUnresolvedBoundary)

	default:
		panic(fmt.Sprintf("%T: invalid node: %v (%v)", n, n, key))
	}
}
