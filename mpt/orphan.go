// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrOrphanNotRecoverable = errors.New("orphaned sibling not recoverable from post-state proof")

// ReconstructOrphan rebuilds the encoding of a pre-state node that a delete
// needs but the witness never recorded. path is the hex path of the orphan
// (the collapsing branch's path plus the orphan's nibble) and digest its
// pre-state hash, both as reported by the *MissingNodeError of the failed
// write. postProof is a proof against postRoot for any key running through
// the collapsed branch, typically the deleted key.
//
// After the collapse the orphan short node is merged upwards, so the post
// state holds a short node whose key spans the orphan's nibble. Splitting
// that key after the nibble yields the orphan again. The result is only
// returned when it hashes to digest. A branch orphan keeps its digest in the
// post state but not its content; that case returns a *MissingNodeError.
func ReconstructOrphan(path []byte, digest, postRoot common.Hash, postProof [][]byte) ([]byte, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrOrphanNotRecoverable)
	}
	set := make(NodeSet, len(postProof))
	set.AddProof(postProof)

	last := len(path) - 1
	var n node = hashNode(postRoot)
	pos := 0
	for {
		switch cur := n.(type) {
		case hashNode:
			if pos > 0 && common.Hash(cur) == digest {
				return nil, missingNode(path[:pos], cur, ErrUnresolvedBoundary)
			}
			enc, ok := set[common.Hash(cur)]
			if !ok {
				return nil, fmt.Errorf("%w: post-state node %v at path %x not in proof", ErrOrphanNotRecoverable, common.Hash(cur), path[:pos])
			}
			dec, err := decodeNode(enc)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrOrphanNotRecoverable, err)
			}
			n = dec
		case *branchNode:
			if pos > last {
				return nil, fmt.Errorf("%w: branch still present at path %x", ErrOrphanNotRecoverable, path)
			}
			n = cur.Children[path[pos]]
			pos++
		case *shortNode:
			end := pos + len(cur.Key)
			if end <= last {
				if !bytes.Equal(cur.Key, path[pos:end]) {
					return nil, fmt.Errorf("%w: post-state path diverges at %x", ErrOrphanNotRecoverable, path[:pos])
				}
				n = cur.Val
				pos = end
				continue
			}
			if !bytes.Equal(cur.Key[:len(path)-pos], path[pos:]) {
				return nil, fmt.Errorf("%w: post-state path diverges at %x", ErrOrphanNotRecoverable, path[:pos])
			}
			tail := cur.Key[len(path)-pos:]
			if len(tail) == 0 {
				if h, ok := cur.Val.(hashNode); ok && common.Hash(h) == digest {
					return nil, missingNode(path, h, ErrUnresolvedBoundary)
				}
				return nil, fmt.Errorf("%w: no node with digest %v below path %x", ErrOrphanNotRecoverable, digest, path)
			}
			enc := encodeNode(&shortNode{Key: common.CopyBytes(tail), Val: cur.Val})
			if crypto.Keccak256Hash(enc) != digest {
				return nil, fmt.Errorf("%w: rebuilt node hashes to %v, want %v", ErrOrphanNotRecoverable, crypto.Keccak256Hash(enc), digest)
			}
			return enc, nil
		default:
			return nil, fmt.Errorf("%w: nothing at path %x in post state", ErrOrphanNotRecoverable, path[:pos])
		}
	}
}
