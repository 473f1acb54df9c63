// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrBadProof = errors.New("invalid merkle proof")

// VerifyProof checks an eth_getProof style proof for key against root and
// returns the proven value. A nil value with a nil error proves absence.
func VerifyProof(root common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	val, _, err := VerifyProofPath(root, key, proof)
	return val, err
}

// VerifyProofPath is VerifyProof that also returns the proof nodes that were
// actually dereferenced along the key's path. Unrelated extra nodes in proof
// are ignored.
func VerifyProofPath(root common.Hash, key []byte, proof [][]byte) ([]byte, NodeSet, error) {
	used := make(NodeSet)
	if root == types.EmptyRootHash {
		return nil, used, nil
	}
	set := make(NodeSet, len(proof))
	set.AddProof(proof)

	hexKey := keybytesToHex(key)
	var n node = hashNode(root)
	pos := 0
	for {
		switch cur := n.(type) {
		case nil:
			return nil, used, nil
		case valueNode:
			return cur, used, nil
		case hashNode:
			digest := common.Hash(cur)
			enc, ok := set[digest]
			if !ok {
				return nil, nil, fmt.Errorf("%w: missing node %v at path %x", ErrBadProof, digest, hexKey[:pos])
			}
			dec, err := decodeNode(enc)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: node %v: %v", ErrBadProof, digest, err)
			}
			used[digest] = enc
			n = dec
		case *shortNode:
			if len(hexKey)-pos < len(cur.Key) || !bytes.Equal(cur.Key, hexKey[pos:pos+len(cur.Key)]) {
				return nil, used, nil
			}
			pos += len(cur.Key)
			n = cur.Val
		case *branchNode:
			n = cur.Children[hexKey[pos]]
			pos++
		default:
			panic(fmt.Sprintf("%T: invalid node: %v", n, n))
		}
	}
}
