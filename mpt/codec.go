// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var emptyString = []byte{0x80}

// encodeNode returns the canonical RLP encoding of a resolved node.
func encodeNode(n node) []byte {
	switch n := n.(type) {
	case *shortNode:
		if n.flags.enc != nil {
			return n.flags.enc
		}
		var val rlp.RawValue
		if v, ok := n.Val.(valueNode); ok {
			val = encodeString(v)
		} else {
			val = nodeRef(n.Val)
		}
		enc, err := rlp.EncodeToBytes([]rlp.RawValue{encodeString(hexToCompact(n.Key)), val})
		if err != nil {
			panic(fmt.Sprintf("encoding short node: %v", err))
		}
		n.flags.enc = enc
		return enc
	case *branchNode:
		if n.flags.enc != nil {
			return n.flags.enc
		}
		items := make([]rlp.RawValue, 17)
		for i := 0; i < 16; i++ {
			items[i] = nodeRef(n.Children[i])
		}
		if v, ok := n.Children[16].(valueNode); ok {
			items[16] = encodeString(v)
		} else {
			items[16] = emptyString
		}
		enc, err := rlp.EncodeToBytes(items)
		if err != nil {
			panic(fmt.Sprintf("encoding branch node: %v", err))
		}
		n.flags.enc = enc
		return enc
	default:
		panic(fmt.Sprintf("%T is not an encodable node", n))
	}
}

// nodeRef returns the RLP item a parent stores for its child: the child's own
// encoding when shorter than 32 bytes, its digest otherwise.
func nodeRef(n node) rlp.RawValue {
	switch n := n.(type) {
	case nil:
		return emptyString
	case hashNode:
		return encodeString(n[:])
	case valueNode:
		return encodeString(n)
	default:
		enc := encodeNode(n)
		if len(enc) < 32 {
			return enc
		}
		return encodeString(nodeHash(n).Bytes())
	}
}

// nodeHash returns the keccak256 digest of a resolved node's encoding.
func nodeHash(n node) common.Hash {
	switch n := n.(type) {
	case hashNode:
		return common.Hash(n)
	case *shortNode:
		if n.flags.hash == nil {
			h := crypto.Keccak256Hash(encodeNode(n))
			n.flags.hash = &h
		}
		return *n.flags.hash
	case *branchNode:
		if n.flags.hash == nil {
			h := crypto.Keccak256Hash(encodeNode(n))
			n.flags.hash = &h
		}
		return *n.flags.hash
	default:
		panic(fmt.Sprintf("%T has no digest", n))
	}
}

func encodeString(b []byte) []byte {
	enc, err := rlp.EncodeToBytes(b)
	if err != nil {
		panic(err)
	}
	return enc
}

var errInvalidNode = errors.New("invalid trie node encoding")

// decodeNode parses an RLP encoded node. Child references stay hashNodes.
func decodeNode(buf []byte) (node, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", errInvalidNode)
	}
	elems, rest, err := rlp.SplitList(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidNode, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", errInvalidNode, len(rest))
	}
	switch c, _ := rlp.CountValues(elems); c {
	case 2:
		return decodeShort(elems)
	case 17:
		return decodeBranch(elems)
	default:
		return nil, fmt.Errorf("%w: %d list elements", errInvalidNode, c)
	}
}

func decodeShort(elems []byte) (node, error) {
	kbuf, rest, err := rlp.SplitString(elems)
	if err != nil {
		return nil, err
	}
	if !validCompact(kbuf) {
		return nil, fmt.Errorf("%w: bad compact key %x", errInvalidNode, kbuf)
	}
	key := compactToHex(kbuf)
	if hasTerm(key) {
		val, _, err := rlp.SplitString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: leaf value: %v", errInvalidNode, err)
		}
		return &shortNode{Key: key, Val: valueNode(val)}, nil
	}
	r, _, err := decodeRef(rest)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: extension without child", errInvalidNode)
	}
	return &shortNode{Key: key, Val: r}, nil
}

func decodeBranch(elems []byte) (*branchNode, error) {
	n := &branchNode{}
	for i := 0; i < 16; i++ {
		cld, rest, err := decodeRef(elems)
		if err != nil {
			return n, fmt.Errorf("branch child %d: %w", i, err)
		}
		n.Children[i], elems = cld, rest
	}
	val, _, err := rlp.SplitString(elems)
	if err != nil {
		return n, fmt.Errorf("%w: branch value: %v", errInvalidNode, err)
	}
	if len(val) > 0 {
		n.Children[16] = valueNode(val)
	}
	return n, nil
}

const hashLen = len(common.Hash{})

func decodeRef(buf []byte) (node, []byte, error) {
	kind, val, rest, err := rlp.Split(buf)
	if err != nil {
		return nil, buf, err
	}
	switch {
	case kind == rlp.List:
		// embedded node, must be smaller than a digest
		if size := len(buf) - len(rest); size > hashLen {
			return nil, buf, fmt.Errorf("%w: oversized embedded node (size is %d bytes, want size < %d)", errInvalidNode, size, hashLen)
		}
		n, err := decodeNode(buf[:len(buf)-len(rest)])
		return n, rest, err
	case kind == rlp.String && len(val) == 0:
		return nil, rest, nil
	case kind == rlp.String && len(val) == 32:
		return hashNode(common.BytesToHash(val)), rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: invalid RLP string size %d (want 0 or 32)", errInvalidNode, len(val))
	}
}
