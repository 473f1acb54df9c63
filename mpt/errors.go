// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package mpt

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrIncompleteWitness is returned by Build when the root node is not part of the node set.
	ErrIncompleteWitness = errors.New("incomplete witness")
	// ErrMissingWitnessData is returned when a read reaches a node that was never recorded.
	ErrMissingWitnessData = errors.New("missing witness data")
	// ErrRootMismatch is returned when assembled nodes do not reproduce the expected digest.
	ErrRootMismatch = errors.New("root mismatch")
	// ErrUnresolvedBoundary is returned when a write needs the content of an unrecorded node.
	ErrUnresolvedBoundary = errors.New("unresolved trie boundary")
)

// MissingNodeError reports which node could not be resolved and where it sits.
// Err is one of ErrIncompleteWitness, ErrMissingWitnessData or ErrUnresolvedBoundary.
type MissingNodeError struct {
	Owner common.Hash // hashed address of the storage trie owner, zero for the account trie
	Path  []byte      // hex encoded path from the root to the node
	Hash  common.Hash
	Err   error
}

func (e *MissingNodeError) Error() string {
	if e.Owner == (common.Hash{}) {
		return fmt.Sprintf("%v: node %v at path %x", e.Err, e.Hash, e.Path)
	}
	return fmt.Sprintf("%v: node %v at path %x in storage trie %v", e.Err, e.Hash, e.Path, e.Owner)
}

func (e *MissingNodeError) Unwrap() error {
	return e.Err
}

func missingNode(path []byte, hash hashNode, kind error) *MissingNodeError {
	return &MissingNodeError{
		Path: common.CopyBytes(path),
		Hash: common.Hash(hash),
		Err:  kind,
	}
}
