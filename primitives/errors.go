// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"errors"

	"github.com/offchainlabs/blockproofs/mpt"
)

// Every failure of a proof attempt is one of these kinds. Callers classify
// with errors.Is; none of them is ever replaced by a default value.
var (
	// ErrRemoteQueryFailure is returned once the retry budget for a remote call is spent.
	ErrRemoteQueryFailure = errors.New("remote query failure")
	// ErrHostExecutionDivergence means the recorded replay disagrees with the chain. Never retried.
	ErrHostExecutionDivergence = errors.New("host execution divergence")
	// ErrInvalidBlockInput means the block's transactions, withdrawals or ancestors do not match its header.
	ErrInvalidBlockInput = errors.New("invalid block input")
	// ErrCommitmentMismatch means two executions of the same input produced different commitments.
	ErrCommitmentMismatch = errors.New("commitment mismatch")

	ErrIncompleteWitness  = mpt.ErrIncompleteWitness
	ErrMissingWitnessData = mpt.ErrMissingWitnessData
	ErrRootMismatch       = mpt.ErrRootMismatch
	ErrUnresolvedBoundary = mpt.ErrUnresolvedBoundary
)

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrRemoteQueryFailure,
		ErrHostExecutionDivergence,
		ErrInvalidBlockInput,
		ErrCommitmentMismatch,
		ErrIncompleteWitness,
		ErrMissingWitnessData,
		ErrRootMismatch,
		ErrUnresolvedBoundary,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
