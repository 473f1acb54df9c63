// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CommitmentSize is the length of an encoded commitment.
const CommitmentSize = 3 * common.HashLength

// Commitment is the public statement a proof attests to: executing the block
// with hash BlockHash on state PriorRoot yields state PostRoot.
type Commitment struct {
	PriorRoot common.Hash
	PostRoot  common.Hash
	BlockHash common.Hash
}

// Encode returns prior root, post root and block hash concatenated.
func (c *Commitment) Encode() []byte {
	buf := make([]byte, 0, CommitmentSize)
	buf = append(buf, c.PriorRoot.Bytes()...)
	buf = append(buf, c.PostRoot.Bytes()...)
	return append(buf, c.BlockHash.Bytes()...)
}

func DecodeCommitment(data []byte) (*Commitment, error) {
	if len(data) != CommitmentSize {
		return nil, fmt.Errorf("commitment must be %d bytes, got %d", CommitmentSize, len(data))
	}
	return &Commitment{
		PriorRoot: common.BytesToHash(data[:32]),
		PostRoot:  common.BytesToHash(data[32:64]),
		BlockHash: common.BytesToHash(data[64:]),
	}, nil
}

func (c *Commitment) String() string {
	return fmt.Sprintf("Commitment(prior:%v post:%v block:%v)", c.PriorRoot, c.PostRoot, c.BlockHash)
}
