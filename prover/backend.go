// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package prover hands prepared program inputs to a proving backend and
// checks what comes back against a local replay.
package prover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/offchainlabs/blockproofs/client"
	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/primitives"
)

var ErrProvingUnsupported = errors.New("backend cannot produce proofs")

type Mode uint8

const (
	ModeExecute Mode = iota
	ModeProve
)

func (m Mode) String() string {
	switch m {
	case ModeExecute:
		return "execute"
	case ModeProve:
		return "prove"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "execute":
		return ModeExecute, nil
	case "prove":
		return ModeProve, nil
	default:
		return 0, fmt.Errorf("unknown mode %q, want execute or prove", s)
	}
}

// Proof is what a backend returns for one block. Commitment holds the
// public outputs the proof attests to.
type Proof struct {
	Commitment primitives.Commitment
	Data       []byte
	Cycles     uint64
	Elapsed    time.Duration
}

type Backend interface {
	// Execute runs the guest program without proving.
	Execute(ctx context.Context, input *primitives.ProgramInput) (*primitives.Commitment, error)
	Prove(ctx context.Context, input *primitives.ProgramInput) (*Proof, error)
}

// LocalBackend runs the client in-process.
type LocalBackend struct {
	engine engine.Engine
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(eng engine.Engine) *LocalBackend {
	return &LocalBackend{engine: eng}
}

func (b *LocalBackend) Execute(ctx context.Context, input *primitives.ProgramInput) (*primitives.Commitment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cpy := &primitives.ProgramInput{Block: input.Block, Witness: *input.Witness.Copy()}
	return client.Execute(cpy, b.engine)
}

func (b *LocalBackend) Prove(context.Context, *primitives.ProgramInput) (*Proof, error) {
	return nil, ErrProvingUnsupported
}
