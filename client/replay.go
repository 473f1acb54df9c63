// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package client re-executes one block from a program input alone. It does
// no I/O, reads no clock and runs on a single goroutine, so the same input
// always yields the same commitment or the same error.
package client

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

type State uint8

const (
	Unstarted State = iota
	TrieAssembled
	Replaying
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case TrieAssembled:
		return "trie-assembled"
	case Replaying:
		return "replaying"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var errWrongState = errors.New("replay step out of order")

// Replay drives the re-execution of one block through its states.
// Committed and Failed are final.
type Replay struct {
	input  *primitives.ProgramInput
	engine engine.Engine

	state      State
	err        error
	provider   *stateprovider.WitnessProvider
	result     *engine.Result
	commitment *primitives.Commitment
}

func NewReplay(input *primitives.ProgramInput, eng engine.Engine) *Replay {
	return &Replay{input: input, engine: eng}
}

func (r *Replay) State() State {
	return r.state
}

// Err is the reason of a Failed replay.
func (r *Replay) Err() error {
	return r.err
}

// Result holds the receipts of a Committed replay.
func (r *Replay) Result() *engine.Result {
	return r.result
}

func (r *Replay) Commitment() *primitives.Commitment {
	return r.commitment
}

func (r *Replay) fail(err error) error {
	r.state = Failed
	r.err = err
	log.Debug("replay failed", "block", r.input.Block.Header.Number, "err", err)
	return err
}

func (r *Replay) expect(state State) error {
	if r.state == Failed {
		return r.err
	}
	if r.state != state {
		return fmt.Errorf("%w: in state %v, want %v", errWrongState, r.state, state)
	}
	return nil
}

// AssembleTrie checks the block input against the witness and builds the
// partial state trie.
func (r *Replay) AssembleTrie() error {
	if err := r.expect(Unstarted); err != nil {
		return err
	}
	block := &r.input.Block
	witness := &r.input.Witness
	if err := block.Validate(); err != nil {
		return r.fail(err)
	}
	if witness.PriorRoot != block.PriorRoot {
		return r.fail(fmt.Errorf("%w: witness starts at %v, block at %v", primitives.ErrInvalidBlockInput, witness.PriorRoot, block.PriorRoot))
	}
	if witness.PostRoot != block.Header.Root {
		return r.fail(fmt.Errorf("%w: witness ends at %v, header root is %v", primitives.ErrInvalidBlockInput, witness.PostRoot, block.Header.Root))
	}
	if err := witness.CheckAncestors(block.Ancestors); err != nil {
		return r.fail(err)
	}
	provider, err := stateprovider.NewWitnessProvider(witness)
	if err != nil {
		return r.fail(err)
	}
	r.provider = provider
	r.state = TrieAssembled
	log.Trace("assembled partial trie", "block", block.Number(), "nodes", len(witness.Nodes), "codes", len(witness.Codes))
	return nil
}

// Execute replays the block on the assembled trie and checks the resulting
// root against the header.
func (r *Replay) Execute() error {
	if err := r.expect(TrieAssembled); err != nil {
		return err
	}
	r.state = Replaying
	block := &r.input.Block
	config, err := block.ChainID.ChainConfig()
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", primitives.ErrInvalidBlockInput, err))
	}
	env := engine.NewBlockEnv(config, block.Header, block.BlockHash)
	result, err := engine.ExecuteBlock(r.engine, env, block.Transactions, block.Withdrawals, r.provider)
	if err != nil {
		return r.fail(err)
	}
	root, err := r.provider.Commit()
	if err != nil {
		return r.fail(fmt.Errorf("committing block %d: %w", block.Number(), err))
	}
	if root != block.Header.Root {
		return r.fail(fmt.Errorf("%w: replay of block %d ends at %v, header root is %v", primitives.ErrRootMismatch, block.Number(), root, block.Header.Root))
	}
	r.result = result
	r.commitment = &primitives.Commitment{
		PriorRoot: block.PriorRoot,
		PostRoot:  root,
		BlockHash: block.Hash(),
	}
	r.state = Committed
	log.Debug("replayed block", "block", block.Number(), "txs", len(block.Transactions), "root", root)
	return nil
}

// Run takes a fresh replay through all steps.
func (r *Replay) Run() (*primitives.Commitment, error) {
	if err := r.AssembleTrie(); err != nil {
		return nil, err
	}
	if err := r.Execute(); err != nil {
		return nil, err
	}
	return r.commitment, nil
}

// Execute re-executes the block of input against its witness.
func Execute(input *primitives.ProgramInput, eng engine.Engine) (*primitives.Commitment, error) {
	return NewReplay(input, eng).Run()
}
