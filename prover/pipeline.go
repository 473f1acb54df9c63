// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/inputcache"
	"github.com/offchainlabs/blockproofs/primitives"
)

var (
	runTimer          = metrics.NewRegisteredTimer("prover/run/duration", nil)
	runFailedCounter  = metrics.NewRegisteredCounter("prover/run/failed", nil)
	cacheHitCounter   = metrics.NewRegisteredCounter("prover/inputcache/hit", nil)
	cacheMissCounter  = metrics.NewRegisteredCounter("prover/inputcache/miss", nil)
	mismatchesCounter = metrics.NewRegisteredCounter("prover/commitment/mismatch", nil)
)

// Preparer produces the program input of a block, as host.Host does.
type Preparer interface {
	Prepare(ctx context.Context, number uint64) (*primitives.Witness, *primitives.ProgramInput, error)
}

type Result struct {
	Number     uint64
	Mode       Mode
	Commitment primitives.Commitment
	// Proof is nil in execute mode.
	Proof   *Proof
	Cached  bool
	Elapsed time.Duration
}

// Pipeline proves one block at a time: prepare, replay locally, then hand
// the input to the backend and check that it agrees.
type Pipeline struct {
	preparer Preparer
	chainID  primitives.ChainID
	local    *LocalBackend
	backend  Backend
	cache    inputcache.Store
}

// NewPipeline wires the stages together. cache may be nil.
func NewPipeline(preparer Preparer, chainID primitives.ChainID, eng engine.Engine, backend Backend, cache inputcache.Store) *Pipeline {
	return &Pipeline{
		preparer: preparer,
		chainID:  chainID,
		local:    NewLocalBackend(eng),
		backend:  backend,
		cache:    cache,
	}
}

func (p *Pipeline) input(ctx context.Context, number uint64) (*primitives.ProgramInput, bool, error) {
	if p.cache != nil {
		input, err := p.cache.Get(ctx, p.chainID, number)
		if err == nil {
			cacheHitCounter.Inc(1)
			return input, true, nil
		}
		cacheMissCounter.Inc(1)
		if !errors.Is(err, inputcache.ErrNotFound) {
			log.Warn("failed to read program input cache", "block", number, "store", p.cache, "err", err)
		}
	}
	_, input, err := p.preparer.Prepare(ctx, number)
	if err != nil {
		return nil, false, err
	}
	if p.cache != nil {
		if err := p.cache.Put(ctx, p.chainID, number, input); err != nil {
			log.Warn("failed to cache program input", "block", number, "store", p.cache, "err", err)
		}
	}
	return input, false, nil
}

func expectedCommitment(input *primitives.ProgramInput) primitives.Commitment {
	return primitives.Commitment{
		PriorRoot: input.Block.PriorRoot,
		PostRoot:  input.Block.Header.Root,
		BlockHash: input.Block.Hash(),
	}
}

func checkCommitment(source string, expected primitives.Commitment, got *primitives.Commitment) error {
	if *got != expected {
		mismatchesCounter.Inc(1)
		return fmt.Errorf("%w: %s reports %v, expected %v", primitives.ErrCommitmentMismatch, source, got, &expected)
	}
	return nil
}

// Run proves block number. In execute mode the backend only runs the guest.
func (p *Pipeline) Run(ctx context.Context, number uint64, mode Mode) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx, number, mode)
	if err != nil {
		runFailedCounter.Inc(1)
		return nil, fmt.Errorf("block %d: %w", number, err)
	}
	res.Elapsed = time.Since(start)
	runTimer.Update(res.Elapsed)
	log.Info("block done", "number", number, "mode", mode, "cached", res.Cached, "post", res.Commitment.PostRoot, "elapsed", res.Elapsed)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, number uint64, mode Mode) (*Result, error) {
	input, cached, err := p.input(ctx, number)
	if err != nil {
		return nil, err
	}
	if input.Block.Number() != number || input.Block.ChainID != p.chainID {
		return nil, fmt.Errorf("%w: input is for block %d of chain %v", primitives.ErrInvalidBlockInput, input.Block.Number(), input.Block.ChainID)
	}
	expected := expectedCommitment(input)
	local, err := p.local.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("local replay: %w", err)
	}
	if err := checkCommitment("local replay", expected, local); err != nil {
		return nil, err
	}
	res := &Result{Number: number, Mode: mode, Commitment: expected, Cached: cached}
	switch mode {
	case ModeExecute:
		commitment, err := p.backend.Execute(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("backend execution: %w", err)
		}
		if err := checkCommitment("backend", expected, commitment); err != nil {
			return nil, err
		}
	case ModeProve:
		proof, err := p.backend.Prove(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("backend proof: %w", err)
		}
		if err := checkCommitment("proof", expected, &proof.Commitment); err != nil {
			return nil, err
		}
		res.Proof = proof
	default:
		return nil, fmt.Errorf("unknown mode %v", mode)
	}
	return res, nil
}
