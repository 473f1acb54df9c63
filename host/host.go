// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package host prepares the program input of a block. It replays the block
// against a remote node through a recording state provider, checks that the
// replay reaches the root the chain reports, and packages the block with
// the witness recorded along the way.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/client"
	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

var (
	prepareTimer         = metrics.NewRegisteredTimer("host/prepare/duration", nil)
	prepareFailedCounter = metrics.NewRegisteredCounter("host/prepare/failed", nil)
	witnessNodesHist     = metrics.NewRegisteredHistogram("host/witness/nodes", nil, metrics.NewExpDecaySample(1028, 0.015))
	witnessCodesHist     = metrics.NewRegisteredHistogram("host/witness/codes", nil, metrics.NewExpDecaySample(1028, 0.015))
)

// DivergenceError means the host's own replay does not reach the state
// root the chain reports for the block.
type DivergenceError struct {
	Number   uint64
	Expected common.Hash
	Got      common.Hash
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%v: block %d replays to root %v, chain reports %v", primitives.ErrHostExecutionDivergence, e.Number, e.Got, e.Expected)
}

func (e *DivergenceError) Unwrap() error {
	return primitives.ErrHostExecutionDivergence
}

type Host struct {
	config      ConfigFetcher
	remote      remote.Remote
	engine      engine.Engine
	chainID     primitives.ChainID
	chainConfig *params.ChainConfig
}

// New asks the remote for its chain id and fails for chains without a
// known fork configuration.
func New(ctx context.Context, config ConfigFetcher, r remote.Remote, eng engine.Engine) (*Host, error) {
	if err := config().Validate(); err != nil {
		return nil, err
	}
	id, err := r.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying chain id: %w", err)
	}
	chainID := primitives.ChainID(id)
	chainConfig, err := chainID.ChainConfig()
	if err != nil {
		return nil, err
	}
	return &Host{
		config:      config,
		remote:      r,
		engine:      eng,
		chainID:     chainID,
		chainConfig: chainConfig,
	}, nil
}

func (h *Host) ChainID() primitives.ChainID {
	return h.chainID
}

// Prepare fetches block number and its parent and prepares its program input.
func (h *Host) Prepare(ctx context.Context, number uint64) (*primitives.Witness, *primitives.ProgramInput, error) {
	if number == 0 {
		return nil, nil, fmt.Errorf("%w: the genesis block has no parent state", primitives.ErrInvalidBlockInput)
	}
	block, err := h.remote.BlockByNumber(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching block %d: %w", number, err)
	}
	parent, err := h.remote.HeaderByNumber(ctx, number-1)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching parent of block %d: %w", number, err)
	}
	input := primitives.NewBlockInput(h.chainID, block, []*types.Header{parent})
	return h.PrepareInput(ctx, input)
}

// PrepareInput prepares the program input of an already fetched block.
// input must hold at least the parent header.
func (h *Host) PrepareInput(ctx context.Context, input *primitives.BlockInput) (*primitives.Witness, *primitives.ProgramInput, error) {
	start := time.Now()
	witness, program, err := h.prepare(ctx, input)
	if err != nil {
		prepareFailedCounter.Inc(1)
		if input.Header != nil {
			log.Warn("failed to prepare block", "number", input.Header.Number, "kind", primitives.Kind(err), "err", err)
		}
		return nil, nil, err
	}
	prepareTimer.UpdateSince(start)
	witnessNodesHist.Update(int64(len(witness.Nodes)))
	witnessCodesHist.Update(int64(len(witness.Codes)))
	log.Info("prepared block", "number", input.Number(), "txs", len(input.Transactions), "nodes", len(witness.Nodes), "codes", len(witness.Codes), "ancestors", len(program.Block.Ancestors), "elapsed", time.Since(start))
	return witness, program, nil
}

func (h *Host) prepare(ctx context.Context, input *primitives.BlockInput) (*primitives.Witness, *primitives.ProgramInput, error) {
	config := h.config()
	if input.ChainID != h.chainID {
		return nil, nil, fmt.Errorf("%w: block of chain %v on a host for %v", primitives.ErrInvalidBlockInput, input.ChainID, h.chainID)
	}
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}
	header := input.Header
	number := input.Number()

	acc := stateprovider.NewAccumulator()
	provider := stateprovider.NewRecordingProvider(ctx, &config.Recording, h.remote, stateprovider.BlockRef{
		Number:    number,
		PriorRoot: input.PriorRoot,
		PostRoot:  header.Root,
	}, acc)
	ancestors := newLookback(ctx, h.remote, acc, input, config.MaxLookback)
	env := engine.NewBlockEnv(h.chainConfig, header, ancestors.Hash)

	if config.Prefetch {
		if err := provider.Prefetch(accessKeys(env.Signer, input)); err != nil {
			return nil, nil, fmt.Errorf("prefetching block %d: %w", number, err)
		}
	}
	// The client assembles the account trie even when the block reads nothing.
	if _, err := provider.Account(header.Coinbase); err != nil {
		return nil, nil, fmt.Errorf("reading coinbase of block %d: %w", number, err)
	}
	if _, err := engine.ExecuteBlock(h.engine, env, input.Transactions, input.Withdrawals, provider); err != nil {
		if errors.Is(err, engine.ErrBlockMismatch) {
			return nil, nil, fmt.Errorf("%w: %w", primitives.ErrHostExecutionDivergence, err)
		}
		return nil, nil, err
	}
	root, err := provider.Commit()
	if err != nil {
		return nil, nil, fmt.Errorf("committing block %d: %w", number, err)
	}
	if root != header.Root {
		return nil, nil, &DivergenceError{Number: number, Expected: header.Root, Got: root}
	}
	canonical, err := h.remote.StateRoot(ctx, number)
	if err != nil {
		return nil, nil, fmt.Errorf("state root of block %d: %w", number, err)
	}
	if canonical != root {
		return nil, nil, &DivergenceError{Number: number, Expected: canonical, Got: root}
	}

	witness := acc.Freeze(input.PriorRoot, header.Root)
	block := *input
	block.Ancestors = ancestors.Ancestors()
	program := &primitives.ProgramInput{Block: block, Witness: *witness}

	if config.SelfValidate {
		if err := h.selfValidate(program); err != nil {
			return nil, nil, fmt.Errorf("self-validation of block %d: %w", number, err)
		}
	}
	return witness, program, nil
}

// selfValidate runs the client on a copy of the packaged input, so that a
// witness that would fail in the prover fails here instead.
func (h *Host) selfValidate(program *primitives.ProgramInput) error {
	witness := &program.Witness
	if _, err := mpt.Build(witness.PriorRoot, witness.Nodes); err != nil {
		return err
	}
	cpy := &primitives.ProgramInput{Block: program.Block, Witness: *witness.Copy()}
	commitment, err := client.Execute(cpy, h.engine)
	if err != nil {
		return err
	}
	if commitment.PostRoot != program.Block.Header.Root {
		return fmt.Errorf("%w: client ends at %v, header root is %v", primitives.ErrRootMismatch, commitment.PostRoot, program.Block.Header.Root)
	}
	return nil
}

// accessKeys lists the accounts a block touches for sure.
func accessKeys(signer types.Signer, input *primitives.BlockInput) []stateprovider.AccessKey {
	seen := make(map[common.Address]bool)
	var keys []stateprovider.AccessKey
	add := func(addr common.Address) {
		if !seen[addr] {
			seen[addr] = true
			keys = append(keys, stateprovider.AccessKey{Address: addr})
		}
	}
	add(input.Header.Coinbase)
	for _, tx := range input.Transactions {
		// invalid signatures are reported by the engine
		if from, err := types.Sender(signer, tx); err == nil {
			add(from)
		}
		if to := tx.To(); to != nil {
			add(*to)
		}
	}
	for _, w := range input.Withdrawals {
		add(w.Address)
	}
	return keys
}
