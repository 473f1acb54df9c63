// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package prover

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/host"
	"github.com/offchainlabs/blockproofs/inputcache"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/chaintest"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

type countingPreparer struct {
	host  *host.Host
	calls atomic.Int32
}

func (p *countingPreparer) Prepare(ctx context.Context, number uint64) (*primitives.Witness, *primitives.ProgramInput, error) {
	p.calls.Add(1)
	return p.host.Prepare(ctx, number)
}

func newPreparer(t *testing.T) (*chaintest.Chain, *countingPreparer) {
	t.Helper()
	aliceKey, alice := chaintest.Key(t, 1)
	chain := chaintest.New(t, transfer.New(), chaintest.Alloc{alice: chaintest.Funded(10)})
	for nonce := uint64(0); nonce < 2; nonce++ {
		chain.Mine(t, types.Transactions{chain.Transfer(t, aliceKey, nonce, common.HexToAddress("0xb0b"), big.NewInt(params.GWei))}, nil)
	}
	config := host.TestConfig
	h, err := host.New(context.Background(), func() *host.Config { return &config }, chain, transfer.New())
	Require(t, err)
	return chain, &countingPreparer{host: h}
}

type wrongBackend struct {
	LocalBackend
}

func (b *wrongBackend) Execute(ctx context.Context, input *primitives.ProgramInput) (*primitives.Commitment, error) {
	c, err := b.LocalBackend.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	c.PostRoot[0] ^= 1
	return c, nil
}

func (b *wrongBackend) Prove(ctx context.Context, input *primitives.ProgramInput) (*Proof, error) {
	c, err := b.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	return &Proof{Commitment: *c, Data: []byte{1}}, nil
}

func TestPipelineExecute(t *testing.T) {
	chain, preparer := newPreparer(t)
	p := NewPipeline(preparer, chain.ID(), transfer.New(), NewLocalBackend(transfer.New()), nil)

	res, err := p.Run(context.Background(), 2, ModeExecute)
	Require(t, err)
	require.Equal(t, chain.Block(2).Root(), res.Commitment.PostRoot)
	require.Equal(t, chain.Block(1).Root(), res.Commitment.PriorRoot)
	require.Equal(t, chain.Block(2).Hash(), res.Commitment.BlockHash)
	require.Nil(t, res.Proof)
	require.False(t, res.Cached)

	_, err = p.Run(context.Background(), 2, ModeProve)
	require.ErrorIs(t, err, ErrProvingUnsupported)
}

func TestPipelineDetectsBackendMismatch(t *testing.T) {
	chain, preparer := newPreparer(t)
	p := NewPipeline(preparer, chain.ID(), transfer.New(), &wrongBackend{*NewLocalBackend(transfer.New())}, nil)
	_, err := p.Run(context.Background(), 1, ModeExecute)
	require.ErrorIs(t, err, primitives.ErrCommitmentMismatch)
	_, err = p.Run(context.Background(), 1, ModeProve)
	require.ErrorIs(t, err, primitives.ErrCommitmentMismatch)
}

func TestPipelineUsesInputCache(t *testing.T) {
	chain, preparer := newPreparer(t)
	cache, err := inputcache.NewDirStore(t.TempDir(), brotli.BestSpeed)
	Require(t, err)
	p := NewPipeline(preparer, chain.ID(), transfer.New(), NewLocalBackend(transfer.New()), cache)

	first, err := p.Run(context.Background(), 1, ModeExecute)
	Require(t, err)
	second, err := p.Run(context.Background(), 1, ModeExecute)
	Require(t, err)
	require.False(t, first.Cached)
	require.True(t, second.Cached)
	require.Equal(t, first.Commitment, second.Commitment)
	require.Equal(t, int32(1), preparer.calls.Load())

	// an input cached under the wrong number is refused
	input, err := cache.Get(context.Background(), chain.ID(), 1)
	Require(t, err)
	Require(t, cache.Put(context.Background(), chain.ID(), 2, input))
	_, err = p.Run(context.Background(), 2, ModeExecute)
	require.ErrorIs(t, err, primitives.ErrInvalidBlockInput)
}

func TestPipelineReportsHostFailure(t *testing.T) {
	chain, preparer := newPreparer(t)
	p := NewPipeline(preparer, chain.ID(), transfer.New(), NewLocalBackend(transfer.New()), nil)
	_, err := p.Run(context.Background(), 10, ModeExecute)
	require.ErrorIs(t, err, primitives.ErrRemoteQueryFailure)
}

func TestLocalBackendHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalBackend(transfer.New()).Execute(ctx, &primitives.ProgramInput{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	for _, mode := range []Mode{ModeExecute, ModeProve} {
		parsed, err := ParseMode(mode.String())
		Require(t, err)
		require.Equal(t, mode, parsed)
	}
	_, err := ParseMode("verify")
	require.Error(t, err)
}

func TestWireFrames(t *testing.T) {
	var buf bytes.Buffer
	w := wire{rw: &buf}
	Require(t, w.writeRequest(ModeProve, []byte("input")))
	mode, input, err := w.readRequest()
	Require(t, err)
	require.Equal(t, ModeProve, mode)
	require.Equal(t, []byte("input"), input)

	proof := &Proof{
		Commitment: primitives.Commitment{PriorRoot: common.Hash{1}, PostRoot: common.Hash{2}, BlockHash: common.Hash{3}},
		Data:       []byte{0xde, 0xad},
		Cycles:     12345,
	}
	Require(t, w.writeProof(proof))
	got, err := w.readResult()
	Require(t, err)
	require.Equal(t, proof, got)

	Require(t, w.writeFailure("out of gas"))
	_, err = w.readResult()
	var guestErr *GuestError
	require.True(t, errors.As(err, &guestErr))
	require.Equal(t, "out of gas", guestErr.Message)

	buf.Reset()
	Require(t, w.writeUint8(7))
	_, err = w.readResult()
	require.Error(t, err)

	buf.Reset()
	Require(t, w.writeUint8(uint8(ModeExecute)))
	Require(t, w.writeUint64(maxFrameSize+1))
	_, _, err = w.readRequest()
	require.Error(t, err)
}

const guestEnv = "BLOCKPROOFS_TEST_GUEST"

// testGuest executes like ReplayGuest and answers proof requests with a
// placeholder proof.
func testGuest() GuestHandler {
	replay := ReplayGuest(transfer.New())
	return func(ctx context.Context, mode Mode, input *primitives.ProgramInput) (*Proof, error) {
		proof, err := replay(ctx, ModeExecute, input)
		if err != nil || mode == ModeExecute {
			return proof, err
		}
		proof.Data = []byte("proof")
		proof.Cycles = uint64(len(input.Block.Transactions))
		return proof, nil
	}
}

func TestGuestProcess(t *testing.T) {
	if os.Getenv(guestEnv) != "1" {
		t.Skip("only runs as the guest of TestExternalBackend")
	}
	if err := ServeGuest(context.Background(), os.Stdin, testGuest()); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestExternalBackend(t *testing.T) {
	t.Setenv(guestEnv, "1")
	chain, preparer := newPreparer(t)
	config := ExternalConfig{
		Binary:  os.Args[0],
		Args:    []string{"-test.run=^TestGuestProcess$"},
		Timeout: time.Minute,
	}
	fatal := make(chan error, 1)
	backend := NewExternalBackend(func() *ExternalConfig { return &config }, fatal)
	Require(t, backend.Start(context.Background()))
	defer backend.StopAndWait()

	p := NewPipeline(preparer, chain.ID(), transfer.New(), backend, nil)
	res, err := p.Run(context.Background(), 2, ModeExecute)
	Require(t, err)
	require.Equal(t, chain.Block(2).Root(), res.Commitment.PostRoot)

	res, err = p.Run(context.Background(), 1, ModeProve)
	Require(t, err)
	require.Equal(t, []byte("proof"), res.Proof.Data)
	require.Equal(t, uint64(1), res.Proof.Cycles)
	require.Equal(t, chain.Block(1).Root(), res.Proof.Commitment.PostRoot)

	// the guest reports its own failures
	_, input, err := preparer.Prepare(context.Background(), 2)
	Require(t, err)
	input.Witness.PostRoot = common.Hash{}
	_, err = backend.Execute(context.Background(), input)
	var guestErr *GuestError
	require.True(t, errors.As(err, &guestErr))

	select {
	case err := <-fatal:
		t.Fatal("guest exited", err)
	default:
	}
}

func TestExternalConfig(t *testing.T) {
	config := DefaultExternalConfig
	Require(t, config.Validate())
	config.Binary = "guest"
	config.Timeout = 0
	require.Error(t, config.Validate())
	backend := NewExternalBackend(func() *ExternalConfig { return &DefaultExternalConfig }, make(chan error, 1))
	require.Error(t, backend.Start(context.Background()))
	_, err := backend.Execute(context.Background(), &primitives.ProgramInput{})
	require.Error(t, err)
}
