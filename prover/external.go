// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package prover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/offchainlabs/blockproofs/primitives"
)

var (
	proveTimer       = metrics.NewRegisteredTimer("prover/duration", nil)
	guestFailCounter = metrics.NewRegisteredCounter("prover/guest/failed", nil)
	proofSizeHist    = metrics.NewRegisteredHistogram("prover/proof/size", nil, metrics.NewExpDecaySample(1028, 0.015))
)

type ExternalConfig struct {
	Binary  string        `koanf:"binary"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
}

type ExternalConfigFetcher func() *ExternalConfig

var DefaultExternalConfig = ExternalConfig{
	Binary:  "",
	Args:    []string{},
	Timeout: time.Hour,
}

func ExternalConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".binary", DefaultExternalConfig.Binary, "guest binary that serves program inputs announced on its stdin (empty runs the client in-process)")
	f.StringSlice(prefix+".args", DefaultExternalConfig.Args, "extra arguments passed to the guest binary")
	f.Duration(prefix+".timeout", DefaultExternalConfig.Timeout, "time limit for one execution or proof")
}

func (c *ExternalConfig) Validate() error {
	if c.Binary != "" && c.Timeout <= 0 {
		return fmt.Errorf("prover timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// ExternalBackend drives a long running guest process. For every request it
// opens a loopback listener, announces the address on the guest's stdin and
// exchanges one request and one result over the accepted connection.
type ExternalBackend struct {
	config  ExternalConfigFetcher
	fatal   chan<- error
	process *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}

	mutex    sync.Mutex
	stopping atomic.Bool
}

var _ Backend = (*ExternalBackend)(nil)

// NewExternalBackend prepares the backend. The guest exiting unexpectedly is
// reported on fatalErrChan.
func NewExternalBackend(config ExternalConfigFetcher, fatalErrChan chan<- error) *ExternalBackend {
	return &ExternalBackend{config: config, fatal: fatalErrChan}
}

func (b *ExternalBackend) Start(ctx context.Context) error {
	config := b.config()
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Binary == "" {
		return errors.New("no guest binary configured")
	}
	process := exec.Command(config.Binary, config.Args...) // #nosec G204
	stdin, err := process.StdinPipe()
	if err != nil {
		return err
	}
	process.Stdout = os.Stdout
	process.Stderr = os.Stderr
	if err := process.Start(); err != nil {
		return fmt.Errorf("starting guest %v: %w", config.Binary, err)
	}
	b.process = process
	b.stdin = stdin
	b.exited = make(chan struct{})
	go func() {
		err := process.Wait()
		close(b.exited)
		if b.stopping.Load() {
			return
		}
		if err == nil {
			err = errors.New("exited")
		}
		b.fatal <- fmt.Errorf("lost guest process: %w", err)
	}()
	log.Info("started guest process", "binary", config.Binary, "pid", process.Process.Pid)
	return nil
}

// StopAndWait asks the guest to exit with an empty line and waits until it
// has.
func (b *ExternalBackend) StopAndWait() {
	if b.process == nil {
		return
	}
	b.stopping.Store(true)
	if _, err := b.stdin.Write([]byte("\n")); err != nil {
		log.Error("error closing guest process", "err", err)
	}
	if err := b.stdin.Close(); err != nil {
		log.Warn("error closing guest stdin", "err", err)
	}
	<-b.exited
}

func (b *ExternalBackend) Execute(ctx context.Context, input *primitives.ProgramInput) (*primitives.Commitment, error) {
	proof, err := b.request(ctx, ModeExecute, input)
	if err != nil {
		return nil, err
	}
	return &proof.Commitment, nil
}

func (b *ExternalBackend) Prove(ctx context.Context, input *primitives.ProgramInput) (*Proof, error) {
	proof, err := b.request(ctx, ModeProve, input)
	if err != nil {
		return nil, err
	}
	proofSizeHist.Update(int64(len(proof.Data)))
	return proof, nil
}

func (b *ExternalBackend) request(ctxIn context.Context, mode Mode, input *primitives.ProgramInput) (*Proof, error) {
	if b.process == nil {
		return nil, errors.New("guest process not started")
	}
	enc, err := input.Encode()
	if err != nil {
		return nil, err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ctx, cancel := context.WithCancel(ctxIn)
	defer cancel()
	start := time.Now()
	deadline := start.Add(b.config().Timeout)

	tcp, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: []byte{127, 0, 0, 1}})
	if err != nil {
		return nil, err
	}
	if err := tcp.SetDeadline(deadline); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		if err := tcp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("error closing guest listener", "err", err)
		}
	}()

	if _, err := fmt.Fprintf(b.stdin, "%v\n", tcp.Addr().String()); err != nil {
		return nil, err
	}
	conn, err := tcp.Accept()
	if err != nil {
		return nil, fmt.Errorf("error waiting for guest to connect: %w", err)
	}
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("error closing guest connection", "err", err)
		}
	}()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	w := wire{rw: conn}
	if err := w.writeRequest(mode, enc); err != nil {
		return nil, err
	}
	proof, err := w.readResult()
	if err != nil {
		var guestErr *GuestError
		if errors.As(err, &guestErr) {
			guestFailCounter.Inc(1)
			log.Error("guest failure", "block", input.Block.Number(), "mode", mode, "message", guestErr.Message)
		}
		if ctxErr := ctxIn.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	proof.Elapsed = time.Since(start)
	proveTimer.Update(proof.Elapsed)
	log.Info("guest finished", "block", input.Block.Number(), "mode", mode, "cycles", proof.Cycles, "proof", len(proof.Data), "elapsed", proof.Elapsed)
	return proof, nil
}
