// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package watcher follows the chain head and proves every block whose number
// is a multiple of the configured interval.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/offchainlabs/blockproofs/ethproofs"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/prover"
	"github.com/offchainlabs/blockproofs/util/stopwaiter"
)

var (
	headsCounter    = metrics.NewRegisteredCounter("watcher/heads", nil)
	droppedCounter  = metrics.NewRegisteredCounter("watcher/dropped", nil)
	provenCounter   = metrics.NewRegisteredCounter("watcher/proven", nil)
	failuresCounter = metrics.NewRegisteredCounter("watcher/failed", nil)
)

type Config struct {
	Interval         uint64        `koanf:"interval"`
	SettleDelay      time.Duration `koanf:"settle-delay"`
	QueueSize        int           `koanf:"queue-size"`
	ResubscribeDelay time.Duration `koanf:"resubscribe-delay"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Interval:         100,
	SettleDelay:      time.Second,
	QueueSize:        16,
	ResubscribeDelay: 5 * time.Second,
}

var TestConfig = Config{
	Interval:         1,
	SettleDelay:      0,
	QueueSize:        16,
	ResubscribeDelay: 10 * time.Millisecond,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".interval", DefaultConfig.Interval, "prove blocks whose number is a multiple of this interval")
	f.Duration(prefix+".settle-delay", DefaultConfig.SettleDelay, "wait after a new head before querying it over http")
	f.Int(prefix+".queue-size", DefaultConfig.QueueSize, "blocks waiting to be proven before new heads are dropped")
	f.Duration(prefix+".resubscribe-delay", DefaultConfig.ResubscribeDelay, "wait before resubscribing after the head subscription failed")
}

func (c *Config) Validate() error {
	if c.Interval == 0 {
		return errors.New("watcher interval must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("watcher queue size must be positive, got %d", c.QueueSize)
	}
	if c.SettleDelay < 0 || c.ResubscribeDelay < 0 {
		return errors.New("watcher delays must not be negative")
	}
	return nil
}

// HeadSubscriber is satisfied by *remote.Client and *ethclient.Client.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Runner proves one block; *prover.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, number uint64, mode prover.Mode) (*prover.Result, error)
}

type Watcher struct {
	stopwaiter.StopWaiter
	config   ConfigFetcher
	heads    HeadSubscriber
	runner   Runner
	mode     prover.Mode
	reporter *ethproofs.Reporter
	alerter  *ethproofs.Alerter

	queue      chan uint64
	lastQueued uint64
	proven     atomic.Uint64
	failed     atomic.Uint64
}

// New builds a watcher. reporter and alerter may be nil.
func New(config ConfigFetcher, heads HeadSubscriber, runner Runner, mode prover.Mode, reporter *ethproofs.Reporter, alerter *ethproofs.Alerter) (*Watcher, error) {
	if err := config().Validate(); err != nil {
		return nil, err
	}
	return &Watcher{
		config:   config,
		heads:    heads,
		runner:   runner,
		mode:     mode,
		reporter: reporter,
		alerter:  alerter,
		queue:    make(chan uint64, config().QueueSize),
	}, nil
}

func (w *Watcher) Start(ctxIn context.Context) {
	w.StopWaiter.Start(ctxIn, w)
	w.LaunchThread(w.follow)
	w.LaunchThread(w.prove)
}

// Proven is the number of blocks proven since start.
func (w *Watcher) Proven() uint64 {
	return w.proven.Load()
}

// Failed is the number of blocks that could not be proven since start.
func (w *Watcher) Failed() uint64 {
	return w.failed.Load()
}

func (w *Watcher) follow(ctx context.Context) {
	for ctx.Err() == nil {
		err := w.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn("head subscription ended, resubscribing", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config().ResubscribeDelay):
		}
	}
}

func (w *Watcher) subscribe(ctx context.Context) error {
	headers := make(chan *types.Header, w.config().QueueSize)
	sub, err := w.heads.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case header := <-headers:
			w.onHead(ctx, header)
		}
	}
}

func (w *Watcher) onHead(ctx context.Context, header *types.Header) {
	headsCounter.Inc(1)
	number := header.Number.Uint64()
	if number%w.config().Interval != 0 || (w.lastQueued != 0 && number <= w.lastQueued) {
		return
	}
	select {
	case w.queue <- number:
		w.lastQueued = number
		log.Info("queued block", "number", number, "hash", header.Hash())
		if w.reporter != nil {
			if err := w.reporter.Queued(ctx, number); err != nil {
				log.Warn("failed to report queued block", "number", number, "err", err)
			}
		}
	default:
		droppedCounter.Inc(1)
		log.Warn("proving queue full, dropping block", "number", number)
	}
}

func (w *Watcher) prove(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case number := <-w.queue:
			// The announcing node may not serve the block over http yet.
			if delay := w.config().SettleDelay; delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			if err := w.ProveBlock(ctx, number); err != nil && ctx.Err() == nil {
				w.failed.Add(1)
				failuresCounter.Inc(1)
				log.Error("error handling block", "number", number, "kind", primitives.Kind(err), "err", err)
				if w.alerter != nil {
					w.alerter.Alert(ctx, fmt.Sprintf("Error handling block %d: %v", number, err))
				}
			}
		}
	}
}

// ProveBlock proves number and reports progress to the registry.
func (w *Watcher) ProveBlock(ctx context.Context, number uint64) error {
	if w.reporter != nil {
		if err := w.reporter.Proving(ctx, number); err != nil {
			log.Warn("failed to report proving block", "number", number, "err", err)
		}
	}
	res, err := w.runner.Run(ctx, number, w.mode)
	if err != nil {
		return err
	}
	w.proven.Add(1)
	provenCounter.Inc(1)
	if res.Proof != nil && w.reporter != nil {
		if err := w.reporter.Proved(ctx, number, res.Proof.Cycles, res.Proof.Elapsed, res.Proof.Data); err != nil {
			return err
		}
	}
	return nil
}
