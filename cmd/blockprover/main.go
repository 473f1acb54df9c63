// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// blockprover prepares program inputs for blocks of an execution chain and
// replays or proves them with a guest program.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/cmd/util"
	"github.com/offchainlabs/blockproofs/cmd/util/confighelpers"
	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/ethproofs"
	"github.com/offchainlabs/blockproofs/host"
	"github.com/offchainlabs/blockproofs/inputcache"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/prover"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/watcher"
)

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --remote.rpc.url http://localhost:8545 --block 21000000 \n", progname)
	fmt.Printf("                               %s --remote.rpc.url ws://localhost:8546 --watch --mode prove --prover.binary ./guest \n", progname)
}

func main() {
	os.Exit(mainImpl())
}

func mainImpl() int {
	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	config, err := ParseBlockProver(os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	pathResolver := genericconf.DefaultPathResolver("")
	if err := genericconf.InitLog(config.LogType, config.LogLevel, &config.FileLogging, pathResolver); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	defer func() {
		if err := genericconf.CloseLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", err)
		}
	}()
	if err := util.StartMetricsAndPProf(config.MetricsPProfOpts()); err != nil {
		log.Error("error starting metrics", "err", err)
		return 1
	}
	revision, vcsTime := confighelpers.GetVersion()
	log.Info("starting blockprover", "revision", revision, "vcs.time", vcsTime, "mode", config.Mode)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint
		log.Info("shutting down")
		cancelFunc()
	}()

	if err := run(ctx, config); err != nil {
		log.Error("blockprover failed", "block", config.Block, "kind", primitives.Kind(err), "err", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, config *BlockProverConfig) error {
	mode, err := prover.ParseMode(config.Mode)
	if err != nil {
		return err
	}
	client := remote.NewClient(func() *remote.ClientConfig { return &config.Remote })
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("%w: connecting to %v: %w", primitives.ErrRemoteQueryFailure, config.Remote.RPC.URL, err)
	}
	defer client.Close()

	eng := transfer.New()
	h, err := host.New(ctx, func() *host.Config { return &config.Host }, client.Remote(), eng)
	if err != nil {
		return err
	}

	if config.InputFile != "" {
		return writeInput(ctx, h, config.Block, config.InputFile)
	}

	cache, err := inputcache.New(&config.InputCache)
	if err != nil {
		return err
	}
	if closer, ok := cache.(io.Closer); ok {
		defer closer.Close()
	}

	fatalErrChan := make(chan error, 1)
	var backend prover.Backend = prover.NewLocalBackend(eng)
	if config.Prover.Binary != "" {
		external := prover.NewExternalBackend(func() *prover.ExternalConfig { return &config.Prover }, fatalErrChan)
		if err := external.Start(ctx); err != nil {
			return err
		}
		defer external.StopAndWait()
		backend = external
	}
	pipeline := prover.NewPipeline(h, h.ChainID(), eng, backend, cache)

	reporter, err := ethproofs.NewReporter(&config.Ethproofs)
	if err != nil {
		return err
	}
	alerter, err := ethproofs.NewAlerter(&config.Alert)
	if err != nil {
		return err
	}

	if !config.Watch {
		res, err := pipeline.Run(ctx, config.Block, mode)
		if err != nil {
			return err
		}
		log.Info("block proven", "number", res.Number, "prior", res.Commitment.PriorRoot, "post", res.Commitment.PostRoot, "hash", res.Commitment.BlockHash, "cached", res.Cached, "elapsed", res.Elapsed)
		if res.Proof != nil {
			if err := reporter.Proved(ctx, res.Number, res.Proof.Cycles, res.Proof.Elapsed, res.Proof.Data); err != nil {
				log.Warn("failed to report proof", "number", res.Number, "err", err)
			}
			if config.ProofFile != "" {
				if err := os.WriteFile(config.ProofFile, res.Proof.Data, 0600); err != nil {
					return err
				}
			}
		}
		return nil
	}

	var heads watcher.HeadSubscriber = client
	if config.WatchURL != "" {
		wsClient, err := rpc.DialContext(ctx, config.WatchURL)
		if err != nil {
			return fmt.Errorf("connecting to %v: %w", config.WatchURL, err)
		}
		defer wsClient.Close()
		heads = ethclient.NewClient(wsClient)
	}
	w, err := watcher.New(func() *watcher.Config { return &config.Watcher }, heads, pipeline, mode, reporter, alerter)
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.StopAndWait()
	select {
	case <-ctx.Done():
		log.Info("watcher stopped", "proven", w.Proven(), "failed", w.Failed())
		return nil
	case err := <-fatalErrChan:
		return err
	}
}

func writeInput(ctx context.Context, h *host.Host, number uint64, path string) error {
	_, input, err := h.Prepare(ctx, number)
	if err != nil {
		return err
	}
	data, err := input.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	log.Info("wrote program input", "number", number, "file", path, "size", len(data), "nodes", len(input.Witness.Nodes))
	return nil
}
