// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// replay is the guest program: it re-executes a block from its program input
// alone and outputs the commitment.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/cmd/util"
	"github.com/offchainlabs/blockproofs/cmd/util/confighelpers"
	"github.com/offchainlabs/blockproofs/engine/transfer"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/prover"
)

type ReplayConfig struct {
	Conf     genericconf.ConfConfig `koanf:"conf"`
	LogLevel string                 `koanf:"log-level"`
	LogType  string                 `koanf:"log-type"`
	Input    string                 `koanf:"input"`
	Connect  bool                   `koanf:"connect"`
	Output   string                 `koanf:"output"`
}

var ReplayConfigDefault = ReplayConfig{
	Conf:     genericconf.ConfConfigDefault,
	LogLevel: "WARN",
	LogType:  "plaintext",
	Input:    "",
	Connect:  false,
	Output:   "",
}

func ReplayConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("log-level", ReplayConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", ReplayConfigDefault.LogType, "log type (plaintext or json)")
	f.String("input", ReplayConfigDefault.Input, "program input file to replay")
	f.Bool("connect", ReplayConfigDefault.Connect, "serve program inputs from the addresses announced on stdin")
	f.String("output", ReplayConfigDefault.Output, "write the encoded commitment to this file (default: hex on stdout)")
}

func (c *ReplayConfig) Validate() error {
	if c.Connect == (c.Input != "") {
		return errors.New("specify exactly one of --input or --connect")
	}
	if c.Connect && c.Output != "" {
		return errors.New("--output needs --input")
	}
	return nil
}

func parseReplay(args []string) (*ReplayConfig, error) {
	f := flag.NewFlagSet("replay", flag.ContinueOnError)
	ReplayConfigAddOptions(f)
	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	var config ReplayConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --input block.bin \n", progname)
}

func main() {
	config, err := parseReplay(os.Args[1:])
	if err != nil {
		confighelpers.PrintErrorAndExit(err, printSampleUsage)
	}
	if err := util.SetLogger(config.LogLevel, config.LogType); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	if config.Connect {
		err = prover.ServeGuest(context.Background(), os.Stdin, prover.ReplayGuest(transfer.New()))
	} else {
		err = replayFile(config.Input, config.Output, os.Stdout)
	}
	if err != nil {
		log.Error("replay failed", "kind", primitives.Kind(err), "err", err)
		os.Exit(1)
	}
}

// replayFile executes the program input in path. The commitment goes to
// output when set and to stdout as hex otherwise.
func replayFile(path string, output string, stdout io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	input, err := primitives.DecodeProgramInput(data)
	if err != nil {
		return err
	}
	res, err := prover.ReplayGuest(transfer.New())(context.Background(), prover.ModeExecute, input)
	if err != nil {
		return err
	}
	log.Info("replayed block", "number", input.Block.Number(), "commitment", &res.Commitment)
	if output != "" {
		return os.WriteFile(output, res.Commitment.Encode(), 0600)
	}
	_, err = fmt.Fprintf(stdout, "%x\n", res.Commitment.Encode())
	return err
}
