// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/cmd/util"
	"github.com/offchainlabs/blockproofs/cmd/util/confighelpers"
	"github.com/offchainlabs/blockproofs/ethproofs"
	"github.com/offchainlabs/blockproofs/host"
	"github.com/offchainlabs/blockproofs/inputcache"
	"github.com/offchainlabs/blockproofs/prover"
	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/watcher"
)

type BlockProverConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf"`
	LogLevel      string                          `koanf:"log-level"`
	LogType       string                          `koanf:"log-type"`
	FileLogging   genericconf.FileLoggingConfig   `koanf:"file-logging"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
	PProf         bool                            `koanf:"pprof"`
	PprofCfg      genericconf.PProf               `koanf:"pprof-cfg"`

	Remote     remote.ClientConfig   `koanf:"remote"`
	Host       host.Config           `koanf:"host"`
	Prover     prover.ExternalConfig `koanf:"prover"`
	InputCache inputcache.Config     `koanf:"input-cache"`
	Ethproofs  ethproofs.Config      `koanf:"ethproofs"`
	Alert      ethproofs.AlertConfig `koanf:"alert"`
	Watcher    watcher.Config        `koanf:"watcher"`

	Block     uint64 `koanf:"block"`
	Watch     bool   `koanf:"watch"`
	WatchURL  string `koanf:"watch-url"`
	Mode      string `koanf:"mode"`
	InputFile string `koanf:"input-file"`
	ProofFile string `koanf:"proof-file"`
}

var BlockProverConfigDefault = BlockProverConfig{
	Conf:          genericconf.ConfConfigDefault,
	LogLevel:      "INFO",
	LogType:       "plaintext",
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	PProf:         false,
	PprofCfg:      genericconf.PProfDefault,
	Remote:        remote.DefaultClientConfig,
	Host:          host.DefaultConfig,
	Prover:        prover.DefaultExternalConfig,
	InputCache:    inputcache.DefaultConfig,
	Ethproofs:     ethproofs.DefaultConfig,
	Alert:         ethproofs.DefaultAlertConfig,
	Watcher:       watcher.DefaultConfig,
	Block:         0,
	Watch:         false,
	WatchURL:      "",
	Mode:          prover.ModeExecute.String(),
	InputFile:     "",
	ProofFile:     "",
}

func BlockProverConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("log-level", BlockProverConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", BlockProverConfigDefault.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	f.Bool("metrics", BlockProverConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
	f.Bool("pprof", BlockProverConfigDefault.PProf, "enable pprof")
	genericconf.PProfAddOptions("pprof-cfg", f)

	remote.ClientConfigAddOptions("remote", f)
	host.ConfigAddOptions("host", f)
	prover.ExternalConfigAddOptions("prover", f)
	inputcache.ConfigAddOptions("input-cache", f)
	ethproofs.ConfigAddOptions("ethproofs", f)
	ethproofs.AlertConfigAddOptions("alert", f)
	watcher.ConfigAddOptions("watcher", f)

	f.Uint64("block", BlockProverConfigDefault.Block, "block to prove")
	f.Bool("watch", BlockProverConfigDefault.Watch, "follow the chain head and prove every watcher.interval-th block")
	f.String("watch-url", BlockProverConfigDefault.WatchURL, "websocket url used for head subscriptions (empty uses remote.rpc.url)")
	f.String("mode", BlockProverConfigDefault.Mode, "execute (replay in the guest only) or prove")
	f.String("input-file", BlockProverConfigDefault.InputFile, "write the prepared program input of --block to this file and exit")
	f.String("proof-file", BlockProverConfigDefault.ProofFile, "write the proof of --block to this file")
}

func (c *BlockProverConfig) MetricsPProfOpts() *util.MetricsPProfOpts {
	return &util.MetricsPProfOpts{
		Metrics:       c.Metrics,
		MetricsServer: c.MetricsServer,
		PProf:         c.PProf,
		PprofCfg:      c.PprofCfg,
	}
}

func (c *BlockProverConfig) Validate() error {
	if c.Watch == (c.Block != 0) {
		return errors.New("specify exactly one of --block or --watch")
	}
	if _, err := prover.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Watch && (c.InputFile != "" || c.ProofFile != "") {
		return errors.New("--input-file and --proof-file need --block")
	}
	if c.Remote.RPC.URL == "" {
		return errors.New("--remote.rpc.url is required")
	}
	for name, validate := range map[string]func() error{
		"remote":      c.Remote.Validate,
		"host":        c.Host.Validate,
		"prover":      c.Prover.Validate,
		"input-cache": c.InputCache.Validate,
		"ethproofs":   c.Ethproofs.Validate,
		"alert":       c.Alert.Validate,
		"watcher":     c.Watcher.Validate,
	} {
		if err := validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func ParseBlockProver(args []string) (*BlockProverConfig, error) {
	f := flag.NewFlagSet("blockprover", flag.ContinueOnError)
	BlockProverConfigAddOptions(f)

	k, err := confighelpers.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	var config BlockProverConfig
	if err := confighelpers.EndCommonParse(k, &config); err != nil {
		return nil, err
	}
	if config.Conf.Dump {
		err = confighelpers.DumpConfig(k, map[string]interface{}{
			"ethproofs.api-token":           "",
			"alert.routing-key":             "",
			"input-cache.redis.signing-key": "",
			"input-cache.s3.secret-key":     "",
			"conf.s3.secret-key":            "",
		})
		if err != nil {
			return nil, err
		}
		os.Exit(0)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
