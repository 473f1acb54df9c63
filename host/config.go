// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

type Config struct {
	Recording    stateprovider.RecordingConfig `koanf:"recording"`
	MaxLookback  uint64                        `koanf:"max-lookback"`
	Prefetch     bool                          `koanf:"prefetch"`
	SelfValidate bool                          `koanf:"self-validate"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Recording:    stateprovider.DefaultRecordingConfig,
	MaxLookback:  primitives.MaxBlockHashLookback,
	Prefetch:     true,
	SelfValidate: true,
}

var TestConfig = Config{
	Recording:    stateprovider.TestRecordingConfig,
	MaxLookback:  primitives.MaxBlockHashLookback,
	Prefetch:     true,
	SelfValidate: true,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	stateprovider.RecordingConfigAddOptions(prefix+".recording", f)
	f.Uint64(prefix+".max-lookback", DefaultConfig.MaxLookback, "deepest ancestor a block may look up by number (at most 256)")
	f.Bool(prefix+".prefetch", DefaultConfig.Prefetch, "fetch proofs for senders, recipients, coinbase and withdrawal addresses in parallel before replay")
	f.Bool(prefix+".self-validate", DefaultConfig.SelfValidate, "replay every prepared input with the client before handing it out")
}

func (c *Config) Validate() error {
	if c.MaxLookback == 0 || c.MaxLookback > primitives.MaxBlockHashLookback {
		return fmt.Errorf("max-lookback must be in 1..%d, got %d", primitives.MaxBlockHashLookback, c.MaxLookback)
	}
	return c.Recording.Validate()
}
