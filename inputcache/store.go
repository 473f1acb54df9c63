// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package inputcache keeps prepared program inputs so that a block can be
// proven again without asking the remote node for its state.
package inputcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/primitives"
)

var ErrNotFound = errors.New("program input not found")

type Store interface {
	Get(ctx context.Context, chainID primitives.ChainID, number uint64) (*primitives.ProgramInput, error)
	Put(ctx context.Context, chainID primitives.ChainID, number uint64, input *primitives.ProgramInput) error
	fmt.Stringer
}

type Config struct {
	Dir              string               `koanf:"dir"`
	S3               genericconf.S3Config `koanf:"s3"`
	Redis            RedisConfig          `koanf:"redis"`
	CompressionLevel int                  `koanf:"compression-level"`
}

var DefaultConfig = Config{
	Dir:              "",
	S3:               genericconf.DefaultS3Config,
	Redis:            DefaultRedisConfig,
	CompressionLevel: brotli.DefaultCompression,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".dir", DefaultConfig.Dir, "directory holding prepared program inputs")
	genericconf.S3ConfigAddOptions(prefix+".s3", f)
	RedisConfigAddOptions(prefix+".redis", f)
	f.Int(prefix+".compression-level", DefaultConfig.CompressionLevel, "brotli level used for stored program inputs")
}

func (c *Config) Validate() error {
	if c.CompressionLevel < brotli.BestSpeed || c.CompressionLevel > brotli.BestCompression {
		return fmt.Errorf("compression-level must be in %d..%d, got %d", brotli.BestSpeed, brotli.BestCompression, c.CompressionLevel)
	}
	if err := c.S3.Validate(); err != nil {
		return err
	}
	if c.Dir != "" && c.S3.Bucket != "" {
		return errors.New("configure either an input directory or an S3 bucket, not both")
	}
	return c.Redis.Validate()
}

// New builds the configured store. The directory or S3 bucket is the
// backing store and Redis, when configured, sits in front of it. It
// returns nil when nothing is configured.
func New(config *Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	var base Store
	var err error
	switch {
	case config.Dir != "":
		base, err = NewDirStore(config.Dir, config.CompressionLevel)
	case config.S3.Bucket != "":
		base = NewS3Store(config.S3, config.CompressionLevel)
	}
	if err != nil {
		return nil, err
	}
	if config.Redis.URL == "" {
		return base, nil
	}
	return NewRedisStore(config.Redis, base, config.CompressionLevel)
}

func compress(input *primitives.ProgramInput, level int) ([]byte, error) {
	enc, err := input.Encode()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writer := brotli.NewWriterLevel(&buf, level)
	if _, err := writer.Write(enc); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (*primitives.ProgramInput, error) {
	enc, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompressing program input: %w", err)
	}
	return primitives.DecodeProgramInput(enc)
}

func objectName(chainID primitives.ChainID, number uint64) string {
	return fmt.Sprintf("%d/%d.bin", uint64(chainID), number)
}
