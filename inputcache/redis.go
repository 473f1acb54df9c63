// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package inputcache

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"hash"
	"regexp"
	"time"

	"github.com/go-redis/redis/v8"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/redisutil"
)

type RedisConfig struct {
	URL        string        `koanf:"url"`
	Expiration time.Duration `koanf:"expiration"`
	SigningKey string        `koanf:"signing-key"`
}

var DefaultRedisConfig = RedisConfig{
	URL:        "",
	Expiration: time.Hour,
	SigningKey: "",
}

func RedisConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".url", DefaultRedisConfig.URL, "redis url caching prepared program inputs")
	f.Duration(prefix+".expiration", DefaultRedisConfig.Expiration, "lifetime of cached program inputs")
	f.String(prefix+".signing-key", DefaultRedisConfig.SigningKey, "32 byte hex key authenticating cached program inputs")
}

var keyIsHexRegex = regexp.MustCompile("^(0x)?[a-fA-F0-9]{64}$")

func (c *RedisConfig) Validate() error {
	if c.URL == "" {
		return nil
	}
	if !keyIsHexRegex.MatchString(c.SigningKey) {
		return errors.New("redis signing key is not 32 bytes of hex")
	}
	if c.Expiration <= 0 {
		return fmt.Errorf("redis expiration must be positive, got %v", c.Expiration)
	}
	return nil
}

// RedisStore caches program inputs in redis in front of an optional base
// store. Values carry an HMAC so that a shared redis cannot feed forged
// inputs.
type RedisStore struct {
	config     RedisConfig
	base       Store
	level      int
	signingKey common.Hash
	client     redis.UniversalClient
}

func NewRedisStore(config RedisConfig, base Store, level int) (*RedisStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := redisutil.RedisClientFromURL(config.URL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("redis url not configured")
	}
	return &RedisStore{
		config:     config,
		base:       base,
		level:      level,
		signingKey: common.HexToHash(config.SigningKey),
		client:     client,
	}, nil
}

func newKeccak() hash.Hash {
	return crypto.NewKeccakState()
}

func (s *RedisStore) key(chainID primitives.ChainID, number uint64) string {
	return "blockproofs.input:" + objectName(chainID, number)
}

func (s *RedisStore) signMessage(message []byte) []byte {
	mac := hmac.New(newKeccak, s.signingKey[:])
	mac.Write(message)
	return mac.Sum(message)
}

func (s *RedisStore) verifyMessageSignature(data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, errors.New("data is too short to contain message signature")
	}
	message := data[:len(data)-32]
	mac := hmac.New(newKeccak, s.signingKey[:])
	mac.Write(message)
	if !hmac.Equal(data[len(data)-32:], mac.Sum(nil)) {
		return nil, errors.New("HMAC signature doesn't match expected value(s)")
	}
	return message, nil
}

func (s *RedisStore) getVerified(ctx context.Context, key string) (*primitives.ProgramInput, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	message, err := s.verifyMessageSignature(data)
	if err != nil {
		return nil, err
	}
	return decompress(message)
}

func (s *RedisStore) set(ctx context.Context, key string, input *primitives.ProgramInput) error {
	data, err := compress(input, s.level)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, s.signMessage(data), s.config.Expiration).Err()
}

// Get serves from redis and falls back to the base store, copying what it
// finds there into redis.
func (s *RedisStore) Get(ctx context.Context, chainID primitives.ChainID, number uint64) (*primitives.ProgramInput, error) {
	key := s.key(chainID, number)
	input, err := s.getVerified(ctx, key)
	if err == nil {
		return input, nil
	}
	if !errors.Is(err, ErrNotFound) {
		log.Warn("discarding cached program input", "key", key, "err", err)
	}
	if s.base == nil {
		return nil, ErrNotFound
	}
	input, err = s.base.Get(ctx, chainID, number)
	if err != nil {
		return nil, err
	}
	if err := s.set(ctx, key, input); err != nil {
		log.Warn("failed to cache program input in redis", "key", key, "err", err)
	}
	return input, nil
}

func (s *RedisStore) Put(ctx context.Context, chainID primitives.ChainID, number uint64, input *primitives.ProgramInput) error {
	if s.base != nil {
		if err := s.base.Put(ctx, chainID, number, input); err != nil {
			return err
		}
	}
	return s.set(ctx, s.key(chainID, number), input)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) String() string {
	return fmt.Sprintf("RedisStore(base:%v)", s.base)
}
