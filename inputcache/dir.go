// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package inputcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/primitives"
)

// DirStore keeps one brotli compressed file per block under
// <dir>/<chain id>/<number>.bin.
type DirStore struct {
	dir   string
	level int
}

func NewDirStore(dir string, level int) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("couldn't create input directory %v: %w", dir, err)
	}
	return &DirStore{dir: dir, level: level}, nil
}

func (s *DirStore) path(chainID primitives.ChainID, number uint64) string {
	return filepath.Join(s.dir, filepath.FromSlash(objectName(chainID, number)))
}

func (s *DirStore) Get(ctx context.Context, chainID primitives.ChainID, number uint64) (*primitives.ProgramInput, error) {
	data, err := os.ReadFile(s.path(chainID, number))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decompress(data)
}

func (s *DirStore) Put(ctx context.Context, chainID primitives.ChainID, number uint64, input *primitives.ProgramInput) error {
	data, err := compress(input, s.level)
	if err != nil {
		return err
	}
	path := s.path(chainID, number)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Use a temp file and rename to achieve atomic writes.
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	log.Trace("stored program input", "chain", chainID, "block", number, "size", len(data), "path", path)
	return os.Rename(f.Name(), path)
}

func (s *DirStore) String() string {
	return "DirStore(" + s.dir + ")"
}
