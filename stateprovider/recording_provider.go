// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/remote"
)

var (
	proofFetchCounter     = metrics.NewRegisteredCounter("stateprovider/proofs/fetched", nil)
	codeFetchCounter      = metrics.NewRegisteredCounter("stateprovider/code/fetched", nil)
	orphanResolvedCounter = metrics.NewRegisteredCounter("stateprovider/orphans/resolved", nil)
	orphanByHashCounter   = metrics.NewRegisteredCounter("stateprovider/orphans/byhash", nil)
)

type RecordingConfig struct {
	PrefetchParallelism int `koanf:"prefetch-parallelism"`
	OrphanRounds        int `koanf:"orphan-rounds"`
}

var DefaultRecordingConfig = RecordingConfig{
	PrefetchParallelism: 16,
	OrphanRounds:        16,
}

var TestRecordingConfig = RecordingConfig{
	PrefetchParallelism: 4,
	OrphanRounds:        8,
}

func RecordingConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".prefetch-parallelism", DefaultRecordingConfig.PrefetchParallelism, "number of eth_getProof requests in flight while prefetching")
	f.Int(prefix+".orphan-rounds", DefaultRecordingConfig.OrphanRounds, "maximum number of orphaned trie nodes resolved while committing one block")
}

func (c *RecordingConfig) Validate() error {
	if c.PrefetchParallelism < 1 {
		return fmt.Errorf("prefetch-parallelism must be positive, got %d", c.PrefetchParallelism)
	}
	if c.OrphanRounds < 0 {
		return fmt.Errorf("orphan-rounds must not be negative, got %d", c.OrphanRounds)
	}
	return nil
}

// BlockRef identifies the block being recorded.
type BlockRef struct {
	Number    uint64      // the block itself; state is read at Number-1
	PriorRoot common.Hash // state root of the parent
	PostRoot  common.Hash // state root in the block's header
}

type recordedAccount struct {
	account *types.StateAccount // nil when absent
	storage map[common.Hash]common.Hash
}

// RecordingProvider serves pre-state from a remote node. Every value it
// returns was checked against a proof rooted in the parent state root, and
// the nodes of that proof were added to the accumulator.
//
// Reads and Prefetch may run concurrently. Commit must not overlap with
// anything else.
type RecordingProvider struct {
	// The engine's state interface carries no context, so the one the
	// recording run was started with is kept here.
	ctx    context.Context
	config *RecordingConfig
	remote remote.Remote
	block  BlockRef
	acc    *Accumulator

	mutex    sync.Mutex
	accounts map[common.Address]*recordedAccount
	codes    map[common.Hash][]byte
	overlay  *Overlay
}

var _ StateProvider = (*RecordingProvider)(nil)

func NewRecordingProvider(ctx context.Context, config *RecordingConfig, r remote.Remote, block BlockRef, acc *Accumulator) *RecordingProvider {
	return &RecordingProvider{
		ctx:      ctx,
		config:   config,
		remote:   r,
		block:    block,
		acc:      acc,
		accounts: make(map[common.Address]*recordedAccount),
		codes:    make(map[common.Hash][]byte),
		overlay:  NewOverlay(),
	}
}

func (p *RecordingProvider) Accumulator() *Accumulator {
	return p.acc
}

// uncached returns the subset of slots not read yet, and whether the account
// itself still has to be read.
func (p *RecordingProvider) uncached(addr common.Address, slots []common.Hash) ([]common.Hash, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	rec, ok := p.accounts[addr]
	if !ok {
		return slots, true
	}
	if rec.account == nil || rec.account.Root == types.EmptyRootHash {
		return nil, false
	}
	var missing []common.Hash
	for _, slot := range slots {
		if _, ok := rec.storage[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing, false
}

// fetch reads addr and slots at the parent block, verifies the result and
// records it.
func (p *RecordingProvider) fetch(addr common.Address, slots []common.Hash) error {
	proofFetchCounter.Inc(1)
	res, err := p.remote.GetProof(p.ctx, addr, slots, p.block.Number-1)
	if err != nil {
		return err
	}
	enc, used, err := mpt.VerifyProofPath(p.block.PriorRoot, crypto.Keccak256(addr.Bytes()), remote.Nodes(res.AccountProof))
	if err != nil {
		return fmt.Errorf("%w: account proof: %w", primitives.ErrRemoteQueryFailure, err)
	}
	account, err := decodeAccount(enc)
	if err != nil {
		return fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err)
	}
	p.acc.AddNodes(used)
	if len(res.StorageProof) != len(slots) {
		return fmt.Errorf("%w: %d storage proofs for %d slots", primitives.ErrRemoteQueryFailure, len(res.StorageProof), len(slots))
	}

	values := make(map[common.Hash]common.Hash, len(slots))
	for i, slot := range slots {
		if account == nil || account.Root == types.EmptyRootHash {
			values[slot] = common.Hash{}
			continue
		}
		enc, used, err := mpt.VerifyProofPath(account.Root, crypto.Keccak256(slot.Bytes()), remote.Nodes(res.StorageProof[i].Proof))
		if err != nil {
			return fmt.Errorf("%w: storage proof for slot %v: %w", primitives.ErrRemoteQueryFailure, slot, err)
		}
		value, err := decodeStorage(enc)
		if err != nil {
			return fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err)
		}
		p.acc.AddNodes(used)
		values[slot] = value
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	rec, ok := p.accounts[addr]
	if !ok {
		rec = &recordedAccount{account: account, storage: make(map[common.Hash]common.Hash)}
		p.accounts[addr] = rec
	}
	for slot, value := range values {
		rec.storage[slot] = value
	}
	return nil
}

func (p *RecordingProvider) baseAccount(addr common.Address) (*types.StateAccount, error) {
	if _, needAccount := p.uncached(addr, nil); needAccount {
		if err := p.fetch(addr, nil); err != nil {
			return nil, err
		}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if account := p.accounts[addr].account; account != nil {
		return account.Copy(), nil
	}
	return nil, nil
}

func (p *RecordingProvider) baseStorage(addr common.Address, slot common.Hash) (common.Hash, error) {
	if missing, needAccount := p.uncached(addr, []common.Hash{slot}); needAccount || len(missing) > 0 {
		if err := p.fetch(addr, missing); err != nil {
			return common.Hash{}, err
		}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.accounts[addr].storage[slot], nil
}

// Prefetch reads the given keys in parallel so that the sequential replay
// finds them cached.
func (p *RecordingProvider) Prefetch(keys []AccessKey) error {
	var group errgroup.Group
	group.SetLimit(p.config.PrefetchParallelism)
	for _, key := range keys {
		slots, needAccount := p.uncached(key.Address, key.Slots)
		if !needAccount && len(slots) == 0 {
			continue
		}
		group.Go(func() error {
			if err := p.fetch(key.Address, slots); err != nil {
				return accountError(key.Address, err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (p *RecordingProvider) Account(addr common.Address) (*types.StateAccount, error) {
	p.mutex.Lock()
	account, ok := p.overlay.Account(addr)
	p.mutex.Unlock()
	if ok {
		return account, nil
	}
	account, err := p.baseAccount(addr)
	if err != nil {
		return nil, accountError(addr, err)
	}
	return account, nil
}

func (p *RecordingProvider) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	p.mutex.Lock()
	value, ok := p.overlay.Storage(addr, slot)
	p.mutex.Unlock()
	if ok {
		return value, nil
	}
	value, err := p.baseStorage(addr, slot)
	if err != nil {
		return common.Hash{}, storageError(addr, slot, err)
	}
	return value, nil
}

func (p *RecordingProvider) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if codeHash == types.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	p.mutex.Lock()
	code, ok := p.overlay.Code(codeHash)
	if !ok {
		code, ok = p.codes[codeHash]
	}
	p.mutex.Unlock()
	if ok {
		return code, nil
	}
	codeFetchCounter.Inc(1)
	code, err := p.remote.CodeAt(p.ctx, addr, p.block.Number-1)
	if err != nil {
		return nil, accountError(addr, err)
	}
	if err := p.acc.AddCode(codeHash, code); err != nil {
		return nil, accountError(addr, fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err))
	}
	p.mutex.Lock()
	p.codes[codeHash] = code
	p.mutex.Unlock()
	return code, nil
}

// SetAccount records the account's pre-state first, since Commit walks its
// trie path.
func (p *RecordingProvider) SetAccount(addr common.Address, account *types.StateAccount) error {
	if _, err := p.baseAccount(addr); err != nil {
		return accountError(addr, err)
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.overlay.SetAccount(addr, account)
	return nil
}

func (p *RecordingProvider) SetStorage(addr common.Address, slot common.Hash, value common.Hash) error {
	if _, err := p.baseStorage(addr, slot); err != nil {
		return storageError(addr, slot, err)
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.overlay.SetStorage(addr, slot, value)
	return nil
}

func (p *RecordingProvider) SetCode(addr common.Address, code []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.overlay.SetCode(code)
	return nil
}

// Commit applies the overlay to the tries assembled from the recording. A
// delete that collapses a branch onto a sibling that was never read fails
// with ErrUnresolvedBoundary; that sibling is then recovered from the
// block's post-state and added to the accumulator, and the commit starts
// over. The witness handed to the client therefore commits cleanly too.
func (p *RecordingProvider) Commit() (common.Hash, error) {
	for round := 0; ; round++ {
		root, err := p.commitOnce()
		if err == nil {
			return root, nil
		}
		var missing *mpt.MissingNodeError
		if !errors.Is(err, mpt.ErrUnresolvedBoundary) || !errors.As(err, &missing) {
			return common.Hash{}, err
		}
		if round >= p.config.OrphanRounds {
			return common.Hash{}, fmt.Errorf("giving up after %d orphaned nodes: %w", round, err)
		}
		var access *AccessError
		if !errors.As(err, &access) {
			return common.Hash{}, err
		}
		enc, err := p.resolveOrphan(access, missing)
		if err != nil {
			return common.Hash{}, err
		}
		p.acc.AddNode(enc)
		orphanResolvedCounter.Inc(1)
		log.Debug("resolved orphaned trie node", "block", p.block.Number, "account", access.Address, "owner", missing.Owner, "path", fmt.Sprintf("%x", missing.Path), "hash", missing.Hash)
	}
}

func (p *RecordingProvider) commitOnce() (common.Hash, error) {
	if len(p.overlay.Dirty()) == 0 {
		return p.block.PriorRoot, nil
	}
	nodes := p.acc.Nodes()
	accounts, err := mpt.Build(p.block.PriorRoot, nodes)
	if err != nil {
		return common.Hash{}, err
	}
	openStorage := func(addr common.Address, root common.Hash) (*mpt.Trie, error) {
		return mpt.Build(root, nodes)
	}
	return commitOverlay(accounts, p.overlay, p.baseAccount, openStorage)
}

// resolveOrphan fetches a post-state proof through the collapsed branch and
// rebuilds the missing node from it. Branch orphans survive the collapse
// unchanged in digest only, so they are fetched by hash if the remote can.
func (p *RecordingProvider) resolveOrphan(access *AccessError, missing *mpt.MissingNodeError) ([]byte, error) {
	var slots []common.Hash
	if missing.Owner != (common.Hash{}) {
		if access.Slot == nil {
			return nil, access
		}
		slots = []common.Hash{*access.Slot}
	}
	res, err := p.remote.GetProof(p.ctx, access.Address, slots, p.block.Number)
	if err != nil {
		return nil, err
	}
	postRoot := p.block.PostRoot
	proof := remote.Nodes(res.AccountProof)
	if missing.Owner != (common.Hash{}) {
		enc, err := mpt.VerifyProof(postRoot, crypto.Keccak256(access.Address.Bytes()), proof)
		if err != nil {
			return nil, fmt.Errorf("%w: post-state account proof: %w", primitives.ErrRemoteQueryFailure, err)
		}
		account, err := decodeAccount(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", primitives.ErrRemoteQueryFailure, err)
		}
		if account == nil {
			return nil, fmt.Errorf("%w: account %v is gone after the block", mpt.ErrOrphanNotRecoverable, access.Address)
		}
		if len(res.StorageProof) != 1 {
			return nil, fmt.Errorf("%w: %d post-state storage proofs for one slot", primitives.ErrRemoteQueryFailure, len(res.StorageProof))
		}
		postRoot = account.Root
		proof = remote.Nodes(res.StorageProof[0].Proof)
	}
	enc, err := mpt.ReconstructOrphan(missing.Path, missing.Hash, postRoot, proof)
	if err == nil {
		return enc, nil
	}
	resolver, ok := p.remote.(remote.NodeResolver)
	if !ok {
		return nil, fmt.Errorf("%w (no node resolver configured): %w", missing, err)
	}
	log.Debug("orphan not in post-state proof, fetching by hash", "hash", missing.Hash, "reason", err)
	orphanByHashCounter.Inc(1)
	return resolver.NodeByHash(p.ctx, missing.Hash)
}
