// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
)

// WitnessProvider serves state out of a witness and nothing else. It does no
// I/O and is meant for single threaded use.
type WitnessProvider struct {
	witness  *primitives.Witness
	accounts *mpt.Trie
	storage  map[common.Hash]*mpt.Trie // by storage root
	overlay  *Overlay
}

var _ StateProvider = (*WitnessProvider)(nil)

// NewWitnessProvider assembles the account trie of w. It fails with
// ErrIncompleteWitness or ErrRootMismatch when the nodes do not form a
// partial trie under w.PriorRoot.
func NewWitnessProvider(w *primitives.Witness) (*WitnessProvider, error) {
	accounts, err := mpt.Build(w.PriorRoot, w.Nodes)
	if err != nil {
		return nil, err
	}
	return &WitnessProvider{
		witness:  w,
		accounts: accounts,
		storage:  make(map[common.Hash]*mpt.Trie),
		overlay:  NewOverlay(),
	}, nil
}

func (p *WitnessProvider) baseAccount(addr common.Address) (*types.StateAccount, error) {
	enc, err := p.accounts.Get(crypto.Keccak256(addr.Bytes()))
	if err != nil {
		return nil, err
	}
	return decodeAccount(enc)
}

// storageTrie returns the pre-state storage trie with the given root. A root
// node that is not part of the witness means the storage was never read.
func (p *WitnessProvider) storageTrie(root common.Hash) (*mpt.Trie, error) {
	if t, ok := p.storage[root]; ok {
		return t, nil
	}
	t, err := mpt.Build(root, p.witness.Nodes)
	if err != nil {
		var missing *mpt.MissingNodeError
		if errors.As(err, &missing) && errors.Is(err, mpt.ErrIncompleteWitness) {
			missing.Err = mpt.ErrMissingWitnessData
		}
		return nil, err
	}
	p.storage[root] = t
	return t, nil
}

func (p *WitnessProvider) Account(addr common.Address) (*types.StateAccount, error) {
	if account, ok := p.overlay.Account(addr); ok {
		return account, nil
	}
	account, err := p.baseAccount(addr)
	if err != nil {
		return nil, accountError(addr, err)
	}
	return account, nil
}

func (p *WitnessProvider) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	if value, ok := p.overlay.Storage(addr, slot); ok {
		return value, nil
	}
	account, err := p.baseAccount(addr)
	if err != nil {
		return common.Hash{}, storageError(addr, slot, err)
	}
	if account == nil || account.Root == types.EmptyRootHash {
		return common.Hash{}, nil
	}
	storage, err := p.storageTrie(account.Root)
	if err != nil {
		return common.Hash{}, storageError(addr, slot, withOwner(err, crypto.Keccak256Hash(addr.Bytes())))
	}
	enc, err := storage.Get(crypto.Keccak256(slot.Bytes()))
	if err != nil {
		return common.Hash{}, storageError(addr, slot, withOwner(err, crypto.Keccak256Hash(addr.Bytes())))
	}
	value, err := decodeStorage(enc)
	if err != nil {
		return common.Hash{}, storageError(addr, slot, err)
	}
	return value, nil
}

func (p *WitnessProvider) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if codeHash == types.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	if code, ok := p.overlay.Code(codeHash); ok {
		return code, nil
	}
	if code, ok := p.witness.Codes[codeHash]; ok {
		return code, nil
	}
	return nil, accountError(addr, fmt.Errorf("%w: code %v", primitives.ErrMissingWitnessData, codeHash))
}

func (p *WitnessProvider) SetAccount(addr common.Address, account *types.StateAccount) error {
	p.overlay.SetAccount(addr, account)
	return nil
}

func (p *WitnessProvider) SetStorage(addr common.Address, slot common.Hash, value common.Hash) error {
	p.overlay.SetStorage(addr, slot, value)
	return nil
}

func (p *WitnessProvider) SetCode(addr common.Address, code []byte) error {
	p.overlay.SetCode(code)
	return nil
}

func (p *WitnessProvider) openStorage(addr common.Address, root common.Hash) (*mpt.Trie, error) {
	if root == types.EmptyRootHash {
		return mpt.New(), nil
	}
	t, err := p.storageTrie(root)
	if err != nil {
		return nil, err
	}
	return t.Copy(), nil
}

// Commit applies the overlay to copies of the witness tries, leaving the
// tries themselves untouched.
func (p *WitnessProvider) Commit() (common.Hash, error) {
	return commitOverlay(p.accounts.Copy(), p.overlay, p.baseAccount, p.openStorage)
}
