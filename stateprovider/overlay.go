// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type dirtyAccount struct {
	accountSet bool
	account    *types.StateAccount // nil once deleted
	// wiped means the storage trie starts out empty, because the
	// account was deleted during the block.
	wiped   bool
	storage map[common.Hash]common.Hash
}

// Overlay holds the writes of a block until they are committed.
type Overlay struct {
	accounts map[common.Address]*dirtyAccount
	codes    map[common.Hash][]byte
}

func NewOverlay() *Overlay {
	return &Overlay{
		accounts: make(map[common.Address]*dirtyAccount),
		codes:    make(map[common.Hash][]byte),
	}
}

func (o *Overlay) entry(addr common.Address) *dirtyAccount {
	e, ok := o.accounts[addr]
	if !ok {
		e = &dirtyAccount{storage: make(map[common.Hash]common.Hash)}
		o.accounts[addr] = e
	}
	return e
}

// Account reports whether the overlay decides the account, and its value.
func (o *Overlay) Account(addr common.Address) (*types.StateAccount, bool) {
	e, ok := o.accounts[addr]
	if !ok || !e.accountSet {
		return nil, false
	}
	if e.account == nil {
		return nil, true
	}
	return e.account.Copy(), true
}

// Storage reports whether the overlay decides the slot, and its value.
func (o *Overlay) Storage(addr common.Address, slot common.Hash) (common.Hash, bool) {
	e, ok := o.accounts[addr]
	if !ok {
		return common.Hash{}, false
	}
	if v, ok := e.storage[slot]; ok {
		return v, true
	}
	if e.wiped || (e.accountSet && e.account == nil) {
		return common.Hash{}, true
	}
	return common.Hash{}, false
}

func (o *Overlay) Code(codeHash common.Hash) ([]byte, bool) {
	code, ok := o.codes[codeHash]
	return code, ok
}

func (o *Overlay) SetAccount(addr common.Address, account *types.StateAccount) {
	e := o.entry(addr)
	e.accountSet = true
	if account == nil {
		e.account = nil
		e.wiped = true
		e.storage = make(map[common.Hash]common.Hash)
		return
	}
	e.account = account.Copy()
}

func (o *Overlay) SetStorage(addr common.Address, slot, value common.Hash) {
	o.entry(addr).storage[slot] = value
}

func (o *Overlay) SetCode(code []byte) common.Hash {
	h := crypto.Keccak256Hash(code)
	o.codes[h] = common.CopyBytes(code)
	return h
}

// Dirty returns the modified accounts.
func (o *Overlay) Dirty() []common.Address {
	addrs := make([]common.Address, 0, len(o.accounts))
	for addr := range o.accounts {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Codes returns the bytecode deployed during the block.
func (o *Overlay) Codes() map[common.Hash][]byte {
	return o.codes
}
