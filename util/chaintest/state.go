// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package chaintest

import (
	"fmt"
	"maps"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

func (a *Account) Copy() *Account {
	cpy := &Account{
		Nonce:   a.Nonce,
		Balance: new(uint256.Int),
		Code:    common.CopyBytes(a.Code),
		Storage: maps.Clone(a.Storage),
	}
	if a.Balance != nil {
		cpy.Balance.Set(a.Balance)
	}
	if cpy.Storage == nil {
		cpy.Storage = make(map[common.Hash]common.Hash)
	}
	return cpy
}

func (a *Account) codeHash() common.Hash {
	if len(a.Code) == 0 {
		return types.EmptyCodeHash
	}
	return crypto.Keccak256Hash(a.Code)
}

// Alloc is a complete world state.
type Alloc map[common.Address]*Account

func (a Alloc) Copy() Alloc {
	cpy := make(Alloc, len(a))
	for addr, account := range a {
		cpy[addr] = account.Copy()
	}
	return cpy
}

type proofList [][]byte

func (l *proofList) Put(key []byte, value []byte) error {
	*l = append(*l, common.CopyBytes(value))
	return nil
}

func (l *proofList) Delete(key []byte) error {
	panic("not supported")
}

func newTrie() *trie.Trie {
	return trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
}

// stateTries is an Alloc materialized as go-ethereum tries.
type stateTries struct {
	root     common.Hash
	accounts *trie.Trie
	storage  map[common.Address]*trie.Trie
	alloc    Alloc
	nodes    map[common.Hash][]byte // filled by collectNodes
}

func storageTrie(storage map[common.Hash]common.Hash) (*trie.Trie, error) {
	tr := newTrie()
	for slot, value := range storage {
		if value == (common.Hash{}) {
			continue
		}
		enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
		if err != nil {
			return nil, err
		}
		if err := tr.Update(crypto.Keccak256(slot[:]), enc); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

func buildTries(alloc Alloc) (*stateTries, error) {
	s := &stateTries{
		accounts: newTrie(),
		storage:  make(map[common.Address]*trie.Trie, len(alloc)),
		alloc:    alloc,
	}
	for addr, account := range alloc {
		storage, err := storageTrie(account.Storage)
		if err != nil {
			return nil, err
		}
		s.storage[addr] = storage
		balance := account.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    account.Nonce,
			Balance:  balance,
			Root:     storage.Hash(),
			CodeHash: account.codeHash().Bytes(),
		})
		if err != nil {
			return nil, err
		}
		if err := s.accounts.Update(crypto.Keccak256(addr[:]), enc); err != nil {
			return nil, err
		}
	}
	s.root = s.accounts.Hash()
	return s, nil
}

func (s *stateTries) accountProof(addr common.Address) ([][]byte, error) {
	var proof proofList
	if err := s.accounts.Prove(crypto.Keccak256(addr[:]), &proof); err != nil {
		return nil, err
	}
	return proof, nil
}

func (s *stateTries) storageProof(addr common.Address, slot common.Hash) ([][]byte, error) {
	storage, ok := s.storage[addr]
	if !ok || storage.Hash() == types.EmptyRootHash {
		return nil, nil
	}
	var proof proofList
	if err := storage.Prove(crypto.Keccak256(slot[:]), &proof); err != nil {
		return nil, err
	}
	return proof, nil
}

// collectNodes indexes every node of every trie by digest. Each node lies on
// the path of some key, so proving all keys reaches all of them.
func (s *stateTries) collectNodes() (map[common.Hash][]byte, error) {
	if s.nodes != nil {
		return s.nodes, nil
	}
	nodes := make(map[common.Hash][]byte)
	add := func(proof [][]byte) {
		for _, enc := range proof {
			nodes[crypto.Keccak256Hash(enc)] = enc
		}
	}
	for addr, account := range s.alloc {
		proof, err := s.accountProof(addr)
		if err != nil {
			return nil, err
		}
		add(proof)
		for slot := range account.Storage {
			proof, err := s.storageProof(addr, slot)
			if err != nil {
				return nil, err
			}
			add(proof)
		}
	}
	s.nodes = nodes
	return nodes, nil
}

// memoryState executes blocks directly on an Alloc.
type memoryState struct {
	alloc Alloc
	codes map[common.Hash][]byte
}

func newMemoryState(alloc Alloc) *memoryState {
	return &memoryState{alloc: alloc, codes: make(map[common.Hash][]byte)}
}

func (m *memoryState) Account(addr common.Address) (*types.StateAccount, error) {
	account, ok := m.alloc[addr]
	if !ok {
		return nil, nil
	}
	storage, err := storageTrie(account.Storage)
	if err != nil {
		return nil, err
	}
	balance := new(uint256.Int)
	if account.Balance != nil {
		balance.Set(account.Balance)
	}
	return &types.StateAccount{
		Nonce:    account.Nonce,
		Balance:  balance,
		Root:     storage.Hash(),
		CodeHash: account.codeHash().Bytes(),
	}, nil
}

func (m *memoryState) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	if account, ok := m.alloc[addr]; ok {
		return account.Storage[slot], nil
	}
	return common.Hash{}, nil
}

func (m *memoryState) Code(addr common.Address, codeHash common.Hash) ([]byte, error) {
	if code, ok := m.codes[codeHash]; ok {
		return code, nil
	}
	if account, ok := m.alloc[addr]; ok && account.codeHash() == codeHash {
		return account.Code, nil
	}
	return nil, fmt.Errorf("no code %v at %v", codeHash, addr)
}

func (m *memoryState) SetAccount(addr common.Address, state *types.StateAccount) error {
	if state == nil {
		delete(m.alloc, addr)
		return nil
	}
	account, ok := m.alloc[addr]
	if !ok {
		account = &Account{Storage: make(map[common.Hash]common.Hash)}
		m.alloc[addr] = account
	}
	account.Nonce = state.Nonce
	account.Balance = new(uint256.Int).Set(state.Balance)
	if codeHash := common.BytesToHash(state.CodeHash); codeHash != account.codeHash() {
		account.Code = m.codes[codeHash]
	}
	return nil
}

func (m *memoryState) SetStorage(addr common.Address, slot common.Hash, value common.Hash) error {
	account, ok := m.alloc[addr]
	if !ok {
		account = &Account{Balance: new(uint256.Int), Storage: make(map[common.Hash]common.Hash)}
		m.alloc[addr] = account
	}
	if value == (common.Hash{}) {
		delete(account.Storage, slot)
	} else {
		account.Storage[slot] = value
	}
	return nil
}

func (m *memoryState) SetCode(addr common.Address, code []byte) error {
	m.codes[crypto.Keccak256Hash(code)] = common.CopyBytes(code)
	return nil
}

func (m *memoryState) Commit() (common.Hash, error) {
	tries, err := buildTries(m.alloc)
	if err != nil {
		return common.Hash{}, err
	}
	return tries.root, nil
}

// Root is the state root of the allocation.
func (a Alloc) Root() (common.Hash, error) {
	tries, err := buildTries(a)
	if err != nil {
		return common.Hash{}, err
	}
	return tries.root, nil
}

// Deploy installs code at addr, creating the account if needed.
func (a Alloc) Deploy(addr common.Address, code []byte) {
	account, ok := a[addr]
	if !ok {
		account = &Account{Balance: new(uint256.Int), Storage: make(map[common.Hash]common.Hash)}
		a[addr] = account
	}
	account.Nonce = max(account.Nonce, 1)
	account.Code = common.CopyBytes(code)
}
