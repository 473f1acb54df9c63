// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package stateprovider serves account state to the execution engine.
//
// RecordingProvider reads from a remote node and records the proof path of
// every read into an Accumulator. WitnessProvider reads from the partial
// tries assembled out of that recording. Both keep writes in an Overlay and
// apply them to the tries the same way on Commit, so a block replayed on
// either of them ends in the same state root.
package stateprovider

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// StateProvider is the state access the execution engine needs.
type StateProvider interface {
	// Account returns a copy of the account, or nil if it does not exist.
	Account(addr common.Address) (*types.StateAccount, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	// Code returns the bytecode with the given hash deployed at addr.
	Code(addr common.Address, codeHash common.Hash) ([]byte, error)

	// SetAccount replaces the account. A nil account deletes it together with its storage.
	SetAccount(addr common.Address, account *types.StateAccount) error
	SetStorage(addr common.Address, slot common.Hash, value common.Hash) error
	SetCode(addr common.Address, code []byte) error

	// Commit applies all writes to the state trie and returns the new root.
	Commit() (common.Hash, error)
}

// AccessKey names an account and optionally some of its storage slots.
type AccessKey struct {
	Address common.Address
	Slots   []common.Hash
}

// AccessError attaches the account and slot to a failed state access.
type AccessError struct {
	Address common.Address
	Slot    *common.Hash
	Err     error
}

func (e *AccessError) Error() string {
	if e.Slot == nil {
		return fmt.Sprintf("account %v: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("account %v slot %v: %v", e.Address, *e.Slot, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

func accountError(addr common.Address, err error) error {
	return &AccessError{Address: addr, Err: err}
}

func storageError(addr common.Address, slot common.Hash, err error) error {
	return &AccessError{Address: addr, Slot: &slot, Err: err}
}

func decodeAccount(enc []byte) (*types.StateAccount, error) {
	if len(enc) == 0 {
		return nil, nil
	}
	var account types.StateAccount
	if err := rlp.DecodeBytes(enc, &account); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}
	return &account, nil
}

func encodeAccount(account *types.StateAccount) ([]byte, error) {
	return rlp.EncodeToBytes(account)
}

func decodeStorage(enc []byte) (common.Hash, error) {
	if len(enc) == 0 {
		return common.Hash{}, nil
	}
	_, content, _, err := rlp.Split(enc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("decoding storage value: %w", err)
	}
	if len(content) > common.HashLength {
		return common.Hash{}, fmt.Errorf("storage value of %d bytes", len(content))
	}
	return common.BytesToHash(content), nil
}

func encodeStorage(value common.Hash) ([]byte, error) {
	return rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
}

// NewAccount returns an empty account.
func NewAccount() *types.StateAccount {
	return types.NewEmptyStateAccount()
}
