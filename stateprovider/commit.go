// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"errors"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/blockproofs/mpt"
)

// storageOpener returns a trie for the storage of addr that may be modified.
type storageOpener func(addr common.Address, root common.Hash) (*mpt.Trie, error)

// accountLoader returns the account as it was before the block.
type accountLoader func(addr common.Address) (*types.StateAccount, error)

func byHashedKey[K comparable](keys []K, raw func(K) []byte) ([]K, map[K]common.Hash) {
	hashed := make(map[K]common.Hash, len(keys))
	for _, k := range keys {
		hashed[k] = crypto.Keccak256Hash(raw(k))
	}
	slices.SortFunc(keys, func(a, b K) int { return hashed[a].Cmp(hashed[b]) })
	return keys, hashed
}

func withOwner(err error, owner common.Hash) error {
	var missing *mpt.MissingNodeError
	if errors.As(err, &missing) {
		missing.Owner = owner
	}
	return err
}

// commitOverlay writes the overlay into accounts and returns the new state
// root. Storage tries are updated first, then the accounts, each in order of
// hashed key, so every provider touches the same trie paths in the same order.
func commitOverlay(accounts *mpt.Trie, overlay *Overlay, base accountLoader, openStorage storageOpener) (common.Hash, error) {
	dirty, hashed := byHashedKey(overlay.Dirty(), common.Address.Bytes)
	for _, addr := range dirty {
		entry := overlay.accounts[addr]
		account := entry.account
		if !entry.accountSet {
			var err error
			if account, err = base(addr); err != nil {
				return common.Hash{}, accountError(addr, err)
			}
		}
		if account == nil {
			if err := accounts.Delete(hashed[addr].Bytes()); err != nil {
				return common.Hash{}, accountError(addr, err)
			}
			continue
		}
		account = account.Copy()
		if entry.wiped || len(entry.storage) > 0 {
			root := account.Root
			if entry.wiped {
				root = types.EmptyRootHash
			}
			storage, err := openStorage(addr, root)
			if err != nil {
				return common.Hash{}, accountError(addr, withOwner(err, hashed[addr]))
			}
			slots, hashedSlots := byHashedKey(slices.Collect(maps.Keys(entry.storage)), common.Hash.Bytes)
			for _, slot := range slots {
				value := entry.storage[slot]
				if value == (common.Hash{}) {
					err = storage.Delete(hashedSlots[slot].Bytes())
				} else {
					var enc []byte
					if enc, err = encodeStorage(value); err == nil {
						err = storage.Update(hashedSlots[slot].Bytes(), enc)
					}
				}
				if err != nil {
					return common.Hash{}, storageError(addr, slot, withOwner(err, hashed[addr]))
				}
			}
			account.Root = storage.Hash()
		}
		enc, err := encodeAccount(account)
		if err != nil {
			return common.Hash{}, accountError(addr, err)
		}
		if err := accounts.Update(hashed[addr].Bytes(), enc); err != nil {
			return common.Hash{}, accountError(addr, err)
		}
	}
	return accounts.Hash(), nil
}
