// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package transfer

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

// The system contracts are emulated by writing the storage their code would
// write when invoked by the system address.
var (
	BeaconRootsAddress        = common.HexToAddress("0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02")
	HistoryStorageAddress     = common.HexToAddress("0x0000F90827F1C53a10cb7A02335B175320002935")
	WithdrawalQueueAddress    = common.HexToAddress("0x00000961Ef480Eb55e80D19ad83579A64c007002")
	ConsolidationQueueAddress = common.HexToAddress("0x0000BBdDc7CE488642fb579F8B00f3a590007251")
)

const (
	beaconRootsBufferLength = 8191
	historyServeWindow      = 8191

	withdrawalRequestType    = 0x01
	consolidationRequestType = 0x02
	depositRequestType       = 0x00

	targetWithdrawalRequests    = 2
	targetConsolidationRequests = 1
)

// Storage layout shared by the EIP-7002 and EIP-7251 queue contracts.
var (
	excessSlot    = common.BigToHash(common.Big0)
	countSlot     = common.BigToHash(common.Big1)
	queueHeadSlot = common.BigToHash(common.Big2)
	queueTailSlot = common.BigToHash(common.Big3)
)

var excessInhibitor = new(uint256.Int).SetAllOne()

func slotOf(v uint64) common.Hash {
	return common.Hash(uint256.NewInt(v).Bytes32())
}

// deployed reports whether a system contract has code. Calls to a system
// contract without code are no-ops.
func deployed(state stateprovider.StateProvider, addr common.Address) (bool, error) {
	account, err := state.Account(addr)
	if err != nil {
		return false, err
	}
	return hasCode(account), nil
}

func setStorage(state stateprovider.StateProvider, addr common.Address, slot, value common.Hash) error {
	current, err := state.Storage(addr, slot)
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}
	return state.SetStorage(addr, slot, value)
}

func (e *Engine) BeginBlock(env *engine.BlockEnv, state stateprovider.StateProvider) error {
	header := env.Header
	if env.Rules.IsCancun && header.ParentBeaconRoot != nil {
		if err := processBeaconRoot(state, header.Time, *header.ParentBeaconRoot); err != nil {
			return fmt.Errorf("beacon root: %w", err)
		}
	}
	if env.Rules.IsPrague && header.Number.Sign() > 0 {
		parent := header.Number.Uint64() - 1
		parentHash, err := env.GetHash(parent)
		if err != nil {
			return fmt.Errorf("parent hash: %w", err)
		}
		if err := processParentHash(state, parent, parentHash); err != nil {
			return fmt.Errorf("history storage: %w", err)
		}
	}
	return nil
}

// processBeaconRoot emulates EIP-4788.
func processBeaconRoot(state stateprovider.StateProvider, timestamp uint64, root common.Hash) error {
	ok, err := deployed(state, BeaconRootsAddress)
	if err != nil || !ok {
		return err
	}
	index := timestamp % beaconRootsBufferLength
	if err := setStorage(state, BeaconRootsAddress, slotOf(index), slotOf(timestamp)); err != nil {
		return err
	}
	return setStorage(state, BeaconRootsAddress, slotOf(index+beaconRootsBufferLength), root)
}

// processParentHash emulates EIP-2935.
func processParentHash(state stateprovider.StateProvider, parent uint64, hash common.Hash) error {
	ok, err := deployed(state, HistoryStorageAddress)
	if err != nil || !ok {
		return err
	}
	return setStorage(state, HistoryStorageAddress, slotOf(parent%historyServeWindow), hash)
}

// processRequests collects the execution requests of a Prague block.
// Transfers emit no logs, so there are never deposit requests. Queues with
// pending requests are not supported.
func processRequests(state stateprovider.StateProvider) ([][]byte, error) {
	requests := [][]byte{{depositRequestType}}
	for _, queue := range []struct {
		addr   common.Address
		kind   byte
		target uint64
	}{
		{WithdrawalQueueAddress, withdrawalRequestType, targetWithdrawalRequests},
		{ConsolidationQueueAddress, consolidationRequestType, targetConsolidationRequests},
	} {
		ok, err := deployed(state, queue.addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: request contract %v has no code", engine.ErrBlockMismatch, queue.addr)
		}
		if err := dequeueEmpty(state, queue.addr, queue.target); err != nil {
			return nil, fmt.Errorf("request queue %v: %w", queue.addr, err)
		}
		requests = append(requests, []byte{queue.kind})
	}
	return requests, nil
}

func dequeueEmpty(state stateprovider.StateProvider, addr common.Address, target uint64) error {
	head, err := state.Storage(addr, queueHeadSlot)
	if err != nil {
		return err
	}
	tail, err := state.Storage(addr, queueTailSlot)
	if err != nil {
		return err
	}
	if head != tail {
		return fmt.Errorf("%w: %v queued requests", engine.ErrUnsupportedTransaction, new(uint256.Int).Sub(new(uint256.Int).SetBytes(tail[:]), new(uint256.Int).SetBytes(head[:])))
	}
	if err := setStorage(state, addr, queueHeadSlot, common.Hash{}); err != nil {
		return err
	}
	if err := setStorage(state, addr, queueTailSlot, common.Hash{}); err != nil {
		return err
	}

	excessHash, err := state.Storage(addr, excessSlot)
	if err != nil {
		return err
	}
	countHash, err := state.Storage(addr, countSlot)
	if err != nil {
		return err
	}
	excess := new(uint256.Int).SetBytes(excessHash[:])
	if excess.Eq(excessInhibitor) {
		excess.Clear()
	}
	count := new(uint256.Int).SetBytes(countHash[:])
	next := new(uint256.Int).Add(excess, count)
	targetValue := uint256.NewInt(target)
	if next.Gt(targetValue) {
		next.Sub(next, targetValue)
	} else {
		next.Clear()
	}
	if err := setStorage(state, addr, excessSlot, common.Hash(next.Bytes32())); err != nil {
		return err
	}
	return setStorage(state, addr, countSlot, common.Hash{})
}
