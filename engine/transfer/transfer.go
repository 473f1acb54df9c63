// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package transfer is an Engine for blocks that only move ether: plain value
// transfers between accounts without code, fee payment and withdrawals,
// together with the system contract updates of Cancun and Prague. Anything
// that would run EVM code fails with engine.ErrUnsupportedTransaction.
package transfer

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/blockproofs/engine"
	"github.com/offchainlabs/blockproofs/stateprovider"
)

var gwei = uint256.NewInt(1_000_000_000)

type Engine struct{}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{}
}

func isEmpty(account *types.StateAccount) bool {
	return account.Nonce == 0 && account.Balance.IsZero() && common.BytesToHash(account.CodeHash) == types.EmptyCodeHash
}

func hasCode(account *types.StateAccount) bool {
	return account != nil && common.BytesToHash(account.CodeHash) != types.EmptyCodeHash
}

// credit adds amount to addr. A zero credit to a missing account leaves it missing.
func credit(state stateprovider.StateProvider, addr common.Address, amount *uint256.Int) error {
	account, err := state.Account(addr)
	if err != nil {
		return err
	}
	if account == nil {
		if amount.IsZero() {
			return nil
		}
		account = stateprovider.NewAccount()
	}
	account.Balance = new(uint256.Int).Add(account.Balance, amount)
	return state.SetAccount(addr, account)
}

// deleteEmpty removes touched accounts that ended up empty (EIP-161).
func deleteEmpty(env *engine.BlockEnv, state stateprovider.StateProvider, touched ...common.Address) error {
	if !env.Rules.IsEIP158 {
		return nil
	}
	for _, addr := range touched {
		account, err := state.Account(addr)
		if err != nil {
			return err
		}
		if account != nil && isEmpty(account) {
			if err := state.SetAccount(addr, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func toUint256(b *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: value %v exceeds 256 bits", engine.ErrInvalidTransaction, b)
	}
	return v, nil
}

// gasPrices returns the price the sender pays per gas, the part of it the
// coinbase receives and the fee cap used for the balance check.
func gasPrices(env *engine.BlockEnv, tx *types.Transaction) (price, tip, feeCap *uint256.Int, err error) {
	if feeCap, err = toUint256(tx.GasFeeCap()); err != nil {
		return nil, nil, nil, err
	}
	tipCap, err := toUint256(tx.GasTipCap())
	if err != nil {
		return nil, nil, nil, err
	}
	if tipCap.Gt(feeCap) {
		return nil, nil, nil, fmt.Errorf("%w: tip cap %v above fee cap %v", engine.ErrInvalidTransaction, tipCap, feeCap)
	}
	if !env.Rules.IsLondon || env.Header.BaseFee == nil {
		return feeCap, feeCap, feeCap, nil
	}
	baseFee, err := toUint256(env.Header.BaseFee)
	if err != nil {
		return nil, nil, nil, err
	}
	if feeCap.Lt(baseFee) {
		return nil, nil, nil, fmt.Errorf("%w: fee cap %v below base fee %v", engine.ErrInvalidTransaction, feeCap, baseFee)
	}
	tip = new(uint256.Int).Sub(feeCap, baseFee)
	if tipCap.Lt(tip) {
		tip = tipCap
	}
	price = new(uint256.Int).Add(baseFee, tip)
	return price, tip, feeCap, nil
}

func (e *Engine) ApplyTransaction(env *engine.BlockEnv, tx *types.Transaction, index int, state stateprovider.StateProvider) (*types.Receipt, error) {
	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType:
	default:
		return nil, fmt.Errorf("%w: transaction type %d", engine.ErrUnsupportedTransaction, tx.Type())
	}
	if (tx.Type() == types.AccessListTxType && !env.Rules.IsBerlin) || (tx.Type() == types.DynamicFeeTxType && !env.Rules.IsLondon) {
		return nil, fmt.Errorf("%w: transaction type %d not active", engine.ErrInvalidTransaction, tx.Type())
	}
	from, err := types.Sender(env.Signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrInvalidTransaction, err)
	}
	to := tx.To()
	if to == nil {
		return nil, fmt.Errorf("%w: contract creation", engine.ErrUnsupportedTransaction)
	}

	gas := intrinsicGas(tx.Data(), tx.AccessList(), env.Rules)
	if tx.Gas() < gas {
		return nil, fmt.Errorf("%w: gas %d below intrinsic gas %d", engine.ErrInvalidTransaction, tx.Gas(), gas)
	}
	if env.Rules.IsPrague {
		floor := floorDataGas(tx.Data())
		if tx.Gas() < floor {
			return nil, fmt.Errorf("%w: gas %d below calldata floor %d", engine.ErrInvalidTransaction, tx.Gas(), floor)
		}
		gas = max(gas, floor)
	}
	if tx.Gas() > env.GasLeft() {
		return nil, fmt.Errorf("%w: gas %d exceeds remaining block gas %d", engine.ErrInvalidTransaction, tx.Gas(), env.GasLeft())
	}
	price, tip, feeCap, err := gasPrices(env, tx)
	if err != nil {
		return nil, err
	}
	value, err := toUint256(tx.Value())
	if err != nil {
		return nil, err
	}

	sender, err := state.Account(from)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		sender = stateprovider.NewAccount()
	}
	if hasCode(sender) {
		return nil, fmt.Errorf("%w: sender %v has code", engine.ErrInvalidTransaction, from)
	}
	if sender.Nonce != tx.Nonce() {
		return nil, fmt.Errorf("%w: nonce %d, account nonce %d", engine.ErrInvalidTransaction, tx.Nonce(), sender.Nonce)
	}
	maxCost := new(uint256.Int).Mul(uint256.NewInt(tx.Gas()), feeCap)
	maxCost.Add(maxCost, value)
	if sender.Balance.Lt(maxCost) {
		return nil, fmt.Errorf("%w: sender %v balance %v below %v", engine.ErrInvalidTransaction, from, sender.Balance, maxCost)
	}

	for _, precompile := range vm.ActivePrecompiles(env.Rules) {
		if precompile == *to {
			return nil, fmt.Errorf("%w: call to precompile %v", engine.ErrUnsupportedTransaction, to)
		}
	}
	recipient, err := state.Account(*to)
	if err != nil {
		return nil, err
	}
	if hasCode(recipient) {
		// The code read is part of the witness even though the call stops here.
		if _, err := state.Code(*to, common.BytesToHash(recipient.CodeHash)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: call to contract %v", engine.ErrUnsupportedTransaction, to)
	}

	fee := new(uint256.Int).Mul(uint256.NewInt(gas), price)
	sender.Nonce++
	sender.Balance = new(uint256.Int).Sub(sender.Balance, fee)
	sender.Balance.Sub(sender.Balance, value)
	if err := state.SetAccount(from, sender); err != nil {
		return nil, err
	}
	if err := credit(state, *to, value); err != nil {
		return nil, err
	}
	coinbase := env.Header.Coinbase
	if err := credit(state, coinbase, new(uint256.Int).Mul(uint256.NewInt(gas), tip)); err != nil {
		return nil, err
	}
	if err := deleteEmpty(env, state, from, *to, coinbase); err != nil {
		return nil, err
	}

	env.GasUsed += gas
	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: env.GasUsed,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           gas,
		EffectiveGasPrice: price.ToBig(),
		BlockNumber:       new(big.Int).Set(env.Header.Number),
		TransactionIndex:  uint(index),
	}
	receipt.Bloom = engine.LogsBloom(receipt.Logs)
	log.Trace("applied transfer", "index", index, "from", from, "to", to, "value", value, "gas", gas)
	return receipt, nil
}

func (e *Engine) Finalize(env *engine.BlockEnv, withdrawals types.Withdrawals, state stateprovider.StateProvider) ([][]byte, error) {
	for _, w := range withdrawals {
		amount := new(uint256.Int).Mul(uint256.NewInt(w.Amount), gwei)
		if err := credit(state, w.Address, amount); err != nil {
			return nil, fmt.Errorf("withdrawal %d: %w", w.Index, err)
		}
		if err := deleteEmpty(env, state, w.Address); err != nil {
			return nil, err
		}
	}
	if !env.Rules.IsPrague {
		return nil, nil
	}
	return processRequests(state)
}
