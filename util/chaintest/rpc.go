// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package chaintest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/offchainlabs/blockproofs/remote"
	"github.com/offchainlabs/blockproofs/util/testhelpers"
)

type EthAPI struct {
	chain *Chain
}

func (c *Chain) resolve(number rpc.BlockNumber) uint64 {
	if number < 0 {
		return c.Head().NumberU64()
	}
	return uint64(number)
}

func (api *EthAPI) ChainId() hexutil.Big {
	api.chain.count("eth_chainId")
	return hexutil.Big(*api.chain.config.ChainID)
}

func (api *EthAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.chain.Head().NumberU64())
}

func (api *EthAPI) GetBlockByNumber(number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	api.chain.count("eth_getBlockByNumber")
	block := api.chain.Block(api.chain.resolve(number))
	if block == nil {
		return nil, nil
	}
	enc, err := json.Marshal(block.Header())
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(enc, &fields); err != nil {
		return nil, err
	}
	if fullTx {
		fields["transactions"] = block.Transactions()
	} else {
		hashes := make([]common.Hash, 0, len(block.Transactions()))
		for _, tx := range block.Transactions() {
			hashes = append(hashes, tx.Hash())
		}
		fields["transactions"] = hashes
	}
	if block.Withdrawals() != nil {
		fields["withdrawals"] = block.Withdrawals()
	}
	fields["uncles"] = []common.Hash{}
	return fields, nil
}

func (api *EthAPI) GetProof(address common.Address, keys []string, number rpc.BlockNumber) (*remote.AccountResult, error) {
	slots := make([]common.Hash, len(keys))
	for i, key := range keys {
		slots[i] = common.HexToHash(key)
	}
	return api.chain.GetProof(context.Background(), address, slots, api.chain.resolve(number))
}

func (api *EthAPI) GetCode(address common.Address, number rpc.BlockNumber) (hexutil.Bytes, error) {
	return api.chain.CodeAt(context.Background(), address, api.chain.resolve(number))
}

func (api *EthAPI) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()
	heads := make(chan *types.Header, 16)
	sub := api.chain.SubscribeNewHead(heads)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case header := <-heads:
				_ = notifier.Notify(rpcSub.ID, header)
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

type DebugAPI struct {
	chain *Chain
	// Disabled makes dbGet fail the way hash-scheme-less nodes do.
	Disabled bool
}

func (api *DebugAPI) DbGet(key string) (hexutil.Bytes, error) {
	if api.Disabled {
		return nil, rpc.ErrNoResult
	}
	return api.chain.NodeByHash(context.Background(), common.HexToHash(key))
}

// Serve exposes the chain on an in-process JSON-RPC server.
func (c *Chain) Serve(t *testing.T, withDebug bool) *rpc.Client {
	t.Helper()
	server := rpc.NewServer()
	testhelpers.RequireImpl(t, server.RegisterName("eth", &EthAPI{chain: c}))
	testhelpers.RequireImpl(t, server.RegisterName("debug", &DebugAPI{chain: c, Disabled: !withDebug}))
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}
