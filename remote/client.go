// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/offchainlabs/blockproofs/primitives"
	"github.com/offchainlabs/blockproofs/util/containers"
	"github.com/offchainlabs/blockproofs/util/rpcclient"
)

type ClientConfig struct {
	RPC          rpcclient.ClientConfig `koanf:"rpc"`
	BatchSize    int                    `koanf:"batch-size"`
	Parallelism  int                    `koanf:"parallelism"`
	NodeResolver bool                   `koanf:"node-resolver"`
	HeaderCache  int                    `koanf:"header-cache"`
}

var DefaultClientConfig = ClientConfig{
	RPC:          rpcclient.DefaultClientConfig,
	BatchSize:    64,
	Parallelism:  4,
	NodeResolver: false,
	HeaderCache:  1024,
}

var TestClientConfig = ClientConfig{
	RPC:          rpcclient.TestClientConfig,
	BatchSize:    4,
	Parallelism:  2,
	NodeResolver: true,
	HeaderCache:  16,
}

func ClientConfigAddOptions(prefix string, f *flag.FlagSet) {
	rpcclient.RPCClientAddOptions(prefix+".rpc", f, &DefaultClientConfig.RPC)
	f.Int(prefix+".batch-size", DefaultClientConfig.BatchSize, "number of requests per JSON-RPC batch (1 disables batching)")
	f.Int(prefix+".parallelism", DefaultClientConfig.Parallelism, "number of batches in flight at once")
	f.Bool(prefix+".node-resolver", DefaultClientConfig.NodeResolver, "fetch trie nodes by hash with debug_dbGet when a post-state proof cannot rebuild them")
	f.Int(prefix+".header-cache", DefaultClientConfig.HeaderCache, "number of ancestor headers kept between blocks (0 disables)")
}

func (c *ClientConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be positive, got %d", c.BatchSize)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	return c.RPC.Validate()
}

type ClientConfigFetcher func() *ClientConfig

var errNotFound = errors.New("not found")

var headerCacheHitCounter = metrics.NewRegisteredCounter("remote/headers/cached", nil)

// Client implements Remote over JSON-RPC.
type Client struct {
	config  ClientConfigFetcher
	rpc     *rpcclient.RpcClient
	headers *containers.LruCache[uint64, *types.Header]
}

func NewClient(config ClientConfigFetcher) *Client {
	return &Client{
		config:  config,
		rpc:     rpcclient.NewRpcClient(func() *rpcclient.ClientConfig { return &config().RPC }),
		headers: containers.NewLruCache[uint64, *types.Header](config().HeaderCache),
	}
}

// NewClientFromRPC wraps an established connection.
func NewClientFromRPC(config ClientConfigFetcher, client *rpc.Client) *Client {
	return &Client{
		config:  config,
		rpc:     rpcclient.NewRpcClientFromClient(func() *rpcclient.ClientConfig { return &config().RPC }, client),
		headers: containers.NewLruCache[uint64, *types.Header](config().HeaderCache),
	}
}

func (c *Client) Start(ctx context.Context) error {
	return c.rpc.Start(ctx)
}

func (c *Client) Close() {
	c.rpc.Close()
}

// SubscribeNewHead follows the chain head over the node connection, which
// must support subscriptions.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.rpc.EthSubscribe(ctx, ch, "newHeads")
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Remote returns c, with NodeResolver support when enabled in the config.
func (c *Client) Remote() Remote {
	if c.config().NodeResolver {
		return &ResolvingClient{c}
	}
	return c
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %w", primitives.ErrRemoteQueryFailure, method, err)
	}
	return nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Big
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return id.ToInt().Uint64(), nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	var head *types.Header
	if err := c.call(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("%w: header %d %w", primitives.ErrRemoteQueryFailure, number, errNotFound)
	}
	return head, nil
}

type rpcBody struct {
	Transactions []*types.Transaction `json:"transactions"`
	Withdrawals  []*types.Withdrawal  `json:"withdrawals"`
}

func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: block %d %w", primitives.ErrRemoteQueryFailure, number, errNotFound)
	}
	var head *types.Header
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: decoding header %d: %w", primitives.ErrRemoteQueryFailure, number, err)
	}
	var body rpcBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding body %d: %w", primitives.ErrRemoteQueryFailure, number, err)
	}
	return types.NewBlockWithHeader(head).WithBody(types.Body{
		Transactions: body.Transactions,
		Withdrawals:  body.Withdrawals,
	}), nil
}

// HeadersByRange returns the headers from..to inclusive. Cached headers are
// reused as long as the result still links up by parent hash.
func (c *Client) HeadersByRange(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	if to < from {
		return nil, fmt.Errorf("invalid header range %d..%d", from, to)
	}
	headers := make([]*types.Header, to-from+1)
	hits := 0
	for i := range headers {
		if h, ok := c.headers.Get(from + uint64(i)); ok {
			headers[i] = h
			hits++
		}
	}
	headerCacheHitCounter.Inc(int64(hits))
	if err := c.fillHeaders(ctx, from, headers); err != nil {
		return nil, err
	}
	if hits > 0 && !linked(headers) {
		log.Warn("cached headers do not link up, refetching", "from", from, "to", to)
		c.headers.Clear()
		clear(headers)
		if err := c.fillHeaders(ctx, from, headers); err != nil {
			return nil, err
		}
	}
	for i, h := range headers {
		c.headers.Add(from+uint64(i), h)
	}
	return headers, nil
}

func linked(headers []*types.Header) bool {
	for i := 1; i < len(headers); i++ {
		if headers[i].ParentHash != headers[i-1].Hash() {
			return false
		}
	}
	return true
}

// fillHeaders fetches the missing entries of headers, which starts at block
// from, in batches of contiguous gaps.
func (c *Client) fillHeaders(ctx context.Context, from uint64, headers []*types.Header) error {
	config := c.config()
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(config.Parallelism)
	for start := 0; start < len(headers); {
		if headers[start] != nil {
			start++
			continue
		}
		end := start
		for end < len(headers) && headers[end] == nil && end-start < config.BatchSize {
			end++
		}
		first, out := from+uint64(start), headers[start:end]
		group.Go(func() error {
			return c.headerBatch(gctx, first, out)
		})
		start = end
	}
	return group.Wait()
}

func (c *Client) headerBatch(ctx context.Context, first uint64, out []*types.Header) error {
	if len(out) == 1 {
		h, err := c.HeaderByNumber(ctx, first)
		out[0] = h
		return err
	}
	batch := make([]rpc.BatchElem, len(out))
	for i := range batch {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(first + uint64(i)), false},
			Result: &out[i],
		}
	}
	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("batch request failed, falling back to single requests", "first", first, "size", len(out), "err", err)
		for i := range out {
			h, err := c.HeaderByNumber(ctx, first+uint64(i))
			if err != nil {
				return err
			}
			out[i] = h
		}
		return nil
	}
	for i := range batch {
		if batch[i].Error != nil || out[i] == nil {
			h, err := c.HeaderByNumber(ctx, first+uint64(i))
			if err != nil {
				return err
			}
			out[i] = h
		}
	}
	return nil
}

func (c *Client) GetProof(ctx context.Context, account common.Address, slots []common.Hash, number uint64) (*AccountResult, error) {
	keys := make([]string, len(slots))
	for i, s := range slots {
		keys[i] = s.Hex()
	}
	var res AccountResult
	if err := c.call(ctx, &res, "eth_getProof", account, keys, hexutil.EncodeUint64(number)); err != nil {
		return nil, err
	}
	if len(res.StorageProof) != len(slots) {
		return nil, fmt.Errorf("%w: eth_getProof returned %d storage proofs for %d slots", primitives.ErrRemoteQueryFailure, len(res.StorageProof), len(slots))
	}
	return &res, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, number uint64) ([]byte, error) {
	var code hexutil.Bytes
	if err := c.call(ctx, &code, "eth_getCode", account, hexutil.EncodeUint64(number)); err != nil {
		return nil, err
	}
	return code, nil
}

func (c *Client) StateRoot(ctx context.Context, number uint64) (common.Hash, error) {
	head, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		return common.Hash{}, err
	}
	return head.Root, nil
}

// ResolvingClient is a Client that also serves trie nodes by digest. It
// relies on debug_dbGet, so it only works against hash-scheme databases.
type ResolvingClient struct {
	*Client
}

func (c *ResolvingClient) NodeByHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	var enc hexutil.Bytes
	if err := c.call(ctx, &enc, "debug_dbGet", hash.Hex()); err != nil {
		return nil, err
	}
	if crypto.Keccak256Hash(enc) != hash {
		return nil, fmt.Errorf("%w: debug_dbGet returned data for a different node than %v", primitives.ErrRemoteQueryFailure, hash)
	}
	return enc, nil
}
