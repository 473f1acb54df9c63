// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	callsCounter   = metrics.NewRegisteredCounter("remote/calls", nil)
	retriesCounter = metrics.NewRegisteredCounter("remote/retries", nil)
	failureCounter = metrics.NewRegisteredCounter("remote/failures", nil)
)

type ClientConfig struct {
	URL            string        `koanf:"url"`
	Timeout        time.Duration `koanf:"timeout"`
	Retries        uint          `koanf:"retries"`
	InitialBackoff time.Duration `koanf:"initial-backoff"`
	MaxBackoff     time.Duration `koanf:"max-backoff"`
	ConnectionWait time.Duration `koanf:"connection-wait"`
	ArgLogLimit    uint          `koanf:"arg-log-limit"`
	RetryErrors    string        `koanf:"retry-errors"`
	// MaxBatchResponseSize bounds the bytes of a single batch response, 0 keeps the library default.
	MaxBatchResponseSize int `koanf:"max-batch-response-size"`
}

type ClientConfigFetcher func() *ClientConfig

// DefaultRetryErrors matches transport failures and rate limiting responses
// of common node providers.
const DefaultRetryErrors = `(?i)(i/o timeout|connection reset|connection refused|broken pipe|EOF|websocket: close|429|too many requests|rate limit|502|503|504|header not found)`

var TestClientConfig = ClientConfig{
	URL:            "",
	Timeout:        time.Second * 5,
	Retries:        2,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     time.Millisecond * 10,
	ArgLogLimit:    2048,
}

var DefaultClientConfig = ClientConfig{
	URL:            "",
	Timeout:        time.Second * 30,
	Retries:        3,
	InitialBackoff: time.Second,
	MaxBackoff:     time.Second * 30,
	ConnectionWait: time.Minute,
	ArgLogLimit:    2048,
	RetryErrors:    DefaultRetryErrors,
	// ancestor header batches are large
	MaxBatchResponseSize: 100_000_000,
}

func RPCClientAddOptions(prefix string, f *flag.FlagSet, defaultConfig *ClientConfig) {
	f.String(prefix+".url", defaultConfig.URL, "url of the execution node (http, ws or ipc)")
	f.Duration(prefix+".connection-wait", defaultConfig.ConnectionWait, "how long to wait for initial connection")
	f.Duration(prefix+".timeout", defaultConfig.Timeout, "per-response timeout (0-disabled)")
	f.Uint(prefix+".arg-log-limit", defaultConfig.ArgLogLimit, "limit size of arguments in log entries")
	f.Uint(prefix+".retries", defaultConfig.Retries, "number of retries in case of failure(0 mean one attempt)")
	f.Duration(prefix+".initial-backoff", defaultConfig.InitialBackoff, "wait before the first retry, doubled on every further retry")
	f.Duration(prefix+".max-backoff", defaultConfig.MaxBackoff, "upper bound for the wait between retries")
	f.String(prefix+".retry-errors", defaultConfig.RetryErrors, "Errors matching this regular expression are automatically retried")
	f.Int(prefix+".max-batch-response-size", defaultConfig.MaxBatchResponseSize, "the maximum response size for a JSON-RPC batch measured in bytes (0 = library default)")
}

func (c *ClientConfig) Validate() error {
	if c.RetryErrors != "" {
		if _, err := regexp.Compile(c.RetryErrors); err != nil {
			return fmt.Errorf("invalid retry-errors regular expression: %w", err)
		}
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max-backoff %v is below initial-backoff %v", c.MaxBackoff, c.InitialBackoff)
	}
	if c.MaxBatchResponseSize < 0 {
		return fmt.Errorf("invalid max-batch-response-size %d", c.MaxBatchResponseSize)
	}
	return nil
}

type RpcClient struct {
	config ClientConfigFetcher
	client *rpc.Client
	logId  uint64
}

func NewRpcClient(config ClientConfigFetcher) *RpcClient {
	return &RpcClient{
		config: config,
	}
}

// NewRpcClientFromClient wraps an already connected client, e.g. an in-process one.
func NewRpcClientFromClient(config ClientConfigFetcher, client *rpc.Client) *RpcClient {
	return &RpcClient{
		config: config,
		client: client,
	}
}

func (c *RpcClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func limitString(limit int, str string) string {
	if limit == 0 || len(str) <= limit {
		return str
	}
	prefix := str[:limit/2-1]
	postfix := str[len(str)-limit/2+1:]
	return fmt.Sprintf("%v..%v", prefix, postfix)
}

func logArgs(limit int, args ...interface{}) string {
	res := "["
	for i, arg := range args {
		marshalled, err := json.Marshal(arg)
		if err != nil {
			res += "\"CANNOT MARSHALL:" + limitString(limit, err.Error()) + "\""
		} else {
			res += limitString(limit, string(marshalled))
		}
		if i < len(args)-1 {
			res += ", "
		}
	}
	res += "]"
	return res
}

func (c *RpcClient) backoff(attempt int) time.Duration {
	config := c.config()
	wait := config.InitialBackoff
	for i := 0; i < attempt && wait < config.MaxBackoff; i++ {
		wait *= 2
	}
	if wait > config.MaxBackoff {
		wait = config.MaxBackoff
	}
	return wait
}

func (c *RpcClient) shouldRetry(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	retryErrors := c.config().RetryErrors
	if retryErrors == "" {
		return false
	}
	match, regexErr := regexp.MatchString(retryErrors, err.Error())
	if regexErr != nil {
		log.Warn("rpcclient: bad value for retry-error. Not retrying.", "err", err, "value", retryErrors)
		return false
	}
	return match
}

// withRetries runs attempt until it succeeds, fails with a non retryable
// error or the retry budget is spent. Cancellation of ctx_in stops it
// immediately, also while waiting between attempts.
func (c *RpcClient) withRetries(ctx_in context.Context, attempt func(ctx context.Context) error) error {
	var err error
	retries := int(c.config().Retries)
	for i := 0; i <= retries; i++ {
		if ctx_in.Err() != nil {
			return ctx_in.Err()
		}
		if i > 0 {
			retriesCounter.Inc(1)
			select {
			case <-ctx_in.Done():
				return ctx_in.Err()
			case <-time.After(c.backoff(i - 1)):
			}
		}
		var ctx context.Context
		var cancelCtx context.CancelFunc
		timeout := c.config().Timeout
		if timeout > 0 {
			ctx, cancelCtx = context.WithTimeout(ctx_in, timeout)
		} else {
			ctx, cancelCtx = context.WithCancel(ctx_in)
		}
		err = attempt(ctx)
		cancelCtx()
		if err == nil {
			return nil
		}
		if ctx_in.Err() != nil {
			return ctx_in.Err()
		}
		if !c.shouldRetry(err) {
			break
		}
	}
	failureCounter.Inc(1)
	return err
}

func (c *RpcClient) CallContext(ctx_in context.Context, result interface{}, method string, args ...interface{}) error {
	if c.client == nil {
		return errors.New("not connected")
	}
	callsCounter.Inc(1)
	logId := atomic.AddUint64(&c.logId, 1)
	log.Trace("sending RPC request", "method", method, "logId", logId, "args", logArgs(int(c.config().ArgLogLimit), args...))
	attempts := 0
	err := c.withRetries(ctx_in, func(ctx context.Context) error {
		err := c.client.CallContext(ctx, result, method, args...)
		logger := log.Trace
		limit := int(c.config().ArgLogLimit)
		if err != nil {
			logger = log.Info
			limit = 0
		}
		logger("rpc response", "method", method, "logId", logId, "err", err, "result", limitString(limit, fmt.Sprintf("%+v", result)), "attempt", attempts, "args", logArgs(limit, args...))
		attempts++
		return err
	})
	return err
}

// BatchCallContext sends b as one batch. Transport failures of the whole
// batch are retried; errors of single elements are left in b for the caller.
func (c *RpcClient) BatchCallContext(ctx_in context.Context, b []rpc.BatchElem) error {
	if c.client == nil {
		return errors.New("not connected")
	}
	callsCounter.Inc(1)
	logId := atomic.AddUint64(&c.logId, 1)
	log.Trace("sending RPC batch", "logId", logId, "size", len(b))
	err := c.withRetries(ctx_in, func(ctx context.Context) error {
		for i := range b {
			b[i].Error = nil
		}
		err := c.client.BatchCallContext(ctx, b)
		if err != nil {
			log.Info("rpc batch failed", "logId", logId, "size", len(b), "err", err)
		}
		return err
	})
	return err
}

func (c *RpcClient) EthSubscribe(ctx context.Context, channel interface{}, args ...interface{}) (*rpc.ClientSubscription, error) {
	if c.client == nil {
		return nil, errors.New("not connected")
	}
	return c.client.EthSubscribe(ctx, channel, args...)
}

// Client returns the underlying connection, nil before Start.
func (c *RpcClient) Client() *rpc.Client {
	return c.client
}

func (c *RpcClient) dialOptions() []rpc.ClientOption {
	var options []rpc.ClientOption
	if limit := c.config().MaxBatchResponseSize; limit > 0 {
		options = append(options, rpc.WithBatchResponseSizeLimit(limit))
	}
	return options
}

func (c *RpcClient) Start(ctx_in context.Context) error {
	if c.client != nil {
		return nil
	}
	url := c.config().URL
	if url == "" {
		return errors.New("no url provided for this connection")
	}
	connTimeout := time.After(c.config().ConnectionWait)
	for {
		var ctx context.Context
		var cancelCtx context.CancelFunc
		timeout := c.config().Timeout
		if timeout > 0 {
			ctx, cancelCtx = context.WithTimeout(ctx_in, timeout)
		} else {
			ctx, cancelCtx = context.WithCancel(ctx_in)
		}
		client, err := rpc.DialOptions(ctx, url, c.dialOptions()...)
		cancelCtx()
		if err == nil {
			c.client = client
			return nil
		}
		if strings.Contains(err.Error(), "parse") ||
			strings.Contains(err.Error(), "malformed") ||
			strings.Contains(err.Error(), "no known transport") {
			return fmt.Errorf("%w: url %s", err, url)
		}
		select {
		case <-connTimeout:
			return fmt.Errorf("timeout trying to connect lastError: %w", err)
		case <-ctx_in.Done():
			return ctx_in.Err()
		case <-time.After(time.Second):
		}
	}
}
