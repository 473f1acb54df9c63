// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package ethproofs reports proving progress to a proofs registry and raises
// alerts when a block could not be proven.
package ethproofs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var reportFailedCounter = metrics.NewRegisteredCounter("ethproofs/report/failed", nil)

const (
	queuedRequestPath  = "/proofs/queued"
	provingRequestPath = "/proofs/proving"
	provedRequestPath  = "/proofs/proved"
)

type Config struct {
	Endpoint   string        `koanf:"endpoint"`
	ClusterID  uint64        `koanf:"cluster-id"`
	APIToken   string        `koanf:"api-token"`
	VerifierID string        `koanf:"verifier-id"`
	Timeout    time.Duration `koanf:"timeout"`
}

var DefaultConfig = Config{
	Endpoint:   "",
	ClusterID:  0,
	APIToken:   "",
	VerifierID: "",
	Timeout:    30 * time.Second,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".endpoint", DefaultConfig.Endpoint, "proofs registry API endpoint (empty disables reporting)")
	f.Uint64(prefix+".cluster-id", DefaultConfig.ClusterID, "cluster id proofs are reported under")
	f.String(prefix+".api-token", DefaultConfig.APIToken, "bearer token for the proofs registry")
	f.String(prefix+".verifier-id", DefaultConfig.VerifierID, "verifier id attached to proved blocks")
	f.Duration(prefix+".timeout", DefaultConfig.Timeout, "timeout of one registry request")
}

func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if !(strings.HasPrefix(c.Endpoint, "http://") || strings.HasPrefix(c.Endpoint, "https://")) {
		return fmt.Errorf("protocol prefix 'http://' or 'https://' must be specified for the proofs registry; got '%s'", c.Endpoint)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("registry timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

type blockReport struct {
	BlockNumber uint64 `json:"block_number"`
	ClusterID   uint64 `json:"cluster_id"`
}

type provedReport struct {
	blockReport
	ProvingTime   int64  `json:"proving_time"`
	ProvingCycles uint64 `json:"proving_cycles"`
	Proof         string `json:"proof"`
	VerifierID    string `json:"verifier_id,omitempty"`
}

// Reporter posts block status updates to the registry. A Reporter built from
// a disabled config accepts every call and sends nothing.
type Reporter struct {
	config Config
	client *http.Client
}

func NewReporter(config *Config) (*Reporter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Reporter{
		config: *config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (r *Reporter) String() string {
	return fmt.Sprintf("proofs registry reporter for %s", r.config.Endpoint)
}

func (r *Reporter) Enabled() bool {
	return r.config.Enabled()
}

// Queued announces that number will be proven.
func (r *Reporter) Queued(ctx context.Context, number uint64) error {
	return r.post(ctx, queuedRequestPath, r.block(number))
}

// Proving announces that proving of number started.
func (r *Reporter) Proving(ctx context.Context, number uint64) error {
	return r.post(ctx, provingRequestPath, r.block(number))
}

// Proved publishes the proof of number together with its cost.
func (r *Reporter) Proved(ctx context.Context, number uint64, cycles uint64, elapsed time.Duration, proof []byte) error {
	return r.post(ctx, provedRequestPath, &provedReport{
		blockReport:   r.block(number),
		ProvingTime:   elapsed.Milliseconds(),
		ProvingCycles: cycles,
		Proof:         base64.StdEncoding.EncodeToString(proof),
		VerifierID:    r.config.VerifierID,
	})
}

func (r *Reporter) block(number uint64) blockReport {
	return blockReport{BlockNumber: number, ClusterID: r.config.ClusterID}
}

func (r *Reporter) post(ctx context.Context, path string, body any) error {
	if !r.Enabled() {
		return nil
	}
	err := r.send(ctx, path, body)
	if err != nil {
		reportFailedCounter.Inc(1)
		return fmt.Errorf("reporting to %s: %w", path, err)
	}
	log.Debug("reported to proofs registry", "path", path)
	return nil
}

func (r *Reporter) send(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(r.config.Endpoint, "/")+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIToken)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("HTTP error with status %d returned by server: %s %s", res.StatusCode, http.StatusText(res.StatusCode), strings.TrimSpace(string(msg)))
	}
	return nil
}
