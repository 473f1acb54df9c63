// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package ethproofs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/log"
)

type AlertConfig struct {
	RoutingKey string        `koanf:"routing-key"`
	URL        string        `koanf:"url"`
	Source     string        `koanf:"source"`
	Severity   string        `koanf:"severity"`
	Timeout    time.Duration `koanf:"timeout"`
}

var DefaultAlertConfig = AlertConfig{
	RoutingKey: "",
	URL:        "https://events.pagerduty.com/v2/enqueue",
	Source:     "blockprover",
	Severity:   "critical",
	Timeout:    10 * time.Second,
}

func AlertConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".routing-key", DefaultAlertConfig.RoutingKey, "events API integration key (empty disables alerts)")
	f.String(prefix+".url", DefaultAlertConfig.URL, "events API url")
	f.String(prefix+".source", DefaultAlertConfig.Source, "source reported with alerts")
	f.String(prefix+".severity", DefaultAlertConfig.Severity, "severity of alerts (critical, error, warning or info)")
	f.Duration(prefix+".timeout", DefaultAlertConfig.Timeout, "timeout of one alert request")
}

func (c *AlertConfig) Validate() error {
	if c.RoutingKey == "" {
		return nil
	}
	switch c.Severity {
	case "critical", "error", "warning", "info":
	default:
		return fmt.Errorf("invalid alert severity %q", c.Severity)
	}
	if c.URL == "" {
		return fmt.Errorf("alert url required with a routing key")
	}
	return nil
}

type alertPayload struct {
	Summary  string `json:"summary"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
}

type alertEvent struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	Payload     alertPayload `json:"payload"`
}

// Alerter triggers incidents through a PagerDuty compatible events API.
type Alerter struct {
	config AlertConfig
	client *http.Client
}

func NewAlerter(config *AlertConfig) (*Alerter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Alerter{config: *config, client: &http.Client{Timeout: config.Timeout}}, nil
}

// Alert raises summary. Delivery failures are logged; alerting never fails
// the caller.
func (a *Alerter) Alert(ctx context.Context, summary string) {
	if a.config.RoutingKey == "" {
		return
	}
	if err := a.send(ctx, summary); err != nil {
		log.Error("failed to send alert", "summary", summary, "err", err)
	}
}

func (a *Alerter) send(ctx context.Context, summary string) error {
	data, err := json.Marshal(&alertEvent{
		RoutingKey:  a.config.RoutingKey,
		EventAction: "trigger",
		Payload: alertPayload{
			Summary:  summary,
			Severity: a.config.Severity,
			Source:   a.config.Source,
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted && res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error with status %d returned by server: %s", res.StatusCode, http.StatusText(res.StatusCode))
	}
	return nil
}
