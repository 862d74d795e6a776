// Package config defines the static configuration for the signal engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYSIG_* environment
// variables.
type Config struct {
	Venue       VenueConfig       `toml:"venue"`
	Instruments InstrumentsConfig `toml:"instruments"`
	OrderFlow   OrderFlowConfig   `toml:"orderflow"`
	Whales      WhalesConfig      `toml:"whales"`
	HLP         HLPConfig         `toml:"hlp"`
	Funding     FundingConfig     `toml:"funding"`
	Weights     WeightsConfig     `toml:"weights"`
	Notify      NotifyConfig      `toml:"notify"`
	LogLevel    string            `toml:"log_level"`
}

// VenueConfig holds the upstream venue's REST/WS endpoints and the REST
// client's rate limit and retry parameters.
type VenueConfig struct {
	RESTURL           string   `toml:"rest_url"`
	WSURL             string   `toml:"ws_url"`
	MaxRequestsPerSec float64  `toml:"max_requests_per_sec"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
}

// InstrumentsConfig holds the tracked-instrument list and per-instrument
// large-trade USD thresholds.
type InstrumentsConfig struct {
	Tracked                []string           `toml:"tracked"`
	LargeTradeThresholdUSD map[string]float64 `toml:"large_trade_threshold_usd"`
}

// OrderFlowConfig holds the rolling-window list used by the orderflow detector.
type OrderFlowConfig struct {
	WindowsSeconds []int `toml:"windows_seconds"`
}

// WhalesConfig holds the whale tracker's seed list and its poll interval.
type WhalesConfig struct {
	Seed         []string `toml:"seed"`
	PollInterval duration `toml:"poll_interval"`
}

// HLPConfig holds the house-vault identifier and the HLP detector's poll interval.
type HLPConfig struct {
	VaultAddress string   `toml:"vault_address"`
	PollInterval duration `toml:"poll_interval"`
}

// FundingConfig holds the funding detector's poll interval.
type FundingConfig struct {
	PollInterval duration `toml:"poll_interval"`
}

// WeightsConfig holds the composite aggregator's per-component weights.
type WeightsConfig struct {
	OrderFlow float64 `toml:"orderflow"`
	Whales    float64 `toml:"whales"`
	HLP       float64 `toml:"hlp"`
	Funding   float64 `toml:"funding"`
}

// NotifyConfig holds optional alert-channel credentials and the set of
// composite-signal events that should trigger an outbound notification. An
// empty Events list allows every event; a sender with an empty credential
// (webhook URL, bot token) is simply not constructed.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramBotToken  string   `toml:"telegram_bot_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration to support TOML string decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the reference values from the
// original free-tier data layer: Hyperliquid's public endpoints, ETH/SOL
// tracked, 60/300/300s poll intervals, and the default signal weights.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			RESTURL:           "https://api.hyperliquid.xyz/info",
			WSURL:             "wss://api.hyperliquid.xyz/ws",
			MaxRequestsPerSec: 10.0,
			ReconnectDelay:    duration{3 * time.Second},
		},
		Instruments: InstrumentsConfig{
			Tracked: []string{"ETH", "SOL"},
			LargeTradeThresholdUSD: map[string]float64{
				"ETH": 50_000,
				"SOL": 25_000,
			},
		},
		OrderFlow: OrderFlowConfig{
			WindowsSeconds: []int{300, 900, 3600, 14400},
		},
		Whales: WhalesConfig{
			Seed:         nil,
			PollInterval: duration{60 * time.Second},
		},
		HLP: HLPConfig{
			VaultAddress: "0xdfc24b077bc1425ad1dea75bcb6f8158e10df303",
			PollInterval: duration{300 * time.Second},
		},
		Funding: FundingConfig{
			PollInterval: duration{300 * time.Second},
		},
		Weights: WeightsConfig{
			OrderFlow: 0.30,
			Whales:    0.25,
			HLP:       0.25,
			Funding:   0.20,
		},
		Notify: NotifyConfig{
			Events: []string{"strong_long", "strong_short", "hlp_extreme", "funding_anomaly"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found. An empty
// tracked-instrument list is rejected here rather than left to produce
// silent no-op detectors.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Venue.RESTURL == "" {
		errs = append(errs, "venue: rest_url must not be empty")
	}
	if c.Venue.WSURL == "" {
		errs = append(errs, "venue: ws_url must not be empty")
	}
	if c.Venue.MaxRequestsPerSec <= 0 {
		errs = append(errs, "venue: max_requests_per_sec must be > 0")
	}

	if len(c.Instruments.Tracked) == 0 {
		errs = append(errs, "instruments: tracked must not be empty")
	}

	if len(c.OrderFlow.WindowsSeconds) == 0 {
		errs = append(errs, "orderflow: windows_seconds must not be empty")
	}
	for _, w := range c.OrderFlow.WindowsSeconds {
		if w <= 0 {
			errs = append(errs, "orderflow: windows_seconds entries must be > 0")
			break
		}
	}

	if c.Whales.PollInterval.Duration <= 0 {
		errs = append(errs, "whales: poll_interval must be > 0")
	}
	if c.HLP.PollInterval.Duration <= 0 {
		errs = append(errs, "hlp: poll_interval must be > 0")
	}
	if c.HLP.VaultAddress == "" {
		errs = append(errs, "hlp: vault_address must not be empty")
	}
	if c.Funding.PollInterval.Duration <= 0 {
		errs = append(errs, "funding: poll_interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
