package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSIG_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSIG_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators point at a staging venue or retune poll
// intervals at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.RESTURL, "POLYSIG_VENUE_REST_URL")
	setStr(&cfg.Venue.WSURL, "POLYSIG_VENUE_WS_URL")
	setFloat64(&cfg.Venue.MaxRequestsPerSec, "POLYSIG_VENUE_MAX_REQUESTS_PER_SEC")
	setDuration(&cfg.Venue.ReconnectDelay, "POLYSIG_VENUE_RECONNECT_DELAY")

	// ── Instruments ──
	setStringSlice(&cfg.Instruments.Tracked, "POLYSIG_INSTRUMENTS_TRACKED")

	// ── Whales ──
	setStringSlice(&cfg.Whales.Seed, "POLYSIG_WHALES_SEED")
	setDuration(&cfg.Whales.PollInterval, "POLYSIG_WHALES_POLL_INTERVAL")

	// ── HLP ──
	setStr(&cfg.HLP.VaultAddress, "POLYSIG_HLP_VAULT_ADDRESS")
	setDuration(&cfg.HLP.PollInterval, "POLYSIG_HLP_POLL_INTERVAL")

	// ── Funding ──
	setDuration(&cfg.Funding.PollInterval, "POLYSIG_FUNDING_POLL_INTERVAL")

	// ── Weights ──
	setFloat64(&cfg.Weights.OrderFlow, "POLYSIG_WEIGHTS_ORDERFLOW")
	setFloat64(&cfg.Weights.Whales, "POLYSIG_WEIGHTS_WHALES")
	setFloat64(&cfg.Weights.HLP, "POLYSIG_WEIGHTS_HLP")
	setFloat64(&cfg.Weights.Funding, "POLYSIG_WEIGHTS_FUNDING")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSIG_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramBotToken, "POLYSIG_NOTIFY_TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSIG_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "POLYSIG_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYSIG_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
