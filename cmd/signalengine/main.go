// Command signalengine is the entry point for the Hyperliquid market
// signal engine. It loads configuration, wires the REST/WS clients and
// the four detectors into a signal aggregator, and serves a periodic
// dashboard snapshot until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/aggregator"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/config"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/dashboard"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/funding"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hlp"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/notify"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/orderflow"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/whales"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("hyperliquid signal engine starting",
		slog.Any("instruments", cfg.Instruments.Tracked),
		slog.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Error("signal engine exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("hyperliquid signal engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rest := hyperliquid.NewRESTClient(cfg.Venue.RESTURL, cfg.Venue.MaxRequestsPerSec)

	ofWS := hyperliquid.NewWSClient(cfg.Venue.WSURL, cfg.Venue.ReconnectDelay.Duration, nil, logger)
	ofDetector := orderflow.New(ofWS, cfg.Instruments.Tracked, cfg.OrderFlow.WindowsSeconds, cfg.Instruments.LargeTradeThresholdUSD, logger)
	ofWS.SetHandler(ofDetector.HandleMessage)

	whaleTracker := whales.New(rest, cfg.Instruments.Tracked, cfg.Whales.Seed, cfg.Whales.PollInterval.Duration, logger)
	hlpDetector := hlp.New(rest, cfg.HLP.VaultAddress, cfg.Instruments.Tracked, cfg.HLP.PollInterval.Duration, logger)
	fundingDetector := funding.New(rest, cfg.Instruments.Tracked, cfg.Funding.PollInterval.Duration, logger)

	agg := aggregator.New(
		cfg.Instruments.Tracked,
		aggregator.Weights{
			OrderFlow: cfg.Weights.OrderFlow,
			Whales:    cfg.Weights.Whales,
			HLP:       cfg.Weights.HLP,
			Funding:   cfg.Weights.Funding,
		},
		ofDetector,
		whaleTracker,
		hlpDetector,
		fundingDetector,
	)

	binder := dashboard.New(rest, agg, cfg.Instruments.Tracked, logger)

	alertWatcher := buildAlertWatcher(cfg, agg, logger)

	agg.Start()
	defer agg.Stop()
	if alertWatcher != nil {
		alertWatcher.Start()
		defer alertWatcher.Stop()
	}

	logger.Info("detectors started, warming up")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := binder.Snapshot(ctx)
			logSnapshot(logger, snap)
		}
	}
}

func logSnapshot(logger *slog.Logger, snap dashboard.Snapshot) {
	for _, row := range snap.Rows {
		attrs := []any{
			slog.String("instrument", row.Instrument),
			slog.Float64("mid_price", row.MidPrice),
		}
		if row.Composite != nil {
			attrs = append(attrs,
				slog.Float64("score", row.Composite.Score),
				slog.String("recommendation", string(row.Composite.Recommendation)),
			)
		}
		logger.Info("signal snapshot", attrs...)
	}
}

// buildAlertWatcher wires a notify.AlertWatcher over any configured
// senders. Returns nil if no Discord webhook or Telegram bot credentials
// are set, so alerting is entirely opt-in.
func buildAlertWatcher(cfg *config.Config, agg *aggregator.Aggregator, logger *slog.Logger) *notify.AlertWatcher {
	var senders []notify.AlertSender
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordAlertSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramAlertSender(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID))
	}
	if len(senders) == 0 {
		return nil
	}

	router := notify.NewAlertRouter(senders, cfg.Notify.Events, logger)
	return notify.NewAlertWatcher(agg, router, 30*time.Second, logger)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
