// Package notify delivers composite-signal alerts (strong recommendations,
// HLP vault extremes, funding anomalies) to outbound channels (Discord,
// Telegram). An AlertWatcher polls the aggregator for edge-triggered
// events and an AlertRouter fans each one out to every configured sender,
// filtered by the operator's chosen event set.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

// Event type identifiers used for AlertRouter event filtering.
const (
	EventStrongLong     = "strong_long"
	EventStrongShort    = "strong_short"
	EventHLPExtreme     = "hlp_extreme"
	EventFundingAnomaly = "funding_anomaly"
)

// Alert is one edge-triggered signal-engine event bound for every
// configured channel.
type Alert struct {
	Event      string
	Instrument string
	Summary    string // one-line human summary, e.g. "ETH: STRONG_LONG"
	Detail     string // supporting metrics, e.g. "composite score 0.71 (...)"
}

// AlertSender is the interface each outbound channel implements.
type AlertSender interface {
	SendAlert(ctx context.Context, a Alert) error
	Name() string
}

// AlertRouter fans an Alert out to every registered AlertSender, filtered
// by a configured set of allowed event types. An empty allow-list permits
// every event.
type AlertRouter struct {
	senders []AlertSender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewAlertRouter builds a router over the given senders. Only events whose
// type appears in events are routed; if events is empty, every event
// passes.
func NewAlertRouter(senders []AlertSender, events []string, logger *slog.Logger) *AlertRouter {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &AlertRouter{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "alert_router")),
	}
}

// Route delivers a to every sender unless an allow-list is configured and
// a.Event isn't in it. A sender failing to deliver is logged and does not
// block delivery to the remaining senders.
func (r *AlertRouter) Route(ctx context.Context, a Alert) {
	if len(r.senders) == 0 {
		return
	}
	if len(r.allowed) > 0 && !r.allowed[a.Event] {
		r.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return
	}
	for _, s := range r.senders {
		if err := s.SendAlert(ctx, a); err != nil {
			r.logger.ErrorContext(ctx, "alert dispatch failed",
				slog.String("sender", s.Name()),
				slog.String("event", a.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DiscordAlertSender delivers alerts to a Discord channel webhook,
// rendering the summary in bold above the supporting detail line.
type DiscordAlertSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordAlertSender builds a sender posting to webhookURL.
func NewDiscordAlertSender(webhookURL string) *DiscordAlertSender {
	return &DiscordAlertSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordAlertSender) SendAlert(ctx context.Context, a Alert) error {
	content := fmt.Sprintf("**%s**\n%s", a.Summary, a.Detail)
	return postJSON(ctx, d.client, d.webhookURL, map[string]string{"content": content}, "discord")
}

func (d *DiscordAlertSender) Name() string { return "discord" }

// TelegramAlertSender delivers alerts via the Telegram Bot API's
// sendMessage endpoint.
type TelegramAlertSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramAlertSender builds a sender for the given bot token and chat ID.
func NewTelegramAlertSender(token, chatID string) *TelegramAlertSender {
	return &TelegramAlertSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramAlertSender) SendAlert(ctx context.Context, a Alert) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	text := fmt.Sprintf("*%s*\n%s", a.Summary, a.Detail)
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	return postJSON(ctx, t.client, url, payload, "telegram")
}

func (t *TelegramAlertSender) Name() string { return "telegram" }

// postJSON marshals payload and POSTs it to url, treating any non-2xx
// response as an error tagged with the channel name.
func postJSON(ctx context.Context, client *http.Client, url string, payload map[string]string, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", channel, resp.StatusCode, string(respBody))
	}
	return nil
}

// SignalSource is the subset of the aggregator's API the alert watcher
// polls. Satisfied by *aggregator.Aggregator.
type SignalSource interface {
	GetCompositeSignals() []domain.CompositeSignal
	HLPSignals() []domain.HLPSignal
	FundingSignals() []domain.FundingSignal
}

// AlertWatcher polls a SignalSource on an interval and routes
// edge-triggered events: a STRONG_LONG/STRONG_SHORT recommendation, an
// HLP vault z-score crossing the extreme threshold, or a funding-rate
// anomaly — each fired only on the transition into that state, not on
// every poll while it persists.
type AlertWatcher struct {
	source   SignalSource
	router   *AlertRouter
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	lastRec     map[string]domain.Recommendation
	lastExtreme map[string]bool
	lastAnomaly map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAlertWatcher builds a watcher over the given signal source and
// router, polling every interval.
func NewAlertWatcher(source SignalSource, router *AlertRouter, interval time.Duration, logger *slog.Logger) *AlertWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertWatcher{
		source:      source,
		router:      router,
		interval:    interval,
		logger:      logger.With(slog.String("component", "alert_watcher")),
		lastRec:     make(map[string]domain.Recommendation),
		lastExtreme: make(map[string]bool),
		lastAnomaly: make(map[string]bool),
	}
}

// Start begins the background poll loop. Safe to call once; a second call
// before Stop is a no-op.
func (a *AlertWatcher) Start() {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.run(ctx)
}

// Stop signals the poll loop to exit and waits up to 5 seconds for it to
// finish.
func (a *AlertWatcher) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func (a *AlertWatcher) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *AlertWatcher) poll(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.source.GetCompositeSignals() {
		prev := a.lastRec[c.Instrument]
		if c.Recommendation != prev {
			a.lastRec[c.Instrument] = c.Recommendation
			switch c.Recommendation {
			case domain.RecommendationStrongLong:
				a.router.Route(ctx, Alert{
					Event:      EventStrongLong,
					Instrument: c.Instrument,
					Summary:    fmt.Sprintf("%s: STRONG_LONG", c.Instrument),
					Detail: fmt.Sprintf("composite score %.2f (orderflow=%.2f whales=%.2f hlp=%.2f funding=%.2f)",
						c.Score, c.Components.OrderFlow, c.Components.Whales, c.Components.HLP, c.Components.Funding),
				})
			case domain.RecommendationStrongShort:
				a.router.Route(ctx, Alert{
					Event:      EventStrongShort,
					Instrument: c.Instrument,
					Summary:    fmt.Sprintf("%s: STRONG_SHORT", c.Instrument),
					Detail: fmt.Sprintf("composite score %.2f (orderflow=%.2f whales=%.2f hlp=%.2f funding=%.2f)",
						c.Score, c.Components.OrderFlow, c.Components.Whales, c.Components.HLP, c.Components.Funding),
				})
			}
		}
	}

	for _, h := range a.source.HLPSignals() {
		was := a.lastExtreme[h.Instrument]
		a.lastExtreme[h.Instrument] = h.IsExtreme
		if h.IsExtreme && !was {
			a.router.Route(ctx, Alert{
				Event:      EventHLPExtreme,
				Instrument: h.Instrument,
				Summary:    fmt.Sprintf("%s: HLP vault extreme", h.Instrument),
				Detail:     fmt.Sprintf("z-score %.2f, direction %s, exposure $%.0f", h.ZScore, h.Direction, h.ExposureUSD),
			})
		}
	}

	for _, f := range a.source.FundingSignals() {
		was := a.lastAnomaly[f.Instrument]
		a.lastAnomaly[f.Instrument] = f.IsAnomaly
		if f.IsAnomaly && !was {
			a.router.Route(ctx, Alert{
				Event:      EventFundingAnomaly,
				Instrument: f.Instrument,
				Summary:    fmt.Sprintf("%s: funding anomaly", f.Instrument),
				Detail:     fmt.Sprintf("funding rate %.6f (z=%.2f), OI change %.1f%%", f.FundingRate, f.FundingZScore, f.OIChangePct),
			})
		}
	}
}
