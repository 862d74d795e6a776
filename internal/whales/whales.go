// Package whales tracks a population of large-position addresses and
// reports their aggregate long/short posture per instrument.
package whales

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
)

const (
	maxWhales        = 50
	maxRecentChanges = 200
	recentWindow     = 20
)

// Tracker polls a REST client for each tracked address's clearinghouse
// position state, diffs it against the previous poll, and reports
// per-instrument long/short percentages from the resulting population.
type Tracker struct {
	rest   *hyperliquid.RESTClient
	coins  []string
	logger *slog.Logger

	pollInterval time.Duration

	mu             sync.Mutex
	whales         []string
	lastPositions  map[string]map[string]float64
	recentChanges  []domain.WhaleChangeEvent

	bootstrapID string // diagnostic tag for the background bootstrap run

	cancel context.CancelFunc
	done   chan struct{}
	mu2    sync.Mutex // guards cancel/done/started
	started bool
}

// New builds a whale tracker seeded with seedAddresses, polling rest for
// clearinghouse state every pollInterval.
func New(rest *hyperliquid.RESTClient, coins []string, seedAddresses []string, pollInterval time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	seed := append([]string(nil), seedAddresses...)
	return &Tracker{
		rest:          rest,
		coins:         coins,
		logger:        logger.With(slog.String("component", "whales")),
		pollInterval:  pollInterval,
		whales:        seed,
		lastPositions: make(map[string]map[string]float64),
	}
}

// AddWhale appends address to the tracked population if not already present.
func (t *Tracker) AddWhale(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.whales {
		if a == address {
			return
		}
	}
	t.whales = append(t.whales, address)
}

// Start launches the background leaderboard bootstrap and the periodic
// position-polling loop. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu2.Lock()
	defer t.mu2.Unlock()
	if t.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.started = true

	go t.bootstrap(ctx)

	done := t.done
	go func() {
		defer close(done)
		t.pollLoop(ctx)
	}()
}

// Stop cancels the background bootstrap and poll loop and waits up to 5
// seconds for the poll loop to exit.
func (t *Tracker) Stop() {
	t.mu2.Lock()
	if !t.started {
		t.mu2.Unlock()
		return
	}
	cancel := t.cancel
	done := t.done
	t.started = false
	t.mu2.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("stop: timed out waiting for poll loop to exit")
	}
}

// bootstrap probes the venue's leaderboard payload kinds and merges any
// discovered addresses into the tracked population, up to maxWhales. It
// runs once in the background so Start never blocks on a slow or
// unavailable leaderboard endpoint.
func (t *Tracker) bootstrap(ctx context.Context) {
	id := uuid.NewString()
	t.mu.Lock()
	t.bootstrapID = id
	t.mu.Unlock()

	addrs, err := t.rest.ProbeLeaderboard(ctx)
	if err != nil {
		t.logger.Warn("bootstrap: leaderboard probe failed, using seed list only", slog.String("error", err.Error()), slog.String("bootstrap_id", id))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, addr := range addrs {
		if len(t.whales) >= maxWhales {
			break
		}
		found := false
		for _, a := range t.whales {
			if a == addr {
				found = true
				break
			}
		}
		if !found {
			t.whales = append(t.whales, addr)
		}
	}
	t.logger.Info("bootstrap complete", slog.Int("whale_count", len(t.whales)), slog.String("bootstrap_id", id))
}

func (t *Tracker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollPositions(ctx)
		}
	}
}

func (t *Tracker) pollPositions(ctx context.Context) {
	now := float64(time.Now().UnixNano()) / 1e9

	t.mu.Lock()
	addrs := append([]string(nil), t.whales...)
	t.mu.Unlock()

	for _, addr := range addrs {
		raw, err := t.rest.ClearinghouseState(ctx, addr)
		if err != nil {
			t.logger.Warn("poll: clearinghouse state failed", slog.String("address", addr), slog.String("error", err.Error()))
			continue
		}
		positions, err := parsePositions(raw)
		if err != nil {
			t.logger.Warn("poll: parse positions failed", slog.String("address", addr), slog.String("error", err.Error()))
			continue
		}

		t.mu.Lock()
		prev := t.lastPositions[addr]
		for coin, newSize := range positions {
			prevSize := prev[coin]
			if newSize != prevSize {
				t.recentChanges = append(t.recentChanges, domain.WhaleChangeEvent{
					Address:    addr,
					Instrument: coin,
					PrevSize:   prevSize,
					NewSize:    newSize,
					Timestamp:  now,
				})
			}
		}
		for coin, prevSize := range prev {
			if _, stillOpen := positions[coin]; !stillOpen && prevSize != 0 {
				t.recentChanges = append(t.recentChanges, domain.WhaleChangeEvent{
					Address:    addr,
					Instrument: coin,
					PrevSize:   prevSize,
					NewSize:    0,
					Timestamp:  now,
				})
			}
		}
		t.lastPositions[addr] = positions
		if len(t.recentChanges) > maxRecentChanges {
			t.recentChanges = t.recentChanges[len(t.recentChanges)-maxRecentChanges:]
		}
		t.mu.Unlock()
	}
}

// clearinghouseAssetPosition tolerates the venue's two observed shapes: a
// flat position object, or one nested under a "position" key.
type clearinghouseAssetPosition struct {
	Position *struct {
		Coin string `json:"coin"`
		Szi  string `json:"szi"`
	} `json:"position"`
	Coin string `json:"coin"`
	Szi  string `json:"szi"`
}

func parsePositions(raw json.RawMessage) (map[string]float64, error) {
	var state struct {
		AssetPositions []clearinghouseAssetPosition `json:"assetPositions"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		coin := ap.Coin
		szi := ap.Szi
		if ap.Position != nil {
			coin = ap.Position.Coin
			szi = ap.Position.Szi
		}
		if coin == "" {
			continue
		}
		size := parseFloat(szi)
		out[coin] = size
	}
	return out, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetSignals returns one WhaleSignal per tracked instrument, summarizing
// the current long/short split of the whale population and the most
// recent changes (most recent recentWindow entries, across all instruments).
func (t *Tracker) GetSignals() []domain.WhaleSignal {
	now := float64(time.Now().UnixNano()) / 1e9

	t.mu.Lock()
	defer t.mu.Unlock()

	var recent []domain.WhaleChangeEvent
	if n := len(t.recentChanges); n > recentWindow {
		recent = append([]domain.WhaleChangeEvent(nil), t.recentChanges[n-recentWindow:]...)
	} else {
		recent = append([]domain.WhaleChangeEvent(nil), t.recentChanges...)
	}

	signals := make([]domain.WhaleSignal, 0, len(t.coins))
	for _, coin := range t.coins {
		var longCount, shortCount int
		for _, addr := range t.whales {
			size := t.lastPositions[addr][coin]
			if size > 0 {
				longCount++
			} else if size < 0 {
				shortCount++
			}
		}
		total := longCount + shortCount
		var longPct, shortPct float64
		if total > 0 {
			longPct = float64(longCount) / float64(total) * 100
			shortPct = float64(shortCount) / float64(total) * 100
		}
		signals = append(signals, domain.WhaleSignal{
			Instrument:    coin,
			LongPct:       longPct,
			ShortPct:      shortPct,
			RecentChanges: recent,
			Timestamp:     now,
		})
	}
	return signals
}
