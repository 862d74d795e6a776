// Package hlp tracks the house liquidity vault's position exposure per
// instrument and reports it as a rolling z-scored sentiment signal.
package hlp

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
)

const (
	historyRetention = 7 * 24 * time.Hour
	zScoreMinSamples = 5
	extremeZScore    = 2.0
)

type sample struct {
	ts    time.Time
	value float64
}

// Detector polls the house vault's position state and all-instrument mid
// prices, computes signed USD exposure per instrument, and z-scores it
// against a rolling 7-day history.
type Detector struct {
	rest         *hyperliquid.RESTClient
	vaultAddress string
	coins        []string
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	history map[string][]sample
	latest  map[string]domain.HLPSignal

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu2     sync.Mutex
}

// New builds an HLP sentiment detector polling rest for vaultAddress's
// position state every pollInterval.
func New(rest *hyperliquid.RESTClient, vaultAddress string, coins []string, pollInterval time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	history := make(map[string][]sample, len(coins))
	for _, c := range coins {
		history[c] = nil
	}
	return &Detector{
		rest:         rest,
		vaultAddress: vaultAddress,
		coins:        coins,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "hlp")),
		history:      history,
		latest:       make(map[string]domain.HLPSignal),
	}
}

// Start launches the periodic poll loop. Calling Start twice is a no-op.
func (d *Detector) Start() {
	d.mu2.Lock()
	defer d.mu2.Unlock()
	if d.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	done := d.done
	go func() {
		defer close(done)
		d.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits up to 5 seconds for it to exit.
func (d *Detector) Stop() {
	d.mu2.Lock()
	if !d.started {
		d.mu2.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.started = false
	d.mu2.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.logger.Warn("stop: timed out waiting for poll loop to exit")
	}
}

func (d *Detector) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *Detector) pollOnce(ctx context.Context) {
	now := time.Now()
	nowUnix := float64(now.UnixNano()) / 1e9

	stateRaw, err := d.rest.ClearinghouseState(ctx, d.vaultAddress)
	if err != nil {
		d.logger.Warn("poll: clearinghouse state failed", slog.String("error", err.Error()))
		return
	}
	mids, err := d.rest.AllMids(ctx)
	if err != nil {
		d.logger.Warn("poll: all mids failed", slog.String("error", err.Error()))
		return
	}

	positions, err := parsePositions(stateRaw)
	if err != nil {
		d.logger.Warn("poll: parse positions failed", slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, coin := range d.coins {
		szi := positions[coin]
		mid := parseFloat(mids[coin])
		exposure := szi * mid

		hist := append(d.history[coin], sample{ts: now, value: exposure})
		cutoff := now.Add(-historyRetention)
		trimmed := hist[:0]
		for _, s := range hist {
			if !s.ts.Before(cutoff) {
				trimmed = append(trimmed, s)
			}
		}
		d.history[coin] = trimmed

		z := zScore(trimmed, exposure)

		direction := domain.DirectionFlat
		if exposure > 0 {
			direction = domain.DirectionLong
		} else if exposure < 0 {
			direction = domain.DirectionShort
		}

		d.latest[coin] = domain.HLPSignal{
			Instrument:  coin,
			ExposureUSD: exposure,
			ZScore:      z,
			Direction:   direction,
			IsExtreme:   math.Abs(z) >= extremeZScore,
			Timestamp:   nowUnix,
		}
	}
}

// zScore returns 0 when fewer than zScoreMinSamples samples exist or the
// population standard deviation is 0; otherwise (x - mean) / stddev.
func zScore(samples []sample, x float64) float64 {
	if len(samples) < zScoreMinSamples {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	mean := sum / float64(len(samples))

	var sqDiff float64
	for _, s := range samples {
		d := s.value - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(samples)))
	if stddev == 0 {
		return 0
	}
	return (x - mean) / stddev
}

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
		out[coin] = parseFloat(szi)
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

// GetSignals returns the latest HLPSignal for every instrument that has
// been polled at least once.
func (d *Detector) GetSignals() []domain.HLPSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.HLPSignal, 0, len(d.latest))
	for _, coin := range d.coins {
		if sig, ok := d.latest[coin]; ok {
			out = append(out, sig)
		}
	}
	return out
}
