// Package funding detects anomalous funding rates and open-interest
// swings from the venue's periodic meta-and-asset-context snapshot.
package funding

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
)

const (
	historyRetention = 7 * 24 * time.Hour
	zScoreMinSamples = 5
	anomalyZScore    = 2.0
	anomalyOIChangePct = 20.0
)

type sample struct {
	ts    time.Time
	value float64
}

// Detector polls the venue's metaAndAssetCtxs payload, tracks a rolling
// funding-rate history per tracked instrument, and flags anomalies from
// either a funding z-score or a large open-interest swing.
type Detector struct {
	rest         *hyperliquid.RESTClient
	coins        []string
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	history map[string][]sample
	lastOI  map[string]float64
	latest  map[string]domain.FundingSignal

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	mu2     sync.Mutex
}

// New builds a funding anomaly detector for coins, polling rest every
// pollInterval.
func New(rest *hyperliquid.RESTClient, coins []string, pollInterval time.Duration, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	history := make(map[string][]sample, len(coins))
	for _, c := range coins {
		history[c] = nil
	}
	return &Detector{
		rest:         rest,
		coins:        coins,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "funding")),
		history:      history,
		lastOI:       make(map[string]float64),
		latest:       make(map[string]domain.FundingSignal),
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

// flexFloat decodes a JSON number or a quoted numeric string into a
// float64, defaulting to 0 for anything it can't parse instead of
// failing the unmarshal. The venue's asset-context array is load-bearing
// for every tracked instrument each poll cycle: one malformed field in
// one element must never abandon the whole cycle.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// assetCtx is the permissive wire shape for one element of the
// metaAndAssetCtxs response's second array: field names for funding rate
// and open interest have varied across venue API revisions, and
// individual values have been observed as numbers, numeric strings, or
// occasionally unparseable placeholders.
type assetCtx struct {
	Funding           *flexFloat `json:"funding"`
	FundingRate       *flexFloat `json:"fundingRate"`
	FundingRateHourly *flexFloat `json:"fundingRateHourly"`
	OpenInterest      *flexFloat `json:"openInterest"`
	OpenInterestUsd   *flexFloat `json:"openInterestUsd"`
	OI                *flexFloat `json:"oi"`
}

func (a assetCtx) fundingRate() float64 {
	for _, v := range []*flexFloat{a.Funding, a.FundingRate, a.FundingRateHourly} {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

func (a assetCtx) openInterest() float64 {
	for _, v := range []*flexFloat{a.OpenInterest, a.OpenInterestUsd, a.OI} {
		if v != nil {
			return float64(*v)
		}
	}
	return 0
}

func (d *Detector) pollOnce(ctx context.Context) {
	now := time.Now()
	nowUnix := float64(now.UnixNano()) / 1e9

	raw, err := d.rest.MetaAndAssetCtxs(ctx)
	if err != nil {
		d.logger.Warn("poll: meta and asset ctxs failed", slog.String("error", err.Error()))
		return
	}

	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope) < 2 {
		d.logger.Warn("poll: unexpected metaAndAssetCtxs shape")
		return
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(envelope[0], &meta); err != nil {
		d.logger.Warn("poll: decode meta failed", slog.String("error", err.Error()))
		return
	}

	var ctxs []assetCtx
	if err := json.Unmarshal(envelope[1], &ctxs); err != nil {
		d.logger.Warn("poll: decode asset ctxs failed", slog.String("error", err.Error()))
		return
	}

	tracked := make(map[string]bool, len(d.coins))
	for _, c := range d.coins {
		tracked[c] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ctx := range ctxs {
		if i >= len(meta.Universe) {
			break
		}
		coin := meta.Universe[i].Name
		if !tracked[coin] {
			continue
		}

		fundingRate := ctx.fundingRate()
		oi := ctx.openInterest()

		hist := append(d.history[coin], sample{ts: now, value: fundingRate})
		cutoff := now.Add(-historyRetention)
		trimmed := hist[:0]
		for _, s := range hist {
			if !s.ts.Before(cutoff) {
				trimmed = append(trimmed, s)
			}
		}
		d.history[coin] = trimmed

		z := zScore(trimmed, fundingRate)

		var oiChangePct float64
		if prevOI, ok := d.lastOI[coin]; ok && prevOI != 0 {
			oiChangePct = (oi - prevOI) / prevOI * 100
		}
		d.lastOI[coin] = oi

		isAnomaly := math.Abs(z) >= anomalyZScore || math.Abs(oiChangePct) >= anomalyOIChangePct

		d.latest[coin] = domain.FundingSignal{
			Instrument:    coin,
			FundingRate:   fundingRate,
			FundingZScore: z,
			OpenInterest:  oi,
			OIChangePct:   oiChangePct,
			IsAnomaly:     isAnomaly,
			Timestamp:     nowUnix,
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
		diff := s.value - mean
		sqDiff += diff * diff
	}
	stddev := math.Sqrt(sqDiff / float64(len(samples)))
	if stddev == 0 {
		return 0
	}
	return (x - mean) / stddev
}

// GetSignals returns the latest FundingSignal for every instrument that
// has been polled at least once.
func (d *Detector) GetSignals() []domain.FundingSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.FundingSignal, 0, len(d.latest))
	for _, coin := range d.coins {
		if sig, ok := d.latest[coin]; ok {
			out = append(out, sig)
		}
	}
	return out
}
