// Package orderflow computes real-time order-flow imbalance from the
// venue's trade stream.
package orderflow

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
)

// trade is one taker fill recorded against the rolling buffer.
type trade struct {
	ts   time.Time
	side domain.Side
	usd  float64
}

// Detector tracks a WS-subscribed trade buffer per instrument and computes
// buy/sell imbalance over each configured rolling window.
type Detector struct {
	ws        *hyperliquid.WSClient
	coins     []string
	windows   []int
	thresholds map[string]float64
	logger    *slog.Logger

	mu     sync.Mutex
	trades map[string][]trade
}

// New builds an order-flow detector for coins, subscribing to the given WS
// client's trade stream. thresholds maps instrument -> large-trade USD
// threshold (0 disables large-trade tracking for that instrument).
// windows is the set of rolling windows, in seconds, to compute imbalance
// over (e.g. [300, 900, 3600, 14400]).
func New(ws *hyperliquid.WSClient, coins []string, windows []int, thresholds map[string]float64, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	trades := make(map[string][]trade, len(coins))
	for _, c := range coins {
		trades[c] = nil
	}
	return &Detector{
		ws:         ws,
		coins:      coins,
		windows:    append([]int(nil), windows...),
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "orderflow")),
		trades:     trades,
	}
}

// Start subscribes to the trades channel for every tracked instrument and
// begins consuming WS messages. Calling Start twice is safe: the
// underlying WS client's Start is itself idempotent.
func (d *Detector) Start() {
	d.ws.Start()
	for _, coin := range d.coins {
		d.ws.SubscribeTrades(coin)
	}
}

// Stop tears down the underlying WS connection.
func (d *Detector) Stop() {
	d.ws.Stop()
}

// HandleMessage is the WS MessageHandler for this detector; install it on
// the WS client that was passed to New with that client's SetHandler.
func (d *Detector) HandleMessage(raw json.RawMessage) {
	var envelope struct {
		Channel string          `json:"channel"`
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	channel := envelope.Channel
	if channel == "" {
		channel = envelope.Type
	}
	if channel != "trades" || len(envelope.Data) == 0 {
		return
	}

	var rawTrades []wireTrade
	if err := json.Unmarshal(envelope.Data, &rawTrades); err != nil {
		var wrapped struct {
			Trades []wireTrade `json:"trades"`
		}
		if err := json.Unmarshal(envelope.Data, &wrapped); err != nil {
			return
		}
		rawTrades = wrapped.Trades
	}

	now := time.Now()
	d.mu.Lock()
	for _, wt := range rawTrades {
		coin := wt.coin()
		if _, tracked := d.trades[coin]; !tracked {
			continue
		}
		d.trades[coin] = append(d.trades[coin], trade{
			ts:   now,
			side: wt.side(),
			usd:  wt.usd(),
		})
	}
	d.mu.Unlock()

	d.trim(now)
}

// wireTrade is the permissive wire shape for a single trade event: field
// names vary across venue API revisions, so every field is tried under a
// handful of known aliases.
type wireTrade struct {
	Coin   string  `json:"coin"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Dir    string  `json:"dir"`
	Taker  string  `json:"takerSide"`
	Px     float64 `json:"px"`
	Price  float64 `json:"price"`
	Sz     float64 `json:"sz"`
	Size   float64 `json:"size"`
	Qty    float64 `json:"qty"`
	USD    *float64 `json:"usd"`
}

func (t wireTrade) coin() string {
	if t.Coin != "" {
		return t.Coin
	}
	return t.Symbol
}

func (t wireTrade) side() domain.Side {
	raw := t.Side
	if raw == "" {
		raw = t.Dir
	}
	if raw == "" {
		raw = t.Taker
	}
	if strings.HasPrefix(strings.ToUpper(raw), "B") {
		return domain.SideBuy
	}
	return domain.SideSell
}

func (t wireTrade) usd() float64 {
	if t.USD != nil {
		return *t.USD
	}
	px := t.Px
	if px == 0 {
		px = t.Price
	}
	sz := t.Sz
	if sz == 0 {
		sz = t.Size
	}
	if sz == 0 {
		sz = t.Qty
	}
	return px * sz
}

// trim drops trades older than the largest configured window from every
// instrument's buffer.
func (d *Detector) trim(now time.Time) {
	maxWindow := d.maxWindowSeconds()
	cutoff := now.Add(-time.Duration(maxWindow) * time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()
	for coin, buf := range d.trades {
		i := 0
		for i < len(buf) && buf[i].ts.Before(cutoff) {
			i++
		}
		if i > 0 {
			d.trades[coin] = append([]trade(nil), buf[i:]...)
		}
	}
}

func (d *Detector) maxWindowSeconds() int {
	max := 0
	for _, w := range d.windows {
		if w > max {
			max = w
		}
	}
	return max
}

// GetSignals returns one OrderFlowSignal per (instrument, window) pair,
// computed from the current trade buffer.
func (d *Detector) GetSignals() []domain.OrderFlowSignal {
	now := time.Now()
	nowUnix := float64(now.UnixNano()) / 1e9

	d.mu.Lock()
	snapshot := make(map[string][]trade, len(d.trades))
	for coin, buf := range d.trades {
		snapshot[coin] = append([]trade(nil), buf...)
	}
	d.mu.Unlock()

	signals := make([]domain.OrderFlowSignal, 0, len(d.coins)*len(d.windows))
	for _, coin := range d.coins {
		threshold := d.thresholds[coin]
		for _, window := range d.windows {
			cutoff := now.Add(-time.Duration(window) * time.Second)

			var buyVol, sellVol, netLargeFlow float64
			var largeBuy, largeSell int

			for _, t := range snapshot[coin] {
				if t.ts.Before(cutoff) {
					continue
				}
				if t.side == domain.SideBuy {
					buyVol += t.usd
				} else {
					sellVol += t.usd
				}
				if threshold > 0 && t.usd >= threshold {
					if t.side == domain.SideBuy {
						largeBuy++
						netLargeFlow += t.usd
					} else {
						largeSell++
						netLargeFlow -= t.usd
					}
				}
			}

			denom := buyVol + sellVol
			imbalance := 0.0
			if denom > 0 {
				imbalance = (buyVol - sellVol) / denom
			}

			signals = append(signals, domain.OrderFlowSignal{
				Instrument:      coin,
				Window:          window,
				Imbalance:       imbalance,
				LargeBuyCount:   largeBuy,
				LargeSellCount:  largeSell,
				NetLargeFlowUSD: netLargeFlow,
				Timestamp:       nowUnix,
			})
		}
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].Instrument != signals[j].Instrument {
			return signals[i].Instrument < signals[j].Instrument
		}
		return signals[i].Window < signals[j].Window
	})

	return signals
}
