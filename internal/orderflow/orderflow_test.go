package orderflow

import (
	"math"
	"testing"
	"time"
)

func newTestDetector() *Detector {
	return New(nil, []string{"ETH", "SOL"}, []int{300, 900}, map[string]float64{"ETH": 50_000, "SOL": 25_000}, nil)
}

func TestImbalanceWithinBounds(t *testing.T) {
	d := newTestDetector()
	now := time.Now()
	d.mu.Lock()
	d.trades["ETH"] = []trade{
		{ts: now, side: "BUY", usd: 100},
		{ts: now, side: "SELL", usd: 40},
	}
	d.mu.Unlock()

	for _, sig := range d.GetSignals() {
		if sig.Instrument != "ETH" {
			continue
		}
		if math.Abs(sig.Imbalance) > 1.0 {
			t.Errorf("imbalance %f out of [-1, 1]", sig.Imbalance)
		}
	}
}

func TestImbalanceComputation(t *testing.T) {
	d := newTestDetector()
	now := time.Now()
	d.mu.Lock()
	d.trades["ETH"] = []trade{
		{ts: now, side: "BUY", usd: 60_000},
		{ts: now, side: "SELL", usd: 40_000},
	}
	d.mu.Unlock()

	var found bool
	for _, sig := range d.GetSignals() {
		if sig.Instrument != "ETH" || sig.Window != 300 {
			continue
		}
		found = true
		want := (60_000.0 - 40_000.0) / (60_000.0 + 40_000.0)
		if math.Abs(sig.Imbalance-want) > 1e-9 {
			t.Errorf("imbalance = %v, want %v", sig.Imbalance, want)
		}
		if sig.LargeBuyCount != 1 || sig.LargeSellCount != 0 {
			t.Errorf("large counts = %d/%d, want 1/0", sig.LargeBuyCount, sig.LargeSellCount)
		}
		if sig.NetLargeFlowUSD != 60_000 {
			t.Errorf("net large flow = %v, want 60000", sig.NetLargeFlowUSD)
		}
	}
	if !found {
		t.Fatal("expected a 300s ETH signal")
	}
}

func TestZeroImbalanceWithNoTrades(t *testing.T) {
	d := newTestDetector()
	for _, sig := range d.GetSignals() {
		if sig.Imbalance != 0 {
			t.Errorf("expected 0 imbalance with no trades, got %v", sig.Imbalance)
		}
	}
}

func TestTrimDropsTradesOlderThanLargestWindow(t *testing.T) {
	d := newTestDetector()
	now := time.Now()
	d.mu.Lock()
	d.trades["ETH"] = []trade{
		{ts: now.Add(-1000 * time.Second), side: "BUY", usd: 10}, // older than max window (900)
		{ts: now, side: "SELL", usd: 5},
	}
	d.mu.Unlock()

	d.trim(now)

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.trades["ETH"]) != 1 {
		t.Fatalf("expected 1 trade remaining after trim, got %d", len(d.trades["ETH"]))
	}
	if d.trades["ETH"][0].usd != 5 {
		t.Errorf("expected the surviving trade to be the recent one")
	}
}

func TestGetSignalsCoversEveryInstrumentAndWindow(t *testing.T) {
	d := newTestDetector()
	sigs := d.GetSignals()
	if len(sigs) != 2*2 {
		t.Fatalf("expected 4 signals (2 coins x 2 windows), got %d", len(sigs))
	}
}

func TestWireTradeSideAliasing(t *testing.T) {
	cases := []struct {
		raw  wireTrade
		want string
	}{
		{wireTrade{Side: "buy"}, "BUY"},
		{wireTrade{Side: "B"}, "BUY"},
		{wireTrade{Dir: "sell"}, "SELL"},
		{wireTrade{Taker: "BUY"}, "BUY"},
		{wireTrade{}, "SELL"}, // empty defaults to sell per reference semantics
	}
	for _, tc := range cases {
		got := string(tc.raw.side())
		if got != tc.want {
			t.Errorf("side() = %s, want %s for %+v", got, tc.want, tc.raw)
		}
	}
}

func TestWireTradeUSDFallback(t *testing.T) {
	px := 100.0
	sz := 2.0
	usd := 500.0
	withUSD := wireTrade{Px: px, Sz: sz, USD: &usd}
	if withUSD.usd() != 500.0 {
		t.Errorf("expected explicit usd field to win, got %v", withUSD.usd())
	}
	withoutUSD := wireTrade{Px: px, Sz: sz}
	if withoutUSD.usd() != 200.0 {
		t.Errorf("expected px*sz fallback, got %v", withoutUSD.usd())
	}
}
