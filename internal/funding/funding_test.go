package funding

import (
	"encoding/json"
	"testing"
)

func TestZScoreZeroBelowMinSamples(t *testing.T) {
	samples := []sample{{value: 1}, {value: 2}}
	if z := zScore(samples, 3); z != 0 {
		t.Errorf("expected 0, got %v", z)
	}
}

func TestZScoreZeroWithZeroStddev(t *testing.T) {
	samples := []sample{
		{value: 0.001}, {value: 0.001}, {value: 0.001}, {value: 0.001}, {value: 0.001},
	}
	if z := zScore(samples, 0.001); z != 0 {
		t.Errorf("expected 0, got %v", z)
	}
}

func TestOIChangePctComputation(t *testing.T) {
	d := New(nil, []string{"ETH"}, 0, nil)
	d.lastOI["ETH"] = 1000
	newOI := 1200.0
	want := (newOI - 1000) / 1000 * 100
	got := (newOI - d.lastOI["ETH"]) / d.lastOI["ETH"] * 100
	if got != want {
		t.Fatalf("sanity check failed: got %v want %v", got, want)
	}
	if want != 20.0 {
		t.Errorf("expected 20%% change, got %v", want)
	}
}

func TestAssetCtxFieldAliasing(t *testing.T) {
	f1 := flexFloat(0.01)
	ctx := assetCtx{FundingRate: &f1}
	if ctx.fundingRate() != 0.01 {
		t.Errorf("got %v", ctx.fundingRate())
	}

	oi := flexFloat(5000.0)
	ctx2 := assetCtx{OpenInterestUsd: &oi}
	if ctx2.openInterest() != 5000.0 {
		t.Errorf("got %v", ctx2.openInterest())
	}
}

func TestFlexFloatParsesNumberAndNumericString(t *testing.T) {
	var a, b flexFloat
	if err := json.Unmarshal([]byte(`0.015`), &a); err != nil || a != 0.015 {
		t.Errorf("bare number: got %v, err %v", a, err)
	}
	if err := json.Unmarshal([]byte(`"0.015"`), &b); err != nil || b != 0.015 {
		t.Errorf("quoted string: got %v, err %v", b, err)
	}
}

func TestFlexFloatDefaultsToZeroOnUnparseableValue(t *testing.T) {
	var f flexFloat
	if err := json.Unmarshal([]byte(`"N/A"`), &f); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f != 0 {
		t.Errorf("expected 0 for unparseable value, got %v", f)
	}
}

// TestPollOnceToleratesMalformedFieldInOneInstrument verifies that a
// single unparseable funding-rate value for one tracked instrument does
// not abandon the whole metaAndAssetCtxs decode: every other instrument,
// and every other field of the same instrument, still decodes.
func TestPollOnceToleratesMalformedFieldInOneInstrument(t *testing.T) {
	raw := []byte(`[
		{"universe":[{"name":"ETH"},{"name":"SOL"}]},
		[{"fundingRate":"N/A","openInterest":5000},{"fundingRate":0.02,"openInterest":"not-a-number"}]
	]`)

	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope) != 2 {
		t.Fatalf("envelope: %v", err)
	}

	var ctxs []assetCtx
	if err := json.Unmarshal(envelope[1], &ctxs); err != nil {
		t.Fatalf("expected malformed field to decode via flexFloat defaulting, got error: %v", err)
	}
	if len(ctxs) != 2 {
		t.Fatalf("expected 2 asset ctxs, got %d", len(ctxs))
	}
	if ctxs[0].fundingRate() != 0 {
		t.Errorf("expected ETH funding rate to default to 0, got %v", ctxs[0].fundingRate())
	}
	if ctxs[0].openInterest() != 5000 {
		t.Errorf("expected ETH open interest to still decode, got %v", ctxs[0].openInterest())
	}
	if ctxs[1].fundingRate() != 0.02 {
		t.Errorf("expected SOL funding rate to still decode, got %v", ctxs[1].fundingRate())
	}
	if ctxs[1].openInterest() != 0 {
		t.Errorf("expected SOL open interest to default to 0, got %v", ctxs[1].openInterest())
	}
}

func TestIsAnomalyTriggersOnEitherCondition(t *testing.T) {
	cases := []struct {
		z           float64
		oiChangePct float64
		want        bool
	}{
		{0, 0, false},
		{2.0, 0, true},
		{0, 20.0, true},
		{1.9, 19.9, false},
	}
	for _, tc := range cases {
		got := absF(tc.z) >= anomalyZScore || absF(tc.oiChangePct) >= anomalyOIChangePct
		if got != tc.want {
			t.Errorf("z=%v oiChangePct=%v: got %v, want %v", tc.z, tc.oiChangePct, got, tc.want)
		}
	}
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
