package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []Alert
}

func (r *recordingSender) SendAlert(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, a)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeSource struct {
	mu        sync.Mutex
	composite []domain.CompositeSignal
	hlp       []domain.HLPSignal
	funding   []domain.FundingSignal
}

func (f *fakeSource) GetCompositeSignals() []domain.CompositeSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.composite
}
func (f *fakeSource) HLPSignals() []domain.HLPSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hlp
}
func (f *fakeSource) FundingSignals() []domain.FundingSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.funding
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestAlertFiresOnlyOnRecommendationTransition checks that a STRONG_LONG
// held across two consecutive polls fires a single alert, not one per poll.
func TestAlertFiresOnlyOnRecommendationTransition(t *testing.T) {
	src := &fakeSource{composite: []domain.CompositeSignal{
		{Instrument: "ETH", Recommendation: domain.RecommendationStrongLong, Score: 0.7},
	}}
	sender := &recordingSender{}
	router := NewAlertRouter([]AlertSender{sender}, nil, testLogger())
	w := NewAlertWatcher(src, router, time.Millisecond, testLogger())

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx)
	w.poll(ctx)

	if sender.count() != 1 {
		t.Errorf("expected exactly 1 alert across repeated polls of an unchanged recommendation, got %d", sender.count())
	}
}

func TestAlertFiresAgainAfterReturningToNeutralThenStrong(t *testing.T) {
	src := &fakeSource{composite: []domain.CompositeSignal{
		{Instrument: "ETH", Recommendation: domain.RecommendationStrongLong, Score: 0.7},
	}}
	sender := &recordingSender{}
	router := NewAlertRouter([]AlertSender{sender}, nil, testLogger())
	w := NewAlertWatcher(src, router, time.Millisecond, testLogger())

	ctx := context.Background()
	w.poll(ctx)

	src.mu.Lock()
	src.composite[0].Recommendation = domain.RecommendationNeutral
	src.mu.Unlock()
	w.poll(ctx)

	src.mu.Lock()
	src.composite[0].Recommendation = domain.RecommendationStrongLong
	src.mu.Unlock()
	w.poll(ctx)

	if sender.count() != 2 {
		t.Errorf("expected 2 alerts (entering STRONG_LONG twice), got %d", sender.count())
	}
}

func TestAlertHLPExtremeEdgeTriggered(t *testing.T) {
	src := &fakeSource{hlp: []domain.HLPSignal{
		{Instrument: "ETH", IsExtreme: true, ZScore: 2.5},
	}}
	sender := &recordingSender{}
	router := NewAlertRouter([]AlertSender{sender}, nil, testLogger())
	w := NewAlertWatcher(src, router, time.Millisecond, testLogger())

	ctx := context.Background()
	w.poll(ctx)
	w.poll(ctx)

	if sender.count() != 1 {
		t.Errorf("expected 1 edge-triggered HLP extreme alert, got %d", sender.count())
	}
}

func TestAlertEventFilteringExcludesUnlistedEvents(t *testing.T) {
	src := &fakeSource{composite: []domain.CompositeSignal{
		{Instrument: "ETH", Recommendation: domain.RecommendationStrongLong, Score: 0.7},
	}}
	sender := &recordingSender{}
	// Only allow funding_anomaly events; strong_long should be filtered out.
	router := NewAlertRouter([]AlertSender{sender}, []string{EventFundingAnomaly}, testLogger())
	w := NewAlertWatcher(src, router, time.Millisecond, testLogger())

	w.poll(context.Background())

	if sender.count() != 0 {
		t.Errorf("expected strong_long alert to be filtered out, got %d calls", sender.count())
	}
}

func TestAlertWatcherStartStopIdempotent(t *testing.T) {
	src := &fakeSource{}
	router := NewAlertRouter(nil, nil, testLogger())
	w := NewAlertWatcher(src, router, time.Millisecond, testLogger())

	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestAlertRouterSkipsWithNoSenders(t *testing.T) {
	router := NewAlertRouter(nil, nil, testLogger())
	// Must not panic with zero senders configured.
	router.Route(context.Background(), Alert{Event: EventStrongLong, Instrument: "ETH"})
}
