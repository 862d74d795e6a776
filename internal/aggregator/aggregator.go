// Package aggregator combines the four detector outputs into a single
// weighted composite recommendation per instrument.
package aggregator

import (
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

const extremeZScoreCap = 2.0

// OrderFlowSource is satisfied by *orderflow.Detector.
type OrderFlowSource interface {
	Start()
	Stop()
	GetSignals() []domain.OrderFlowSignal
}

// WhaleSource is satisfied by *whales.Tracker.
type WhaleSource interface {
	Start()
	Stop()
	GetSignals() []domain.WhaleSignal
}

// HLPSource is satisfied by *hlp.Detector.
type HLPSource interface {
	Start()
	Stop()
	GetSignals() []domain.HLPSignal
}

// FundingSource is satisfied by *funding.Detector.
type FundingSource interface {
	Start()
	Stop()
	GetSignals() []domain.FundingSignal
}

// Weights holds the per-component contribution to the composite score.
// They need not sum to 1; callers that want a normalized [-1, 1] score
// should supply weights that do.
type Weights struct {
	OrderFlow float64
	Whales    float64
	HLP       float64
	Funding   float64
}

// Aggregator owns the four detectors and combines their latest signals
// into a CompositeSignal per tracked instrument.
type Aggregator struct {
	coins     []string
	weights   Weights
	orderflow OrderFlowSource
	whales    WhaleSource
	hlp       HLPSource
	funding   FundingSource
}

// New builds an aggregator over the given detectors. Each detector is
// started and stopped independently: one detector failing to start or
// erroring internally never prevents the others from running, matching
// the composite API's guarantee to always return a result per instrument
// even when some components have no data yet.
func New(coins []string, weights Weights, orderflow OrderFlowSource, whales WhaleSource, hlp HLPSource, funding FundingSource) *Aggregator {
	return &Aggregator{
		coins:     coins,
		weights:   weights,
		orderflow: orderflow,
		whales:    whales,
		hlp:       hlp,
		funding:   funding,
	}
}

// Start launches all four detectors concurrently. Each detector's Start
// method is itself non-blocking, so this returns as soon as all four have
// been told to begin; an errgroup is used purely to fan the four calls out
// without serializing on each other, not to propagate failure — Start
// methods here never return an error.
func (a *Aggregator) Start() {
	var g errgroup.Group
	g.Go(func() error { a.orderflow.Start(); return nil })
	g.Go(func() error { a.whales.Start(); return nil })
	g.Go(func() error { a.hlp.Start(); return nil })
	g.Go(func() error { a.funding.Start(); return nil })
	_ = g.Wait()
}

// Stop joins all four detectors concurrently, each bounded by its own
// internal 5-second shutdown timeout.
func (a *Aggregator) Stop() {
	var g errgroup.Group
	g.Go(func() error { a.orderflow.Stop(); return nil })
	g.Go(func() error { a.whales.Stop(); return nil })
	g.Go(func() error { a.hlp.Stop(); return nil })
	g.Go(func() error { a.funding.Stop(); return nil })
	_ = g.Wait()
}

// GetCompositeSignals computes one CompositeSignal per tracked instrument
// from the detectors' current snapshots.
func (a *Aggregator) GetCompositeSignals() []domain.CompositeSignal {
	nowUnix := float64(time.Now().UnixNano()) / 1e9

	orderflowSignals := a.orderflow.GetSignals()
	whaleByCoin := indexWhales(a.whales.GetSignals())
	hlpByCoin := indexHLP(a.hlp.GetSignals())
	fundingByCoin := indexFunding(a.funding.GetSignals())

	out := make([]domain.CompositeSignal, 0, len(a.coins))
	for _, coin := range a.coins {
		ofScore := orderFlowScore(filterOrderFlow(orderflowSignals, coin))
		whaleScore := whaleScoreOf(whaleByCoin[coin])
		hlpScore := hlpScoreOf(hlpByCoin[coin])
		fundingScore := fundingScoreOf(fundingByCoin[coin])

		score := ofScore*a.weights.OrderFlow +
			whaleScore*a.weights.Whales +
			hlpScore*a.weights.HLP +
			fundingScore*a.weights.Funding

		out = append(out, domain.CompositeSignal{
			Instrument: coin,
			Score:      score,
			Components: domain.CompositeComponents{
				OrderFlow: ofScore,
				Whales:    whaleScore,
				HLP:       hlpScore,
				Funding:   fundingScore,
			},
			Recommendation: recommendationFor(score),
			Timestamp:      nowUnix,
		})
	}
	return out
}

// OrderFlowSignalsByInstrument groups the order-flow detector's current
// signals by instrument, for consumers (like the dashboard binder) that
// want every window's reading rather than the aggregator's single mean
// score.
func (a *Aggregator) OrderFlowSignalsByInstrument() map[string][]domain.OrderFlowSignal {
	out := make(map[string][]domain.OrderFlowSignal)
	for _, s := range a.orderflow.GetSignals() {
		out[s.Instrument] = append(out[s.Instrument], s)
	}
	return out
}

// WhaleSignals returns the whale tracker's current per-instrument signals.
func (a *Aggregator) WhaleSignals() []domain.WhaleSignal { return a.whales.GetSignals() }

// HLPSignals returns the HLP detector's current per-instrument signals.
func (a *Aggregator) HLPSignals() []domain.HLPSignal { return a.hlp.GetSignals() }

// FundingSignals returns the funding detector's current per-instrument signals.
func (a *Aggregator) FundingSignals() []domain.FundingSignal { return a.funding.GetSignals() }

func filterOrderFlow(signals []domain.OrderFlowSignal, coin string) []domain.OrderFlowSignal {
	out := make([]domain.OrderFlowSignal, 0, len(signals))
	for _, s := range signals {
		if s.Instrument == coin {
			out = append(out, s)
		}
	}
	return out
}

// orderFlowScore is the mean imbalance across every window for an
// instrument, or 0 if no windows have data yet.
func orderFlowScore(signals []domain.OrderFlowSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Imbalance
	}
	return sum / float64(len(signals))
}

func indexWhales(signals []domain.WhaleSignal) map[string]domain.WhaleSignal {
	m := make(map[string]domain.WhaleSignal, len(signals))
	for _, s := range signals {
		m[s.Instrument] = s
	}
	return m
}

// whaleScoreOf maps a whale population's long/short split onto [-1, 1].
func whaleScoreOf(s domain.WhaleSignal) float64 {
	if s.Instrument == "" {
		return 0
	}
	return (s.LongPct - s.ShortPct) / 100.0
}

func indexHLP(signals []domain.HLPSignal) map[string]domain.HLPSignal {
	m := make(map[string]domain.HLPSignal, len(signals))
	for _, s := range signals {
		m[s.Instrument] = s
	}
	return m
}

// hlpScoreOf flips the house vault's posture into a contrarian price
// signal: an extreme vault long reads bearish, an extreme vault short
// reads bullish.
func hlpScoreOf(s domain.HLPSignal) float64 {
	if s.Instrument == "" {
		return 0
	}
	switch s.Direction {
	case domain.DirectionLong:
		return -math.Min(1.0, math.Abs(s.ZScore)/extremeZScoreCap)
	case domain.DirectionShort:
		return math.Min(1.0, math.Abs(s.ZScore)/extremeZScoreCap)
	default:
		return 0
	}
}

func indexFunding(signals []domain.FundingSignal) map[string]domain.FundingSignal {
	m := make(map[string]domain.FundingSignal, len(signals))
	for _, s := range signals {
		m[s.Instrument] = s
	}
	return m
}

// fundingScoreOf flips positive funding (longs paying shorts) into a
// bearish signal and negative funding into a bullish one.
func fundingScoreOf(s domain.FundingSignal) float64 {
	if s.Instrument == "" {
		return 0
	}
	switch {
	case s.FundingZScore > 0:
		return -math.Min(1.0, math.Abs(s.FundingZScore)/extremeZScoreCap)
	case s.FundingZScore < 0:
		return math.Min(1.0, math.Abs(s.FundingZScore)/extremeZScoreCap)
	default:
		return 0
	}
}

func recommendationFor(score float64) domain.Recommendation {
	switch {
	case score >= 0.6:
		return domain.RecommendationStrongLong
	case score >= 0.2:
		return domain.RecommendationLeanLong
	case score <= -0.6:
		return domain.RecommendationStrongShort
	case score <= -0.2:
		return domain.RecommendationLeanShort
	default:
		return domain.RecommendationNeutral
	}
}
