// Package dashboard binds the aggregator and REST client into a single
// poll-ready snapshot for an external renderer. It does not render
// anything itself — that is left to the caller (terminal UI, HTTP
// handler, etc.).
package dashboard

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/aggregator"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/hyperliquid"
)

// Row is one tracked instrument's combined view: its current mid price,
// every detector's latest reading, and the composite recommendation.
type Row struct {
	Instrument string
	MidPrice   float64
	OrderFlow  []domain.OrderFlowSignal
	Whale      *domain.WhaleSignal
	HLP        *domain.HLPSignal
	Funding    *domain.FundingSignal
	Composite  *domain.CompositeSignal
}

// Snapshot is a single point-in-time read across every tracked instrument.
type Snapshot struct {
	Rows []Row
}

// Binder couples a REST client (for current mid prices) with an
// aggregator (for detector signals) into Snapshot reads.
type Binder struct {
	rest   *hyperliquid.RESTClient
	agg    *aggregator.Aggregator
	coins  []string
	logger *slog.Logger
}

// New builds a dashboard binder over coins.
func New(rest *hyperliquid.RESTClient, agg *aggregator.Aggregator, coins []string, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		rest:   rest,
		agg:    agg,
		coins:  coins,
		logger: logger.With(slog.String("component", "dashboard")),
	}
}

// Snapshot fetches current mid prices and combines them with the
// aggregator's latest detector and composite signals into one Row per
// tracked instrument. A failed mid-price fetch leaves every row's
// MidPrice at zero rather than failing the whole snapshot.
func (b *Binder) Snapshot(ctx context.Context) Snapshot {
	mids, err := b.rest.AllMids(ctx)
	if err != nil {
		b.logger.Warn("snapshot: all mids failed, prices will read zero", slog.String("error", err.Error()))
		mids = map[string]string{}
	}

	orderflow := b.agg.OrderFlowSignalsByInstrument()
	whales := indexByInstrument(b.agg.WhaleSignals(), func(s domain.WhaleSignal) string { return s.Instrument })
	hlp := indexByInstrument(b.agg.HLPSignals(), func(s domain.HLPSignal) string { return s.Instrument })
	funding := indexByInstrument(b.agg.FundingSignals(), func(s domain.FundingSignal) string { return s.Instrument })
	composite := indexByInstrument(b.agg.GetCompositeSignals(), func(s domain.CompositeSignal) string { return s.Instrument })

	rows := make([]Row, 0, len(b.coins))
	for _, coin := range b.coins {
		row := Row{
			Instrument: coin,
			MidPrice:   parseMid(mids[coin]),
			OrderFlow:  orderflow[coin],
		}
		if w, ok := whales[coin]; ok {
			row.Whale = &w
		}
		if h, ok := hlp[coin]; ok {
			row.HLP = &h
		}
		if f, ok := funding[coin]; ok {
			row.Funding = &f
		}
		if c, ok := composite[coin]; ok {
			row.Composite = &c
		}
		rows = append(rows, row)
	}
	return Snapshot{Rows: rows}
}

func indexByInstrument[T any](items []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, item := range items {
		m[key(item)] = item
	}
	return m
}

func parseMid(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
