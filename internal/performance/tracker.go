// Package performance tracks realized trade outcomes per phase and derives
// the rolling Sharpe ratios that drive allocation modifiers.
package performance

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/helios-trading/brain/pkg/types"
)

// Clock supplies the current time. Injected so replay and tests control it.
type Clock func() time.Time

// Tracker keeps a rolling window of trades per phase.
type Tracker struct {
	logger *zap.Logger
	cfg    types.PerformanceConfig
	clock  Clock

	mu     sync.RWMutex
	trades map[types.Phase][]types.TradeRecord
}

// NewTracker creates a tracker with the given window configuration.
func NewTracker(logger *zap.Logger, cfg types.PerformanceConfig, clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	t := &Tracker{
		logger: logger.Named("performance"),
		cfg:    cfg,
		clock:  clock,
		trades: make(map[types.Phase][]types.TradeRecord),
	}
	for _, p := range types.Phases {
		t.trades[p] = nil
	}
	return t
}

// RecordTrade appends a closed trade to its phase window and prunes
// observations older than the window.
func (t *Tracker) RecordTrade(rec types.TradeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trades[rec.Phase] = append(t.trades[rec.Phase], rec)
	t.pruneLocked(rec.Phase)

	t.logger.Debug("trade recorded",
		zap.String("phase", string(rec.Phase)),
		zap.String("symbol", rec.Symbol),
		zap.String("pnl", rec.PnL.String()))
}

// RebuildFromHistory replaces all windows with the given trades. Used by
// recovery; pruning applies against the injected clock.
func (t *Tracker) RebuildFromHistory(records []types.TradeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range types.Phases {
		t.trades[p] = nil
	}
	for _, rec := range records {
		t.trades[rec.Phase] = append(t.trades[rec.Phase], rec)
	}
	for _, p := range types.Phases {
		sort.Slice(t.trades[p], func(i, j int) bool {
			return t.trades[p][i].Timestamp.Before(t.trades[p][j].Timestamp)
		})
		t.pruneLocked(p)
	}
}

func (t *Tracker) pruneLocked(phase types.Phase) {
	cutoff := t.clock().AddDate(0, 0, -t.cfg.WindowDays)
	window := t.trades[phase]
	idx := 0
	for idx < len(window) && window[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		t.trades[phase] = append([]types.TradeRecord(nil), window[idx:]...)
	}
}

// TradeCount returns the number of trades in the phase's current window.
func (t *Tracker) TradeCount(phase types.Phase) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.trades[phase])
}

// Sharpe computes the annualized Sharpe ratio of the phase's daily returns.
// Fewer than two daily buckets yields 0. A zero standard deviation yields
// +3 for positive mean, -3 for negative, 0 otherwise.
func (t *Tracker) Sharpe(phase types.Phase) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sharpeOf(dailyReturns(t.trades[phase]))
}

func dailyReturns(window []types.TradeRecord) []float64 {
	buckets := make(map[string]decimal.Decimal)
	var days []string
	for _, rec := range window {
		day := rec.Timestamp.UTC().Format("2006-01-02")
		if _, ok := buckets[day]; !ok {
			days = append(days, day)
		}
		buckets[day] = buckets[day].Add(rec.PnL)
	}
	sort.Strings(days)

	out := make([]float64, 0, len(days))
	for _, day := range days {
		f, _ := buckets[day].Float64()
		out = append(out, f)
	}
	return out
}

func sharpeOf(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		switch {
		case mean > 0:
			return 3.0
		case mean < 0:
			return -3.0
		default:
			return 0
		}
	}
	return mean / std * math.Sqrt(365)
}

// Modifier converts a phase's Sharpe into an allocation multiplier. Phases
// with fewer than the minimum trade count stay neutral at 1.0.
func (t *Tracker) Modifier(phase types.Phase) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	window := t.trades[phase]
	if len(window) < t.cfg.MinTradeCount {
		return 1.0
	}
	sharpe := sharpeOf(dailyReturns(window))
	switch {
	case sharpe < t.cfg.MalusThreshold:
		return t.cfg.MalusMultiplier
	case sharpe > t.cfg.BonusThreshold:
		return t.cfg.BonusMultiplier
	default:
		return 1.0
	}
}

// Snapshot returns the phase's current performance summary.
func (t *Tracker) Snapshot(phase types.Phase) types.PhasePerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	window := t.trades[phase]
	perf := types.PhasePerformance{
		Phase:      phase,
		TradeCount: len(window),
		Sharpe:     sharpeOf(dailyReturns(window)),
	}
	wins, losses := 0, 0
	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, rec := range window {
		perf.TotalPnL = perf.TotalPnL.Add(rec.PnL)
		if rec.PnL.IsPositive() {
			wins++
			winSum = winSum.Add(rec.PnL)
		} else if rec.PnL.IsNegative() {
			losses++
			lossSum = lossSum.Add(rec.PnL)
		}
	}
	if len(window) > 0 {
		perf.WinRate = float64(wins) / float64(len(window))
	}
	if wins > 0 {
		perf.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		perf.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	if len(window) < t.cfg.MinTradeCount {
		perf.Modifier = 1.0
	} else {
		switch {
		case perf.Sharpe < t.cfg.MalusThreshold:
			perf.Modifier = t.cfg.MalusMultiplier
		case perf.Sharpe > t.cfg.BonusThreshold:
			perf.Modifier = t.cfg.BonusMultiplier
		default:
			perf.Modifier = 1.0
		}
	}
	return perf
}

// Snapshots returns summaries for all phases.
func (t *Tracker) Snapshots() map[types.Phase]types.PhasePerformance {
	out := make(map[types.Phase]types.PhasePerformance, len(types.Phases))
	for _, p := range types.Phases {
		out[p] = t.Snapshot(p)
	}
	return out
}
