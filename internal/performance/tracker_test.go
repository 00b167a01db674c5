package performance_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/performance"
	"github.com/helios-trading/brain/pkg/types"
)

func fixedClock(t time.Time) performance.Clock {
	return func() time.Time { return t }
}

func trade(phase types.Phase, pnl float64, ts time.Time) types.TradeRecord {
	return types.TradeRecord{
		ID:        fmt.Sprintf("t-%d", ts.UnixNano()),
		Phase:     phase,
		PnL:       decimal.NewFromFloat(pnl),
		Timestamp: ts,
	}
}

func TestModifierNeutralBelowMinTrades(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	// Nine trades, one short of the minimum.
	for i := 0; i < 9; i++ {
		tracker.RecordTrade(trade(types.PhaseScavenger, -50, now.Add(-time.Duration(i)*time.Hour)))
	}

	if mod := tracker.Modifier(types.PhaseScavenger); mod != 1.0 {
		t.Errorf("modifier below min trade count = %f, want 1.0", mod)
	}
}

func TestModifierMalusOnNegativeSharpe(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	// Twelve losing trades spread across days, mixed sizes so stddev > 0.
	for i := 0; i < 12; i++ {
		pnl := -40.0
		if i%2 == 0 {
			pnl = -80.0
		}
		tracker.RecordTrade(trade(types.PhaseScavenger, pnl, now.AddDate(0, 0, -i)))
	}

	if sharpe := tracker.Sharpe(types.PhaseScavenger); sharpe >= 0 {
		t.Fatalf("sharpe = %f, want negative", sharpe)
	}
	if mod := tracker.Modifier(types.PhaseScavenger); mod != 0.5 {
		t.Errorf("modifier = %f, want 0.5", mod)
	}
}

func TestModifierBonusOnHighSharpe(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	// Consistent daily wins with slight variance: high positive Sharpe.
	for i := 0; i < 12; i++ {
		pnl := 100.0
		if i%2 == 0 {
			pnl = 105.0
		}
		tracker.RecordTrade(trade(types.PhaseHunter, pnl, now.AddDate(0, 0, -i)))
	}

	if sharpe := tracker.Sharpe(types.PhaseHunter); sharpe <= 2.0 {
		t.Fatalf("sharpe = %f, want > 2.0", sharpe)
	}
	if mod := tracker.Modifier(types.PhaseHunter); mod != 1.2 {
		t.Errorf("modifier = %f, want 1.2", mod)
	}
}

func TestSharpeEdgeCases(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	if s := tracker.Sharpe(types.PhaseScavenger); s != 0 {
		t.Errorf("sharpe with no trades = %f, want 0", s)
	}

	// One daily bucket only.
	tracker.RecordTrade(trade(types.PhaseScavenger, 50, now))
	if s := tracker.Sharpe(types.PhaseScavenger); s != 0 {
		t.Errorf("sharpe with one bucket = %f, want 0", s)
	}

	// Identical positive daily returns: zero stddev clamps to +3.
	tracker.RecordTrade(trade(types.PhaseScavenger, 50, now.AddDate(0, 0, -1)))
	tracker.RecordTrade(trade(types.PhaseScavenger, 50, now.AddDate(0, 0, -2)))
	if s := tracker.Sharpe(types.PhaseScavenger); s != 3.0 {
		t.Errorf("sharpe with zero stddev = %f, want 3.0", s)
	}

	// Identical negative daily returns clamp to -3.
	for i := 0; i < 3; i++ {
		tracker.RecordTrade(trade(types.PhaseSentinel, -25, now.AddDate(0, 0, -i)))
	}
	if s := tracker.Sharpe(types.PhaseSentinel); s != -3.0 {
		t.Errorf("sharpe with zero stddev losses = %f, want -3.0", s)
	}
}

func TestWindowPruning(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	tracker.RecordTrade(trade(types.PhaseScavenger, 10, now.AddDate(0, 0, -45)))
	tracker.RecordTrade(trade(types.PhaseScavenger, 10, now.AddDate(0, 0, -31)))
	tracker.RecordTrade(trade(types.PhaseScavenger, 10, now.AddDate(0, 0, -5)))

	if n := tracker.TradeCount(types.PhaseScavenger); n != 1 {
		t.Errorf("trade count after pruning = %d, want 1", n)
	}
}

func TestRebuildFromHistory(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	tracker.RecordTrade(trade(types.PhaseScavenger, 999, now))

	var records []types.TradeRecord
	for i := 0; i < 5; i++ {
		records = append(records, trade(types.PhaseHunter, 20, now.AddDate(0, 0, -i)))
	}
	// Stale record should be pruned on rebuild.
	records = append(records, trade(types.PhaseHunter, 20, now.AddDate(0, 0, -60)))

	tracker.RebuildFromHistory(records)

	if n := tracker.TradeCount(types.PhaseScavenger); n != 0 {
		t.Errorf("scavenger count after rebuild = %d, want 0", n)
	}
	if n := tracker.TradeCount(types.PhaseHunter); n != 5 {
		t.Errorf("hunter count after rebuild = %d, want 5", n)
	}
}

func TestSnapshotAggregates(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := performance.NewTracker(zap.NewNop(), types.DefaultPerformanceConfig(), fixedClock(now))

	tracker.RecordTrade(trade(types.PhaseScavenger, 100, now))
	tracker.RecordTrade(trade(types.PhaseScavenger, 60, now.Add(-time.Hour)))
	tracker.RecordTrade(trade(types.PhaseScavenger, -40, now.Add(-2*time.Hour)))

	snap := tracker.Snapshot(types.PhaseScavenger)
	if snap.TradeCount != 3 {
		t.Fatalf("trade count = %d, want 3", snap.TradeCount)
	}
	if !snap.TotalPnL.Equal(decimal.NewFromInt(120)) {
		t.Errorf("total pnl = %s, want 120", snap.TotalPnL)
	}
	if snap.WinRate < 0.66 || snap.WinRate > 0.67 {
		t.Errorf("win rate = %f, want ~0.667", snap.WinRate)
	}
	if !snap.AvgWin.Equal(decimal.NewFromInt(80)) {
		t.Errorf("avg win = %s, want 80", snap.AvgWin)
	}
	if !snap.AvgLoss.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("avg loss = %s, want -40", snap.AvgLoss)
	}
	if snap.Modifier != 1.0 {
		t.Errorf("modifier = %f, want 1.0", snap.Modifier)
	}
}
