// Package recovery rebuilds in-memory state from the event log after a
// restart or an explicit reset. Replay is deterministic: the same log and
// configuration always reproduce the same projections.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/allocation"
	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/performance"
	"github.com/helios-trading/brain/internal/risk"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/internal/treasury"
	"github.com/helios-trading/brain/pkg/types"
)

const batchSize = 1000

// ErrInvariant marks a fatal inconsistency found during replay. The process
// must refuse to continue trading on it.
var ErrInvariant = errors.New("recovery: invariant violated")

// Store is the event log surface replay depends on.
type Store interface {
	StreamFrom(ctx context.Context, from int64, limit int) ([]eventlog.Entry, error)
	Truncate(ctx context.Context) error
	SaveSnapshot(ctx context.Context, key string, value any) error
	DeleteSnapshots(ctx context.Context) error
}

// Engines bundles the projections replay rebuilds. All apply paths are
// side-effect free: no event appends, no exchange calls.
type Engines struct {
	Tracker    *performance.Tracker
	Allocation *allocation.Engine
	Treasury   *treasury.Manager
	Book       *risk.Book
}

// Summary reports what a replay covered.
type Summary struct {
	Events     int64           `json:"events"`
	LastID     int64           `json:"lastId"`
	Equity     decimal.Decimal `json:"equity"`
	DailyStart decimal.Decimal `json:"dailyStartEquity"`
	Positions  int             `json:"positions"`
	TotalSwept decimal.Decimal `json:"totalSwept"`
	Watermark  decimal.Decimal `json:"highWatermark"`
}

// Service scans the event log and dispatches entries to the engines.
type Service struct {
	logger  *zap.Logger
	store   Store
	engines Engines
	initial decimal.Decimal
	metrics *telemetry.Metrics
}

// NewService builds a replay service starting equity at initialCapital.
func NewService(logger *zap.Logger, store Store, engines Engines, initialCapital decimal.Decimal, metrics *telemetry.Metrics) *Service {
	return &Service{
		logger:  logger.Named("recovery"),
		store:   store,
		engines: engines,
		initial: initialCapital,
		metrics: metrics,
	}
}

// Recover replays the full log. With reset it truncates projections first
// and replays from a clean slate; an empty log initializes defaults.
func (s *Service) Recover(ctx context.Context, reset bool) (Summary, error) {
	if reset {
		s.logger.Warn("replay reset requested, truncating projections")
		if err := s.store.DeleteSnapshots(ctx); err != nil {
			return Summary{}, fmt.Errorf("delete snapshots: %w", err)
		}
	}

	summary := Summary{Equity: s.initial, DailyStart: s.initial}
	var trades []types.TradeRecord
	var currentDay string

	from := int64(1)
	for {
		entries, err := s.store.StreamFrom(ctx, from, batchSize)
		if err != nil {
			return Summary{}, fmt.Errorf("stream from %d: %w", from, err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if err := s.apply(entry, &summary, &trades, &currentDay); err != nil {
				return Summary{}, err
			}
			summary.Events++
			summary.LastID = entry.ID
			if s.metrics != nil {
				s.metrics.ReplayedEvents.Inc()
			}
		}
		from = entries[len(entries)-1].ID + 1
		if len(entries) < batchSize {
			break
		}
	}

	s.engines.Tracker.RebuildFromHistory(trades)

	if summary.Events == 0 {
		s.logger.Info("empty event log, initializing defaults",
			zap.String("initialCapital", s.initial.String()))
	}
	summary.Positions = s.engines.Book.Len()
	summary.TotalSwept = s.engines.Treasury.TotalSwept()
	summary.Watermark = s.engines.Treasury.HighWatermark()

	if summary.Watermark.LessThan(s.initial) {
		return Summary{}, fmt.Errorf("%w: watermark %s below initial capital %s", ErrInvariant, summary.Watermark, s.initial)
	}

	if err := s.snapshot(ctx, summary); err != nil {
		return Summary{}, err
	}

	s.logger.Info("recovery complete",
		zap.Int64("events", summary.Events),
		zap.Int64("lastId", summary.LastID),
		zap.String("equity", summary.Equity.String()),
		zap.Int("positions", summary.Positions),
		zap.String("totalSwept", summary.TotalSwept.String()))
	return summary, nil
}

func (s *Service) apply(entry eventlog.Entry, summary *Summary, trades *[]types.TradeRecord, currentDay *string) error {
	switch entry.Subject {
	case eventlog.SubjectExecutionFill:
		var fill types.Fill
		if err := entry.Decode(&fill); err != nil {
			return fmt.Errorf("entry %d: %w", entry.ID, err)
		}
		day := fill.Timestamp.UTC().Format("2006-01-02")
		if day != *currentDay {
			*currentDay = day
			summary.DailyStart = summary.Equity
		}
		s.engines.Book.ApplyFill(fill)
		if !fill.PnL.IsZero() {
			summary.Equity = summary.Equity.Add(fill.PnL)
			s.engines.Treasury.UpdateHighWatermark(summary.Equity)
			phase := fill.Phase
			if phase == "" {
				phase = types.PhaseScavenger
			}
			*trades = append(*trades, types.TradeRecord{
				ID:        fill.ID,
				Phase:     phase,
				PnL:       fill.PnL,
				Timestamp: fill.Timestamp,
				Symbol:    fill.Symbol,
				Side:      fill.Side,
			})
		}

	case eventlog.SubjectAllocationUpdated:
		var vector types.AllocationVector
		if err := entry.Decode(&vector); err != nil {
			return fmt.Errorf("entry %d: %w", entry.ID, err)
		}
		s.engines.Allocation.Apply(vector)

	case eventlog.SubjectTreasurySweep:
		var op types.TreasuryOperation
		if err := entry.Decode(&op); err != nil {
			return fmt.Errorf("entry %d: %w", entry.ID, err)
		}
		if err := s.engines.Treasury.ApplySweep(op); err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrInvariant, entry.ID, err)
		}

	case eventlog.SubjectIntentReceived, eventlog.SubjectRiskDecision,
		eventlog.SubjectBreakerTrip, eventlog.SubjectBreakerReset,
		eventlog.SubjectConfigOverride:
		// Audit-only subjects: no projection state.

	default:
		s.logger.Warn("unknown subject skipped",
			zap.Int64("id", entry.ID),
			zap.String("subject", entry.Subject))
	}
	return nil
}

func (s *Service) snapshot(ctx context.Context, summary Summary) error {
	saves := []struct {
		key   string
		value any
	}{
		{eventlog.SnapshotAllocation, s.engines.Allocation.Current()},
		{eventlog.SnapshotHighWatermark, summary.Watermark},
		{eventlog.SnapshotTotalSwept, summary.TotalSwept},
		{eventlog.SnapshotPositions, s.engines.Book.Positions()},
		{eventlog.SnapshotDailyStart, summary.DailyStart},
	}
	for _, sv := range saves {
		if err := s.store.SaveSnapshot(ctx, sv.key, sv.value); err != nil {
			return fmt.Errorf("snapshot %s: %w", sv.key, err)
		}
	}
	return nil
}

// TruncateLog clears the append-only log itself. Only ever operator
// initiated, ahead of a reset replay.
func (s *Service) TruncateLog(ctx context.Context) error {
	return s.store.Truncate(ctx)
}
