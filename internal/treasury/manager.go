// Package treasury implements the profit ratchet: a monotone high watermark
// over account equity and one-way sweeps of excess futures balance into the
// protected spot wallet.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

// ErrRetriesExhausted is returned when every transfer attempt failed. No
// state is mutated in that case.
var ErrRetriesExhausted = errors.New("treasury: transfer retries exhausted")

// Clock supplies the current time.
type Clock func() time.Time

// EventSink receives treasury events for the durable log.
type EventSink interface {
	Append(ctx context.Context, subject string, payload any) (int64, error)
}

// SweepDecision is the outcome of a sweep-condition check.
type SweepDecision struct {
	ShouldSweep bool            `json:"shouldSweep"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
}

// Notifier receives sweep outcomes for operator alerting.
type Notifier func(op types.TreasuryOperation)

// Manager owns the high watermark and total-swept counters. Both are
// monotonically non-decreasing; any observed regression is an invariant
// violation surfaced to the caller.
type Manager struct {
	logger  *zap.Logger
	cfg     types.TreasuryConfig
	wallet  WalletAPI
	events  EventSink
	metrics *telemetry.Metrics
	clock   Clock
	sleep   func(ctx context.Context, d time.Duration) error

	notifiers []Notifier

	mu            sync.RWMutex
	highWatermark decimal.Decimal
	totalSwept    decimal.Decimal
	lastEquity    decimal.Decimal
	history       []types.TreasuryOperation
}

// NewManager starts the ratchet at the configured initial capital.
func NewManager(logger *zap.Logger, cfg types.TreasuryConfig, wallet WalletAPI, events EventSink, metrics *telemetry.Metrics, clock Clock) *Manager {
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{
		logger:        logger.Named("treasury"),
		cfg:           cfg,
		wallet:        wallet,
		events:        events,
		metrics:       metrics,
		clock:         clock,
		highWatermark: cfg.InitialCapital,
		lastEquity:    cfg.InitialCapital,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	m.gauge()
	return m
}

// OnSweep registers a notifier. Register before the scheduler starts.
func (m *Manager) OnSweep(fn Notifier) {
	m.notifiers = append(m.notifiers, fn)
}

// HighWatermark returns the current equity peak.
func (m *Manager) HighWatermark() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highWatermark
}

// TotalSwept returns the cumulative locked profit.
func (m *Manager) TotalSwept() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSwept
}

// History returns a copy of recorded treasury operations.
func (m *Manager) History() []types.TreasuryOperation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.TreasuryOperation(nil), m.history...)
}

// UpdateHighWatermark ratchets the watermark up when equity exceeds it.
// Returns true when the watermark moved.
func (m *Manager) UpdateHighWatermark(equity decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEquity = equity
	if equity.LessThanOrEqual(m.highWatermark) {
		return false
	}
	m.highWatermark = equity
	m.gaugeLocked()
	m.logger.Info("high watermark raised", zap.String("highWatermark", equity.String()))
	return true
}

// ShouldTriggerSweepOnEquityIncrease reports whether equity jumped by more
// than the configured fraction since the previous observation.
func (m *Manager) ShouldTriggerSweepOnEquityIncrease(prev, curr decimal.Decimal) bool {
	if prev.LessThanOrEqual(decimal.Zero) {
		return false
	}
	jump, _ := curr.Sub(prev).Div(prev).Float64()
	return jump > m.cfg.EquityJumpTrigger
}

// CheckSweepConditions sizes a sweep from the current futures balance.
func (m *Manager) CheckSweepConditions(ctx context.Context) (SweepDecision, error) {
	balance, err := m.wallet.GetFuturesBalance(ctx)
	if err != nil {
		return SweepDecision{}, fmt.Errorf("futures balance: %w", err)
	}
	return m.sizeSweep(balance), nil
}

func (m *Manager) sizeSweep(balance decimal.Decimal) SweepDecision {
	trigger := m.cfg.TargetAllocation.Mul(m.cfg.SweepThreshold)
	if balance.LessThanOrEqual(trigger) {
		return SweepDecision{Reason: fmt.Sprintf("balance %s below trigger %s", balance.StringFixed(2), trigger.StringFixed(2))}
	}
	excess := balance.Sub(trigger)
	maxSweepable := balance.Sub(m.cfg.ReserveLimit)
	if maxSweepable.LessThanOrEqual(decimal.Zero) {
		return SweepDecision{Reason: fmt.Sprintf("reserve limit %s leaves nothing sweepable", m.cfg.ReserveLimit.StringFixed(2))}
	}
	amount := decimal.Min(excess, maxSweepable)
	return SweepDecision{
		ShouldSweep: true,
		Amount:      amount,
		Reason:      fmt.Sprintf("excess %s over trigger %s", excess.StringFixed(2), trigger.StringFixed(2)),
	}
}

// ExecuteSweep transfers amount to spot with exponential backoff. State
// mutates only after a confirmed transfer.
func (m *Manager) ExecuteSweep(ctx context.Context, amount decimal.Decimal) (types.TreasuryOperation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return types.TreasuryOperation{}, fmt.Errorf("treasury: sweep amount %s not positive", amount)
	}

	balance, err := m.wallet.GetFuturesBalance(ctx)
	if err != nil {
		return types.TreasuryOperation{}, fmt.Errorf("futures balance: %w", err)
	}
	if balance.Sub(amount).LessThan(m.cfg.ReserveLimit) {
		return types.TreasuryOperation{}, fmt.Errorf("treasury: sweep %s would breach reserve limit %s", amount, m.cfg.ReserveLimit)
	}

	var txID string
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		txID, lastErr = m.wallet.TransferToSpot(ctx, amount)
		if lastErr == nil {
			break
		}
		m.logger.Warn("sweep transfer failed",
			zap.Int("attempt", attempt),
			zap.String("amount", amount.String()),
			zap.Error(lastErr))
		if attempt == m.cfg.MaxRetries {
			if m.metrics != nil {
				m.metrics.SweepFailures.Inc()
			}
			return types.TreasuryOperation{}, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
		}
		delay := m.cfg.RetryBaseDelay << (attempt - 1)
		if err := m.sleep(ctx, delay); err != nil {
			return types.TreasuryOperation{}, err
		}
	}

	m.mu.Lock()
	m.totalSwept = m.totalSwept.Add(amount)
	op := types.TreasuryOperation{
		ID:            uuid.NewString(),
		Timestamp:     m.clock(),
		Type:          types.TreasuryOpSweep,
		Amount:        amount,
		FromWallet:    types.WalletFutures,
		ToWallet:      types.WalletSpot,
		Reason:        fmt.Sprintf("profit sweep tx=%s", txID),
		HighWatermark: m.highWatermark,
	}
	m.history = append(m.history, op)
	m.gaugeLocked()
	m.mu.Unlock()

	m.logger.Info("sweep executed",
		zap.String("amount", amount.String()),
		zap.String("txId", txID),
		zap.String("totalSwept", m.TotalSwept().String()))

	if m.metrics != nil {
		m.metrics.SweepsTotal.Inc()
		amt, _ := amount.Float64()
		m.metrics.SweptAmount.Add(amt)
	}
	if m.events != nil {
		if _, err := m.events.Append(ctx, eventlog.SubjectTreasurySweep, op); err != nil {
			m.logger.Error("sweep append failed", zap.Error(err))
		}
	}
	for _, fn := range m.notifiers {
		fn(op)
	}
	return op, nil
}

// PerformSweepIfNeeded runs the check-then-execute cycle. Called by the
// scheduler and on large equity jumps.
func (m *Manager) PerformSweepIfNeeded(ctx context.Context) error {
	decision, err := m.CheckSweepConditions(ctx)
	if err != nil {
		return err
	}
	if !decision.ShouldSweep {
		m.logger.Debug("sweep skipped", zap.String("reason", decision.Reason))
		return nil
	}
	_, err = m.ExecuteSweep(ctx, decision.Amount)
	return err
}

// ObserveEquity updates the watermark and fires an immediate sweep check
// when equity jumped past the trigger fraction.
func (m *Manager) ObserveEquity(ctx context.Context, equity decimal.Decimal) error {
	m.mu.RLock()
	prev := m.lastEquity
	m.mu.RUnlock()

	m.UpdateHighWatermark(equity)

	if m.ShouldTriggerSweepOnEquityIncrease(prev, equity) {
		m.logger.Info("equity jump sweep check",
			zap.String("prev", prev.String()),
			zap.String("curr", equity.String()))
		return m.PerformSweepIfNeeded(ctx)
	}
	return nil
}

// ApplySweep folds a replayed sweep into the counters without side effects.
// A regression in totalSwept is impossible by construction here; amounts
// are validated instead.
func (m *Manager) ApplySweep(op types.TreasuryOperation) error {
	if op.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("treasury: replayed sweep amount %s not positive", op.Amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSwept = m.totalSwept.Add(op.Amount)
	if op.HighWatermark.GreaterThan(m.highWatermark) {
		m.highWatermark = op.HighWatermark
	}
	m.history = append(m.history, op)
	m.gaugeLocked()
	return nil
}

// Restore installs snapshot state. Replay only. Returns an error when the
// snapshot would regress either monotone counter.
func (m *Manager) Restore(highWatermark, totalSwept decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if highWatermark.LessThan(m.cfg.InitialCapital) && highWatermark.IsPositive() {
		// Watermark below initial capital means the snapshot predates this
		// configuration; keep the larger of the two.
		highWatermark = m.cfg.InitialCapital
	}
	if highWatermark.LessThan(m.highWatermark) {
		return fmt.Errorf("treasury: watermark snapshot %s below current %s", highWatermark, m.highWatermark)
	}
	if totalSwept.LessThan(m.totalSwept) {
		return fmt.Errorf("treasury: totalSwept snapshot %s below current %s", totalSwept, m.totalSwept)
	}
	m.highWatermark = highWatermark
	m.totalSwept = totalSwept
	m.gaugeLocked()
	return nil
}

func (m *Manager) gauge() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.gaugeLocked()
}

func (m *Manager) gaugeLocked() {
	if m.metrics == nil {
		return
	}
	hw, _ := m.highWatermark.Float64()
	m.metrics.HighWatermark.Set(hw)
}
