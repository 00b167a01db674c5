// Package allocation converts account equity and phase performance into the
// normalized weight vector and leverage cap that govern capital distribution.
package allocation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

// WeightEpsilon is the tolerance on the weight-sum invariant.
const WeightEpsilon = 1e-6

// fullP2Weight is the Phase 2 base weight once equity reaches fullP2.
// Phase 3 ramps to fullP3Weight over one additional startP3 of equity.
const (
	fullP2Weight = 0.5
	fullP3Weight = 0.2
)

// ModifierSource supplies per-phase performance multipliers.
type ModifierSource interface {
	Modifier(p types.Phase) float64
}

// EventSink receives allocation events for the durable log.
type EventSink interface {
	Append(ctx context.Context, subject string, payload any) (int64, error)
}

// Clock supplies the current time.
type Clock func() time.Time

type override struct {
	vector types.AllocationVector
	until  time.Time
	reason string
}

// Engine owns the current allocation vector. Vectors are emitted by value
// and never mutated after emission.
type Engine struct {
	logger    *zap.Logger
	cfg       types.AllocationConfig
	modifiers ModifierSource
	events    EventSink
	metrics   *telemetry.Metrics
	clock     Clock

	mu       sync.RWMutex
	current  types.AllocationVector
	halted   bool
	override *override
}

// NewEngine builds an allocation engine. The initial vector is the zero-equity
// fallback until the first Rebalance.
func NewEngine(logger *zap.Logger, cfg types.AllocationConfig, modifiers ModifierSource, events EventSink, metrics *telemetry.Metrics, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		logger:    logger.Named("allocation"),
		cfg:       cfg,
		modifiers: modifiers,
		events:    events,
		metrics:   metrics,
		clock:     clock,
	}
	e.current = types.AllocationVector{
		W1:          1,
		MaxLeverage: cfg.LeverageCaps[types.TierMicro],
		Tier:        types.TierMicro,
		Timestamp:   clock(),
	}
	return e
}

// Tier buckets equity into its leverage tier.
func (e *Engine) Tier(equity decimal.Decimal) types.EquityTier {
	switch {
	case equity.GreaterThanOrEqual(e.cfg.InstitutionalTier):
		return types.TierInstitutional
	case equity.GreaterThanOrEqual(e.cfg.LargeTier):
		return types.TierLarge
	case equity.GreaterThanOrEqual(e.cfg.MediumTier):
		return types.TierMedium
	case equity.GreaterThanOrEqual(e.cfg.SmallTier):
		return types.TierSmall
	default:
		return types.TierMicro
	}
}

// LeverageCap returns the configured cap for a tier.
func (e *Engine) LeverageCap(tier types.EquityTier) decimal.Decimal {
	return e.cfg.LeverageCaps[tier]
}

// baseWeights is a deterministic function of equity alone. Phase 2 ramps in
// linearly over [startP2, fullP2]; Phase 3 ramps in over [startP3, 2*startP3].
func (e *Engine) baseWeights(equity decimal.Decimal) (float64, float64, float64) {
	eq, _ := equity.Float64()
	startP2, _ := e.cfg.StartP2.Float64()
	fullP2, _ := e.cfg.FullP2.Float64()
	startP3, _ := e.cfg.StartP3.Float64()

	if eq <= 0 || eq < startP2 {
		return 1, 0, 0
	}

	ramp2 := 1.0
	if fullP2 > startP2 {
		ramp2 = math.Min((eq-startP2)/(fullP2-startP2), 1)
	}
	b2 := fullP2Weight * ramp2

	b3 := 0.0
	if eq >= startP3 && startP3 > 0 {
		ramp3 := math.Min((eq-startP3)/startP3, 1)
		b3 = fullP3Weight * ramp3
	}

	b1 := 1 - b2 - b3
	return b1, b2, b3
}

// Rebalance recomputes the vector for the given equity, applies performance
// modifiers, normalizes, and appends ALLOCATION_UPDATED to the event log.
func (e *Engine) Rebalance(ctx context.Context, equity decimal.Decimal) (types.AllocationVector, error) {
	e.mu.Lock()
	if e.halted {
		// Zero vector until Resume, never the pre-halt weights.
		v := types.AllocationVector{Tier: e.current.Tier, Equity: e.current.Equity, Timestamp: e.current.Timestamp}
		e.mu.Unlock()
		return v, nil
	}
	if o := e.override; o != nil {
		if e.clock().Before(o.until) {
			v := o.vector
			e.mu.Unlock()
			return v, nil
		}
		e.override = nil
		e.logger.Info("allocation override expired")
	}
	e.mu.Unlock()

	b1, b2, b3 := e.baseWeights(equity)

	w1 := b1 * e.modifiers.Modifier(types.PhaseScavenger)
	w2 := b2 * e.modifiers.Modifier(types.PhaseHunter)
	w3 := b3 * e.modifiers.Modifier(types.PhaseSentinel)

	sum := w1 + w2 + w3
	if sum <= 0 {
		w1, w2, w3 = 1, 0, 0
	} else {
		w1, w2, w3 = w1/sum, w2/sum, w3/sum
	}

	tier := e.Tier(equity)
	vector := types.AllocationVector{
		W1:          w1,
		W2:          w2,
		W3:          w3,
		MaxLeverage: e.cfg.LeverageCaps[tier],
		Tier:        tier,
		Equity:      equity,
		Timestamp:   e.clock(),
	}
	if err := checkVector(vector); err != nil {
		return types.AllocationVector{}, err
	}

	e.setCurrent(vector)

	if e.events != nil {
		if _, err := e.events.Append(ctx, eventlog.SubjectAllocationUpdated, vector); err != nil {
			return vector, fmt.Errorf("append allocation: %w", err)
		}
	}

	e.logger.Info("allocation updated",
		zap.Float64("w1", vector.W1),
		zap.Float64("w2", vector.W2),
		zap.Float64("w3", vector.W3),
		zap.String("tier", string(tier)),
		zap.String("equity", equity.String()))

	return vector, nil
}

func checkVector(v types.AllocationVector) error {
	for _, w := range []float64{v.W1, v.W2, v.W3} {
		if w < 0 || w > 1 {
			return fmt.Errorf("allocation: weight %f out of [0,1]", w)
		}
	}
	if math.Abs(v.Sum()-1) > WeightEpsilon {
		return fmt.Errorf("allocation: weights sum to %f", v.Sum())
	}
	return nil
}

func (e *Engine) setCurrent(v types.AllocationVector) {
	e.mu.Lock()
	e.current = v
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.AllocationWeight.WithLabelValues(string(types.PhaseScavenger)).Set(v.W1)
		e.metrics.AllocationWeight.WithLabelValues(string(types.PhaseHunter)).Set(v.W2)
		e.metrics.AllocationWeight.WithLabelValues(string(types.PhaseSentinel)).Set(v.W3)
	}
}

// Current returns the latest emitted vector.
func (e *Engine) Current() types.AllocationVector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.halted {
		return types.AllocationVector{Tier: e.current.Tier, Equity: e.current.Equity, Timestamp: e.current.Timestamp}
	}
	return e.current
}

// Halted reports whether the risk halt is in force.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// Halt zeroes the allocation until Resume. The zero vector is the one state
// exempt from the weight-sum invariant.
func (e *Engine) Halt(ctx context.Context, operatorID, reason string) error {
	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()

	e.logger.Warn("risk halt engaged",
		zap.String("operatorId", operatorID),
		zap.String("reason", reason))

	if e.metrics != nil {
		for _, p := range types.Phases {
			e.metrics.AllocationWeight.WithLabelValues(string(p)).Set(0)
		}
	}
	if e.events != nil {
		payload := map[string]any{
			"key":        "risk.halt",
			"value":      "engaged",
			"operatorId": operatorID,
			"reason":     reason,
		}
		if _, err := e.events.Append(ctx, eventlog.SubjectConfigOverride, payload); err != nil {
			return fmt.Errorf("append halt: %w", err)
		}
	}
	return nil
}

// Resume lifts a risk halt. The next Rebalance emits a fresh vector.
func (e *Engine) Resume(operatorID string) {
	e.mu.Lock()
	e.halted = false
	e.mu.Unlock()
	e.logger.Warn("risk halt lifted", zap.String("operatorId", operatorID))
}

// Override pins the allocation vector for the given duration. The weights
// must already satisfy the sum invariant.
func (e *Engine) Override(ctx context.Context, w1, w2, w3 float64, operatorID, reason string, duration time.Duration) error {
	now := e.clock()
	vector := types.AllocationVector{
		W1:        w1,
		W2:        w2,
		W3:        w3,
		Timestamp: now,
	}
	e.mu.RLock()
	vector.MaxLeverage = e.current.MaxLeverage
	vector.Tier = e.current.Tier
	vector.Equity = e.current.Equity
	e.mu.RUnlock()

	if err := checkVector(vector); err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("allocation: override duration must be positive")
	}

	e.mu.Lock()
	e.override = &override{vector: vector, until: now.Add(duration), reason: reason}
	e.mu.Unlock()
	e.setCurrent(vector)

	e.logger.Warn("allocation override engaged",
		zap.String("operatorId", operatorID),
		zap.String("reason", reason),
		zap.Duration("duration", duration))

	if e.events != nil {
		payload := map[string]any{
			"key":        "allocation.override",
			"value":      map[string]float64{"w1": w1, "w2": w2, "w3": w3},
			"operatorId": operatorID,
			"reason":     reason,
			"ttl":        duration.String(),
		}
		if _, err := e.events.Append(ctx, eventlog.SubjectConfigOverride, payload); err != nil {
			return fmt.Errorf("append override: %w", err)
		}
	}
	return nil
}

// Apply installs a vector without emitting events. Replay only.
func (e *Engine) Apply(v types.AllocationVector) {
	e.mu.Lock()
	e.current = v
	e.mu.Unlock()
}
