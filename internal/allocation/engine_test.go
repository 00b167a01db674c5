package allocation_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/allocation"
	"github.com/helios-trading/brain/pkg/types"
)

type stubModifiers struct {
	values map[types.Phase]float64
}

func (s stubModifiers) Modifier(p types.Phase) float64 {
	if v, ok := s.values[p]; ok {
		return v
	}
	return 1.0
}

type captureSink struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (c *captureSink) Append(_ context.Context, subject string, payload any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, payload)
	return int64(len(c.subjects)), nil
}

func newEngine(mods stubModifiers, sink *captureSink) *allocation.Engine {
	clock := func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return allocation.NewEngine(zap.NewNop(), types.DefaultAllocationConfig(), mods, sink, nil, clock)
}

func TestLowEquityScavengerOnly(t *testing.T) {
	sink := &captureSink{}
	engine := newEngine(stubModifiers{}, sink)

	v, err := engine.Rebalance(context.Background(), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if v.W1 != 1 || v.W2 != 0 || v.W3 != 0 {
		t.Errorf("vector = (%f, %f, %f), want (1, 0, 0)", v.W1, v.W2, v.W3)
	}
	if v.Tier != types.TierMicro {
		t.Errorf("tier = %s, want micro", v.Tier)
	}
	if !v.MaxLeverage.Equal(decimal.NewFromInt(10)) {
		t.Errorf("leverage cap = %s, want 10", v.MaxLeverage)
	}
	if len(sink.subjects) != 1 || sink.subjects[0] != "evt.allocation.updated" {
		t.Errorf("events = %v, want one allocation.updated", sink.subjects)
	}
}

func TestZeroEquityFallback(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})

	v, err := engine.Rebalance(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if v.W1 != 1 || v.W2 != 0 || v.W3 != 0 {
		t.Errorf("vector = (%f, %f, %f), want (1, 0, 0)", v.W1, v.W2, v.W3)
	}
}

func TestWeightsAlwaysNormalized(t *testing.T) {
	mods := stubModifiers{values: map[types.Phase]float64{
		types.PhaseScavenger: 0.5,
		types.PhaseHunter:    1.2,
		types.PhaseSentinel:  1.0,
	}}
	engine := newEngine(mods, &captureSink{})

	for _, equity := range []int64{500, 1500, 3000, 5000, 10000, 20000, 50000, 200000} {
		v, err := engine.Rebalance(context.Background(), decimal.NewFromInt(equity))
		if err != nil {
			t.Fatalf("rebalance(%d): %v", equity, err)
		}
		if math.Abs(v.Sum()-1) > allocation.WeightEpsilon {
			t.Errorf("equity %d: weights sum to %.9f", equity, v.Sum())
		}
		for i, w := range []float64{v.W1, v.W2, v.W3} {
			if w < 0 || w > 1 {
				t.Errorf("equity %d: w%d = %f out of [0,1]", equity, i+1, w)
			}
		}
	}
}

func TestPhaseUnlockProgression(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})
	ctx := context.Background()

	below, _ := engine.Rebalance(ctx, decimal.NewFromInt(1499))
	if below.W2 != 0 || below.W3 != 0 {
		t.Errorf("below startP2: w2=%f w3=%f, want 0", below.W2, below.W3)
	}

	mid, _ := engine.Rebalance(ctx, decimal.NewFromInt(3250))
	if mid.W2 <= 0 || mid.W2 >= 0.5 {
		t.Errorf("mid ramp: w2 = %f, want in (0, 0.5)", mid.W2)
	}
	if mid.W3 != 0 {
		t.Errorf("mid ramp: w3 = %f, want 0", mid.W3)
	}

	high, _ := engine.Rebalance(ctx, decimal.NewFromInt(40000))
	if high.W3 <= 0 {
		t.Errorf("above startP3: w3 = %f, want > 0", high.W3)
	}
}

func TestTierBoundaries(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})

	cases := []struct {
		equity int64
		tier   types.EquityTier
	}{
		{100, types.TierMicro},
		{4999, types.TierMicro},
		{5000, types.TierSmall},
		{25000, types.TierMedium},
		{100000, types.TierLarge},
		{1000000, types.TierInstitutional},
	}
	for _, tc := range cases {
		if got := engine.Tier(decimal.NewFromInt(tc.equity)); got != tc.tier {
			t.Errorf("tier(%d) = %s, want %s", tc.equity, got, tc.tier)
		}
	}
}

func TestLeverageCapsMonotone(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})

	order := []types.EquityTier{types.TierMicro, types.TierSmall, types.TierMedium, types.TierLarge, types.TierInstitutional}
	for i := 1; i < len(order); i++ {
		prev := engine.LeverageCap(order[i-1])
		cur := engine.LeverageCap(order[i])
		if cur.GreaterThan(prev) {
			t.Errorf("cap(%s)=%s exceeds cap(%s)=%s", order[i], cur, order[i-1], prev)
		}
	}
}

func TestMalusShiftsWeight(t *testing.T) {
	neutral := newEngine(stubModifiers{}, &captureSink{})
	penalized := newEngine(stubModifiers{values: map[types.Phase]float64{
		types.PhaseHunter: 0.5,
	}}, &captureSink{})

	ctx := context.Background()
	equity := decimal.NewFromInt(10000)

	base, _ := neutral.Rebalance(ctx, equity)
	modded, _ := penalized.Rebalance(ctx, equity)

	if modded.W2 >= base.W2 {
		t.Errorf("malus w2 = %f, want < %f", modded.W2, base.W2)
	}
	if modded.W1 <= base.W1 {
		t.Errorf("malus should shift weight to w1: %f <= %f", modded.W1, base.W1)
	}
}

func TestHaltZeroesVector(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})
	ctx := context.Background()

	if _, err := engine.Rebalance(ctx, decimal.NewFromInt(10000)); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if err := engine.Halt(ctx, "op-1", "manual halt"); err != nil {
		t.Fatalf("halt: %v", err)
	}

	v := engine.Current()
	if v.Sum() != 0 {
		t.Errorf("halted vector sum = %f, want 0", v.Sum())
	}
	if !engine.Halted() {
		t.Error("Halted() = false after halt")
	}

	// Rebalance while halted must not emit a fresh vector.
	v2, _ := engine.Rebalance(ctx, decimal.NewFromInt(10000))
	if v2.Sum() != 0 {
		t.Errorf("rebalance under halt produced weights summing to %f", v2.Sum())
	}

	engine.Resume("op-1")
	v3, _ := engine.Rebalance(ctx, decimal.NewFromInt(10000))
	if math.Abs(v3.Sum()-1) > allocation.WeightEpsilon {
		t.Errorf("post-resume sum = %f, want 1", v3.Sum())
	}
}

func TestOverridePinsVector(t *testing.T) {
	sink := &captureSink{}
	engine := newEngine(stubModifiers{}, sink)
	ctx := context.Background()

	if err := engine.Override(ctx, 0.2, 0.3, 0.5, "op-1", "rebalancing test", time.Hour); err != nil {
		t.Fatalf("override: %v", err)
	}

	v, _ := engine.Rebalance(ctx, decimal.NewFromInt(1000))
	if v.W1 != 0.2 || v.W2 != 0.3 || v.W3 != 0.5 {
		t.Errorf("override not applied: (%f, %f, %f)", v.W1, v.W2, v.W3)
	}

	found := false
	for _, s := range sink.subjects {
		if s == "evt.config.override" {
			found = true
		}
	}
	if !found {
		t.Error("override event not appended")
	}
}

func TestOverrideRejectsBadWeights(t *testing.T) {
	engine := newEngine(stubModifiers{}, &captureSink{})

	if err := engine.Override(context.Background(), 0.5, 0.5, 0.5, "op-1", "bad", time.Hour); err == nil {
		t.Error("expected error for weights summing to 1.5")
	}
	if err := engine.Override(context.Background(), 1, 0, 0, "op-1", "bad", 0); err == nil {
		t.Error("expected error for zero duration")
	}
}
