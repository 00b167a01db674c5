// Package risk implements the single veto point every trade intent must
// clear before routing. An intent is approved only if it passes every gate;
// the first failing gate decides the outcome.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/marketdata"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

// Gate labels used in decision reasons and rejection metrics.
const (
	gateHedge       = "hedge"
	gateStop        = "stop_distance"
	gatePolicy      = "policy"
	gateExpectancy  = "expectancy"
	gateLatency     = "latency"
	gateRegime      = "regime"
	gateTail        = "tail_risk"
	gateLeverage    = "leverage"
	gateCorrelation = "correlation"
)

// CorrelationSource supplies pairwise symbol correlations.
type CorrelationSource interface {
	Correlation(a, b string) float64
}

// RegimeSource supplies volatility regime and tail exponent per symbol.
type RegimeSource interface {
	Regime(symbol string) Regime
	TailExponent(symbol string) float64
}

// MarketSource supplies prices and volatility for gate evaluation.
type MarketSource interface {
	Latest(symbol string) (marketdata.Snapshot, bool)
	Volatility(symbol string) float64
}

// EventSink receives risk decisions for the durable log.
type EventSink interface {
	Append(ctx context.Context, subject string, payload any) (int64, error)
}

// Guardian evaluates intents against the full gate chain. Evaluation is
// pure over a snapshot of the book; no gate suspends.
type Guardian struct {
	logger  *zap.Logger
	cfg     types.RiskConfig
	book    *Book
	market  MarketSource
	corr    CorrelationSource
	regime  RegimeSource
	events  EventSink
	metrics *telemetry.Metrics
	clock   Clock

	whitelist map[string]struct{}
}

// NewGuardian wires the gate chain. market, corr and regime must be
// non-nil; events and metrics may be nil in replay mode.
func NewGuardian(logger *zap.Logger, cfg types.RiskConfig, book *Book, market MarketSource, corr CorrelationSource, regime RegimeSource, events EventSink, metrics *telemetry.Metrics, clock Clock) *Guardian {
	if clock == nil {
		clock = time.Now
	}
	g := &Guardian{
		logger:  logger.Named("risk"),
		cfg:     cfg,
		book:    book,
		market:  market,
		corr:    corr,
		regime:  regime,
		events:  events,
		metrics: metrics,
		clock:   clock,
	}
	if len(cfg.SymbolWhitelist) > 0 {
		g.whitelist = make(map[string]struct{}, len(cfg.SymbolWhitelist))
		for _, s := range cfg.SymbolWhitelist {
			g.whitelist[s] = struct{}{}
		}
	}
	return g
}

// Evaluate runs the intent through the ordered gates and logs the terminal
// decision. alloc carries the leverage cap in force for the account.
func (g *Guardian) Evaluate(ctx context.Context, intent types.IntentSignal, equity decimal.Decimal, alloc types.AllocationVector) types.RiskDecision {
	decision := g.evaluate(intent, equity, alloc)
	decision.DecidedAt = g.clock()

	g.record(ctx, decision)
	return decision
}

func (g *Guardian) evaluate(intent types.IntentSignal, equity decimal.Decimal, alloc types.AllocationVector) types.RiskDecision {
	projLeverage := decimal.Zero
	reject := func(gate, reason string) types.RiskDecision {
		if g.metrics != nil {
			g.metrics.GateRejections.WithLabelValues(gate).Inc()
		}
		return types.RiskDecision{
			IntentID:     intent.ID,
			Approved:     false,
			Reason:       reason,
			AdjustedSize: decimal.Zero,
			Metrics:      g.metricsSnapshot(intent, equity, projLeverage),
		}
	}

	price := g.resolvePrice(intent)
	if price.IsZero() {
		return reject(gatePolicy, fmt.Sprintf("No price available for %s", intent.Symbol))
	}
	if equity.LessThanOrEqual(decimal.Zero) {
		return reject(gatePolicy, "Account equity is zero")
	}
	projLeverage = g.projectedLeverage(intent, price, equity)

	delta := g.book.Delta()
	signed := intent.RequestedSize.Mul(price)
	if intent.Side == types.SideSell {
		signed = signed.Neg()
	}

	// Gate 1: Sentinel hedges that shrink portfolio delta skip the chain.
	if intent.Phase == types.PhaseSentinel {
		if delta.Add(signed).Abs().LessThan(delta.Abs()) {
			return types.RiskDecision{
				IntentID:     intent.ID,
				Approved:     true,
				Reason:       "Hedge reduces portfolio delta",
				AdjustedSize: intent.RequestedSize,
				Metrics:      g.metricsSnapshot(intent, equity, projLeverage),
			}
		}
	}

	// Gate 2: stop distance vs volatility.
	if !intent.StopLossPrice.IsZero() {
		vol := intent.Volatility
		if vol <= 0 {
			vol = g.market.Volatility(intent.Symbol)
		}
		if vol > 0 {
			dist, _ := price.Sub(intent.StopLossPrice).Abs().Float64()
			minDist := vol * g.cfg.MinStopMultiplier
			if dist < minDist {
				return reject(gateStop, fmt.Sprintf("Stop distance %.4f below volatility floor %.4f", dist, minDist))
			}
		}
	}

	// Gate 3: policy vetos.
	projNotional := g.projectedSymbolNotional(intent, price)
	if projNotional.GreaterThan(g.cfg.MaxPositionNotional) {
		return reject(gatePolicy, fmt.Sprintf("Position notional %s exceeds limit %s", projNotional.StringFixed(2), g.cfg.MaxPositionNotional.StringFixed(2)))
	}
	if g.whitelist != nil {
		if _, ok := g.whitelist[intent.Symbol]; !ok {
			return reject(gatePolicy, fmt.Sprintf("Symbol %s not whitelisted", intent.Symbol))
		}
	}

	// Gate 4: expectancy vs round-trip cost.
	if g.cfg.CostVeto.Enabled && !intent.EntryPrice.IsZero() && !intent.TargetPrice.IsZero() && !intent.StopLossPrice.IsZero() {
		p := intent.Confidence / 100
		profit, _ := intent.TargetPrice.Sub(intent.EntryPrice).Abs().Mul(intent.RequestedSize).Float64()
		loss, _ := intent.EntryPrice.Sub(intent.StopLossPrice).Abs().Mul(intent.RequestedSize).Float64()
		ev := p*profit - (1-p)*loss
		cost, _ := intent.EntryPrice.Mul(intent.RequestedSize).Float64()
		cost = cost * g.cfg.CostVeto.BaseFeeBps / 10000
		if ev < cost*g.cfg.CostVeto.MinExpectancyRatio {
			return reject(gateExpectancy, fmt.Sprintf("Expectancy %.2f below %.1fx cost %.2f", ev, g.cfg.CostVeto.MinExpectancyRatio, cost))
		}
	}

	// Gate 5: hard latency veto.
	if intent.Latency != nil && intent.Latency.EndToEnd > g.cfg.LatencyHardLimit {
		return reject(gateLatency, fmt.Sprintf("End-to-end latency %s exceeds hard limit %s", intent.Latency.EndToEnd, g.cfg.LatencyHardLimit))
	}

	// Gate 6: regime and tail vetos.
	if g.regime.Regime(intent.Symbol) == RegimeExpanding && intent.Phase == types.PhaseScavenger {
		return reject(gateRegime, "Expanding volatility regime blocks Scavenger entries")
	}
	alpha := g.regime.TailExponent(intent.Symbol)
	if alpha < 2.0 && projLeverage.GreaterThan(g.cfg.TailLeverageCap) {
		return reject(gateTail, fmt.Sprintf("Tail exponent %.2f caps leverage at %s", alpha, g.cfg.TailLeverageCap))
	}

	// Gate 7: leverage cap.
	levCap := g.cfg.MaxAccountLeverage
	if !alloc.MaxLeverage.IsZero() && alloc.MaxLeverage.LessThan(levCap) {
		levCap = alloc.MaxLeverage
	}
	if projLeverage.GreaterThan(levCap) {
		return reject(gateLeverage, fmt.Sprintf("Leverage cap exceeded: projected %sx > cap %sx", projLeverage.StringFixed(2), levCap.StringFixed(2)))
	}

	adjusted := intent.RequestedSize
	var reasons []string

	// Gate 8: correlation penalty, non-veto.
	maxCorr := g.maxCorrelation(intent)
	if maxCorr > g.cfg.MaxCorrelation && g.hasSameDirectionCorrelated(intent) {
		adjusted = adjusted.Mul(decimal.NewFromFloat(1 - g.cfg.CorrelationPenalty))
		reasons = append(reasons, fmt.Sprintf("correlation %.2f penalty", maxCorr))
	}

	// Gate 9: soft latency penalty.
	if intent.Latency != nil && intent.Latency.EndToEnd > g.cfg.LatencySoftLimit {
		adjusted = adjusted.Mul(decimal.NewFromFloat(g.cfg.LatencySoftPenalty))
		reasons = append(reasons, "soft latency penalty")
	}

	// Gate 10: power-law soft clamp.
	if alpha < 3.0 {
		factor := clamp(0.6*alpha-0.8, 0, 1)
		adjusted = adjusted.Mul(decimal.NewFromFloat(factor))
		reasons = append(reasons, fmt.Sprintf("tail clamp alpha=%.2f", alpha))
	}

	if adjusted.LessThanOrEqual(decimal.Zero) {
		return reject(gateTail, fmt.Sprintf("Tail clamp zeroed size at alpha %.2f", alpha))
	}

	reason := "Approved"
	if len(reasons) > 0 {
		reason = "Approved with adjustments: " + joinReasons(reasons)
	}
	return types.RiskDecision{
		IntentID:     intent.ID,
		Approved:     true,
		Reason:       reason,
		AdjustedSize: adjusted,
		Metrics:      g.metricsSnapshot(intent, equity, projLeverage),
	}
}

func joinReasons(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func (g *Guardian) resolvePrice(intent types.IntentSignal) decimal.Decimal {
	if !intent.EntryPrice.IsZero() {
		return intent.EntryPrice
	}
	if snap, ok := g.market.Latest(intent.Symbol); ok {
		return snap.Mid()
	}
	return decimal.Zero
}

// projectedSymbolNotional projects this symbol's notional after the intent,
// respecting whether it adds to, reduces, or flips the open position.
func (g *Guardian) projectedSymbolNotional(intent types.IntentSignal, price decimal.Decimal) decimal.Decimal {
	intentSide := types.PositionSideLong
	if intent.Side == types.SideSell {
		intentSide = types.PositionSideShort
	}

	pos, ok := g.book.Position(intent.Symbol)
	if !ok {
		return intent.RequestedSize.Mul(price)
	}
	if pos.Side == intentSide {
		return pos.Size.Add(intent.RequestedSize).Mul(price)
	}
	return pos.Size.Sub(intent.RequestedSize).Abs().Mul(price)
}

func (g *Guardian) projectedLeverage(intent types.IntentSignal, price, equity decimal.Decimal) decimal.Decimal {
	gross := g.book.GrossNotional()
	if pos, ok := g.book.Position(intent.Symbol); ok {
		gross = gross.Sub(pos.Notional())
	}
	gross = gross.Add(g.projectedSymbolNotional(intent, price))
	return gross.Div(equity)
}

func (g *Guardian) maxCorrelation(intent types.IntentSignal) float64 {
	var highest float64
	for _, pos := range g.book.Positions() {
		if pos.Symbol == intent.Symbol {
			continue
		}
		if c := math.Abs(g.corr.Correlation(intent.Symbol, pos.Symbol)); c > highest {
			highest = c
		}
	}
	return highest
}

// hasSameDirectionCorrelated reports whether any open position above the
// correlation ceiling points the same way as the intent.
func (g *Guardian) hasSameDirectionCorrelated(intent types.IntentSignal) bool {
	intentSide := types.PositionSideLong
	if intent.Side == types.SideSell {
		intentSide = types.PositionSideShort
	}
	for _, pos := range g.book.Positions() {
		if pos.Symbol == intent.Symbol || pos.Side != intentSide {
			continue
		}
		if math.Abs(g.corr.Correlation(intent.Symbol, pos.Symbol)) > g.cfg.MaxCorrelation {
			return true
		}
	}
	return false
}

func (g *Guardian) metricsSnapshot(intent types.IntentSignal, equity, projected decimal.Decimal) types.RiskMetrics {
	current := decimal.Zero
	if equity.IsPositive() {
		current = g.book.GrossNotional().Div(equity)
	}
	return types.RiskMetrics{
		CurrentLeverage:   current,
		ProjectedLeverage: projected,
		MaxCorrelation:    g.maxCorrelation(intent),
		PortfolioDelta:    g.book.Delta(),
	}
}

func (g *Guardian) record(ctx context.Context, decision types.RiskDecision) {
	outcome := "rejected"
	if decision.Approved {
		outcome = "approved"
	}
	if g.metrics != nil {
		g.metrics.DecisionsTotal.WithLabelValues(outcome).Inc()
	}

	g.logger.Info("risk decision",
		zap.String("intentId", decision.IntentID),
		zap.Bool("approved", decision.Approved),
		zap.String("reason", decision.Reason),
		zap.String("adjustedSize", decision.AdjustedSize.String()))

	if g.events != nil {
		if _, err := g.events.Append(ctx, eventlog.SubjectRiskDecision, decision); err != nil {
			g.logger.Error("decision append failed", zap.String("intentId", decision.IntentID), zap.Error(err))
		}
	}
}
