// Package router turns an accepted, sized order into a routing plan that
// splits execution across venues via TWAP, VWAP, aggressive, or stealth
// algorithms.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/marketdata"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

// Execution algorithms.
const (
	AlgoTWAP       = "TWAP"
	AlgoVWAP       = "VWAP"
	AlgoAggressive = "AGGRESSIVE"
	AlgoStealth    = "STEALTH"
)

// Strategy tags on order requests.
const (
	StrategyAggressive = "AGGRESSIVE"
	StrategyStealth    = "STEALTH"
	StrategyPassive    = "PASSIVE"
)

var (
	ErrNoVenues    = errors.New("router: no active venues")
	ErrStaleMarket = errors.New("router: market data stale or missing")
)

// Clock supplies the current time.
type Clock func() time.Time

// OrderRequest is an accepted, risk-sized order awaiting a routing plan.
type OrderRequest struct {
	RequestID   string          `json:"requestId"`
	Symbol      string          `json:"symbol"`
	Side        types.Side      `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	OrderType   string          `json:"orderType,omitempty"` // TWAP, VWAP
	Strategy    string          `json:"strategy,omitempty"`  // AGGRESSIVE, STEALTH, PASSIVE
	MaxSlippage float64         `json:"maxSlippage"`
}

// MarketSource supplies reference prices for routing.
type MarketSource interface {
	Latest(symbol string) (marketdata.Snapshot, bool)
}

// Router plans order distribution across the venue registry. Routing is
// deterministic given identical venue and market state.
type Router struct {
	logger   *zap.Logger
	cfg      types.RouterConfig
	registry *Registry
	market   MarketSource
	metrics  *telemetry.Metrics
	clock    Clock
}

// NewRouter wires the routing core.
func NewRouter(logger *zap.Logger, cfg types.RouterConfig, registry *Registry, market MarketSource, metrics *telemetry.Metrics, clock Clock) *Router {
	if clock == nil {
		clock = time.Now
	}
	return &Router{
		logger:   logger.Named("router"),
		cfg:      cfg,
		registry: registry,
		market:   market,
		metrics:  metrics,
		clock:    clock,
	}
}

// Route validates the request, selects an algorithm, and produces the plan.
func (r *Router) Route(ctx context.Context, req OrderRequest) (types.RoutingDecision, error) {
	if err := r.validate(req); err != nil {
		return types.RoutingDecision{}, err
	}

	snap, ok := r.market.Latest(req.Symbol)
	if !ok || r.clock().Sub(snap.Timestamp) > r.cfg.MarketDataTimeout {
		return types.RoutingDecision{}, fmt.Errorf("%w: %s", ErrStaleMarket, req.Symbol)
	}
	refPrice := snap.Mid()
	if refPrice.IsZero() {
		return types.RoutingDecision{}, fmt.Errorf("%w: %s has no price", ErrStaleMarket, req.Symbol)
	}

	venues := r.registry.Active()
	if len(venues) == 0 {
		return types.RoutingDecision{}, ErrNoVenues
	}

	algo := r.selectAlgorithm(req)
	var routes []types.Route
	var confidence float64
	var reasoning string

	switch algo {
	case AlgoTWAP:
		routes, reasoning = r.planTWAP(req, venues, refPrice)
		confidence = 85
	case AlgoVWAP:
		routes, reasoning = r.planVWAP(req, venues, refPrice)
		confidence = 90
	case AlgoAggressive:
		routes, reasoning = r.planAggressive(req, venues, refPrice)
		confidence = 95
	case AlgoStealth:
		routes, reasoning = r.planStealth(req, venues, refPrice)
		confidence = 80
	}

	if len(routes) == 0 {
		return types.RoutingDecision{}, fmt.Errorf("router: %s produced no routes for %s", algo, req.Symbol)
	}

	routes = r.optimize(routes)

	decision := types.RoutingDecision{
		RequestID:         req.RequestID,
		Algorithm:         algo,
		Routes:            routes,
		TotalExpectedCost: costBps(routes, req.Quantity, refPrice),
		ExpectedLatency:   maxLatency(routes),
		Confidence:        confidence,
		Reasoning:         reasoning,
		DecidedAt:         r.clock(),
	}

	if r.metrics != nil {
		r.metrics.RoutesPlanned.WithLabelValues(algo).Inc()
	}
	r.logger.Info("routing decision",
		zap.String("requestId", req.RequestID),
		zap.String("algorithm", algo),
		zap.Int("routes", len(routes)),
		zap.String("routed", decision.RoutedQuantity().String()))

	return decision, nil
}

func (r *Router) validate(req OrderRequest) error {
	if req.Quantity.LessThan(r.cfg.MinOrderSize) || req.Quantity.GreaterThan(r.cfg.MaxOrderSize) {
		return fmt.Errorf("router: quantity %s outside [%s, %s]", req.Quantity, r.cfg.MinOrderSize, r.cfg.MaxOrderSize)
	}
	if req.MaxSlippage < 0 {
		return fmt.Errorf("router: negative max slippage %f", req.MaxSlippage)
	}
	if req.Symbol == "" {
		return errors.New("router: empty symbol")
	}
	return nil
}

// selectAlgorithm honors an explicit order type first, then the strategy
// tag, and defaults to VWAP.
func (r *Router) selectAlgorithm(req OrderRequest) string {
	switch strings.ToUpper(req.OrderType) {
	case AlgoTWAP:
		return AlgoTWAP
	case AlgoVWAP:
		return AlgoVWAP
	}
	switch strings.ToUpper(req.Strategy) {
	case StrategyAggressive:
		return AlgoAggressive
	case StrategyStealth:
		return AlgoStealth
	case StrategyPassive:
		return AlgoVWAP
	}
	return AlgoVWAP
}

// optimize re-sorts for co-location and trims latency on optimized links.
func (r *Router) optimize(routes []types.Route) []types.Route {
	if r.cfg.EnableNetworkOptimization {
		for i := range routes {
			if v, ok := r.registry.Venue(routes[i].VenueID); ok && v.NetworkOptimized {
				routes[i].ExpectedLatency = routes[i].ExpectedLatency * 8 / 10
			}
		}
	}
	if r.cfg.EnableCoLocation {
		sort.SliceStable(routes, func(i, j int) bool {
			vi, _ := r.registry.Venue(routes[i].VenueID)
			vj, _ := r.registry.Venue(routes[j].VenueID)
			if vi.CoLocated != vj.CoLocated {
				return vi.CoLocated
			}
			return routes[i].ExpectedLatency < routes[j].ExpectedLatency
		})
		for i := range routes {
			routes[i].Priority = i + 1
		}
	}
	return routes
}

func costBps(routes []types.Route, quantity, refPrice decimal.Decimal) decimal.Decimal {
	totalFees := decimal.Zero
	for _, rt := range routes {
		totalFees = totalFees.Add(rt.ExpectedFees)
	}
	notional := quantity.Mul(refPrice)
	if notional.IsZero() {
		return decimal.Zero
	}
	return totalFees.Div(notional).Mul(decimal.NewFromInt(10000))
}

func maxLatency(routes []types.Route) time.Duration {
	var out time.Duration
	for _, rt := range routes {
		if rt.ExpectedLatency > out {
			out = rt.ExpectedLatency
		}
	}
	return out
}
