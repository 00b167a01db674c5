package router

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-trading/brain/pkg/types"
)

const (
	twapVenueCount       = 3
	aggressiveVenueCount = 3
	stealthDarkFraction  = 0.7
	stealthLitVenues     = 2
	icebergDisplayRatio  = 0.1
)

func latencyOf(v types.Venue) time.Duration {
	return time.Duration(v.LatencyMicros) * time.Microsecond
}

// feeFor prices a child order: taker fees for marketable orders, maker for
// resting limit orders.
func feeFor(v types.Venue, quantity, price decimal.Decimal, taker bool) decimal.Decimal {
	rate := v.Fees.Maker
	if taker {
		rate = v.Fees.Taker
	}
	return quantity.Mul(price).Mul(rate)
}

// planTWAP splits the order across the top venues by market share, slicing
// each leg evenly over time with resting limit orders.
func (r *Router) planTWAP(req OrderRequest, venues []types.Venue, refPrice decimal.Decimal) ([]types.Route, string) {
	sorted := append([]types.Venue(nil), venues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Liquidity.MarketShare > sorted[j].Liquidity.MarketShare
	})
	if len(sorted) > twapVenueCount {
		sorted = sorted[:twapVenueCount]
	}

	legs := decimal.NewFromInt(int64(len(sorted)))
	share := decimal.NewFromInt(1).Div(legs)
	routes := make([]types.Route, 0, len(sorted))
	routed := decimal.Zero
	for i, v := range sorted {
		// The last leg absorbs the division remainder so the routed
		// total equals the requested quantity exactly.
		qty := req.Quantity.Div(legs)
		if i == len(sorted)-1 {
			qty = req.Quantity.Sub(routed)
		}
		routed = routed.Add(qty)
		pct, _ := share.Float64()
		routes = append(routes, types.Route{
			VenueID:         v.ID,
			Quantity:        qty,
			Percentage:      pct,
			ExpectedPrice:   refPrice,
			ExpectedFees:    feeFor(v, qty, refPrice, false),
			ExpectedLatency: latencyOf(v),
			Priority:        i + 1,
			Params: types.OrderParams{
				Type:        "limit",
				TimeInForce: "gtc",
				TimeSlices:  r.cfg.TimeSlices,
			},
		})
	}
	return routes, fmt.Sprintf("TWAP across top %d venues by market share, %d slices each", len(routes), r.cfg.TimeSlices)
}

// planVWAP allocates proportionally to each venue's observed traded volume,
// falling back to market share when no volume has been recorded. Legs below
// one unit are skipped.
func (r *Router) planVWAP(req OrderRequest, venues []types.Venue, refPrice decimal.Decimal) ([]types.Route, string) {
	weights := make([]decimal.Decimal, len(venues))
	total := decimal.Zero
	for i, v := range venues {
		w := r.registry.Volume(v.ID, req.Symbol)
		if w.IsZero() {
			w = decimal.NewFromFloat(v.Liquidity.MarketShare)
		}
		weights[i] = w
		total = total.Add(w)
	}
	if total.IsZero() {
		return nil, "no volume profile"
	}

	one := decimal.NewFromInt(1)
	routes := make([]types.Route, 0, len(venues))
	skipped := 0
	for i, v := range venues {
		qty := req.Quantity.Mul(weights[i]).Div(total)
		if qty.LessThan(one) {
			skipped++
			continue
		}
		pct, _ := weights[i].Div(total).Float64()
		routes = append(routes, types.Route{
			VenueID:         v.ID,
			Quantity:        qty,
			Percentage:      pct,
			ExpectedPrice:   refPrice,
			ExpectedFees:    feeFor(v, qty, refPrice, true),
			ExpectedLatency: latencyOf(v),
			Priority:        len(routes) + 1,
			Params: types.OrderParams{
				Type:        "limit",
				TimeInForce: "ioc",
			},
		})
	}
	return routes, fmt.Sprintf("VWAP volume-weighted over %d venues, %d sub-unit legs skipped", len(routes), skipped)
}

// planAggressive sweeps the lowest-latency venues with market orders,
// consuming displayed depth until the order is filled or venues run out.
func (r *Router) planAggressive(req OrderRequest, venues []types.Venue, refPrice decimal.Decimal) ([]types.Route, string) {
	sorted := append([]types.Venue(nil), venues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LatencyMicros < sorted[j].LatencyMicros
	})

	remaining := req.Quantity
	routes := make([]types.Route, 0, aggressiveVenueCount)
	for _, v := range sorted {
		if len(routes) == aggressiveVenueCount || remaining.IsZero() {
			break
		}
		available := r.registry.Depth(v.ID, req.Symbol)
		if available.IsZero() {
			available = remaining
		}
		qty := decimal.Min(remaining, available)
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		pct, _ := qty.Div(req.Quantity).Float64()
		routes = append(routes, types.Route{
			VenueID:         v.ID,
			Quantity:        qty,
			Percentage:      pct,
			ExpectedPrice:   refPrice,
			ExpectedFees:    feeFor(v, qty, refPrice, true),
			ExpectedLatency: latencyOf(v),
			Priority:        len(routes) + 1,
			Params: types.OrderParams{
				Type:        "market",
				TimeInForce: "ioc",
			},
		})
		remaining = remaining.Sub(qty)
	}
	return routes, fmt.Sprintf("aggressive latency sweep over %d venues, %s unrouted", len(routes), remaining)
}

// planStealth hides the bulk in dark pools and icebergs the rest on the two
// deepest lit venues. Unroutable remainder stays reserved.
func (r *Router) planStealth(req OrderRequest, venues []types.Venue, refPrice decimal.Decimal) ([]types.Route, string) {
	var dark, lit []types.Venue
	for _, v := range venues {
		if v.Type == types.VenueTypeDarkPool {
			dark = append(dark, v)
		} else {
			lit = append(lit, v)
		}
	}
	sort.SliceStable(lit, func(i, j int) bool {
		return lit[i].Liquidity.MarketShare > lit[j].Liquidity.MarketShare
	})
	if len(lit) > stealthLitVenues {
		lit = lit[:stealthLitVenues]
	}

	darkPortion := req.Quantity.Mul(decimal.NewFromFloat(stealthDarkFraction))
	litPortion := req.Quantity.Sub(darkPortion)

	routes := make([]types.Route, 0, len(dark)+len(lit))
	if len(dark) > 0 {
		per := darkPortion.Div(decimal.NewFromInt(int64(len(dark))))
		for _, v := range dark {
			pct, _ := per.Div(req.Quantity).Float64()
			routes = append(routes, types.Route{
				VenueID:         v.ID,
				Quantity:        per,
				Percentage:      pct,
				ExpectedPrice:   refPrice,
				ExpectedFees:    feeFor(v, per, refPrice, false),
				ExpectedLatency: latencyOf(v),
				Priority:        len(routes) + 1,
				Params: types.OrderParams{
					Type:        "limit",
					TimeInForce: "gtc",
					Hidden:      true,
				},
			})
		}
	}
	if len(lit) > 0 {
		per := litPortion.Div(decimal.NewFromInt(int64(len(lit))))
		for _, v := range lit {
			pct, _ := per.Div(req.Quantity).Float64()
			routes = append(routes, types.Route{
				VenueID:         v.ID,
				Quantity:        per,
				Percentage:      pct,
				ExpectedPrice:   refPrice,
				ExpectedFees:    feeFor(v, per, refPrice, false),
				ExpectedLatency: latencyOf(v),
				Priority:        len(routes) + 1,
				Params: types.OrderParams{
					Type:        "limit",
					TimeInForce: "gtc",
					Hidden:      true,
					DisplaySize: per.Mul(decimal.NewFromFloat(icebergDisplayRatio)),
				},
			})
		}
	}
	return routes, fmt.Sprintf("stealth: %d dark routes, %d iceberg routes", len(dark), len(lit))
}
