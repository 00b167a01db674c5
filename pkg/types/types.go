// Package types provides shared type definitions for the trading brain.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase identifies one of the three strategy tiers.
type Phase string

const (
	PhaseScavenger Phase = "phase1" // Scavenger
	PhaseHunter    Phase = "phase2" // Hunter
	PhaseSentinel  Phase = "phase3" // Sentinel
)

// Phases lists all phases in allocation order.
var Phases = []Phase{PhaseScavenger, PhaseHunter, PhaseSentinel}

// Side represents buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionSide represents long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// EquityTier buckets account equity into leverage-cap tiers.
type EquityTier string

const (
	TierMicro         EquityTier = "micro"
	TierSmall         EquityTier = "small"
	TierMedium        EquityTier = "medium"
	TierLarge         EquityTier = "large"
	TierInstitutional EquityTier = "institutional"
)

// AllocationVector is the normalized weight vector across the three phases.
// Emitted, never mutated.
type AllocationVector struct {
	W1          float64         `json:"w1"`
	W2          float64         `json:"w2"`
	W3          float64         `json:"w3"`
	MaxLeverage decimal.Decimal `json:"maxLeverage"`
	Tier        EquityTier      `json:"tier"`
	Equity      decimal.Decimal `json:"equity"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Weight returns the weight for a phase.
func (v AllocationVector) Weight(p Phase) float64 {
	switch p {
	case PhaseScavenger:
		return v.W1
	case PhaseHunter:
		return v.W2
	case PhaseSentinel:
		return v.W3
	}
	return 0
}

// Sum returns w1+w2+w3.
func (v AllocationVector) Sum() float64 {
	return v.W1 + v.W2 + v.W3
}

// PhasePerformance is a rolling-window snapshot of a phase's results.
type PhasePerformance struct {
	Phase      Phase           `json:"phase"`
	TotalPnL   decimal.Decimal `json:"totalPnl"`
	TradeCount int             `json:"tradeCount"`
	WinRate    float64         `json:"winRate"`
	AvgWin     decimal.Decimal `json:"avgWin"`
	AvgLoss    decimal.Decimal `json:"avgLoss"`
	Sharpe     float64         `json:"sharpe"`
	Modifier   float64         `json:"modifier"`
}

// TradeRecord is an append-only realized trade result.
type TradeRecord struct {
	ID        string          `json:"id"`
	Phase     Phase           `json:"phase"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol,omitempty"`
	Side      Side            `json:"side,omitempty"`
}

// Position is an open position projection, keyed by symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Leverage      decimal.Decimal `json:"leverage"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// Notional returns size × mark price (entry price when no mark yet).
func (p Position) Notional() decimal.Decimal {
	price := p.MarkPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return p.Size.Mul(price)
}

// SignedNotional returns notional with shorts negated.
func (p Position) SignedNotional() decimal.Decimal {
	n := p.Notional()
	if p.Side == PositionSideShort {
		return n.Neg()
	}
	return n
}

// LatencyProfile carries measured latencies for an intent's path.
type LatencyProfile struct {
	Feed     time.Duration `json:"feed"`
	Compute  time.Duration `json:"compute"`
	EndToEnd time.Duration `json:"endToEnd"`
}

// IntentSignal is an immutable trade intent emitted by a phase strategy.
type IntentSignal struct {
	ID            string          `json:"id"`
	Phase         Phase           `json:"phase"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	RequestedSize decimal.Decimal `json:"requestedSize"`
	EntryPrice    decimal.Decimal `json:"entryPrice,omitempty"`
	StopLossPrice decimal.Decimal `json:"stopLossPrice,omitempty"`
	TargetPrice   decimal.Decimal `json:"targetPrice,omitempty"`
	Confidence    float64         `json:"confidence"` // 0-100
	Volatility    float64         `json:"volatility,omitempty"`
	Latency       *LatencyProfile `json:"latencyProfile,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// RiskMetrics is the portfolio snapshot attached to every risk decision.
type RiskMetrics struct {
	CurrentLeverage   decimal.Decimal `json:"currentLeverage"`
	ProjectedLeverage decimal.Decimal `json:"projectedLeverage"`
	MaxCorrelation    float64         `json:"maxCorrelation"`
	PortfolioDelta    decimal.Decimal `json:"portfolioDelta"`
	PortfolioBeta     float64         `json:"portfolioBeta"`
	VaR95             decimal.Decimal `json:"var95,omitempty"`
}

// RiskDecision is the terminal verdict on an intent.
type RiskDecision struct {
	IntentID     string          `json:"intentId"`
	Approved     bool            `json:"approved"`
	Reason       string          `json:"reason"`
	AdjustedSize decimal.Decimal `json:"adjustedSize"`
	Metrics      RiskMetrics     `json:"riskMetrics"`
	DecidedAt    time.Time       `json:"decidedAt"`
}

// TreasuryOperationType classifies wallet transfers.
type TreasuryOperationType string

const (
	TreasuryOpSweep          TreasuryOperationType = "sweep"
	TreasuryOpManualTransfer TreasuryOperationType = "manual_transfer"
)

// Wallet identifies a custody bucket.
type Wallet string

const (
	WalletFutures Wallet = "futures"
	WalletSpot    Wallet = "spot"
)

// TreasuryOperation is an append-only wallet transfer record.
type TreasuryOperation struct {
	ID            string                `json:"id"`
	Timestamp     time.Time             `json:"timestamp"`
	Type          TreasuryOperationType `json:"type"`
	Amount        decimal.Decimal       `json:"amount"`
	FromWallet    Wallet                `json:"fromWallet"`
	ToWallet      Wallet                `json:"toWallet"`
	Reason        string                `json:"reason,omitempty"`
	HighWatermark decimal.Decimal       `json:"highWatermarkAtTime"`
}

// Fill is an execution report from a venue.
type Fill struct {
	ID        string          `json:"id"`
	IntentID  string          `json:"intentId,omitempty"`
	Phase     Phase           `json:"phase,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	PnL       decimal.Decimal `json:"pnl"`
	VenueID   string          `json:"venueId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// VenueType distinguishes lit exchanges from dark pools.
type VenueType string

const (
	VenueTypeExchange VenueType = "exchange"
	VenueTypeDarkPool VenueType = "dark_pool"
)

// VenueFees holds a venue's fee schedule in fractional terms.
type VenueFees struct {
	Maker  decimal.Decimal `json:"maker"`
	Taker  decimal.Decimal `json:"taker"`
	Rebate decimal.Decimal `json:"rebate,omitempty"`
}

// VenueLiquidity describes a venue's share of traded volume.
type VenueLiquidity struct {
	MarketShare float64 `json:"marketShare"` // 0-1
}

// Venue is an execution destination.
type Venue struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             VenueType      `json:"type"`
	Active           bool           `json:"active"`
	LatencyMicros    int64          `json:"latencyMicros"`
	Fees             VenueFees      `json:"fees"`
	Liquidity        VenueLiquidity `json:"liquidity"`
	CoLocated        bool           `json:"coLocated"`
	NetworkOptimized bool           `json:"networkOptimized"`
}

// OrderParams describe how a route's child order should be placed.
type OrderParams struct {
	Type        string          `json:"type"`        // market, limit
	TimeInForce string          `json:"timeInForce"` // gtc, ioc
	Hidden      bool            `json:"hidden,omitempty"`
	DisplaySize decimal.Decimal `json:"displaySize,omitempty"`
	TimeSlices  int             `json:"timeSlices,omitempty"`
}

// Route is a single venue allocation inside a routing decision.
type Route struct {
	VenueID         string          `json:"venueId"`
	Quantity        decimal.Decimal `json:"quantity"`
	Percentage      float64         `json:"percentage"`
	ExpectedPrice   decimal.Decimal `json:"expectedPrice"`
	ExpectedFees    decimal.Decimal `json:"expectedFees"`
	ExpectedLatency time.Duration   `json:"expectedLatency"`
	Priority        int             `json:"priority"`
	Params          OrderParams     `json:"orderParams"`
}

// RoutingDecision is the routing plan for one accepted order.
type RoutingDecision struct {
	RequestID         string          `json:"requestId"`
	Algorithm         string          `json:"algorithm"`
	Routes            []Route         `json:"routes"`
	TotalExpectedCost decimal.Decimal `json:"totalExpectedCost"` // bps of notional
	ExpectedLatency   time.Duration   `json:"expectedLatency"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	DecidedAt         time.Time       `json:"decidedAt"`
}

// RoutedQuantity sums the quantity across all routes.
func (d RoutingDecision) RoutedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, r := range d.Routes {
		total = total.Add(r.Quantity)
	}
	return total
}
