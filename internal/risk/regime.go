package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/helios-trading/brain/internal/marketdata"
)

// Regime classifies the current volatility environment for a symbol.
type Regime string

const (
	RegimeQuiet     Regime = "quiet"
	RegimeNormal    Regime = "normal"
	RegimeExpanding Regime = "expanding"
)

// benignTailExponent is assumed when history is too short for a tail fit.
const benignTailExponent = 3.5

const (
	regimeShortWindow    = 10
	regimeMinSamples     = 20
	regimeExpandFactor   = 1.5
	regimeContractFactor = 0.5
)

// RegimeMonitor derives volatility regime and power-law tail exponent from
// the market data service's return series.
type RegimeMonitor struct {
	market *marketdata.Service
}

// NewRegimeMonitor builds a monitor over market history.
func NewRegimeMonitor(market *marketdata.Service) *RegimeMonitor {
	return &RegimeMonitor{market: market}
}

// Regime compares short-window to full-window return volatility. With fewer
// than regimeMinSamples returns the regime is NORMAL.
func (m *RegimeMonitor) Regime(symbol string) Regime {
	returns := m.market.Returns(symbol)
	if len(returns) < regimeMinSamples {
		return RegimeNormal
	}

	full := stat.StdDev(returns, nil)
	short := stat.StdDev(returns[len(returns)-regimeShortWindow:], nil)
	if full == 0 {
		return RegimeNormal
	}

	switch {
	case short > regimeExpandFactor*full:
		return RegimeExpanding
	case short < regimeContractFactor*full:
		return RegimeQuiet
	default:
		return RegimeNormal
	}
}

// TailExponent estimates the power-law tail exponent of absolute returns
// with a Hill estimator over the top decile. Lower values mean fatter tails.
func (m *RegimeMonitor) TailExponent(symbol string) float64 {
	returns := m.market.Returns(symbol)
	if len(returns) < regimeMinSamples {
		return benignTailExponent
	}

	abs := make([]float64, 0, len(returns))
	for _, r := range returns {
		if a := math.Abs(r); a > 0 {
			abs = append(abs, a)
		}
	}
	if len(abs) < regimeMinSamples {
		return benignTailExponent
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(abs)))

	k := len(abs) / 10
	if k < 5 {
		k = 5
	}
	threshold := abs[k]

	var sum float64
	for i := 0; i < k; i++ {
		sum += math.Log(abs[i] / threshold)
	}
	if sum <= 0 {
		return benignTailExponent
	}
	return float64(k) / sum
}
