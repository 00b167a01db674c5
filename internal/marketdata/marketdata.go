// Package marketdata maintains per-symbol venue snapshots and bounded price
// history for the risk and routing layers.
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Snapshot is the latest top-of-book view for a symbol at one venue.
type Snapshot struct {
	Symbol    string          `json:"symbol"`
	VenueID   string          `json:"venueId,omitempty"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidSize   decimal.Decimal `json:"bidSize"`
	AskSize   decimal.Decimal `json:"askSize"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the midpoint price, falling back to whichever side is set.
func (s Snapshot) Mid() decimal.Decimal {
	if s.Bid.IsZero() {
		return s.Ask
	}
	if s.Ask.IsZero() {
		return s.Bid
	}
	return s.Bid.Add(s.Ask).Div(decimal.NewFromInt(2))
}

// PricePoint is one observation in a symbol's history ring.
type PricePoint struct {
	Price decimal.Decimal
	TS    time.Time
}

// history is a fixed-capacity ring over a contiguous backing array.
type history struct {
	points []PricePoint
	head   int
	count  int
}

func newHistory(capacity int) *history {
	return &history{points: make([]PricePoint, capacity)}
}

func (h *history) push(p PricePoint) {
	h.points[h.head] = p
	h.head = (h.head + 1) % len(h.points)
	if h.count < len(h.points) {
		h.count++
	}
}

// ordered returns observations oldest-first.
func (h *history) ordered() []PricePoint {
	out := make([]PricePoint, h.count)
	start := h.head - h.count
	if start < 0 {
		start += len(h.points)
	}
	for i := 0; i < h.count; i++ {
		out[i] = h.points[(start+i)%len(h.points)]
	}
	return out
}

// Service owns market state. Writers call Update; readers take value
// snapshots and never observe partial writes.
type Service struct {
	logger      *zap.Logger
	historySize int

	mu        sync.RWMutex
	snapshots map[string]Snapshot
	histories map[string]*history

	onUpdate []func(Snapshot)
}

// NewService creates a market data service keeping historySize price points
// per symbol.
func NewService(logger *zap.Logger, historySize int) *Service {
	if historySize <= 0 {
		historySize = 100
	}
	return &Service{
		logger:      logger.Named("marketdata"),
		historySize: historySize,
		snapshots:   make(map[string]Snapshot),
		histories:   make(map[string]*history),
	}
}

// OnUpdate registers a callback invoked synchronously on every update.
// Register before the ingest task starts.
func (s *Service) OnUpdate(fn func(Snapshot)) {
	s.onUpdate = append(s.onUpdate, fn)
}

// Update stores a snapshot and records its mid price in the history ring.
func (s *Service) Update(snap Snapshot) {
	mid := snap.Mid()

	s.mu.Lock()
	s.snapshots[snap.Symbol] = snap
	h, ok := s.histories[snap.Symbol]
	if !ok {
		h = newHistory(s.historySize)
		s.histories[snap.Symbol] = h
	}
	if !mid.IsZero() {
		h.push(PricePoint{Price: mid, TS: snap.Timestamp})
	}
	s.mu.Unlock()

	for _, fn := range s.onUpdate {
		fn(snap)
	}
}

// Latest returns the newest snapshot for a symbol.
func (s *Service) Latest(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[symbol]
	return snap, ok
}

// History returns the symbol's price observations oldest-first.
func (s *Service) History(symbol string) []PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[symbol]
	if !ok {
		return nil
	}
	return h.ordered()
}

// Returns computes the simple return series over the symbol's history.
func (s *Service) Returns(symbol string) []float64 {
	points := s.History(symbol)
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev, _ := points[i-1].Price.Float64()
		cur, _ := points[i].Price.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

// Volatility derives an absolute price volatility for the symbol: the sample
// standard deviation of returns scaled by the last price. Returns 0 with
// insufficient history.
func (s *Service) Volatility(symbol string) float64 {
	rets := s.Returns(symbol)
	if len(rets) < 2 {
		return 0
	}
	_, stddev := stat.MeanStdDev(rets, nil)

	points := s.History(symbol)
	last, _ := points[len(points)-1].Price.Float64()
	return stddev * last
}
