package risk

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/helios-trading/brain/pkg/types"
)

// Book is the open-position projection, keyed by symbol. Positions are
// opened by a fill, mutated by subsequent fills, and closed when size
// reaches zero.
type Book struct {
	mu        sync.RWMutex
	positions map[string]types.Position
}

// NewBook returns an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]types.Position)}
}

// ApplyFill folds an execution fill into the book. Opposite-side fills
// reduce the position; a fill larger than the remaining size flips it.
func (b *Book) ApplyFill(f types.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fillSide := types.PositionSideLong
	if f.Side == types.SideSell {
		fillSide = types.PositionSideShort
	}

	pos, ok := b.positions[f.Symbol]
	if !ok {
		b.positions[f.Symbol] = types.Position{
			Symbol:     f.Symbol,
			Side:       fillSide,
			Size:       f.Size,
			EntryPrice: f.Price,
			MarkPrice:  f.Price,
			OpenedAt:   f.Timestamp,
		}
		return
	}

	if pos.Side == fillSide {
		// Same direction: grow with volume-weighted entry.
		oldNotional := pos.Size.Mul(pos.EntryPrice)
		addNotional := f.Size.Mul(f.Price)
		newSize := pos.Size.Add(f.Size)
		pos.EntryPrice = oldNotional.Add(addNotional).Div(newSize)
		pos.Size = newSize
		pos.MarkPrice = f.Price
		b.positions[f.Symbol] = pos
		return
	}

	switch {
	case f.Size.LessThan(pos.Size):
		pos.Size = pos.Size.Sub(f.Size)
		pos.MarkPrice = f.Price
		b.positions[f.Symbol] = pos
	case f.Size.Equal(pos.Size):
		delete(b.positions, f.Symbol)
	default:
		// Flip: the remainder opens a position on the fill's side.
		b.positions[f.Symbol] = types.Position{
			Symbol:     f.Symbol,
			Side:       fillSide,
			Size:       f.Size.Sub(pos.Size),
			EntryPrice: f.Price,
			MarkPrice:  f.Price,
			OpenedAt:   f.Timestamp,
		}
	}
}

// MarkPrice refreshes a symbol's mark and unrealized PnL.
func (b *Book) MarkPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = price
	diff := price.Sub(pos.EntryPrice)
	if pos.Side == types.PositionSideShort {
		diff = diff.Neg()
	}
	pos.UnrealizedPnL = diff.Mul(pos.Size)
	b.positions[symbol] = pos
}

// Position returns the open position for a symbol, if any.
func (b *Book) Position(symbol string) (types.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Positions returns a value snapshot of all open positions.
func (b *Book) Positions() []types.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Replace installs a full position set. Replay only.
func (b *Book) Replace(positions []types.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]types.Position, len(positions))
	for _, p := range positions {
		b.positions[p.Symbol] = p
	}
}

// GrossNotional sums |notional| across all positions.
func (b *Book) GrossNotional() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.Notional())
	}
	return total
}

// Delta sums signed notional across all positions.
func (b *Book) Delta() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.SignedNotional())
	}
	return total
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
