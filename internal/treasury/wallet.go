package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// WalletAPI is the exchange wallet surface the treasury depends on. The
// real adapter lives outside the brain; a paper implementation backs tests
// and dry runs.
type WalletAPI interface {
	GetFuturesBalance(ctx context.Context) (decimal.Decimal, error)
	GetSpotBalance(ctx context.Context) (decimal.Decimal, error)
	TransferToSpot(ctx context.Context, amount decimal.Decimal) (txID string, err error)
}

// PaperWallet is an in-memory WalletAPI for tests and paper trading.
type PaperWallet struct {
	mu      sync.Mutex
	futures decimal.Decimal
	spot    decimal.Decimal

	// TransferErr, when set, fails the next transfers until cleared.
	TransferErr error
}

// NewPaperWallet seeds the futures wallet.
func NewPaperWallet(futures decimal.Decimal) *PaperWallet {
	return &PaperWallet{futures: futures}
}

func (w *PaperWallet) GetFuturesBalance(ctx context.Context) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.futures, nil
}

func (w *PaperWallet) GetSpotBalance(ctx context.Context) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spot, nil
}

func (w *PaperWallet) TransferToSpot(ctx context.Context, amount decimal.Decimal) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.TransferErr != nil {
		return "", w.TransferErr
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("treasury: transfer amount %s not positive", amount)
	}
	if amount.GreaterThan(w.futures) {
		return "", fmt.Errorf("treasury: transfer %s exceeds futures balance %s", amount, w.futures)
	}
	w.futures = w.futures.Sub(amount)
	w.spot = w.spot.Add(amount)
	return uuid.NewString(), nil
}

// Deposit credits the futures wallet, simulating trading PnL.
func (w *PaperWallet) Deposit(amount decimal.Decimal) {
	w.mu.Lock()
	w.futures = w.futures.Add(amount)
	w.mu.Unlock()
}

// RateLimitedWallet throttles wallet calls so bursts of sweep checks cannot
// exhaust the exchange API budget.
type RateLimitedWallet struct {
	inner   WalletAPI
	limiter *rate.Limiter
}

// NewRateLimitedWallet wraps inner at qps requests per second.
func NewRateLimitedWallet(inner WalletAPI, qps float64) *RateLimitedWallet {
	if qps <= 0 {
		qps = 1
	}
	return &RateLimitedWallet{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(qps), int(qps)+1),
	}
}

func (w *RateLimitedWallet) GetFuturesBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return w.inner.GetFuturesBalance(ctx)
}

func (w *RateLimitedWallet) GetSpotBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return w.inner.GetSpotBalance(ctx)
}

func (w *RateLimitedWallet) TransferToSpot(ctx context.Context, amount decimal.Decimal) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return w.inner.TransferToSpot(ctx, amount)
}
