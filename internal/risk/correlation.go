package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/helios-trading/brain/internal/marketdata"
)

// neutralCorrelation is returned when either series has too little history
// to compute a meaningful coefficient.
const neutralCorrelation = 0.5

// Clock supplies the current time.
type Clock func() time.Time

type pairKey struct {
	a, b string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

type corrEntry struct {
	value      float64
	computedAt time.Time
}

// CorrelationCache computes Pearson correlations between symbols' return
// series and caches them by sorted pair for a TTL.
type CorrelationCache struct {
	logger *zap.Logger
	market *marketdata.Service
	ttl    time.Duration
	clock  Clock

	mu      sync.Mutex
	entries map[pairKey]corrEntry
}

// NewCorrelationCache builds a cache over the market data service's price
// histories.
func NewCorrelationCache(logger *zap.Logger, market *marketdata.Service, ttl time.Duration, clock Clock) *CorrelationCache {
	if clock == nil {
		clock = time.Now
	}
	return &CorrelationCache{
		logger:  logger.Named("correlation"),
		market:  market,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[pairKey]corrEntry),
	}
}

// Correlation returns the cached or freshly computed coefficient for the
// pair. Symmetric in its arguments.
func (c *CorrelationCache) Correlation(a, b string) float64 {
	if a == b {
		return 1.0
	}
	key := keyFor(a, b)
	now := c.clock()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && now.Sub(entry.computedAt) < c.ttl {
		c.mu.Unlock()
		return entry.value
	}
	c.mu.Unlock()

	value := c.compute(key.a, key.b)

	c.mu.Lock()
	c.entries[key] = corrEntry{value: value, computedAt: now}
	c.mu.Unlock()
	return value
}

func (c *CorrelationCache) compute(a, b string) float64 {
	ra := c.market.Returns(a)
	rb := c.market.Returns(b)

	// Align the tails so both series cover the same recent span.
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 2 {
		return neutralCorrelation
	}
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	value := stat.Correlation(ra, rb, nil)
	if value != value { // NaN when a series is constant
		return neutralCorrelation
	}
	return value
}

// Invalidate drops all cached pairs. Used after replay.
func (c *CorrelationCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[pairKey]corrEntry)
	c.mu.Unlock()
}
