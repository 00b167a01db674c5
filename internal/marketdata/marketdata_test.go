package marketdata_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/marketdata"
)

func snap(symbol string, bid, ask float64, ts time.Time) marketdata.Snapshot {
	return marketdata.Snapshot{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(bid),
		Ask:       decimal.NewFromFloat(ask),
		Timestamp: ts,
	}
}

func TestLatestAndMid(t *testing.T) {
	svc := marketdata.NewService(zap.NewNop(), 10)

	now := time.Now()
	svc.Update(snap("BTC-USD", 100, 102, now))

	got, ok := svc.Latest("BTC-USD")
	if !ok {
		t.Fatal("expected snapshot for BTC-USD")
	}
	if !got.Mid().Equal(decimal.NewFromInt(101)) {
		t.Errorf("mid = %s, want 101", got.Mid())
	}

	if _, ok := svc.Latest("ETH-USD"); ok {
		t.Error("unexpected snapshot for ETH-USD")
	}
}

func TestHistoryRingEviction(t *testing.T) {
	svc := marketdata.NewService(zap.NewNop(), 3)

	base := time.Now()
	for i := 0; i < 5; i++ {
		price := float64(100 + i)
		svc.Update(snap("BTC-USD", price, price, base.Add(time.Duration(i)*time.Second)))
	}

	points := svc.History("BTC-USD")
	if len(points) != 3 {
		t.Fatalf("history length = %d, want 3", len(points))
	}
	// Oldest two observations were evicted.
	if !points[0].Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("oldest price = %s, want 102", points[0].Price)
	}
	if !points[2].Price.Equal(decimal.NewFromInt(104)) {
		t.Errorf("newest price = %s, want 104", points[2].Price)
	}
}

func TestReturnsAndVolatility(t *testing.T) {
	svc := marketdata.NewService(zap.NewNop(), 10)

	if vol := svc.Volatility("BTC-USD"); vol != 0 {
		t.Errorf("volatility with no history = %f, want 0", vol)
	}

	base := time.Now()
	for i, price := range []float64{100, 110, 99, 104} {
		svc.Update(snap("BTC-USD", price, price, base.Add(time.Duration(i)*time.Second)))
	}

	rets := svc.Returns("BTC-USD")
	if len(rets) != 3 {
		t.Fatalf("returns length = %d, want 3", len(rets))
	}
	if rets[0] < 0.0999 || rets[0] > 0.1001 {
		t.Errorf("first return = %f, want ~0.10", rets[0])
	}

	if vol := svc.Volatility("BTC-USD"); vol <= 0 {
		t.Errorf("volatility = %f, want > 0", vol)
	}
}

func TestOnUpdateCallback(t *testing.T) {
	svc := marketdata.NewService(zap.NewNop(), 10)

	var seen []string
	svc.OnUpdate(func(s marketdata.Snapshot) {
		seen = append(seen, s.Symbol)
	})

	svc.Update(snap("BTC-USD", 100, 101, time.Now()))
	svc.Update(snap("ETH-USD", 10, 11, time.Now()))

	if len(seen) != 2 || seen[0] != "BTC-USD" || seen[1] != "ETH-USD" {
		t.Errorf("callback saw %v", seen)
	}
}
