package hft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

// ErrCircuitOpen rejects admissions while the latency breaker is open.
var ErrCircuitOpen = errors.New("CIRCUIT_OPEN")

var errBatchSlow = errors.New("hft: batch over latency threshold")

// LatencyBreaker trips after a run of consecutive batches exceeding the
// configured latency threshold. While open, admissions are rejected until
// the recovery window elapses; a clean half-open batch closes it again.
type LatencyBreaker struct {
	logger  *zap.Logger
	cfg     types.HFTConfig
	events  EventSink
	metrics *telemetry.Metrics

	mu sync.Mutex
	cb *gobreaker.CircuitBreaker
}

// EventSink receives breaker transitions for the durable log.
type EventSink interface {
	Append(ctx context.Context, subject string, payload any) (int64, error)
}

// NewLatencyBreaker builds the breaker in the closed state.
func NewLatencyBreaker(logger *zap.Logger, cfg types.HFTConfig, events EventSink, metrics *telemetry.Metrics) *LatencyBreaker {
	b := &LatencyBreaker{
		logger:  logger.Named("hft.breaker"),
		cfg:     cfg,
		events:  events,
		metrics: metrics,
	}
	b.cb = b.build()
	return b
}

func (b *LatencyBreaker) build() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hft-latency",
		MaxRequests: 1,
		Timeout:     b.cfg.RecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.FailureThreshold
		},
		OnStateChange: b.onStateChange,
	})
}

func (b *LatencyBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.logger.Warn("breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()))

	if b.metrics != nil {
		b.metrics.BreakerState.Set(stateValue(to))
		if to == gobreaker.StateOpen {
			b.metrics.BreakerTrips.Inc()
		}
	}
	if b.events == nil {
		return
	}
	subject := eventlog.SubjectBreakerReset
	reason := "latency recovered"
	if to == gobreaker.StateOpen {
		subject = eventlog.SubjectBreakerTrip
		reason = "consecutive batch latency breaches"
	} else if to != gobreaker.StateClosed {
		return
	}
	payload := map[string]any{"reason": reason, "operatorId": "system"}
	if _, err := b.events.Append(context.Background(), subject, payload); err != nil {
		b.logger.Error("breaker event append failed", zap.Error(err))
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Observe records one batch latency through the breaker.
func (b *LatencyBreaker) Observe(latency time.Duration) {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()

	_, _ = cb.Execute(func() (any, error) {
		if latency > b.cfg.CircuitBreakerThreshold {
			return nil, errBatchSlow
		}
		return nil, nil
	})
}

// Allow reports whether admissions may proceed.
func (b *LatencyBreaker) Allow() bool {
	return b.State() != gobreaker.StateOpen
}

// State returns the underlying breaker state.
func (b *LatencyBreaker) State() gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb.State()
}

// Reset forces the breaker closed. Operator action; emits a reset event.
func (b *LatencyBreaker) Reset(ctx context.Context, operatorID string) error {
	b.mu.Lock()
	wasOpen := b.cb.State() != gobreaker.StateClosed
	b.cb = b.build()
	b.mu.Unlock()

	if !wasOpen {
		return errors.New("hft: breaker already closed")
	}

	b.logger.Warn("breaker manually reset", zap.String("operatorId", operatorID))
	if b.metrics != nil {
		b.metrics.BreakerState.Set(0)
	}
	if b.events != nil {
		payload := map[string]any{"reason": "manual reset", "operatorId": operatorID}
		if _, err := b.events.Append(ctx, eventlog.SubjectBreakerReset, payload); err != nil {
			return err
		}
	}
	return nil
}
