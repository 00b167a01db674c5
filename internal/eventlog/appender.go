package eventlog

import (
	"context"
	"sync"

	"github.com/helios-trading/brain/internal/telemetry"
	"go.uber.org/zap"
)

// Appender is the single writer to the event log. Every other task submits to
// its inbox, which preserves the global total order of ids without holding a
// lock across persistence I/O.
type Appender struct {
	logger  *zap.Logger
	store   Store
	metrics *telemetry.Metrics

	inbox chan appendRequest
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type appendRequest struct {
	subject string
	payload any
	done    chan appendResult
}

type appendResult struct {
	id  int64
	err error
}

// NewAppender wraps store with a serialized inbox of the given capacity.
func NewAppender(logger *zap.Logger, store Store, metrics *telemetry.Metrics, capacity int) *Appender {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Appender{
		logger:  logger.Named("eventlog"),
		store:   store,
		metrics: metrics,
		inbox:   make(chan appendRequest, capacity),
	}
}

// Start runs the writer loop until ctx is cancelled. Requests already queued
// at cancellation are flushed before returning.
func (a *Appender) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case req := <-a.inbox:
				a.write(req)
			case <-ctx.Done():
				a.drain()
				return
			}
		}
	}()
}

func (a *Appender) drain() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	for {
		select {
		case req := <-a.inbox:
			a.write(req)
		default:
			return
		}
	}
}

func (a *Appender) write(req appendRequest) {
	id, err := a.store.Append(context.Background(), req.subject, req.payload)
	if err != nil {
		a.logger.Error("append failed",
			zap.String("subject", req.subject),
			zap.Error(err))
	} else if a.metrics != nil {
		a.metrics.EventsAppended.Inc()
	}
	req.done <- appendResult{id: id, err: err}
}

// Append submits a payload and waits for its assigned id.
func (a *Appender) Append(ctx context.Context, subject string, payload any) (int64, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, ErrClosed
	}
	a.mu.Unlock()

	done := make(chan appendResult, 1)
	select {
	case a.inbox <- appendRequest{subject: subject, payload: payload, done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-done:
		return res.id, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Wait blocks until the writer loop exits.
func (a *Appender) Wait() {
	a.wg.Wait()
}
