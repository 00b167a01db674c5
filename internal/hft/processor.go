package hft

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/pkg/types"
)

const statsWindow = 1000

// Stage is one transform in the batch pipeline. Returning false drops the
// signal; stages must not block.
type Stage interface {
	Name() string
	Process(e *Envelope) bool
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(e *Envelope) bool
}

func (s StageFunc) Name() string             { return s.StageName }
func (s StageFunc) Process(e *Envelope) bool { return s.Fn(e) }

// Stats is a snapshot of processor latency and throughput.
type Stats struct {
	Processed     uint64        `json:"processed"`
	Dropped       uint64        `json:"dropped"`
	Rejected      uint64        `json:"rejected"`
	QueueDepth    int           `json:"queueDepth"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
	Max           time.Duration `json:"max"`
	SignalsPerSec float64       `json:"signalsPerSec"`
	BreakerState  string        `json:"breakerState"`
}

// Processor drains the priority queue in batches through the stage chain,
// keeping per-batch latency under the circuit breaker's threshold.
type Processor struct {
	logger  *zap.Logger
	cfg     types.HFTConfig
	queue   *Queue
	pool    *Pool
	breaker *LatencyBreaker
	metrics *telemetry.Metrics
	clock   func() time.Time

	stages []Stage

	mu        sync.Mutex
	samples   []time.Duration
	sampleIdx int
	processed uint64
	dropped   uint64
	rejected  uint64
	resetAt   time.Time

	wg sync.WaitGroup
}

// NewProcessor builds the pipeline. Stages run in order for every batch.
func NewProcessor(logger *zap.Logger, cfg types.HFTConfig, breaker *LatencyBreaker, metrics *telemetry.Metrics, stages ...Stage) *Processor {
	return &Processor{
		logger:  logger.Named("hft"),
		cfg:     cfg,
		queue:   NewQueue(cfg.PriorityQueueSize),
		pool:    NewPool(cfg.PreallocatedObjects),
		breaker: breaker,
		metrics: metrics,
		clock:   time.Now,
		stages:  stages,
		samples: make([]time.Duration, 0, statsWindow),
		resetAt: time.Now(),
	}
}

// Submit admits a signal at the given priority. Rejections carry
// ErrCircuitOpen while the breaker is open and ErrQueueFull at capacity.
func (p *Processor) Submit(signal types.IntentSignal, priority Priority) error {
	if !p.breaker.Allow() {
		p.mu.Lock()
		p.rejected++
		p.mu.Unlock()
		return ErrCircuitOpen
	}

	e := p.pool.Acquire()
	e.Signal = signal
	e.Priority = priority
	e.EnqueuedAt = p.clock()

	if err := p.queue.Push(e); err != nil {
		p.pool.Release(e)
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.QueueDropped.Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	}
	return nil
}

// Run drives the batch loop until ctx is cancelled, then drains the queue
// within the shutdown grace period. Remaining items are discarded with a
// metric bump.
func (p *Processor) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Tick()
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// Wait blocks until the batch loop has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) drain() {
	deadline := p.clock().Add(p.cfg.ShutdownGrace)
	for p.queue.Len() > 0 && p.clock().Before(deadline) {
		p.Tick()
	}
	if remaining := p.queue.Len(); remaining > 0 {
		p.logger.Warn("discarding queued signals at shutdown", zap.Int("count", remaining))
		for _, e := range p.queue.PopBatch(remaining) {
			p.pool.Release(e)
		}
		if p.metrics != nil {
			p.metrics.ShutdownDiscarded.Add(float64(remaining))
		}
	}
}

// Tick drains and processes one batch. The driver loop calls it on every
// timeout; tests may call it directly.
func (p *Processor) Tick() {
	batch := p.queue.PopBatch(p.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}

	start := p.clock()
	for _, e := range batch {
		p.runStages(e)
		p.pool.Release(e)
	}
	elapsed := p.clock().Sub(start)

	p.breaker.Observe(elapsed)
	p.recordBatch(len(batch), elapsed)
}

func (p *Processor) runStages(e *Envelope) {
	for _, s := range p.stages {
		if !s.Process(e) {
			return
		}
	}
}

func (p *Processor) recordBatch(size int, elapsed time.Duration) {
	p.mu.Lock()
	p.processed += uint64(size)
	if len(p.samples) < statsWindow {
		p.samples = append(p.samples, elapsed)
	} else {
		p.samples[p.sampleIdx] = elapsed
	}
	p.sampleIdx = (p.sampleIdx + 1) % statsWindow
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.BatchLatency.Observe(elapsed.Seconds())
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	}
}

// Stats snapshots latency percentiles over the last window of batches.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	samples := append([]time.Duration(nil), p.samples...)
	stats := Stats{
		Processed: p.processed,
		Dropped:   p.dropped,
		Rejected:  p.rejected,
	}
	elapsed := p.clock().Sub(p.resetAt).Seconds()
	if elapsed > 0 {
		stats.SignalsPerSec = float64(p.processed) / elapsed
	}
	p.mu.Unlock()

	stats.QueueDepth = p.queue.Len()
	stats.BreakerState = p.breaker.State().String()

	if len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		stats.P50 = percentile(samples, 0.50)
		stats.P95 = percentile(samples, 0.95)
		stats.P99 = percentile(samples, 0.99)
		stats.Max = samples[len(samples)-1]
	}
	return stats
}

// ResetStats zeroes counters and the throughput window.
func (p *Processor) ResetStats() {
	p.mu.Lock()
	p.samples = p.samples[:0]
	p.sampleIdx = 0
	p.processed = 0
	p.dropped = 0
	p.rejected = 0
	p.resetAt = p.clock()
	p.mu.Unlock()
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}
