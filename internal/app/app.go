// Package app assembles the control plane: storage, replay, risk pipeline,
// routing, treasury and the operator surface, run under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helios-trading/brain/internal/allocation"
	"github.com/helios-trading/brain/internal/api"
	"github.com/helios-trading/brain/internal/auth"
	"github.com/helios-trading/brain/internal/eventlog"
	"github.com/helios-trading/brain/internal/hft"
	"github.com/helios-trading/brain/internal/marketdata"
	"github.com/helios-trading/brain/internal/performance"
	"github.com/helios-trading/brain/internal/recovery"
	"github.com/helios-trading/brain/internal/risk"
	"github.com/helios-trading/brain/internal/router"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/internal/treasury"
	"github.com/helios-trading/brain/pkg/types"
)

// ErrStorage marks failures reaching or initializing the durable log.
var ErrStorage = errors.New("storage unavailable")

const (
	riskQueueSize   = 1024
	routerShards    = 4
	routerQueueSize = 256
)

// routeRequest carries an approved intent to a router shard.
type routeRequest struct {
	intent   types.IntentSignal
	decision types.RiskDecision
}

// App owns every long-lived component and their channels.
type App struct {
	logger  *zap.Logger
	cfg     types.BrainConfig
	metrics *telemetry.Metrics

	store    *eventlog.SQLiteStore
	appender *eventlog.Appender
	market   *marketdata.Service

	tracker   *performance.Tracker
	allocator *allocation.Engine
	treasury  *treasury.Manager
	scheduler *treasury.Scheduler
	book      *risk.Book
	guardian  *risk.Guardian
	corr      *risk.CorrelationCache
	registry  *router.Registry
	router    *router.Router
	breaker   *hft.LatencyBreaker
	processor *hft.Processor
	recovery  *recovery.Service
	server    *api.Server

	riskCh   chan types.IntentSignal
	routerCh []chan routeRequest

	stopAppender context.CancelFunc

	mu     sync.RWMutex
	equity decimal.Decimal
}

// New builds the full component graph. Nothing runs until Run.
func New(logger *zap.Logger, cfg types.BrainConfig) (*App, error) {
	metrics := telemetry.New()

	store, err := eventlog.OpenSQLite(cfg.Storage.Path, cfg.Storage.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	appender := eventlog.NewAppender(logger, store, metrics, 1024)
	// The appender must accept writes during recovery, before Run starts,
	// so it gets its own lifecycle rather than the errgroup's context.
	appenderCtx, stopAppender := context.WithCancel(context.Background())
	appender.Start(appenderCtx)

	market := marketdata.NewService(logger, cfg.Risk.PriceHistorySize)
	tracker := performance.NewTracker(logger, cfg.Performance, nil)
	allocator := allocation.NewEngine(logger, cfg.Allocation, tracker, appender, metrics, nil)

	wallet := treasury.NewRateLimitedWallet(
		treasury.NewPaperWallet(cfg.Treasury.InitialCapital),
		cfg.Treasury.WalletRateLimitQPS,
	)
	treasuryMgr := treasury.NewManager(logger, cfg.Treasury, wallet, appender, metrics, nil)
	scheduler := treasury.NewScheduler(logger, treasuryMgr, cfg.Treasury.SweepCronSchedule)

	book := risk.NewBook()
	corr := risk.NewCorrelationCache(logger, market, cfg.Risk.CorrelationUpdateInterval, nil)
	regime := risk.NewRegimeMonitor(market)
	guardian := risk.NewGuardian(logger, cfg.Risk, book, market, corr, regime, appender, metrics, nil)

	registry := router.NewRegistry()
	orderRouter := router.NewRouter(logger, cfg.Router, registry, market, metrics, nil)

	breaker := hft.NewLatencyBreaker(logger, cfg.HFT, appender, metrics)

	a := &App{
		logger:    logger.Named("app"),
		cfg:       cfg,
		metrics:   metrics,
		store:     store,
		appender:  appender,
		market:    market,
		tracker:   tracker,
		allocator: allocator,
		treasury:  treasuryMgr,
		scheduler: scheduler,
		book:      book,
		guardian:  guardian,
		corr:      corr,
		registry:  registry,
		router:    orderRouter,
		breaker:   breaker,
		riskCh:    make(chan types.IntentSignal, riskQueueSize),
		equity:    cfg.Treasury.InitialCapital,

		stopAppender: stopAppender,
	}
	a.routerCh = make([]chan routeRequest, routerShards)
	for i := range a.routerCh {
		a.routerCh[i] = make(chan routeRequest, routerQueueSize)
	}

	// The batch stage only dispatches; gate evaluation happens on the risk
	// workers so one slow intent cannot stall a whole batch.
	a.processor = hft.NewProcessor(logger, cfg.HFT, breaker, metrics, hft.StageFunc{
		StageName: "dispatch",
		Fn:        a.dispatch,
	})

	a.recovery = recovery.NewService(logger, store, recovery.Engines{
		Tracker:    tracker,
		Allocation: allocator,
		Treasury:   treasuryMgr,
		Book:       book,
	}, cfg.Treasury.InitialCapital, metrics)

	verifier := auth.NewVerifier(logger, cfg.Auth, nil)
	a.server = api.NewServer(logger, cfg.Server, verifier, metrics, api.Deps{
		Allocator: allocator,
		Tracker:   tracker,
		Treasury:  treasuryMgr,
		Processor: a.processor,
		Breaker:   breaker,
		Book:      book,
		Equity:    a.Equity,
	})

	treasuryMgr.OnSweep(func(op types.TreasuryOperation) {
		a.server.Hub().Broadcast(api.ChannelTreasury, op)
	})

	return a, nil
}

// Equity returns the current account equity projection.
func (a *App) Equity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equity
}

// Registry exposes the venue registry for bootstrap seeding.
func (a *App) Registry() *router.Registry {
	return a.registry
}

// SubmitIntent admits one intent into the pipeline at the given priority.
func (a *App) SubmitIntent(intent types.IntentSignal, priority hft.Priority) error {
	a.metrics.IntentsReceived.Inc()
	if _, err := a.appender.Append(context.Background(), eventlog.SubjectIntentReceived, intent); err != nil {
		return err
	}
	return a.processor.Submit(intent, priority)
}

// UpdateMarket ingests a venue snapshot.
func (a *App) UpdateMarket(snap marketdata.Snapshot) {
	a.market.Update(snap)
}

// RecordFill applies an execution report: position book, equity projection,
// performance window, treasury ratchet, and the durable log.
func (a *App) RecordFill(ctx context.Context, fill types.Fill) error {
	if _, err := a.appender.Append(ctx, eventlog.SubjectExecutionFill, fill); err != nil {
		return err
	}
	a.book.ApplyFill(fill)

	a.mu.Lock()
	a.equity = a.equity.Add(fill.PnL)
	equity := a.equity
	a.mu.Unlock()

	if !fill.PnL.IsZero() {
		phase := fill.Phase
		if phase == "" {
			phase = types.PhaseScavenger
		}
		a.tracker.RecordTrade(types.TradeRecord{
			ID:        fill.ID,
			Phase:     phase,
			PnL:       fill.PnL,
			Timestamp: fill.Timestamp,
			Symbol:    fill.Symbol,
			Side:      fill.Side,
		})
	}

	if err := a.treasury.ObserveEquity(ctx, equity); err != nil {
		a.logger.Error("treasury observe failed", zap.Error(err))
	}
	if _, err := a.allocator.Rebalance(ctx, equity); err != nil {
		a.logger.Error("rebalance failed", zap.Error(err))
	}
	return nil
}

// dispatch is the single batch stage: fan approved envelopes out to the
// risk workers without blocking the batch loop.
func (a *App) dispatch(e *hft.Envelope) bool {
	select {
	case a.riskCh <- e.Signal:
		return true
	default:
		a.logger.Warn("risk queue full, dropping intent", zap.String("id", e.Signal.ID))
		return false
	}
}

func (a *App) riskWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case intent := <-a.riskCh:
			decision := a.guardian.Evaluate(ctx, intent, a.Equity(), a.allocator.Current())
			a.server.Hub().Broadcast(api.ChannelDecisions, decision)
			if !decision.Approved {
				continue
			}
			req := routeRequest{intent: intent, decision: decision}
			shard := a.routerCh[shardFor(intent.Symbol)]
			select {
			case shard <- req:
			default:
				a.logger.Warn("router shard full, dropping order", zap.String("id", intent.ID))
			}
		}
	}
}

// routerWorker serializes routing per shard so same-symbol orders never
// interleave.
func (a *App) routerWorker(ctx context.Context, shard chan routeRequest) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-shard:
			strategy := router.StrategyPassive
			if req.intent.Latency != nil {
				strategy = router.StrategyAggressive
			}
			decision, err := a.router.Route(ctx, router.OrderRequest{
				RequestID: req.intent.ID,
				Symbol:    req.intent.Symbol,
				Side:      req.intent.Side,
				Quantity:  req.decision.AdjustedSize,
				Strategy:  strategy,
			})
			if err != nil {
				a.logger.Error("routing failed",
					zap.String("id", req.intent.ID),
					zap.Error(err))
				continue
			}
			a.logger.Info("order routed",
				zap.String("id", req.intent.ID),
				zap.String("algorithm", decision.Algorithm),
				zap.Int("venues", len(decision.Routes)))
		}
	}
}

func shardFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(routerShards))
}

// Recover replays the event log into the engines. Must run before Run.
func (a *App) Recover(ctx context.Context, reset bool) (recovery.Summary, error) {
	summary, err := a.recovery.Recover(ctx, reset)
	if err != nil {
		return summary, err
	}

	a.mu.Lock()
	a.equity = summary.Equity
	a.mu.Unlock()

	// Replay rebuilt the book from scratch; correlations computed before
	// the restart no longer describe it.
	a.corr.Invalidate()

	if _, err := a.allocator.Rebalance(ctx, summary.Equity); err != nil {
		return summary, err
	}
	return summary, nil
}

// Run starts every task and blocks until ctx is cancelled and shutdown
// completes.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.processor.Run(ctx)
		return nil
	})

	workers := a.cfg.RiskWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		group.Go(func() error { return a.riskWorker(ctx) })
	}

	for _, shard := range a.routerCh {
		shard := shard
		group.Go(func() error { return a.routerWorker(ctx, shard) })
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("sweep scheduler: %w", err)
	}

	group.Go(func() error { return a.server.Start() })
	group.Go(func() error {
		<-ctx.Done()

		a.scheduler.Stop()
		a.processor.Wait()
		a.stopAppender()
		a.appender.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			a.logger.Error("server shutdown", zap.Error(err))
		}
		return nil
	})

	err := group.Wait()

	if closeErr := a.store.Close(); closeErr != nil {
		a.logger.Error("store close", zap.Error(closeErr))
	}
	return err
}
