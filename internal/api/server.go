// Package api provides the operator HTTP and WebSocket surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/allocation"
	"github.com/helios-trading/brain/internal/auth"
	"github.com/helios-trading/brain/internal/hft"
	"github.com/helios-trading/brain/internal/performance"
	"github.com/helios-trading/brain/internal/risk"
	"github.com/helios-trading/brain/internal/telemetry"
	"github.com/helios-trading/brain/internal/treasury"
	"github.com/helios-trading/brain/pkg/types"
)

// Deps are the control-plane components the server exposes.
type Deps struct {
	Allocator *allocation.Engine
	Tracker   *performance.Tracker
	Treasury  *treasury.Manager
	Processor *hft.Processor
	Breaker   *hft.LatencyBreaker
	Book      *risk.Book
	Equity    func() decimal.Decimal
}

// Server is the operator HTTP/WebSocket server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	verifier   *auth.Verifier
	metrics    *telemetry.Metrics
	hub        *Hub
	deps       Deps
	started    time.Time
}

// NewServer wires routes and middleware. Operator reads require a bearer
// token; mutating endpoints additionally require an HMAC request signature.
func NewServer(logger *zap.Logger, config types.ServerConfig, verifier *auth.Verifier, metrics *telemetry.Metrics, deps Deps) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		config:   config,
		router:   mux.NewRouter(),
		verifier: verifier,
		metrics:  metrics,
		hub:      NewHub(logger),
		deps:     deps,
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Hub exposes the WebSocket hub so components can broadcast events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the full middleware-wrapped handler. Used directly by
// httptest servers.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

func (s *Server) setupRoutes() {
	bearer := s.verifier.BearerMiddleware
	signed := func(next http.Handler) http.Handler {
		return s.verifier.SignatureMiddleware(bearer(next))
	}

	// Open endpoints
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Operator reads
	s.router.Handle("/dashboard", bearer(http.HandlerFunc(s.handleDashboard))).Methods("GET")
	s.router.Handle("/treasury", bearer(http.HandlerFunc(s.handleTreasury))).Methods("GET")
	s.router.Handle("/allocation", bearer(http.HandlerFunc(s.handleAllocation))).Methods("GET")
	s.router.Handle("/breaker", bearer(http.HandlerFunc(s.handleBreaker))).Methods("GET")
	s.router.Handle("/phases/status", bearer(http.HandlerFunc(s.handlePhases))).Methods("GET")

	// Operator mutations
	s.router.Handle("/risk/halt", signed(http.HandlerFunc(s.handleHalt))).Methods("POST")
	s.router.Handle("/risk/resume", signed(http.HandlerFunc(s.handleResume))).Methods("POST")
	s.router.Handle("/breaker/reset", signed(http.HandlerFunc(s.handleBreakerReset))).Methods("POST")
	s.router.Handle("/admin/override", signed(http.HandlerFunc(s.handleOverride))).Methods("POST")

	// WebSocket dashboard feed
	s.router.Handle(s.config.WebSocketPath, bearer(s.hub))
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes WebSocket clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.started).Seconds(),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	equity := decimal.Zero
	if s.deps.Equity != nil {
		equity = s.deps.Equity()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"equity":     equity,
		"allocation": s.deps.Allocator.Current(),
		"halted":     s.deps.Allocator.Halted(),
		"treasury": map[string]any{
			"highWatermark": s.deps.Treasury.HighWatermark(),
			"totalSwept":    s.deps.Treasury.TotalSwept(),
		},
		"processor": s.deps.Processor.Stats(),
		"positions": s.deps.Book.Positions(),
		"phases":    s.deps.Tracker.Snapshots(),
		"clients":   s.hub.ClientCount(),
	})
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"highWatermark": s.deps.Treasury.HighWatermark(),
		"totalSwept":    s.deps.Treasury.TotalSwept(),
		"history":       s.deps.Treasury.History(),
	})
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"vector": s.deps.Allocator.Current(),
		"halted": s.deps.Allocator.Halted(),
	})
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state": s.deps.Breaker.State().String(),
		"stats": s.deps.Processor.Stats(),
	})
}

func (s *Server) handlePhases(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"phases": s.deps.Tracker.Snapshots(),
	})
}

type haltRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	operator := auth.OperatorFrom(r.Context())
	if err := s.deps.Allocator.Halt(r.Context(), operator, req.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Warn("Trading halted by operator",
		zap.String("operator", operator),
		zap.String("reason", req.Reason))
	s.hub.Broadcast(ChannelAllocation, s.deps.Allocator.Current())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "halted",
		"operator": operator,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	operator := auth.OperatorFrom(r.Context())
	s.deps.Allocator.Resume(operator)

	s.logger.Info("Trading resumed by operator", zap.String("operator", operator))
	s.hub.Broadcast(ChannelAllocation, s.deps.Allocator.Current())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "resumed",
		"operator": operator,
	})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	operator := auth.OperatorFrom(r.Context())
	if err := s.deps.Breaker.Reset(r.Context(), operator); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.hub.Broadcast(ChannelBreaker, map[string]string{
		"state":    s.deps.Breaker.State().String(),
		"operator": operator,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reset",
		"operator": operator,
	})
}

type overrideRequest struct {
	OperatorID string  `json:"operatorId"`
	Allocation weights `json:"allocation"`
	Reason     string  `json:"reason"`
	// Duration of the lock in hours. Fractions are accepted.
	DurationHours float64 `json:"durationHours"`
}

type weights struct {
	W1 float64 `json:"w1"`
	W2 float64 `json:"w2"`
	W3 float64 `json:"w3"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.DurationHours <= 0 {
		http.Error(w, "durationHours must be positive", http.StatusBadRequest)
		return
	}
	duration := time.Duration(req.DurationHours * float64(time.Hour))

	// The token subject is authoritative; the body field is informational.
	operator := auth.OperatorFrom(r.Context())
	if operator == "" {
		operator = req.OperatorID
	}
	a := req.Allocation
	if err := s.deps.Allocator.Override(r.Context(), a.W1, a.W2, a.W3, operator, req.Reason, duration); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Warn("Allocation override applied",
		zap.String("operator", operator),
		zap.Float64("w1", a.W1),
		zap.Float64("w2", a.W2),
		zap.Float64("w3", a.W3),
		zap.Duration("duration", duration))
	s.hub.Broadcast(ChannelAllocation, s.deps.Allocator.Current())

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "override",
		"vector":   s.deps.Allocator.Current(),
		"until":    time.Now().Add(duration).Unix(),
		"operator": operator,
	})
}
