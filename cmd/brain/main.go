// Package main provides the entry point for the brain control plane:
// allocation, risk gating, treasury sweeps, order routing and event replay
// behind one operator API.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/helios-trading/brain/internal/app"
	"github.com/helios-trading/brain/internal/config"
	"github.com/helios-trading/brain/internal/recovery"
)

// Exit codes: 0 clean shutdown, 1 configuration error, 2 persistence
// unreachable, 3 replay invariant violation.
const (
	exitOK        = 0
	exitConfig    = 1
	exitStorage   = 2
	exitInvariant = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	host := flag.String("host", "", "Override server host")
	port := flag.Int("port", 0, "Override server port")
	reset := flag.Bool("reset", false, "Discard snapshots and replay the full event log")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Configuration invalid", zap.Error(err))
		return exitConfig
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Info("Starting brain",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Path),
		zap.Bool("reset", *reset),
	)

	application, err := app.New(logger, cfg)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		if errors.Is(err, app.ErrStorage) {
			return exitStorage
		}
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	summary, err := application.Recover(ctx, *reset)
	if err != nil {
		logger.Error("State recovery failed", zap.Error(err))
		if errors.Is(err, recovery.ErrInvariant) {
			return exitInvariant
		}
		return exitStorage
	}
	logger.Info("State recovered",
		zap.Int64("events", summary.Events),
		zap.String("equity", summary.Equity.String()),
		zap.String("highWatermark", summary.Watermark.String()),
		zap.Int("positions", summary.Positions),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- application.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		if err := <-done; err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	case err := <-done:
		if err != nil {
			logger.Error("Application error", zap.Error(err))
			return exitConfig
		}
	}

	logger.Info("Brain stopped")
	return exitOK
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
