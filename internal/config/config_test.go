package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-trading/brain/internal/config"
	"github.com/helios-trading/brain/pkg/types"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if !cfg.Treasury.InitialCapital.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("default initial capital = %s", cfg.Treasury.InitialCapital)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brain.yaml")
	yaml := `
server:
  port: 9999
treasury:
  initial_capital: "2500"
  target_allocation: 20000
risk_workers: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if !cfg.Treasury.InitialCapital.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("initial capital = %s, want 2500 (string decode)", cfg.Treasury.InitialCapital)
	}
	if !cfg.Treasury.TargetAllocation.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("target allocation = %s, want 20000 (int decode)", cfg.Treasury.TargetAllocation)
	}
	if cfg.RiskWorkers != 8 {
		t.Errorf("risk workers = %d, want 8", cfg.RiskWorkers)
	}
	// Untouched sections keep their defaults.
	if cfg.Auth.HMACAlgorithm != "sha256" {
		t.Errorf("hmac algorithm = %s", cfg.Auth.HMACAlgorithm)
	}
}

func TestEnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("BRAIN_SERVER_PORT", "9999")
	t.Setenv("BRAIN_TREASURY_INITIAL_CAPITAL", "2500")
	t.Setenv("BRAIN_RISK_LATENCY_HARD_LIMIT", "750ms")
	t.Setenv("BRAIN_AUTH_HMAC_SECRET", "env-secret")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if !cfg.Treasury.InitialCapital.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("initial capital = %s, want 2500", cfg.Treasury.InitialCapital)
	}
	if cfg.Risk.LatencyHardLimit != 750*time.Millisecond {
		t.Errorf("latency hard limit = %s, want 750ms", cfg.Risk.LatencyHardLimit)
	}
	if cfg.Auth.HMACSecret != "env-secret" {
		t.Errorf("hmac secret = %q, want env value", cfg.Auth.HMACSecret)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7777\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BRAIN_SERVER_PORT", "9999")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file did not fail")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.BrainConfig)
	}{
		{"zero start_p2", func(c *types.BrainConfig) { c.Allocation.StartP2 = decimal.Zero }},
		{"full_p2 below start_p2", func(c *types.BrainConfig) { c.Allocation.FullP2 = c.Allocation.StartP2.Sub(decimal.NewFromInt(1)) }},
		{"increasing leverage caps", func(c *types.BrainConfig) {
			c.Allocation.LeverageCaps[types.TierInstitutional] = decimal.NewFromInt(100)
		}},
		{"zero window", func(c *types.BrainConfig) { c.Performance.WindowDays = 0 }},
		{"malus above one", func(c *types.BrainConfig) { c.Performance.MalusMultiplier = 1.5 }},
		{"correlation out of range", func(c *types.BrainConfig) { c.Risk.MaxCorrelation = 1.2 }},
		{"soft latency above hard", func(c *types.BrainConfig) { c.Risk.LatencySoftLimit = c.Risk.LatencyHardLimit * 2 }},
		{"sweep threshold at one", func(c *types.BrainConfig) { c.Treasury.SweepThreshold = decimal.NewFromInt(1) }},
		{"negative reserve", func(c *types.BrainConfig) { c.Treasury.ReserveLimit = decimal.NewFromInt(-1) }},
		{"zero batch size", func(c *types.BrainConfig) { c.HFT.BatchSize = 0 }},
		{"unknown hmac algorithm", func(c *types.BrainConfig) { c.Auth.HMACAlgorithm = "md5" }},
		{"zero risk workers", func(c *types.BrainConfig) { c.RiskWorkers = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := types.DefaultBrainConfig()
			tc.mutate(&cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("invalid config passed validation")
			}
		})
	}
}
