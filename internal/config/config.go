// Package config loads and validates the brain configuration.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/helios-trading/brain/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// envKeys lists every config key reachable through a BRAIN_* environment
// variable. Dots become underscores, so server.port is BRAIN_SERVER_PORT.
// The leverage cap map and the symbol whitelist are file-only.
var envKeys = []string{
	"allocation.start_p2", "allocation.full_p2", "allocation.start_p3",
	"allocation.small_tier", "allocation.medium_tier", "allocation.large_tier",
	"allocation.institutional_tier",
	"performance.window_days", "performance.min_trade_count",
	"performance.malus_threshold", "performance.bonus_threshold",
	"performance.malus_multiplier", "performance.bonus_multiplier",
	"risk.max_account_leverage", "risk.max_position_notional",
	"risk.min_stop_multiplier", "risk.max_correlation", "risk.correlation_penalty",
	"risk.cost_veto.enabled", "risk.cost_veto.base_fee_bps",
	"risk.cost_veto.min_expectancy_ratio",
	"risk.latency_hard_limit", "risk.latency_soft_limit", "risk.latency_soft_penalty",
	"risk.tail_leverage_cap", "risk.correlation_update_interval",
	"risk.price_history_size",
	"treasury.initial_capital", "treasury.target_allocation",
	"treasury.sweep_threshold", "treasury.reserve_limit", "treasury.max_retries",
	"treasury.retry_base_delay", "treasury.equity_jump_trigger",
	"treasury.sweep_cron_schedule", "treasury.wallet_rate_limit_qps",
	"router.min_order_size", "router.max_order_size", "router.market_data_timeout",
	"router.time_slices", "router.enable_colocation",
	"router.enable_network_optimization",
	"hft.max_latency", "hft.priority_queue_size", "hft.batch_size",
	"hft.batch_timeout", "hft.preallocated_objects", "hft.failure_threshold",
	"hft.circuit_breaker_threshold", "hft.recovery_time", "hft.shutdown_grace",
	"auth.hmac_algorithm", "auth.timestamp_tolerance",
	"server.host", "server.port", "server.read_timeout", "server.write_timeout",
	"server.websocket_path", "server.max_connections",
	"storage.path", "storage.query_timeout",
	"risk_workers",
}

// Load reads configuration from an optional YAML file and BRAIN_* environment
// variables, layered over DefaultBrainConfig. An empty path skips the file;
// environment variables win over the file.
func Load(path string) (types.BrainConfig, error) {
	cfg := types.DefaultBrainConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for _, key := range envKeys {
		if raw, ok := os.LookupEnv(envName(key)); ok {
			v.Set(key, raw)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		decimalDecodeHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets come from the environment, never from the file on disk.
	if s := os.Getenv("BRAIN_AUTH_HMAC_SECRET"); s != "" {
		cfg.Auth.HMACSecret = s
	}
	if s := os.Getenv("BRAIN_AUTH_JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envName(key string) string {
	return "BRAIN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate rejects configurations that would violate system invariants.
// Failures here are fatal at startup.
func Validate(cfg types.BrainConfig) error {
	a := cfg.Allocation
	if a.StartP2.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("allocation: start_p2 must be positive")
	}
	if a.FullP2.LessThanOrEqual(a.StartP2) {
		return fmt.Errorf("allocation: full_p2 must exceed start_p2")
	}
	if a.StartP3.LessThan(a.FullP2) {
		return fmt.Errorf("allocation: start_p3 must not precede full_p2")
	}
	if err := validateLeverageCaps(a); err != nil {
		return err
	}

	p := cfg.Performance
	if p.WindowDays <= 0 {
		return fmt.Errorf("performance: window_days must be positive")
	}
	if p.MalusMultiplier <= 0 || p.MalusMultiplier > 1 {
		return fmt.Errorf("performance: malus_multiplier must be in (0,1]")
	}
	if p.BonusMultiplier < 1 {
		return fmt.Errorf("performance: bonus_multiplier must be >= 1")
	}
	if p.BonusThreshold <= p.MalusThreshold {
		return fmt.Errorf("performance: bonus_threshold must exceed malus_threshold")
	}

	r := cfg.Risk
	if r.MaxAccountLeverage.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk: max_account_leverage must be positive")
	}
	if r.MaxCorrelation <= 0 || r.MaxCorrelation > 1 {
		return fmt.Errorf("risk: max_correlation must be in (0,1]")
	}
	if r.CorrelationPenalty < 0 || r.CorrelationPenalty >= 1 {
		return fmt.Errorf("risk: correlation_penalty must be in [0,1)")
	}
	if r.LatencySoftLimit >= r.LatencyHardLimit {
		return fmt.Errorf("risk: latency_soft_limit must be below latency_hard_limit")
	}

	t := cfg.Treasury
	if t.ReserveLimit.LessThan(decimal.Zero) {
		return fmt.Errorf("treasury: reserve_limit must not be negative")
	}
	if t.SweepThreshold.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("treasury: sweep_threshold must exceed 1.0")
	}
	if t.MaxRetries < 1 {
		return fmt.Errorf("treasury: max_retries must be at least 1")
	}

	rt := cfg.Router
	if rt.MinOrderSize.LessThanOrEqual(decimal.Zero) || rt.MaxOrderSize.LessThanOrEqual(rt.MinOrderSize) {
		return fmt.Errorf("router: order size bounds invalid")
	}

	h := cfg.HFT
	if h.PriorityQueueSize <= 0 || h.BatchSize <= 0 {
		return fmt.Errorf("hft: queue and batch sizes must be positive")
	}
	if h.FailureThreshold == 0 {
		return fmt.Errorf("hft: failure_threshold must be positive")
	}

	switch cfg.Auth.HMACAlgorithm {
	case "sha256", "sha512":
	default:
		return fmt.Errorf("auth: hmac_algorithm must be sha256 or sha512")
	}

	if cfg.RiskWorkers < 1 {
		return fmt.Errorf("risk_workers must be at least 1")
	}
	return nil
}

// validateLeverageCaps enforces that caps never increase as tiers grow.
func validateLeverageCaps(a types.AllocationConfig) error {
	order := []types.EquityTier{
		types.TierMicro, types.TierSmall, types.TierMedium,
		types.TierLarge, types.TierInstitutional,
	}
	prev := decimal.Decimal{}
	for i, tier := range order {
		cap, ok := a.LeverageCaps[tier]
		if !ok || cap.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("allocation: missing or non-positive leverage cap for tier %s", tier)
		}
		if i > 0 && cap.GreaterThan(prev) {
			return fmt.Errorf("allocation: leverage cap for tier %s exceeds the previous tier", tier)
		}
		prev = cap
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalDecodeHook converts YAML and environment scalars into
// decimal.Decimal fields.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType || from == decimalType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return decimal.NewFromString(val)
		case int:
			return decimal.NewFromInt(int64(val)), nil
		case int64:
			return decimal.NewFromInt(val), nil
		case float64:
			return decimal.NewFromFloat(val), nil
		}
		return data, nil
	}
}
