// Package types provides configuration types for the trading brain.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationConfig controls equity tiers, phase unlock thresholds and caps.
type AllocationConfig struct {
	StartP2 decimal.Decimal `json:"startP2" mapstructure:"start_p2"` // equity unlocking Phase 2
	FullP2  decimal.Decimal `json:"fullP2" mapstructure:"full_p2"`   // equity at full Phase 2 weight
	StartP3 decimal.Decimal `json:"startP3" mapstructure:"start_p3"` // equity unlocking Phase 3

	// Tier lower bounds above micro.
	SmallTier         decimal.Decimal `json:"smallTier" mapstructure:"small_tier"`
	MediumTier        decimal.Decimal `json:"mediumTier" mapstructure:"medium_tier"`
	LargeTier         decimal.Decimal `json:"largeTier" mapstructure:"large_tier"`
	InstitutionalTier decimal.Decimal `json:"institutionalTier" mapstructure:"institutional_tier"`

	// Leverage caps per tier, monotonically non-increasing with tier size.
	LeverageCaps map[EquityTier]decimal.Decimal `json:"leverageCaps" mapstructure:"leverage_caps"`
}

// DefaultAllocationConfig returns the stock tiering.
func DefaultAllocationConfig() AllocationConfig {
	return AllocationConfig{
		StartP2:           decimal.NewFromInt(1500),
		FullP2:            decimal.NewFromInt(5000),
		StartP3:           decimal.NewFromInt(20000),
		SmallTier:         decimal.NewFromInt(5000),
		MediumTier:        decimal.NewFromInt(25000),
		LargeTier:         decimal.NewFromInt(100000),
		InstitutionalTier: decimal.NewFromInt(1000000),
		LeverageCaps: map[EquityTier]decimal.Decimal{
			TierMicro:         decimal.NewFromInt(10),
			TierSmall:         decimal.NewFromInt(8),
			TierMedium:        decimal.NewFromInt(6),
			TierLarge:         decimal.NewFromInt(4),
			TierInstitutional: decimal.NewFromInt(3),
		},
	}
}

// PerformanceConfig controls Sharpe windows and allocation modifiers.
type PerformanceConfig struct {
	WindowDays      int     `json:"windowDays" mapstructure:"window_days"`
	MinTradeCount   int     `json:"minTradeCount" mapstructure:"min_trade_count"`
	MalusThreshold  float64 `json:"malusThreshold" mapstructure:"malus_threshold"`
	BonusThreshold  float64 `json:"bonusThreshold" mapstructure:"bonus_threshold"`
	MalusMultiplier float64 `json:"malusMultiplier" mapstructure:"malus_multiplier"`
	BonusMultiplier float64 `json:"bonusMultiplier" mapstructure:"bonus_multiplier"`
}

// DefaultPerformanceConfig returns the stock modifier curve.
func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{
		WindowDays:      30,
		MinTradeCount:   10,
		MalusThreshold:  0.0,
		BonusThreshold:  2.0,
		MalusMultiplier: 0.5,
		BonusMultiplier: 1.2,
	}
}

// CostVetoConfig controls the expectancy gate.
type CostVetoConfig struct {
	Enabled            bool    `json:"enabled" mapstructure:"enabled"`
	BaseFeeBps         float64 `json:"baseFeeBps" mapstructure:"base_fee_bps"`
	MinExpectancyRatio float64 `json:"minExpectancyRatio" mapstructure:"min_expectancy_ratio"`
}

// RiskConfig controls the RiskGuardian gates.
type RiskConfig struct {
	MaxAccountLeverage  decimal.Decimal `json:"maxAccountLeverage" mapstructure:"max_account_leverage"`
	MaxPositionNotional decimal.Decimal `json:"maxPositionNotional" mapstructure:"max_position_notional"`
	SymbolWhitelist     []string        `json:"symbolWhitelist" mapstructure:"symbol_whitelist"`

	MinStopMultiplier  float64 `json:"minStopMultiplier" mapstructure:"min_stop_multiplier"`
	MaxCorrelation     float64 `json:"maxCorrelation" mapstructure:"max_correlation"`
	CorrelationPenalty float64 `json:"correlationPenalty" mapstructure:"correlation_penalty"`

	CostVeto CostVetoConfig `json:"costVeto" mapstructure:"cost_veto"`

	// Latency gates.
	LatencyHardLimit   time.Duration `json:"latencyHardLimit" mapstructure:"latency_hard_limit"`
	LatencySoftLimit   time.Duration `json:"latencySoftLimit" mapstructure:"latency_soft_limit"`
	LatencySoftPenalty float64       `json:"latencySoftPenalty" mapstructure:"latency_soft_penalty"`

	// Power-law / regime gates.
	TailLeverageCap decimal.Decimal `json:"tailLeverageCap" mapstructure:"tail_leverage_cap"`

	CorrelationUpdateInterval time.Duration `json:"correlationUpdateInterval" mapstructure:"correlation_update_interval"`
	PriceHistorySize          int           `json:"priceHistorySize" mapstructure:"price_history_size"`
}

// DefaultRiskConfig returns the stock gate thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxAccountLeverage:  decimal.NewFromInt(10),
		MaxPositionNotional: decimal.NewFromInt(250000),
		MinStopMultiplier:   1.5,
		MaxCorrelation:      0.8,
		CorrelationPenalty:  0.5,
		CostVeto: CostVetoConfig{
			Enabled:            true,
			BaseFeeBps:         4,
			MinExpectancyRatio: 2.0,
		},
		LatencyHardLimit:          500 * time.Millisecond,
		LatencySoftLimit:          200 * time.Millisecond,
		LatencySoftPenalty:        0.75,
		TailLeverageCap:           decimal.NewFromInt(2),
		CorrelationUpdateInterval: 5 * time.Minute,
		PriceHistorySize:          100,
	}
}

// TreasuryConfig controls the profit ratchet and sweeps.
type TreasuryConfig struct {
	InitialCapital     decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	TargetAllocation   decimal.Decimal `json:"targetAllocation" mapstructure:"target_allocation"`
	SweepThreshold     decimal.Decimal `json:"sweepThreshold" mapstructure:"sweep_threshold"`
	ReserveLimit       decimal.Decimal `json:"reserveLimit" mapstructure:"reserve_limit"`
	MaxRetries         int             `json:"maxRetries" mapstructure:"max_retries"`
	RetryBaseDelay     time.Duration   `json:"retryBaseDelay" mapstructure:"retry_base_delay"`
	EquityJumpTrigger  float64         `json:"equityJumpTrigger" mapstructure:"equity_jump_trigger"`
	SweepCronSchedule  string          `json:"sweepCronSchedule" mapstructure:"sweep_cron_schedule"`
	WalletRateLimitQPS float64         `json:"walletRateLimitQps" mapstructure:"wallet_rate_limit_qps"`
}

// DefaultTreasuryConfig returns the stock ratchet settings.
func DefaultTreasuryConfig() TreasuryConfig {
	return TreasuryConfig{
		InitialCapital:     decimal.NewFromInt(1000),
		TargetAllocation:   decimal.NewFromInt(10000),
		SweepThreshold:     decimal.NewFromFloat(1.2),
		ReserveLimit:       decimal.NewFromInt(2000),
		MaxRetries:         3,
		RetryBaseDelay:     time.Second,
		EquityJumpTrigger:  0.10,
		SweepCronSchedule:  "@every 5m",
		WalletRateLimitQPS: 5,
	}
}

// RouterConfig controls order routing and venue optimizations.
type RouterConfig struct {
	MinOrderSize              decimal.Decimal `json:"minOrderSize" mapstructure:"min_order_size"`
	MaxOrderSize              decimal.Decimal `json:"maxOrderSize" mapstructure:"max_order_size"`
	MarketDataTimeout         time.Duration   `json:"marketDataTimeout" mapstructure:"market_data_timeout"`
	TimeSlices                int             `json:"timeSlices" mapstructure:"time_slices"`
	EnableCoLocation          bool            `json:"enableCoLocation" mapstructure:"enable_colocation"`
	EnableNetworkOptimization bool            `json:"enableNetworkOptimization" mapstructure:"enable_network_optimization"`
}

// DefaultRouterConfig returns the stock routing settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinOrderSize:              decimal.NewFromFloat(0.001),
		MaxOrderSize:              decimal.NewFromInt(1000000),
		MarketDataTimeout:         5 * time.Second,
		TimeSlices:                10,
		EnableCoLocation:          true,
		EnableNetworkOptimization: true,
	}
}

// HFTConfig controls the bounded-latency processor.
type HFTConfig struct {
	MaxLatency              time.Duration `json:"maxLatency" mapstructure:"max_latency"`
	PriorityQueueSize       int           `json:"priorityQueueSize" mapstructure:"priority_queue_size"`
	BatchSize               int           `json:"batchSize" mapstructure:"batch_size"`
	BatchTimeout            time.Duration `json:"batchTimeout" mapstructure:"batch_timeout"`
	PreallocatedObjects     int           `json:"preallocatedObjects" mapstructure:"preallocated_objects"`
	FailureThreshold        uint32        `json:"failureThreshold" mapstructure:"failure_threshold"`
	CircuitBreakerThreshold time.Duration `json:"circuitBreakerThreshold" mapstructure:"circuit_breaker_threshold"`
	RecoveryTime            time.Duration `json:"recoveryTime" mapstructure:"recovery_time"`
	ShutdownGrace           time.Duration `json:"shutdownGrace" mapstructure:"shutdown_grace"`
}

// DefaultHFTConfig returns the stock latency budget.
func DefaultHFTConfig() HFTConfig {
	return HFTConfig{
		MaxLatency:              10 * time.Millisecond,
		PriorityQueueSize:       10000,
		BatchSize:               100,
		BatchTimeout:            100 * time.Microsecond,
		PreallocatedObjects:     1000,
		FailureThreshold:        5,
		CircuitBreakerThreshold: 5 * time.Millisecond,
		RecoveryTime:            30 * time.Second,
		ShutdownGrace:           2 * time.Second,
	}
}

// AuthConfig controls the operator and service auth boundary.
type AuthConfig struct {
	HMACSecret         string        `json:"-" mapstructure:"hmac_secret"`
	HMACAlgorithm      string        `json:"hmacAlgorithm" mapstructure:"hmac_algorithm"` // sha256, sha512
	JWTSecret          string        `json:"-" mapstructure:"jwt_secret"`
	TimestampTolerance time.Duration `json:"timestampTolerance" mapstructure:"timestamp_tolerance"`
}

// DefaultAuthConfig returns production tolerances.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		HMACAlgorithm:      "sha256",
		TimestampTolerance: 300 * time.Second,
	}
}

// ServerConfig controls the operator HTTP surface.
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
}

// DefaultServerConfig returns the stock server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		WebSocketPath:  "/ws",
		MaxConnections: 100,
	}
}

// StorageConfig locates the durable event log and snapshots.
type StorageConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	QueryTimeout time.Duration `json:"queryTimeout" mapstructure:"query_timeout"`
}

// DefaultStorageConfig returns an on-disk database under ./data.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Path:         "./data/brain.db",
		QueryTimeout: 5 * time.Second,
	}
}

// BrainConfig is the application root configuration.
type BrainConfig struct {
	Allocation  AllocationConfig  `json:"allocation" mapstructure:"allocation"`
	Performance PerformanceConfig `json:"performance" mapstructure:"performance"`
	Risk        RiskConfig        `json:"risk" mapstructure:"risk"`
	Treasury    TreasuryConfig    `json:"treasury" mapstructure:"treasury"`
	Router      RouterConfig      `json:"router" mapstructure:"router"`
	HFT         HFTConfig         `json:"hft" mapstructure:"hft"`
	Auth        AuthConfig        `json:"auth" mapstructure:"auth"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Storage     StorageConfig     `json:"storage" mapstructure:"storage"`
	RiskWorkers int               `json:"riskWorkers" mapstructure:"risk_workers"`
}

// DefaultBrainConfig assembles component defaults.
func DefaultBrainConfig() BrainConfig {
	return BrainConfig{
		Allocation:  DefaultAllocationConfig(),
		Performance: DefaultPerformanceConfig(),
		Risk:        DefaultRiskConfig(),
		Treasury:    DefaultTreasuryConfig(),
		Router:      DefaultRouterConfig(),
		HFT:         DefaultHFTConfig(),
		Auth:        DefaultAuthConfig(),
		Server:      DefaultServerConfig(),
		Storage:     DefaultStorageConfig(),
		RiskWorkers: 4,
	}
}
