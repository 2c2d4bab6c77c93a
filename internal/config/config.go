// Package config defines all configuration for the market-making
// simulator. Config is loaded from a YAML file (default:
// configs/config.yaml) with a handful of operational fields overridable
// via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapped directly from YAML.
type Config struct {
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Latency    LatencyConfig    `mapstructure:"latency"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// InstrumentConfig carries the immutable per-run instrument parameters.
type InstrumentConfig struct {
	Symbol        string  `mapstructure:"symbol"`
	TickSize      float64 `mapstructure:"tick_size"`
	BaseIncrement float64 `mapstructure:"base_increment"`
	MinNotional   float64 `mapstructure:"min_notional"`
	InitialCash   float64 `mapstructure:"initial_cash"`
}

// StrategyConfig tunes the quoting engine.
type StrategyConfig struct {
	DefaultOrderSize    float64       `mapstructure:"default_order_size"`
	MaxPosition         float64       `mapstructure:"max_position"`
	BaseMaxTicksAway    float64       `mapstructure:"base_max_ticks_away"`
	MaxTicksMultiplier  float64       `mapstructure:"max_ticks_multiplier"`
	OrderTTL            time.Duration `mapstructure:"order_ttl"`
	MinReplaceInterval  time.Duration `mapstructure:"min_replace_interval"`
	ManualCooldown      time.Duration `mapstructure:"manual_cooldown"`
	InventoryTarget     float64       `mapstructure:"inventory_target"`
	InventoryHalfLife   time.Duration `mapstructure:"inventory_half_life"`
	KTicksPerUnit       float64       `mapstructure:"k_ticks_per_unit"`
	VolatilityEstimate  float64       `mapstructure:"volatility_estimate"`
	OBI                 OBIConfig     `mapstructure:"obi"`
	OrderTradeRatioCrit float64       `mapstructure:"order_trade_ratio_critical"`
}

// OBIThresholds bundles the four threshold values for one inventory regime.
type OBIThresholds struct {
	ModerateBid float64 `mapstructure:"moderate_bid"`
	ExtremeBid  float64 `mapstructure:"extreme_bid"`
	ModerateAsk float64 `mapstructure:"moderate_ask"`
	ExtremeAsk  float64 `mapstructure:"extreme_ask"`
}

// OBIConfig holds the OBI threshold table, one row per inventory regime.
type OBIConfig struct {
	Flat  OBIThresholds `mapstructure:"flat"`
	Long  OBIThresholds `mapstructure:"long"`
	Short OBIThresholds `mapstructure:"short"`
}

// RiskConfig sets the hard limits enforced by the risk manager.
type RiskConfig struct {
	MaxPosition        float64       `mapstructure:"max_position"`
	MaxDailyLoss       float64       `mapstructure:"max_daily_loss"`
	MaxDrawdownPct     float64       `mapstructure:"max_drawdown_pct"`
	ConcentrationPct   float64       `mapstructure:"concentration_pct"`
	VarLimit           float64       `mapstructure:"var_limit"`
	MaxOrdersPerSecond int           `mapstructure:"max_orders_per_second"`
	MaxLatencyMs       float64       `mapstructure:"max_latency_ms"`
	StartupGracePeriod time.Duration `mapstructure:"startup_grace_period"`
	StartupGracePct    float64       `mapstructure:"startup_grace_pct"`
}

// LatencyConfig sets warn/critical thresholds (microseconds) for the four
// simulated-latency classes tracked by the clock package.
type LatencyConfig struct {
	WindowSize           int `mapstructure:"window_size"`
	MarketDataWarnUs     int `mapstructure:"market_data_warn_us"`
	MarketDataCritUs     int `mapstructure:"market_data_crit_us"`
	OrderPlacementWarnUs int `mapstructure:"order_placement_warn_us"`
	OrderPlacementCritUs int `mapstructure:"order_placement_crit_us"`
	TickToTradeWarnUs    int `mapstructure:"tick_to_trade_warn_us"`
	TickToTradeCritUs    int `mapstructure:"tick_to_trade_crit_us"`
}

// IngestionConfig points the out-of-scope network client at a feed and
// controls the batched raw-data persistence sidecar.
type IngestionConfig struct {
	WSURL           string `mapstructure:"ws_url"`
	SnapshotURL     string `mapstructure:"snapshot_url"`
	PersistDir      string `mapstructure:"persist_dir"`
	PersistBatch    int    `mapstructure:"persist_batch_size"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional metrics/snapshot HTTP server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dir := os.Getenv("MM_PERSIST_DIR"); dir != "" {
		cfg.Ingestion.PersistDir = dir
	}
	if url := os.Getenv("MM_WS_URL"); url != "" {
		cfg.Ingestion.WSURL = url
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges. A failure here is
// fatal: refuse to start.
func (c *Config) Validate() error {
	if c.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("instrument.tick_size must be > 0")
	}
	if c.Instrument.BaseIncrement <= 0 {
		return fmt.Errorf("instrument.base_increment must be > 0")
	}
	if c.Strategy.DefaultOrderSize <= 0 {
		return fmt.Errorf("strategy.default_order_size must be > 0")
	}
	if c.Strategy.BaseMaxTicksAway <= 0 {
		return fmt.Errorf("strategy.base_max_ticks_away must be > 0")
	}
	if c.Risk.MaxPosition <= 0 {
		return fmt.Errorf("risk.max_position must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("risk.max_orders_per_second must be > 0")
	}
	return nil
}
