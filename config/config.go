package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading pair
	Symbol     string // e.g. "BTCUSDT"
	BaseAsset  string // e.g. "BTC"
	QuoteAsset string // e.g. "USDT"

	// Grid parameters
	TotalCapital   float64 // Capital pool in quote currency
	GridLevels     int     // Number of grid levels
	RangePercent   float64 // Full band width in percent (14 means ±7%)
	ProfitPerLevel float64 // Target profit per level in percent
	MinOrderSize   float64 // Minimum order notional in quote currency
	FeePercent     float64 // Exchange fee per trade in percent
	MaxOrderSize   float64 // Maximum single-order notional in quote currency

	// Risk parameters
	GlobalStopPercent  float64 // Hard stop as percent of TotalCapital
	DailyLossPercent   float64 // Daily loss pause as percent of TotalCapital
	MaxDrawdownPercent float64 // Drawdown alert threshold in percent

	// Rebalance parameters
	RebalanceMarginPercent float64       // Breach margin beyond a bound, percent of center
	MinRebalanceInterval   time.Duration // Cooldown between completed rebalances

	// Control loop
	TickInterval     time.Duration
	SnapshotInterval time.Duration

	// Retry policy applied by the driving loop for transient errors
	RetryAttempts     int
	RetryInitialDelay time.Duration

	// Database
	DBPath string

	// Logging / metrics
	LogLevel    string
	MetricsAddr string // Empty disables the metrics listener

	// Shutdown behavior
	CancelOrdersOnStop bool
}

// CapitalPerLevel returns the advisory per-level allocation.
func (c *Config) CapitalPerLevel() float64 {
	return c.TotalCapital / float64(c.GridLevels)
}

// HalfRange returns half the band width in percent.
func (c *Config) HalfRange() float64 {
	return c.RangePercent / 2
}

// GlobalStopAmount returns the hard capital-preservation threshold in
// quote currency.
func (c *Config) GlobalStopAmount() float64 {
	return c.TotalCapital * c.GlobalStopPercent / 100
}

// DailyLossLimit returns the daily loss pause threshold in quote currency.
func (c *Config) DailyLossLimit() float64 {
	return c.TotalCapital * c.DailyLossPercent / 100
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Trading pair
	cfg.Symbol = getEnv("SYMBOL", "BTCUSDT")
	cfg.BaseAsset = getEnv("BASE_ASSET", "BTC")
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		errs = append(errs, "BASE_ASSET and QUOTE_ASSET must be set")
	}

	// Grid parameters
	cfg.TotalCapital, err = getEnvAsFloatRequired("TOTAL_CAPITAL", 500.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TOTAL_CAPITAL: %v", err))
	} else if cfg.TotalCapital <= 0 {
		errs = append(errs, "TOTAL_CAPITAL must be positive")
	}

	cfg.GridLevels, err = getEnvAsIntRequired("GRID_LEVELS", 15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GRID_LEVELS: %v", err))
	} else if cfg.GridLevels < 2 {
		errs = append(errs, "GRID_LEVELS must be at least 2")
	}

	cfg.RangePercent, err = getEnvAsFloatRequired("GRID_RANGE_PERCENT", 14.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GRID_RANGE_PERCENT: %v", err))
	} else if cfg.RangePercent <= 0 || cfg.RangePercent >= 100 {
		errs = append(errs, "GRID_RANGE_PERCENT must be between 0 and 100 (exclusive)")
	}

	cfg.ProfitPerLevel, err = getEnvAsFloatRequired("PROFIT_PER_LEVEL_PERCENT", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_PER_LEVEL_PERCENT: %v", err))
	} else if cfg.ProfitPerLevel <= 0 {
		errs = append(errs, "PROFIT_PER_LEVEL_PERCENT must be positive")
	}

	cfg.MinOrderSize, err = getEnvAsFloatRequired("MIN_ORDER_SIZE", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_ORDER_SIZE: %v", err))
	} else if cfg.MinOrderSize < 0 {
		errs = append(errs, "MIN_ORDER_SIZE cannot be negative")
	}

	cfg.FeePercent, err = getEnvAsFloatRequired("FEE_PERCENT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_PERCENT: %v", err))
	} else if cfg.FeePercent < 0 {
		errs = append(errs, "FEE_PERCENT cannot be negative")
	}

	// Default max order size: three times the per-level allocation.
	defaultMaxOrder := 0.0
	if cfg.GridLevels > 0 {
		defaultMaxOrder = cfg.TotalCapital / float64(cfg.GridLevels) * 3
	}
	cfg.MaxOrderSize, err = getEnvAsFloatRequired("MAX_ORDER_SIZE", defaultMaxOrder)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ORDER_SIZE: %v", err))
	} else if cfg.MaxOrderSize <= 0 {
		errs = append(errs, "MAX_ORDER_SIZE must be positive")
	}

	// Risk parameters
	cfg.GlobalStopPercent, err = getEnvAsFloatRequired("GLOBAL_STOP_PERCENT", 20.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid GLOBAL_STOP_PERCENT: %v", err))
	} else if cfg.GlobalStopPercent <= 0 || cfg.GlobalStopPercent > 100 {
		errs = append(errs, "GLOBAL_STOP_PERCENT must be between 0 and 100")
	}

	cfg.DailyLossPercent, err = getEnvAsFloatRequired("DAILY_LOSS_LIMIT_PERCENT", 5.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DAILY_LOSS_LIMIT_PERCENT: %v", err))
	} else if cfg.DailyLossPercent <= 0 || cfg.DailyLossPercent > 100 {
		errs = append(errs, "DAILY_LOSS_LIMIT_PERCENT must be between 0 and 100")
	}

	cfg.MaxDrawdownPercent = getEnvAsFloat("MAX_DRAWDOWN_PERCENT", 10.0)
	if cfg.MaxDrawdownPercent <= 0 || cfg.MaxDrawdownPercent > 100 {
		errs = append(errs, "MAX_DRAWDOWN_PERCENT must be between 0 and 100")
	}

	// Rebalance parameters
	cfg.RebalanceMarginPercent = getEnvAsFloat("REBALANCE_MARGIN_PERCENT", 0.5)
	if cfg.RebalanceMarginPercent < 0 {
		errs = append(errs, "REBALANCE_MARGIN_PERCENT cannot be negative")
	}

	minRebalanceSec := getEnvAsInt("MIN_REBALANCE_INTERVAL_SECONDS", 900)
	if minRebalanceSec < 0 {
		errs = append(errs, "MIN_REBALANCE_INTERVAL_SECONDS cannot be negative")
	}
	cfg.MinRebalanceInterval = time.Duration(minRebalanceSec) * time.Second

	// Control loop
	tickSec := getEnvAsInt("TICK_INTERVAL_SECONDS", 5)
	if tickSec <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSec) * time.Second

	snapshotSec := getEnvAsInt("SNAPSHOT_INTERVAL_SECONDS", 60)
	if snapshotSec <= 0 {
		errs = append(errs, "SNAPSHOT_INTERVAL_SECONDS must be positive")
	}
	cfg.SnapshotInterval = time.Duration(snapshotSec) * time.Second

	// Retry policy
	cfg.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", 3)
	if cfg.RetryAttempts < 0 {
		errs = append(errs, "RETRY_ATTEMPTS cannot be negative")
	}
	retryDelayMs := getEnvAsInt("RETRY_INITIAL_DELAY_MS", 500)
	if retryDelayMs <= 0 {
		errs = append(errs, "RETRY_INITIAL_DELAY_MS must be positive")
	}
	cfg.RetryInitialDelay = time.Duration(retryDelayMs) * time.Millisecond

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/gridpilot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging / metrics
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Shutdown behavior
	cfg.CancelOrdersOnStop = getEnvAsBool("CANCEL_ORDERS_ON_STOP", true)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
