package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "BTC", cfg.BaseAsset)
	assert.Equal(t, "USDT", cfg.QuoteAsset)
	assert.True(t, cfg.IsTestnet, "testnet is the safe default")

	assert.InDelta(t, 500.0, cfg.TotalCapital, 1e-9)
	assert.Equal(t, 15, cfg.GridLevels)
	assert.InDelta(t, 14.0, cfg.RangePercent, 1e-9)
	assert.InDelta(t, 20.0, cfg.GlobalStopPercent, 1e-9)
	assert.InDelta(t, 5.0, cfg.DailyLossPercent, 1e-9)
	assert.InDelta(t, 0.5, cfg.RebalanceMarginPercent, 1e-9)
	assert.Equal(t, 15*time.Minute, cfg.MinRebalanceInterval)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.True(t, cfg.CancelOrdersOnStop)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SYMBOL", "ETHUSDT")
	t.Setenv("BASE_ASSET", "ETH")
	t.Setenv("TOTAL_CAPITAL", "1000")
	t.Setenv("GRID_LEVELS", "21")
	t.Setenv("GRID_RANGE_PERCENT", "10")
	t.Setenv("TICK_INTERVAL_SECONDS", "2")
	t.Setenv("IS_TESTNET", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, "ETH", cfg.BaseAsset)
	assert.InDelta(t, 1000.0, cfg.TotalCapital, 1e-9)
	assert.Equal(t, 21, cfg.GridLevels)
	assert.InDelta(t, 10.0, cfg.RangePercent, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.False(t, cfg.IsTestnet)
}

func TestLoadConfig_CollectsValidationErrors(t *testing.T) {
	t.Setenv("TOTAL_CAPITAL", "-1")
	t.Setenv("GRID_LEVELS", "1")
	t.Setenv("GRID_RANGE_PERCENT", "150")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOTAL_CAPITAL")
	assert.Contains(t, err.Error(), "GRID_LEVELS")
	assert.Contains(t, err.Error(), "GRID_RANGE_PERCENT")
}

func TestLoadConfig_InvalidNumberRejected(t *testing.T) {
	t.Setenv("TOTAL_CAPITAL", "not-a-number")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOTAL_CAPITAL")
}

func TestDerivedValues(t *testing.T) {
	cfg := &Config{TotalCapital: 500, GridLevels: 15, RangePercent: 14, GlobalStopPercent: 20, DailyLossPercent: 5}

	assert.InDelta(t, 500.0/15, cfg.CapitalPerLevel(), 1e-9)
	assert.InDelta(t, 7.0, cfg.HalfRange(), 1e-9)
	assert.InDelta(t, 100.0, cfg.GlobalStopAmount(), 1e-9)
	assert.InDelta(t, 25.0, cfg.DailyLossLimit(), 1e-9)
}
