package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
	"gridPilot/internal/positions"
)

type nopLogger struct{}

func (l *nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func defaultConfig() Config {
	return Config{
		InitialCapital:        500,
		GlobalStopPercent:     20,
		DailyLossLimitPercent: 5,
		MaxDrawdownPercent:    15,
		MaxExposurePercent:    80,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(defaultConfig(), &nopLogger{})
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestNewManager_Validation(t *testing.T) {
	cfg := defaultConfig()
	cfg.InitialCapital = 0
	_, err := NewManager(cfg, &nopLogger{})
	assert.ErrorIs(t, err, ports.ErrInvalidConfig)

	cfg = defaultConfig()
	cfg.GlobalStopPercent = 120
	_, err = NewManager(cfg, &nopLogger{})
	assert.ErrorIs(t, err, ports.ErrInvalidConfig)

	_, err = NewManager(defaultConfig(), nil)
	assert.Error(t, err)
}

func TestCheckRisk_NormalWhenWithinLimits(t *testing.T) {
	m := newTestManager(t)

	level := m.CheckRisk(positions.Metrics{TotalPnL: -10, TodayPnL: -5})
	assert.Equal(t, domain.RiskNormal, level)
	assert.True(t, m.IsTradingAllowed())
	assert.Empty(t, m.Alerts())
}

func TestCheckRisk_GlobalStopHaltsTrading(t *testing.T) {
	m := newTestManager(t)

	var stopReason string
	m.OnEmergencyStop(func(reason string) { stopReason = reason })

	// 20% of 500 = 100.
	level := m.CheckRisk(positions.Metrics{TotalPnL: -100})
	assert.Equal(t, domain.RiskEmergency, level)
	assert.False(t, m.IsTradingAllowed())
	assert.NotEmpty(t, stopReason)

	err := m.ValidateOrder(domain.Buy, 0.001, 48000)
	assert.ErrorIs(t, err, ports.ErrTradingHalted)
}

func TestCheckRisk_GlobalStopLatchesUntilReset(t *testing.T) {
	m := newTestManager(t)

	m.CheckRisk(positions.Metrics{TotalPnL: -100})
	require.False(t, m.IsTradingAllowed())

	// Recovery alone does not clear the stop.
	m.CheckRisk(positions.Metrics{TotalPnL: -50})
	assert.False(t, m.IsTradingAllowed())

	m.ResetEmergencyStop()
	assert.True(t, m.IsTradingAllowed())
}

func TestCheckRisk_DailyLossPausesForUTCDay(t *testing.T) {
	m := newTestManager(t)

	// 5% of 500 = 25.
	level := m.CheckRisk(positions.Metrics{TotalPnL: -25, TodayPnL: -25})
	assert.Equal(t, domain.RiskCritical, level)
	assert.False(t, m.IsTradingAllowed())

	// Still paused later the same day even if today's PnL resets.
	m.now = func() time.Time { return time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC) }
	m.CheckRisk(positions.Metrics{TotalPnL: -25, TodayPnL: 0})
	assert.False(t, m.IsTradingAllowed())

	// Cleared on the next UTC day.
	m.now = func() time.Time { return time.Date(2025, 6, 16, 0, 5, 0, 0, time.UTC) }
	m.CheckRisk(positions.Metrics{TotalPnL: -25, TodayPnL: 0})
	assert.True(t, m.IsTradingAllowed())
}

func TestCheckRisk_ResetDailyLimit(t *testing.T) {
	m := newTestManager(t)

	m.CheckRisk(positions.Metrics{TodayPnL: -25})
	require.False(t, m.IsTradingAllowed())

	m.ResetDailyLimit()
	assert.True(t, m.IsTradingAllowed())
}

func TestCheckRisk_OneAlertPerContinuousBreach(t *testing.T) {
	m := newTestManager(t)

	var raised []*domain.RiskAlert
	m.OnAlert(func(a *domain.RiskAlert) { raised = append(raised, a) })

	m.CheckRisk(positions.Metrics{MaxDrawdown: 0.20})
	m.CheckRisk(positions.Metrics{MaxDrawdown: 0.22})
	assert.Len(t, raised, 1, "continuous breach raises a single alert")

	// Recovering below the threshold re-arms the alert.
	m.CheckRisk(positions.Metrics{MaxDrawdown: 0.10})
	m.CheckRisk(positions.Metrics{MaxDrawdown: 0.20})
	assert.Len(t, raised, 2)
}

func TestCheckRisk_ExposureWarning(t *testing.T) {
	m := newTestManager(t)

	// 80% of 500 = 400.
	level := m.CheckRisk(positions.Metrics{Exposure: 450})
	assert.Equal(t, domain.RiskWarning, level)
	assert.True(t, m.IsTradingAllowed(), "warnings do not halt trading")

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertExposure, alerts[0].Type)

	// Exposure falling back re-arms the alert.
	m.CheckRisk(positions.Metrics{Exposure: 100})
	m.CheckRisk(positions.Metrics{Exposure: 450})
	assert.Len(t, m.Alerts(), 2)
}

func TestValidateOrder(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxOrderNotional = 50
	m, err := NewManager(cfg, &nopLogger{})
	require.NoError(t, err)

	assert.NoError(t, m.ValidateOrder(domain.Buy, 0.001, 48000))

	err = m.ValidateOrder(domain.Buy, 0.01, 48000)
	assert.ErrorIs(t, err, ports.ErrInvalidOrder, "notional above cap")

	err = m.ValidateOrder(domain.Buy, 0, 48000)
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)
}

func TestEmergencyStop_Manual(t *testing.T) {
	m := newTestManager(t)

	var reasons []string
	m.OnEmergencyStop(func(reason string) { reasons = append(reasons, reason) })

	m.EmergencyStop("operator requested")
	assert.False(t, m.IsTradingAllowed())
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "operator requested")

	// Idempotent while latched.
	m.EmergencyStop("again")
	assert.Len(t, reasons, 1)

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertManualStop, alerts[0].Type)
	assert.Equal(t, domain.RiskEmergency, alerts[0].Level)
}

func TestAcknowledgeAlert(t *testing.T) {
	m := newTestManager(t)

	m.CheckRisk(positions.Metrics{MaxDrawdown: 0.20})
	alerts := m.Alerts()
	require.Len(t, alerts, 1)

	assert.True(t, m.AcknowledgeAlert(alerts[0].ID))
	assert.False(t, m.AcknowledgeAlert("no-such-id"))

	assert.True(t, m.Alerts()[0].Acknowledged)
	assert.True(t, m.IsTradingAllowed(), "acknowledging never changes trading state")
}
