package positions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"
)

type nopLogger struct{}

func (l *nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(500, &nopLogger{})
	require.NoError(t, err)
	tr.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return tr
}

func TestNewTracker_Validation(t *testing.T) {
	_, err := NewTracker(0, &nopLogger{})
	assert.ErrorIs(t, err, ports.ErrInvalidConfig)

	_, err = NewTracker(500, nil)
	assert.Error(t, err)
}

func TestRecordTrade_BuyOpensPosition(t *testing.T) {
	tr := newTestTracker(t)

	rec, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0.048)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.False(t, rec.Closing)
	assert.Zero(t, rec.Profit)

	pos, ok := tr.Position(3)
	require.True(t, ok)
	assert.InDelta(t, 0.001, pos.Quantity, 1e-12)
	assert.InDelta(t, 48000, pos.EntryPrice, 1e-9)
}

func TestRecordTrade_BuyGrowsPositionWeightedAverage(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0)
	require.NoError(t, err)
	_, err = tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 46000, 3, 0)
	require.NoError(t, err)

	pos, ok := tr.Position(3)
	require.True(t, ok)
	assert.InDelta(t, 0.002, pos.Quantity, 1e-12)
	assert.InDelta(t, 47000, pos.EntryPrice, 1e-6)
}

func TestRecordTrade_SellRealizesProfit(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.00069444, 48000, 3, 0)
	require.NoError(t, err)

	rec, err := tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.00069444, 48500, 3, 0)
	require.NoError(t, err)
	assert.True(t, rec.Closing)
	assert.InDelta(t, 0.34722, rec.Profit, 1e-4)

	_, ok := tr.Position(3)
	assert.False(t, ok, "fully sold position should be removed")

	m := tr.Metrics()
	assert.InDelta(t, 0.34722, m.RealizedPnL, 1e-4)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 0, m.Losses)
	assert.InDelta(t, 1.0, m.WinRate, 1e-12)
}

func TestRecordTrade_SellDeductsFee(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0.048)
	require.NoError(t, err)

	rec, err := tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.001, 48500, 3, 0.0485)
	require.NoError(t, err)
	assert.InDelta(t, 0.5-0.0485, rec.Profit, 1e-9)

	m := tr.Metrics()
	assert.InDelta(t, 0.048+0.0485, m.TotalFees, 1e-9)
}

func TestRecordTrade_SellWithoutPositionRejected(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.001, 48500, 3, 0)
	assert.ErrorIs(t, err, ports.ErrNoOpenPosition)
	assert.Empty(t, tr.Trades(), "rejected sell must not be appended")
}

func TestRecordTrade_SellExceedingPositionRejected(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0)
	require.NoError(t, err)

	_, err = tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.002, 48500, 3, 0)
	assert.ErrorIs(t, err, ports.ErrNoOpenPosition)

	pos, ok := tr.Position(3)
	require.True(t, ok)
	assert.InDelta(t, 0.001, pos.Quantity, 1e-12, "rejected sell must not shrink the position")
}

func TestRecordTrade_PartialSellShrinksPosition(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.002, 48000, 3, 0)
	require.NoError(t, err)

	_, err = tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.001, 48500, 3, 0)
	require.NoError(t, err)

	pos, ok := tr.Position(3)
	require.True(t, ok)
	assert.InDelta(t, 0.001, pos.Quantity, 1e-12)
	assert.InDelta(t, 48000, pos.EntryPrice, 1e-9, "entry price unchanged by partial close")
}

func TestRecordTrade_InvalidInput(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0, 48000, 3, 0)
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)

	_, err = tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, -1, 3, 0)
	assert.ErrorIs(t, err, ports.ErrInvalidOrder)
}

func TestUpdatePrices_UnrealizedPnL(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0)
	require.NoError(t, err)

	tr.UpdatePrices(49000)
	m := tr.Metrics()
	assert.InDelta(t, 1.0, m.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 1.0, m.TotalPnL, 1e-9)
	assert.InDelta(t, 49.0, m.Exposure, 1e-9)
	assert.InDelta(t, 0.2, m.ReturnPercent, 1e-9)

	tr.UpdatePrices(47000)
	m = tr.Metrics()
	assert.InDelta(t, -1.0, m.UnrealizedPnL, 1e-9)
}

func TestMetrics_MaxDrawdown(t *testing.T) {
	tr := newTestTracker(t)

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.01, 48000, 3, 0)
	require.NoError(t, err)

	tr.UpdatePrices(50000) // equity 520, new peak
	tr.UpdatePrices(47000) // equity 490, drawdown 30/520

	m := tr.Metrics()
	assert.InDelta(t, 30.0/520.0, m.MaxDrawdown, 1e-9)

	// Recovery does not reduce the recorded maximum.
	tr.UpdatePrices(50000)
	m = tr.Metrics()
	assert.InDelta(t, 30.0/520.0, m.MaxDrawdown, 1e-9)
}

func TestMetrics_TodayPnLUsesUTCDay(t *testing.T) {
	tr := newTestTracker(t)

	// A round trip closed yesterday.
	tr.now = func() time.Time { return time.Date(2025, 6, 14, 23, 0, 0, 0, time.UTC) }
	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0)
	require.NoError(t, err)
	_, err = tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.001, 48500, 3, 0)
	require.NoError(t, err)

	// And one closed today.
	tr.now = func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }
	_, err = tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 47000, 2, 0)
	require.NoError(t, err)
	_, err = tr.RecordTrade(domain.TradeGridSell, domain.Sell, 0.001, 47200, 2, 0)
	require.NoError(t, err)

	m := tr.Metrics()
	assert.InDelta(t, 0.2, m.TodayPnL, 1e-9)
	assert.InDelta(t, 0.7, m.RealizedPnL, 1e-9)
}

func TestOnTrade_CallbackFires(t *testing.T) {
	tr := newTestTracker(t)

	var got []*domain.TradeRecord
	tr.OnTrade(func(rec *domain.TradeRecord) {
		got = append(got, rec)
		// Callbacks may read tracker state without deadlocking.
		tr.Metrics()
	})

	_, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 48000, 3, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Buy, got[0].Side)
}

func TestRestore_RebuildsState(t *testing.T) {
	tr := newTestTracker(t)

	trades := []*domain.TradeRecord{
		{ID: 7, Type: domain.TradeGridBuy, Side: domain.Buy, Quantity: 0.001, Price: 48000, LevelIndex: 3, ExecutedAt: time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC)},
		{ID: 8, Type: domain.TradeGridSell, Side: domain.Sell, Quantity: 0.001, Price: 48500, LevelIndex: 3, Profit: 0.5, Closing: true, ExecutedAt: time.Date(2025, 6, 14, 11, 0, 0, 0, time.UTC)},
	}
	positions := []domain.Position{
		{LevelIndex: 2, Quantity: 0.002, EntryPrice: 47000, CurrentPrice: 47000},
	}
	tr.Restore(trades, positions)

	m := tr.Metrics()
	assert.Equal(t, 2, m.TotalTrades)
	assert.InDelta(t, 0.5, m.RealizedPnL, 1e-9)
	assert.Equal(t, 1, m.OpenPositions)

	rec, err := tr.RecordTrade(domain.TradeGridBuy, domain.Buy, 0.001, 46000, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.ID, "trade IDs continue past restored log")
}
