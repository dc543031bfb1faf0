package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridPilot/internal/domain"
	"gridPilot/internal/grid"
	"gridPilot/internal/ports"
)

type nopLogger struct{}

func (l *nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// newTestGrid builds a 46500..53500 grid centered at 50000.
func newTestGrid(t *testing.T) *grid.Calculator {
	t.Helper()
	calc, err := grid.NewCalculator(grid.Config{
		TotalCapital: 500,
		NumLevels:    15,
		RangePercent: 14,
	}, &nopLogger{})
	require.NoError(t, err)
	_, err = calc.Calculate(50000)
	require.NoError(t, err)
	return calc
}

func newTestRebalancer(t *testing.T, calc *grid.Calculator, cancel, seed func(ctx context.Context) error) *Rebalancer {
	t.Helper()
	r, err := NewRebalancer(Config{
		MarginPercent: 0.5,
		MinInterval:   15 * time.Minute,
	}, calc, cancel, seed, &nopLogger{})
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestShouldRebalance_InsideBand(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	for _, price := range []float64{50000, 46500, 53500, 48000} {
		rec := r.ShouldRebalance(price)
		assert.False(t, rec.Rebalance, "price %.0f is inside the band", price)
	}
}

func TestShouldRebalance_MarginBuffersTheBounds(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	// Margin is 0.5% of 50000 = 250: the trigger sits at 53750/46250.
	assert.False(t, r.ShouldRebalance(53700).Rebalance)
	rec := r.ShouldRebalance(53800)
	assert.True(t, rec.Rebalance)
	assert.Equal(t, domain.RebalancePriceAboveGrid, rec.Reason)

	assert.False(t, r.ShouldRebalance(46300).Rebalance)
	rec = r.ShouldRebalance(46200)
	assert.True(t, rec.Rebalance)
	assert.Equal(t, domain.RebalancePriceBelowGrid, rec.Reason)
}

func TestShouldRebalance_CooldownBlocks(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	_, err := r.ExecuteRebalance(context.Background(), 54000, domain.RebalancePriceAboveGrid, 54000)
	require.NoError(t, err)

	// New grid centers at 54000; break out above it within the cooldown.
	r.now = func() time.Time { return time.Date(2025, 6, 15, 12, 10, 0, 0, time.UTC) }
	rec := r.ShouldRebalance(59000)
	assert.False(t, rec.Rebalance)
	assert.Contains(t, rec.Detail, "cooldown")

	// After the cooldown the same price triggers.
	r.now = func() time.Time { return time.Date(2025, 6, 15, 12, 20, 0, 0, time.UTC) }
	assert.True(t, r.ShouldRebalance(59000).Rebalance)
}

func TestShouldRebalance_NeverMutates(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, r.ShouldRebalance(54000).Rebalance)
	}
	assert.Empty(t, r.History())
	assert.True(t, r.LastCompleted().IsZero())
}

func TestExecuteRebalance_ShiftsGrid(t *testing.T) {
	calc := newTestGrid(t)
	var canceled, seeded bool
	r := newTestRebalancer(t, calc,
		func(ctx context.Context) error { canceled = true; return nil },
		func(ctx context.Context) error { seeded = true; return nil },
	)

	action, err := r.ExecuteRebalance(context.Background(), 54000, domain.RebalancePriceAboveGrid, 54000)
	require.NoError(t, err)
	assert.True(t, canceled)
	assert.True(t, seeded)

	assert.Equal(t, domain.RebalanceCompleted, action.Status)
	assert.InDelta(t, 50000, action.OldCenterPrice, 1e-9)
	assert.InDelta(t, 54000, action.NewCenterPrice, 1e-9)
	assert.InDelta(t, 8.0, action.PriceChangePercent, 1e-9)
	assert.False(t, action.CompletedAt.IsZero())

	assert.InDelta(t, 54000, calc.CenterPrice(), 1e-9)
	lower, upper := calc.Bounds()
	assert.InDelta(t, 54000*0.93, lower, 1e-6)
	assert.InDelta(t, 54000*1.07, upper, 1e-6)
}

func TestExecuteRebalance_FailureRecordedAndCooldownNotAdvanced(t *testing.T) {
	calc := newTestGrid(t)
	seedErr := errors.New("seed failed")
	r := newTestRebalancer(t, calc, nil,
		func(ctx context.Context) error { return seedErr },
	)

	action, err := r.ExecuteRebalance(context.Background(), 54000, domain.RebalancePriceAboveGrid, 54000)
	require.Error(t, err)
	assert.Equal(t, domain.RebalanceFailed, action.Status)
	assert.Contains(t, action.Error, "seed failed")
	assert.True(t, r.LastCompleted().IsZero(), "failed shift does not start the cooldown")

	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.RebalanceFailed, history[0].Status)
}

func TestExecuteRebalance_CancelFailureSkipsRecalc(t *testing.T) {
	calc := newTestGrid(t)
	r := newTestRebalancer(t, calc,
		func(ctx context.Context) error { return ports.ErrConnectionFailed },
		nil,
	)

	_, err := r.ExecuteRebalance(context.Background(), 54000, domain.RebalancePriceAboveGrid, 54000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.InDelta(t, 50000, calc.CenterPrice(), 1e-9, "grid untouched when cancel fails")
}

func TestCheckAndRebalance(t *testing.T) {
	calc := newTestGrid(t)
	r := newTestRebalancer(t, calc, nil, nil)

	action, err := r.CheckAndRebalance(context.Background(), 51000)
	require.NoError(t, err)
	assert.Nil(t, action, "no shift while inside the band")

	action, err = r.CheckAndRebalance(context.Background(), 54000)
	require.NoError(t, err)
	require.NotNil(t, action)
	assert.Equal(t, domain.RebalancePriceAboveGrid, action.Reason)
	assert.InDelta(t, 54000, calc.CenterPrice(), 1e-9, "grid re-centers on the trigger price")
}

func TestOnRebalance_CallbackFires(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	var got []*domain.RebalanceAction
	r.OnRebalance(func(a *domain.RebalanceAction) { got = append(got, a) })

	_, err := r.ExecuteRebalance(context.Background(), 54000, domain.RebalanceManual, 54000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.RebalanceCompleted, got[0].Status)
}

func TestRestoreCooldown(t *testing.T) {
	r := newTestRebalancer(t, newTestGrid(t), nil, nil)

	r.RestoreCooldown(time.Date(2025, 6, 15, 11, 50, 0, 0, time.UTC))
	rec := r.ShouldRebalance(54000)
	assert.False(t, rec.Rebalance, "restored cooldown still applies")
}
