package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridPilot/internal/domain"
)

type nopLogger struct{}

func (l *nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleTrade(levelIndex int, closing bool) *domain.TradeRecord {
	t := &domain.TradeRecord{
		Type:       domain.TradeGridBuy,
		Side:       domain.Buy,
		Quantity:   0.001,
		Price:      48000,
		LevelIndex: levelIndex,
		Fee:        0.048,
		ExecutedAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	if closing {
		t.Type = domain.TradeGridSell
		t.Side = domain.Sell
		t.Profit = 0.5
		t.Closing = true
	}
	return t
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestAppendAndFindTrades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, err := repo.AppendTrade(ctx, sampleTrade(3, false))
	require.NoError(t, err)
	id2, err := repo.AppendTrade(ctx, sampleTrade(3, true))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	trades, err := repo.FindTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, domain.TradeGridBuy, trades[0].Type)
	assert.Equal(t, domain.Buy, trades[0].Side)
	assert.False(t, trades[0].Closing)
	assert.InDelta(t, 0.048, trades[0].Fee, 1e-9)

	assert.Equal(t, domain.TradeGridSell, trades[1].Type)
	assert.True(t, trades[1].Closing)
	assert.InDelta(t, 0.5, trades[1].Profit, 1e-9)
	assert.True(t, trades[1].ExecutedAt.Equal(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)))
}

func TestFindTrades_LimitReturnsMostRecentOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.AppendTrade(ctx, sampleTrade(i, false))
		require.NoError(t, err)
	}

	trades, err := repo.FindTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 3, trades[0].LevelIndex)
	assert.Equal(t, 4, trades[1].LevelIndex)
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// No snapshot yet.
	snap, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	original := &domain.Snapshot{
		TakenAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Symbol:  "BTCUSDT",
		Orders: []domain.Order{
			{LocalID: "a", ExchangeID: 101, Symbol: "BTCUSDT", Side: domain.Buy, Type: domain.Limit, Price: 48000, Quantity: 0.001, LevelIndex: 3, Status: domain.OrderOpen},
		},
		Positions: []domain.Position{
			{LevelIndex: 3, Quantity: 0.001, EntryPrice: 48000, CurrentPrice: 48500},
		},
		Metrics: map[string]float64{"center_price": 50000},
	}
	require.NoError(t, repo.SaveSnapshot(ctx, original))

	loaded, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "BTCUSDT", loaded.Symbol)
	require.Len(t, loaded.Orders, 1)
	assert.Equal(t, "a", loaded.Orders[0].LocalID)
	require.Len(t, loaded.Positions, 1)
	assert.InDelta(t, 48000, loaded.Positions[0].EntryPrice, 1e-9)
	assert.InDelta(t, 50000, loaded.Metrics["center_price"], 1e-9)

	// A second save replaces, never appends.
	original.Symbol = "ETHUSDT"
	require.NoError(t, repo.SaveSnapshot(ctx, original))
	loaded, err = repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", loaded.Symbol)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	repo, err := NewRepository(Config{DBPath: dbPath, Logger: &nopLogger{}})
	require.NoError(t, err)
	_, err = repo.AppendTrade(context.Background(), sampleTrade(1, false))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo2, err := NewRepository(Config{DBPath: dbPath, Logger: &nopLogger{}})
	require.NoError(t, err)
	defer repo2.Close()

	trades, err := repo2.FindTrades(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}
