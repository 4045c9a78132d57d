package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTradeBot/internal/domain"
)

type testLogger struct{}

func (testLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (testLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (testLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "trades.db"),
		Logger: testLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleTrade(symbol string, pnl float64, exitTime time.Time) *domain.Trade {
	return &domain.Trade{
		PositionID:  "pos-1",
		Symbol:      symbol,
		Side:        domain.Long,
		EntryPrice:  2000,
		ExitPrice:   2100,
		Quantity:    1.5,
		PnL:         pnl,
		Commission:  0.5,
		EntryTime:   exitTime.Add(-time.Hour),
		ExitTime:    exitTime,
		CloseReason: domain.CloseReasonTakeProfit,
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "x.db"})
	require.Error(t, err)
}

func TestCreateAndFindBySymbol(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 149.5, now.Add(-2*time.Minute)))
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", -20, now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("BTCUSDT", 10, now))
	require.NoError(t, err)

	trades, err := repo.FindBySymbol(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Most recent first.
	assert.InDelta(t, -20, trades[0].PnL, 1e-9)
	assert.InDelta(t, 149.5, trades[1].PnL, 1e-9)
	assert.Equal(t, domain.Long, trades[0].Side)
	assert.Equal(t, domain.CloseReasonTakeProfit, trades[0].CloseReason)

	limited, err := repo.FindBySymbol(ctx, "ETHUSDT", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.FindBySymbol(ctx, "SOLUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCountTodayBySymbol(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 5, now))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 5, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	count, err := repo.CountTodayBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTotalRealizedPnL(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	total, err := repo.TotalRealizedPnL(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "empty journal sums to zero")

	now := time.Now().UTC()
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 100, now))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("BTCUSDT", -30.5, now))
	require.NoError(t, err)

	total, err = repo.TotalRealizedPnL(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 69.5, total, 1e-9)
}
