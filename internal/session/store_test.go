package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader-go/internal/execution"
	"papertrader-go/internal/paper"
	"papertrader-go/internal/risk"
)

func sampleSnapshot(id string) Snapshot {
	return Snapshot{
		SessionID:  id,
		Taken:      time.Unix(1_700_000_000, 0).UTC(),
		StrategyID: "realtime_rsi",
		Portfolio: paper.PortfolioSnapshot{
			InitialCash:  1000,
			Cash:         500,
			PeakNetWorth: 1000,
			Holdings:     []paper.Holding{{Symbol: "SIM_A", Quantity: 5, AvgCost: 100}},
		},
		Engine: execution.EngineSnapshot{
			TradeQuantity: 5,
			TradeCounter:  1,
			Limits:        risk.DefaultLimits(),
			Trades:        []paper.TradeRecord{{ID: "TRADE_00001", Symbol: "SIM_A", Side: paper.Buy, Quantity: 5, Price: 100, TotalValue: 500}},
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	store := NewFileStore(dir)
	ctx := context.Background()

	_, err := store.Load(ctx, "abc")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, sampleSnapshot("abc")))
	_, err = os.Stat(filepath.Join(dir, "abc.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	got, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, int64(5), got.Portfolio.Holdings[0].Quantity)
	assert.Equal(t, "TRADE_00001", got.Engine.Trades[0].ID)

	assert.Error(t, store.Save(ctx, sampleSnapshot("../escape")))
	assert.Error(t, store.Save(ctx, sampleSnapshot("")))
}

type fakeRedis struct {
	data map[string][]byte
	ttl  map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.data[key] = value.([]byte)
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client := newFakeRedis()
	store := NewRedisStore(client, "", time.Hour)
	ctx := context.Background()

	_, err := store.Load(ctx, "abc")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, sampleSnapshot("abc")))
	assert.Contains(t, client.data, "papertrader:snapshot:abc")
	assert.Equal(t, time.Hour, client.ttl["papertrader:snapshot:abc"])

	got, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Portfolio.Cash)
	assert.Equal(t, risk.DefaultLimits(), got.Engine.Limits)
}
