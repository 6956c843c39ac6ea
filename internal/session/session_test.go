package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader-go/internal/exchange"
	"papertrader-go/internal/signal"
	"papertrader-go/internal/strategy"
)

func fastDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Log:        zerolog.Nop(),
		BusOptions: []exchange.Option{exchange.WithResolution(5 * time.Millisecond)},
	}
}

func maParams() Params {
	return Params{
		StrategyID:     strategy.MovingAverageID,
		StrategyParams: map[string]any{"symbol": "SIM_A", "short_window": 2, "long_window": 3},
		InitialCash:    100000,
		ChartInterval:  "1m",
		Feeds: []exchange.SymbolConfig{
			{Symbol: "SIM_A", InitialPrice: 100, Volatility: 0.01, Interval: 10 * time.Millisecond},
		},
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	deps := fastDeps(t)

	bad := maParams()
	bad.StrategyID = "nope"
	_, err := New(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	bad = maParams()
	bad.Risk = map[string]float64{"leverage": 2}
	_, err = New(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidParams)

	bad = maParams()
	bad.ChartInterval = "3w"
	_, err = New(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidParams)

	bad = maParams()
	bad.InitialCash = -5
	_, err = New(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidParams)

	bad = maParams()
	bad.Feeds = append(bad.Feeds, bad.Feeds[0])
	_, err = New(bad, deps)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewAddsDefaultFeedForStrategySymbol(t *testing.T) {
	params := maParams()
	params.Feeds = nil
	params.ChartInterval = ""
	s, err := New(params, fastDeps(t))
	require.NoError(t, err)
	require.Len(t, s.feeds, 1)
	assert.Equal(t, "SIM_A", s.feeds[0].Symbol)
	assert.Equal(t, DefaultChartInterval, s.Params().ChartInterval)
	assert.NotEmpty(t, s.ID())

	rsi := DefaultFeed(strategy.RSIID, "X")
	assert.Equal(t, 0.02, rsi.Volatility)
}

func TestSessionLifecycle(t *testing.T) {
	store := NewFileStore(t.TempDir())
	deps := fastDeps(t)
	deps.Store = store
	deps.SnapshotInterval = 20 * time.Millisecond
	ticks := make(chan signal.Tick, 256)
	deps.OnTick = func(tk signal.Tick) {
		select {
		case ticks <- tk:
		default:
		}
	}

	s, err := New(maParams(), deps)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)
	assert.ErrorIs(t, s.Reset(), ErrRunning)

	select {
	case tk := <-ticks:
		assert.Equal(t, "SIM_A", tk.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	require.Eventually(t, func() bool {
		_, ok := s.CurrentBar("SIM_A", "")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, strategy.MovingAverageID, st.Strategy.ID)
	assert.NotEmpty(t, st.Strategy.Name)
	assert.Contains(t, st.Prices, "SIM_A")

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
	assert.False(t, s.Running())

	// state is kept and priced from the frozen last prices
	st = s.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.Prices, "SIM_A")

	snap, err := store.Load(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, strategy.MovingAverageID, snap.StrategyID)

	require.NoError(t, s.Reset())
	assert.Empty(t, s.Engine().Trades())
	_, ok := s.CurrentBar("SIM_A", "1m")
	assert.False(t, ok)
}

func TestRestoreRejectsOtherStrategy(t *testing.T) {
	s, err := New(maParams(), fastDeps(t))
	require.NoError(t, err)
	err = s.Restore(Snapshot{SessionID: "x", StrategyID: strategy.RSIID})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestRestoreAdoptsSnapshot(t *testing.T) {
	src, err := New(maParams(), fastDeps(t))
	require.NoError(t, err)
	require.NoError(t, src.portfolio.Apply("SIM_A", "BUY", 10, 100, time.Now()))
	snap := src.Snapshot()

	dst, err := New(maParams(), fastDeps(t))
	require.NoError(t, err)
	require.NoError(t, dst.Restore(snap))
	assert.Equal(t, src.ID(), dst.ID())
	assert.Equal(t, src.portfolio.Cash(), dst.portfolio.Cash())
}

func TestRestoreKeepsStateWhenEngineSnapshotInvalid(t *testing.T) {
	src, err := New(maParams(), fastDeps(t))
	require.NoError(t, err)
	require.NoError(t, src.portfolio.Apply("SIM_A", "BUY", 10, 100, time.Now()))
	snap := src.Snapshot()
	snap.Engine.TradeQuantity = 0

	dst, err := New(maParams(), fastDeps(t))
	require.NoError(t, err)
	id, engine := dst.ID(), dst.Engine()

	require.Error(t, dst.Restore(snap))
	assert.Equal(t, id, dst.ID())
	assert.Same(t, engine, dst.Engine())
	assert.Same(t, engine.Portfolio(), dst.portfolio)
	assert.Equal(t, 100000.0, dst.portfolio.Cash())
	assert.Empty(t, dst.portfolio.Holdings())
}

func TestManager(t *testing.T) {
	m := NewManager(fastDeps(t))
	_, ok := m.Current()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Stop(), ErrNotRunning)
	assert.ErrorIs(t, m.Reset(), ErrNoSession)

	first, err := m.Start(context.Background(), maParams())
	require.NoError(t, err)
	_, err = m.Start(context.Background(), maParams())
	assert.ErrorIs(t, err, ErrRunning)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Reset())

	second, err := m.Start(context.Background(), maParams())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, second, cur)

	m.Shutdown()
	assert.False(t, second.Running())
}

func TestManagerResume(t *testing.T) {
	store := NewFileStore(t.TempDir())
	deps := fastDeps(t)
	deps.Store = store

	m := NewManager(deps)
	_, err := m.Resume(context.Background(), maParams(), "missing")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	s, err := New(maParams(), deps)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), s.Snapshot()))

	resumed, err := m.Resume(context.Background(), maParams(), s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), resumed.ID())
	m.Shutdown()
}
