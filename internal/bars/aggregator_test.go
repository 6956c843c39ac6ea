package bars

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader-go/internal/signal"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"1m":  time.Minute,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "m", "0m", "-5m", "1w", "1.5h", "abc", "144115188075855872d", "9223372036854775807s"} {
		_, err := ParseInterval(bad)
		assert.Truef(t, errors.Is(err, ErrUnknownInterval), "expected ErrUnknownInterval for %q, got %v", bad, err)
	}
}

func TestUpdateFoldsTicksWithinBucket(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	base := time.Unix(1_700_000_040, 0) // aligned to a minute boundary

	ticks := []struct {
		price  float64
		offset time.Duration
		volume float64
	}{
		{100.0, 0, 10},
		{100.5, 10 * time.Second, 12},
		{99.8, 20 * time.Second, 8},
		{100.8, 58 * time.Second, 15},
	}
	for _, tk := range ticks {
		require.NoError(t, agg.Update("MSFT", tk.price, base.Add(tk.offset), tk.volume, "1m"))
	}

	bar, ok := agg.Current("MSFT", "1m")
	require.True(t, ok)
	assert.Equal(t, int64(1_700_000_040), bar.Time)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 100.8, bar.High)
	assert.Equal(t, 99.8, bar.Low)
	assert.Equal(t, 100.8, bar.Close)
	assert.Equal(t, 45.0, bar.Volume)
}

func TestUpdateRollsIntoNewBucket(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	base := time.Unix(1_700_000_040, 0)

	require.NoError(t, agg.Update("AAPL", 200, base, 100, "1m"))
	require.NoError(t, agg.Update("AAPL", 205, base.Add(30*time.Second), 50, "1m"))
	first, _ := agg.Current("AAPL", "1m")

	require.NoError(t, agg.Update("AAPL", 202, base.Add(time.Minute), 20, "1m"))
	bar, ok := agg.Current("AAPL", "1m")
	require.True(t, ok)
	assert.Equal(t, first.Time+60, bar.Time)
	assert.Equal(t, Bar{Time: first.Time + 60, Open: 202, High: 202, Low: 202, Close: 202, Volume: 20}, bar)

	// the copy handed out earlier is not mutated by later ticks
	assert.Equal(t, 205.0, first.High)
	assert.Equal(t, 150.0, first.Volume)
}

func TestUpdateAlignsFractionalTimestamps(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	ts := time.Unix(1_700_000_399, 900_000_000)
	require.NoError(t, agg.Update("X", 1, ts, 0, "5m"))
	bar, _ := agg.Current("X", "5m")
	assert.Equal(t, int64(1_700_000_100), bar.Time)
}

func TestUpdateRejectsUnknownInterval(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	err := agg.Update("X", 1, time.Now(), 0, "7x")
	require.ErrorIs(t, err, ErrUnknownInterval)
	_, ok := agg.Current("X", "7x")
	assert.False(t, ok)

	err = agg.Update("X", 1, time.Now(), 0, "144115188075855872d")
	require.ErrorIs(t, err, ErrUnknownInterval)
	_, ok = agg.Current("X", "144115188075855872d")
	assert.False(t, ok)
}

func TestKeysAreIndependentAndResettable(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, agg.Update("X", 10, now, 1, "1m"))
	require.NoError(t, agg.Update("X", 11, now, 1, "5m"))
	require.NoError(t, agg.Update("Y", 20, now, 1, "1m"))

	agg.Reset("X", "1m")
	_, ok := agg.Current("X", "1m")
	assert.False(t, ok)
	_, ok = agg.Current("X", "5m")
	assert.True(t, ok)

	agg.ResetAll()
	_, ok = agg.Current("Y", "1m")
	assert.False(t, ok)
}

func TestOnTickAdapter(t *testing.T) {
	agg := NewAggregator(zerolog.Nop())
	sub := agg.OnTick("1m")
	now := time.Unix(1_700_000_040, 0)
	sub(signal.Tick{Symbol: "SIM_A", Price: 10, Size: 2, Ts: now})
	sub(signal.Tick{Symbol: "SIM_A", Price: 12, Size: 3, Ts: now.Add(time.Second)})

	bar, ok := agg.Current("SIM_A", "1m")
	require.True(t, ok)
	assert.Equal(t, 12.0, bar.Close)
	assert.Equal(t, 5.0, bar.Volume)

	bad := agg.OnTick("bogus")
	bad(signal.Tick{Symbol: "SIM_B", Price: 1, Ts: now})
	_, ok = agg.Current("SIM_B", "bogus")
	assert.False(t, ok)
}
