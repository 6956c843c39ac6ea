// Package bars folds ticks into the currently forming OHLCV bar per symbol and interval.
package bars

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/metrics"
	"papertrader-go/internal/signal"
)

// ErrUnknownInterval is returned for interval strings that cannot be converted to a bucket size.
var ErrUnknownInterval = errors.New("unknown interval")

// Bar is one OHLCV record. Time is the bucket start in unix seconds.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type key struct {
	symbol   string
	interval string
}

var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
}

// longest interval that still fits a time.Duration
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// ParseInterval converts strings such as "1m", "5m", "1h" or "1d" into a duration.
func ParseInterval(interval string) (time.Duration, error) {
	secs, err := intervalSeconds(interval)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func intervalSeconds(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	mult, ok := unitSeconds[interval[len(interval)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 || n > maxIntervalSeconds/mult {
		return 0, fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return n * mult, nil
}

// Aggregator keeps one mutable bar per (symbol, interval). No history is retained.
type Aggregator struct {
	mu   sync.RWMutex
	bars map[key]*Bar
	log  zerolog.Logger
}

// NewAggregator returns an empty aggregator.
func NewAggregator(log zerolog.Logger) *Aggregator {
	return &Aggregator{
		bars: make(map[key]*Bar),
		log:  log.With().Str("component", "bars").Logger(),
	}
}

// Update folds one tick into the bar for symbol and interval.
func (a *Aggregator) Update(symbol string, price float64, ts time.Time, volume float64, interval string) error {
	secs, err := intervalSeconds(interval)
	if err != nil {
		return err
	}
	unix := float64(ts.UnixNano()) / float64(time.Second)
	start := int64(math.Floor(unix/float64(secs))) * secs

	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{symbol: symbol, interval: interval}
	bar := a.bars[k]
	if bar == nil || bar.Time != start {
		a.bars[k] = &Bar{Time: start, Open: price, High: price, Low: price, Close: price, Volume: volume}
		metrics.BarsOpenedTotal.WithLabelValues(symbol, interval).Inc()
		return nil
	}
	bar.High = math.Max(bar.High, price)
	bar.Low = math.Min(bar.Low, price)
	bar.Close = price
	bar.Volume += volume
	return nil
}

// Current returns a copy of the forming bar.
func (a *Aggregator) Current(symbol, interval string) (Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bar, ok := a.bars[key{symbol: symbol, interval: interval}]
	if !ok {
		return Bar{}, false
	}
	return *bar, true
}

// Reset drops the bar for one symbol and interval.
func (a *Aggregator) Reset(symbol, interval string) {
	a.mu.Lock()
	delete(a.bars, key{symbol: symbol, interval: interval})
	a.mu.Unlock()
	a.log.Debug().Str("symbol", symbol).Str("interval", interval).Msg("bar reset")
}

// ResetAll drops every bar.
func (a *Aggregator) ResetAll() {
	a.mu.Lock()
	a.bars = make(map[key]*Bar)
	a.mu.Unlock()
	a.log.Debug().Msg("all bars reset")
}

// OnTick adapts the aggregator into a tick subscriber for a fixed chart interval.
func (a *Aggregator) OnTick(interval string) func(signal.Tick) {
	return func(tk signal.Tick) {
		if err := a.Update(tk.Symbol, tk.Price, tk.Ts, tk.Size, interval); err != nil {
			a.log.Warn().Err(err).Str("symbol", tk.Symbol).Msg("tick ignored by aggregator")
		}
	}
}
