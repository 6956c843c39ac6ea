// Package exchange hosts the simulated tick source that drives a trading session.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/metrics"
	"papertrader-go/internal/signal"
)

// MinPrice is the floor applied after every random-walk step.
const MinPrice = 0.01

const (
	defaultResolution  = 100 * time.Millisecond
	defaultStopTimeout = 2 * time.Second
)

// ErrInvalidSymbolConfig is returned by Configure for unusable feed parameters.
var ErrInvalidSymbolConfig = errors.New("invalid symbol config")

// ErrWorkerBusy is returned by Start while the previous worker has not exited.
var ErrWorkerBusy = errors.New("tick bus worker still running")

// SymbolConfig describes one synthetic feed.
type SymbolConfig struct {
	Symbol       string        `yaml:"symbol" json:"symbol" validate:"required"`
	InitialPrice float64       `yaml:"initial_price" json:"initial_price" validate:"gt=0"`
	Volatility   float64       `yaml:"volatility" json:"volatility" validate:"gte=0"`
	Interval     time.Duration `yaml:"interval" json:"interval" validate:"gt=0"`
}

// Validate reports the first unusable field.
func (c SymbolConfig) Validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidSymbolConfig)
	case c.InitialPrice <= 0:
		return fmt.Errorf("%w: %s initial price %.4f", ErrInvalidSymbolConfig, c.Symbol, c.InitialPrice)
	case c.Volatility < 0:
		return fmt.Errorf("%w: %s volatility %.4f", ErrInvalidSymbolConfig, c.Symbol, c.Volatility)
	case c.Interval <= 0:
		return fmt.Errorf("%w: %s interval %s", ErrInvalidSymbolConfig, c.Symbol, c.Interval)
	}
	return nil
}

// SubscriptionID identifies one registered callback.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	fn func(signal.Tick)
}

type feedState struct {
	cfg   SymbolConfig
	price float64
	last  time.Time
}

// Bus generates random-walk ticks on a single worker goroutine and fans them out
// to subscribers synchronously, in subscription order.
type Bus struct {
	mu          sync.Mutex
	order       []string
	feeds       map[string]*feedState
	subs        map[string][]subscriber
	nextID      SubscriptionID
	rng         *rand.Rand
	resolution  time.Duration
	stopTimeout time.Duration
	now         func() time.Time

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	log zerolog.Logger
}

// Option configures Bus construction parameters.
type Option func(*Bus)

// WithResolution overrides the scheduler granularity.
func WithResolution(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.resolution = d
		}
	}
}

// WithRand injects the random source used for price steps.
func WithRand(r *rand.Rand) Option {
	return func(b *Bus) {
		if r != nil {
			b.rng = r
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the worker to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.stopTimeout = d
		}
	}
}

// NewBus constructs an idle bus with no symbols.
func NewBus(log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		feeds:       make(map[string]*feedState),
		subs:        make(map[string][]subscriber),
		resolution:  defaultResolution,
		stopTimeout: defaultStopTimeout,
		now:         time.Now,
		log:         log.With().Str("component", "tickbus").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return b
}

// Configure registers or replaces the feed for one symbol.
func (b *Bus) Configure(cfg SymbolConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.feeds[cfg.Symbol]; !ok {
		b.order = append(b.order, cfg.Symbol)
	}
	st := &feedState{cfg: cfg, price: cfg.InitialPrice}
	if b.running {
		st.last = b.now().Add(-cfg.Interval)
	}
	b.feeds[cfg.Symbol] = st
	b.log.Info().
		Str("symbol", cfg.Symbol).
		Float64("initial_price", cfg.InitialPrice).
		Float64("volatility", cfg.Volatility).
		Dur("interval", cfg.Interval).
		Msg("symbol configured")
	return nil
}

// Subscribe registers fn for ticks of symbol. Unknown symbols are refused.
func (b *Bus) Subscribe(symbol string, fn func(signal.Tick)) (SubscriptionID, bool) {
	if fn == nil {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.feeds[symbol]; !ok {
		b.log.Warn().Str("symbol", symbol).Msg("subscribe to unconfigured symbol ignored")
		return 0, false
	}
	b.nextID++
	id := b.nextID
	b.subs[symbol] = append(b.subs[symbol], subscriber{id: id, fn: fn})
	b.log.Debug().Str("symbol", symbol).Uint64("subscription", uint64(id)).Msg("subscribed")
	return id, true
}

// Unsubscribe removes a previously registered callback.
func (b *Bus) Unsubscribe(symbol string, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[symbol]
	for i, s := range list {
		if s.id != id {
			continue
		}
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		b.subs[symbol] = next
		b.log.Debug().Str("symbol", symbol).Uint64("subscription", uint64(id)).Msg("unsubscribed")
		return true
	}
	b.log.Warn().Str("symbol", symbol).Uint64("subscription", uint64(id)).Msg("unsubscribe of unknown subscription")
	return false
}

// Start launches the worker. Calling Start on a running bus is a no-op. It
// fails with ErrWorkerBusy while a worker abandoned by a timed-out Stop is
// still delivering.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.log.Debug().Msg("start ignored, already running")
		return nil
	}
	if b.done != nil {
		select {
		case <-b.done:
		default:
			return ErrWorkerBusy
		}
	}
	now := b.now()
	for _, st := range b.feeds {
		st.last = now.Add(-st.cfg.Interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.run(ctx, b.done)
	b.log.Info().Int("symbols", len(b.order)).Msg("tick bus started")
	return nil
}

// Stop cancels the worker and waits, bounded by the stop timeout, for it to
// exit. It reports whether the worker exited in time.
func (b *Bus) Stop() bool {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return true
	}
	b.running = false
	b.cancel()
	done := b.done
	b.mu.Unlock()

	select {
	case <-done:
		b.log.Info().Msg("tick bus stopped")
		return true
	case <-time.After(b.stopTimeout):
		b.log.Warn().Dur("timeout", b.stopTimeout).Msg("tick bus worker did not exit in time")
		return false
	}
}

// Running reports whether the worker is active.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// CurrentPrice returns the latest generated price for symbol.
func (b *Bus) CurrentPrice(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.feeds[symbol]
	if !ok {
		return 0, false
	}
	return st.price, true
}

// Prices returns a copy of every latest price.
func (b *Bus) Prices() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.feeds))
	for sym, st := range b.feeds {
		out[sym] = st.price
	}
	return out
}

// Symbols lists configured symbols in configuration order.
func (b *Bus) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *Bus) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.resolution)
	defer ticker.Stop()

	b.dispatch(ctx, b.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.dispatch(ctx, b.now())
		}
	}
}

type pending struct {
	tick signal.Tick
	subs []subscriber
}

// dispatch advances every due symbol and delivers the resulting ticks.
// Callbacks run without the bus lock so they may query the bus.
func (b *Bus) dispatch(ctx context.Context, now time.Time) {
	b.mu.Lock()
	batch := make([]pending, 0, len(b.order))
	for _, sym := range b.order {
		st := b.feeds[sym]
		if now.Sub(st.last) < st.cfg.Interval {
			continue
		}
		step := (b.rng.Float64()*2 - 1) * st.cfg.Volatility
		price := st.price * (1 + step)
		if price < MinPrice {
			price = MinPrice
		}
		st.price = price
		st.last = now
		subs := make([]subscriber, len(b.subs[sym]))
		copy(subs, b.subs[sym])
		batch = append(batch, pending{
			tick: signal.Tick{Symbol: sym, Price: price, Ts: now},
			subs: subs,
		})
	}
	b.mu.Unlock()

	for _, p := range batch {
		if ctx.Err() != nil {
			return
		}
		metrics.TicksTotal.WithLabelValues(p.tick.Symbol).Inc()
		for _, s := range p.subs {
			b.deliver(s, p.tick)
		}
	}
}

func (b *Bus) deliver(s subscriber, tk signal.Tick) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanicsTotal.WithLabelValues(tk.Symbol).Inc()
			b.log.Error().
				Str("symbol", tk.Symbol).
				Uint64("subscription", uint64(s.id)).
				Interface("panic", r).
				Msg("tick subscriber panicked")
		}
	}()
	s.fn(tk)
}
