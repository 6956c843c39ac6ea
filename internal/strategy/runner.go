package strategy

import (
	"sync"

	"github.com/rs/zerolog"

	"papertrader-go/internal/metrics"
	"papertrader-go/internal/signal"
)

// Runner binds a strategy to a signal sink and gates tick delivery.
type Runner struct {
	strat Strategy
	sink  func(signal.Event)
	log   zerolog.Logger

	mu     sync.Mutex
	active bool
}

// NewRunner wires strat to sink. The runner starts inactive.
func NewRunner(strat Strategy, sink func(signal.Event), log zerolog.Logger) *Runner {
	return &Runner{
		strat: strat,
		sink:  sink,
		log:   log.With().Str("component", "strategy").Str("strategy", strat.Name()).Str("symbol", strat.Symbol()).Logger(),
	}
}

// Strategy returns the wrapped strategy.
func (r *Runner) Strategy() Strategy { return r.strat }

// Start clears strategy state and begins accepting ticks.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	r.strat.Reset()
	r.active = true
	r.log.Info().Msg("strategy started")
}

// Stop stops accepting ticks. Strategy state is left for inspection.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.log.Info().Msg("strategy stopped")
}

// Active reports whether ticks are being processed.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// OnTick is the bus subscriber. Sink panics are recovered and logged.
func (r *Runner) OnTick(tk signal.Tick) {
	if !r.Active() {
		return
	}
	ev := r.strat.OnTick(tk)
	if ev == nil {
		return
	}
	metrics.SignalsTotal.WithLabelValues(ev.Symbol, string(ev.Kind)).Inc()
	r.log.Debug().Str("signal", string(ev.Kind)).Float64("price", ev.Price).Msg("signal emitted")
	r.emit(*ev)
}

func (r *Runner) emit(ev signal.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("signal", string(ev.Kind)).Msg("signal sink panicked")
		}
	}()
	if r.sink != nil {
		r.sink(ev)
	}
}
