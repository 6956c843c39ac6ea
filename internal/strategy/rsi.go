package strategy

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"papertrader-go/internal/signal"
)

// RSIID is the registry identifier of the RSI threshold-crossover strategy.
const RSIID = "realtime_rsi"

// historySlack is how many prices beyond the period the RSI window keeps.
const historySlack = 5

// RSI emits BUY when RSI leaves the oversold zone and SELL when it leaves the overbought zone.
type RSI struct {
	symbol     string
	period     int
	oversold   float64
	overbought float64

	mu      sync.Mutex
	history []float64
	ticks   int
	prev    float64
	prevOK  bool
	cur     float64
	curOK   bool
}

// NewRSI builds the RSI strategy. Callers validate parameters through Build.
func NewRSI(symbol string, period int, oversold, overbought float64) *RSI {
	return &RSI{
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		history:    make([]float64, 0, period+historySlack),
	}
}

func (r *RSI) Name() string   { return RSIID }
func (r *RSI) Symbol() string { return r.symbol }

// Reset clears history, the tick counter and both RSI readings.
func (r *RSI) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = r.history[:0]
	r.ticks = 0
	r.prev, r.prevOK = 0, false
	r.cur, r.curOK = 0, false
}

// OnTick emits WARMING_UP until period+1 ticks have been seen, then one event per tick.
func (r *RSI) OnTick(tk signal.Tick) *signal.Event {
	if tk.Symbol != r.symbol {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := r.period + historySlack
	if len(r.history) == capacity {
		copy(r.history, r.history[1:])
		r.history = r.history[:capacity-1]
	}
	r.history = append(r.history, tk.Price)
	r.ticks++

	if r.ticks < r.period+1 {
		if r.ticks >= r.period {
			r.cur, r.curOK = wilderRSI(r.history, r.period)
		}
		ev := r.event(tk, signal.WarmingUp)
		if r.curOK {
			ev.Details.RSI = round2(r.cur)
		}
		return ev
	}

	r.prev, r.prevOK = r.cur, r.curOK
	r.cur, r.curOK = wilderRSI(r.history, r.period)

	if !r.curOK || !r.prevOK {
		ev := r.event(tk, signal.Error)
		ev.Details.Message = fmt.Sprintf("rsi undefined over %d prices (no price movement)", len(r.history))
		if r.curOK {
			ev.Details.RSI = round2(r.cur)
		}
		if r.prevOK {
			ev.Details.PrevRSI = round2(r.prev)
		}
		return ev
	}

	kind := signal.Hold
	switch {
	case r.prev <= r.oversold && r.cur > r.oversold:
		kind = signal.Buy
	case r.prev >= r.overbought && r.cur < r.overbought:
		kind = signal.Sell
	}
	ev := r.event(tk, kind)
	ev.Details.RSI = round2(r.cur)
	ev.Details.PrevRSI = round2(r.prev)
	return ev
}

func (r *RSI) event(tk signal.Tick, kind signal.Kind) *signal.Event {
	return &signal.Event{
		Symbol:  tk.Symbol,
		Ts:      tk.Ts,
		Kind:    kind,
		Price:   tk.Price,
		Details: signal.Details{Strategy: r.Name()},
	}
}

// wilderRSI smooths gains and losses with alpha = 1/period, seeded by the first
// observation. The first difference counts as neither gain nor loss.
func wilderRSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	alpha := 1 / float64(period)
	var avgGain, avgLoss float64
	for i := range prices {
		var gain, loss float64
		if i > 0 {
			d := prices[i] - prices[i-1]
			if d > 0 {
				gain = d
			} else {
				loss = -d
			}
		}
		if i == 0 {
			avgGain, avgLoss = gain, loss
			continue
		}
		avgGain = (1-alpha)*avgGain + alpha*gain
		avgLoss = (1-alpha)*avgLoss + alpha*loss
	}
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100, true
		}
		return 0, false
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func round2(v float64) *float64 {
	return signal.Float(decimal.NewFromFloat(v).Round(2).InexactFloat64())
}
