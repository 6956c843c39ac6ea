package strategy

import (
	"sync"

	"papertrader-go/internal/signal"
)

// MovingAverageID is the registry identifier of the moving-average crossover strategy.
const MovingAverageID = "realtime_simple_ma"

// MovingAverage emits BUY/SELL when the short SMA crosses the long SMA.
type MovingAverage struct {
	symbol      string
	shortWindow int
	longWindow  int

	mu        sync.Mutex
	history   []float64
	hasPrev   bool
	prevShort float64
	prevLong  float64
	current   signal.Kind
}

// NewMovingAverage builds the crossover strategy. Callers validate windows through Build.
func NewMovingAverage(symbol string, shortWindow, longWindow int) *MovingAverage {
	return &MovingAverage{
		symbol:      symbol,
		shortWindow: shortWindow,
		longWindow:  longWindow,
		history:     make([]float64, 0, longWindow),
	}
}

// Name returns the identifier used in logs and signal details.
func (m *MovingAverage) Name() string { return MovingAverageID }

// Symbol returns the only symbol this instance reacts to.
func (m *MovingAverage) Symbol() string { return m.symbol }

// Windows returns the short and long SMA lengths.
func (m *MovingAverage) Windows() (int, int) { return m.shortWindow, m.longWindow }

// Reset clears history and the last emitted signal.
func (m *MovingAverage) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = m.history[:0]
	m.hasPrev = false
	m.prevShort, m.prevLong = 0, 0
	m.current = ""
}

// OnTick folds one price into the SMA pair and returns an event when the signal changes.
func (m *MovingAverage) OnTick(tk signal.Tick) *signal.Event {
	if tk.Symbol != m.symbol {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == m.longWindow {
		copy(m.history, m.history[1:])
		m.history = m.history[:m.longWindow-1]
	}
	m.history = append(m.history, tk.Price)

	if len(m.history) < m.longWindow {
		m.current = signal.WarmingUp
		return m.event(tk, signal.WarmingUp, nil, nil)
	}

	shortMA := mean(m.history[len(m.history)-m.shortWindow:])
	longMA := mean(m.history)

	next := m.current
	switch {
	case !m.hasPrev:
		next = signal.Hold
	case m.prevShort <= m.prevLong && shortMA > longMA:
		next = signal.Buy
	case m.prevShort >= m.prevLong && shortMA < longMA:
		next = signal.Sell
	}
	m.hasPrev = true
	m.prevShort, m.prevLong = shortMA, longMA

	if next == m.current {
		return nil
	}
	m.current = next
	return m.event(tk, next, signal.Float(shortMA), signal.Float(longMA))
}

func (m *MovingAverage) event(tk signal.Tick, kind signal.Kind, shortMA, longMA *float64) *signal.Event {
	return &signal.Event{
		Symbol: tk.Symbol,
		Ts:     tk.Ts,
		Kind:   kind,
		Price:  tk.Price,
		Details: signal.Details{
			Strategy: m.Name(),
			ShortMA:  shortMA,
			LongMA:   longMA,
		},
	}
}

// mean sums oldest to newest so repeated runs produce identical floats.
func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
