// Package signal standardizes payloads shared between the tick bus, strategies, and the trading engine.
package signal

import "time"

// Tick models one simulated price observation for a symbol.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64 // traded volume carried into bars; the synthetic bus emits 0
	Ts     time.Time
}

// Unix returns the tick timestamp as fractional unix seconds.
func (t Tick) Unix() float64 {
	return float64(t.Ts.UnixNano()) / float64(time.Second)
}

// Kind enumerates the directional outputs a strategy can produce.
type Kind string

const (
	Buy       Kind = "BUY"
	Sell      Kind = "SELL"
	Hold      Kind = "HOLD"
	WarmingUp Kind = "WARMING_UP"
	Error     Kind = "ERROR"
)

// Valid reports whether k is one of the known signal kinds.
func (k Kind) Valid() bool {
	switch k {
	case Buy, Sell, Hold, WarmingUp, Error:
		return true
	}
	return false
}

// Tradable reports whether the kind should reach the portfolio.
func (k Kind) Tradable() bool { return k == Buy || k == Sell }

// Details carries optional strategy diagnostics alongside an Event.
type Details struct {
	Strategy string   `json:"strategy,omitempty"`
	ShortMA  *float64 `json:"short_ma,omitempty"`
	LongMA   *float64 `json:"long_ma,omitempty"`
	RSI      *float64 `json:"rsi,omitempty"`
	PrevRSI  *float64 `json:"prev_rsi,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Event expresses a strategy decision for one symbol at one tick.
type Event struct {
	Symbol  string    `json:"symbol"`
	Ts      time.Time `json:"timestamp"`
	Kind    Kind      `json:"signal"`
	Price   float64   `json:"price"`
	Details Details   `json:"details"`
}

// Float returns a pointer to v for populating optional Details fields.
func Float(v float64) *float64 { return &v }
