package paper

import (
	"sync"
	"time"
)

// TradeRecord is one executed transaction in the engine's trade log.
type TradeRecord struct {
	ID         string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Ts         time.Time `json:"timestamp"`
	Side       Side      `json:"type"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	TotalValue float64   `json:"total_value"`
}

// Ledger stores trade records in memory. It is append-only.
type Ledger struct {
	mu     sync.Mutex
	trades []TradeRecord
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{trades: make([]TradeRecord, 0, capacity)}
}

// Record appends a trade to the ledger.
func (l *Ledger) Record(rec TradeRecord) {
	l.mu.Lock()
	l.trades = append(l.trades, rec)
	l.mu.Unlock()
}

// Len returns the number of recorded trades.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

// Snapshot returns a copy of the recorded trades.
func (l *Ledger) Snapshot() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Last returns a copy of at most n of the most recent trades, oldest first.
func (l *Ledger) Last(n int) []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return []TradeRecord{}
	}
	start := len(l.trades) - n
	if start < 0 {
		start = 0
	}
	out := make([]TradeRecord, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

// Replace swaps the whole log, used when restoring a snapshot.
func (l *Ledger) Replace(trades []TradeRecord) {
	l.mu.Lock()
	l.trades = append(make([]TradeRecord, 0, len(trades)), trades...)
	l.mu.Unlock()
}
