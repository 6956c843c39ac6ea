// Package execution turns strategy signals into portfolio transactions behind risk checks.
package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/metrics"
	"papertrader-go/internal/paper"
	"papertrader-go/internal/risk"
	"papertrader-go/internal/signal"
)

// DefaultTradeQuantity is the fixed order size when none is configured.
const DefaultTradeQuantity int64 = 100

var ErrInvalidTradeQuantity = errors.New("trade quantity must be positive")

const tradeIDFormat = "TRADE_%05d"

// Blocked-trade reasons reported on trades_blocked_total.
const (
	reasonPreTrade = "pre_trade_max_position"
	reasonCash     = "insufficient_cash"
	reasonPosition = "insufficient_position"
	reasonRejected = "rejected"
)

// EngineSnapshot is the serializable engine state.
type EngineSnapshot struct {
	TradeQuantity int64               `json:"trade_quantity"`
	TradeCounter  int                 `json:"trade_counter"`
	Limits        risk.Limits         `json:"limits"`
	Trades        []paper.TradeRecord `json:"trades"`
}

// Engine applies BUY/SELL signals to a portfolio with a fixed trade size.
// All methods are safe for concurrent use; the tick worker is the only writer.
type Engine struct {
	mu        sync.Mutex
	portfolio *paper.Portfolio
	limits    risk.Limits
	prices    paper.PriceFunc
	qty       int64
	ledger    *paper.Ledger
	counter   int
	alerts    []risk.Alert
	recorder  paper.TradeRecorder
	clock     func() time.Time
	log       zerolog.Logger
}

// Option configures Engine construction parameters.
type Option func(*Engine)

// WithTradeQuantity overrides the fixed order size.
func WithTradeQuantity(n int64) Option {
	return func(e *Engine) { e.qty = n }
}

// WithRecorder mirrors every executed trade to r.
func WithRecorder(r paper.TradeRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now for alert timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// NewEngine wires a portfolio, limits and a price source.
func NewEngine(p *paper.Portfolio, limits risk.Limits, prices paper.PriceFunc, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if p == nil {
		return nil, errors.New("engine: portfolio is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if prices == nil {
		prices = paper.NoPrices
	}
	e := &Engine{
		portfolio: p,
		limits:    limits,
		prices:    prices,
		qty:       DefaultTradeQuantity,
		ledger:    paper.NewLedger(64),
		alerts:    []risk.Alert{},
		clock:     time.Now,
		log:       log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTradeQuantity, e.qty)
	}
	return e, nil
}

// HandleSignal is the strategy sink. Non-tradable kinds only refresh risk.
func (e *Engine) HandleSignal(ev signal.Event) {
	rec := e.handle(ev)
	if rec != nil && e.recorder != nil {
		e.recorder.Record(*rec)
	}
}

func (e *Engine) handle(ev signal.Event) *paper.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Symbol == "" || ev.Price <= 0 || !ev.Kind.Valid() {
		e.log.Warn().Str("symbol", ev.Symbol).Str("signal", string(ev.Kind)).Float64("price", ev.Price).Msg("malformed signal skipped")
		return nil
	}
	if !ev.Kind.Tradable() {
		e.refreshLocked()
		return nil
	}

	val := e.refreshLocked()
	side := paper.Buy
	if ev.Kind == signal.Sell {
		side = paper.Sell
	}

	if side == paper.Buy {
		held, _ := e.portfolio.Position(ev.Symbol)
		potential := float64(held.Quantity+e.qty) * ev.Price
		if alert, veto := risk.CheckMaxPositionPreTrade(ev.Symbol, potential, val.TotalValue, e.limits.MaxPositionPct, e.clock()); veto {
			e.alerts = append(e.alerts, alert)
			e.publishAlertsLocked()
			metrics.TradesBlockedTotal.WithLabelValues(ev.Symbol, reasonPreTrade).Inc()
			e.log.Warn().Str("symbol", ev.Symbol).Str("reason", alert.Message).Msg("buy vetoed by pre-trade risk check")
			return nil
		}
	}

	if err := e.portfolio.Apply(ev.Symbol, side, e.qty, ev.Price, ev.Ts); err != nil {
		metrics.TradesBlockedTotal.WithLabelValues(ev.Symbol, blockReason(err)).Inc()
		e.log.Info().Err(err).Str("symbol", ev.Symbol).Str("side", string(side)).Msg("trade not executed")
		return nil
	}

	e.counter++
	rec := paper.TradeRecord{
		ID:         fmt.Sprintf(tradeIDFormat, e.counter),
		Symbol:     ev.Symbol,
		Ts:         ev.Ts,
		Side:       side,
		Quantity:   e.qty,
		Price:      ev.Price,
		TotalValue: float64(e.qty) * ev.Price,
	}
	e.ledger.Record(rec)
	metrics.TradesTotal.WithLabelValues(ev.Symbol, string(side)).Inc()
	e.log.Info().
		Str("trade_id", rec.ID).
		Str("symbol", rec.Symbol).
		Str("side", string(rec.Side)).
		Int64("qty", rec.Quantity).
		Float64("px", rec.Price).
		Msg("trade executed")

	e.refreshLocked()
	return &rec
}

func blockReason(err error) string {
	switch {
	case errors.Is(err, paper.ErrInsufficientCash):
		return reasonCash
	case errors.Is(err, paper.ErrInsufficientPosition):
		return reasonPosition
	}
	return reasonRejected
}

// refreshLocked revalues the portfolio and replaces the active alert set.
func (e *Engine) refreshLocked() paper.Valuation {
	val := e.portfolio.Valuation(e.prices)
	view := risk.View{
		Positions:    make([]risk.Position, 0, len(val.Holdings)),
		TotalValue:   val.TotalValue,
		PeakNetWorth: val.PeakNetWorth,
	}
	for _, h := range val.Holdings {
		view.Positions = append(view.Positions, risk.Position{
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AvgCost:     h.AvgCost,
			Price:       h.Price,
			Priced:      h.Priced,
			MarketValue: h.MarketValue,
		})
	}
	e.alerts = risk.Evaluate(view, e.limits, e.clock())
	e.publishAlertsLocked()
	metrics.NetWorth.Set(val.TotalValue)
	for _, a := range e.alerts {
		e.log.Warn().Str("alert", string(a.Kind)).Str("symbol", a.Symbol).Msg(a.Message)
	}
	return val
}

func (e *Engine) publishAlertsLocked() {
	counts := make(map[risk.AlertKind]int, len(risk.Kinds))
	for _, a := range e.alerts {
		counts[a.Kind]++
	}
	for _, k := range risk.Kinds {
		metrics.RiskAlertsActive.WithLabelValues(string(k)).Set(float64(counts[k]))
	}
}

// EvaluateRisk refreshes the alert set against current prices.
func (e *Engine) EvaluateRisk() []risk.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshLocked()
	return e.copyAlertsLocked()
}

// ActiveAlerts returns the alerts from the latest evaluation.
func (e *Engine) ActiveAlerts() []risk.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyAlertsLocked()
}

func (e *Engine) copyAlertsLocked() []risk.Alert {
	out := make([]risk.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// Valuation marks the portfolio with the engine's price source.
func (e *Engine) Valuation() paper.Valuation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Valuation(e.prices)
}

// Trades returns the full trade log.
func (e *Engine) Trades() []paper.TradeRecord { return e.ledger.Snapshot() }

// RecentTrades returns at most n of the latest trades.
func (e *Engine) RecentTrades(n int) []paper.TradeRecord { return e.ledger.Last(n) }

// TradeQuantity returns the fixed order size.
func (e *Engine) TradeQuantity() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qty
}

// Limits returns the configured risk limits.
func (e *Engine) Limits() risk.Limits {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limits
}

// Portfolio returns the portfolio the engine trades against.
func (e *Engine) Portfolio() *paper.Portfolio { return e.portfolio }

// SetPriceFunc swaps the price source, e.g. to frozen prices after the bus stops.
func (e *Engine) SetPriceFunc(prices paper.PriceFunc) {
	if prices == nil {
		prices = paper.NoPrices
	}
	e.mu.Lock()
	e.prices = prices
	e.mu.Unlock()
}

// Snapshot copies the engine state.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineSnapshot{
		TradeQuantity: e.qty,
		TradeCounter:  e.counter,
		Limits:        e.limits,
		Trades:        e.ledger.Snapshot(),
	}
}

// Restore replaces the engine state and re-evaluates risk with prices.
func (e *Engine) Restore(snap EngineSnapshot, prices paper.PriceFunc) error {
	if snap.TradeQuantity <= 0 {
		return fmt.Errorf("restore: %w", ErrInvalidTradeQuantity)
	}
	if err := snap.Limits.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if prices == nil {
		prices = paper.NoPrices
	}
	counter := snap.TradeCounter
	if counter < len(snap.Trades) {
		counter = len(snap.Trades)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.qty = snap.TradeQuantity
	e.limits = snap.Limits
	e.counter = counter
	e.ledger.Replace(snap.Trades)
	e.prices = prices
	e.refreshLocked()
	e.log.Info().Int("trades", len(snap.Trades)).Msg("engine restored")
	return nil
}
