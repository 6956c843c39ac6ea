// Package paper holds the virtual portfolio, its trade log, and trade recorders.
package paper

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Side is the direction of a portfolio transaction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

var (
	ErrInvalidSymbol        = errors.New("symbol must not be empty")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
	ErrInvalidCash          = errors.New("cash must not be negative")
	ErrUnknownSide          = errors.New("unknown transaction side")
	ErrInsufficientCash     = errors.New("insufficient cash for buy")
	ErrInsufficientPosition = errors.New("insufficient position to sell")
)

// CashKey labels the cash bucket in allocation maps.
const CashKey = "CASH"

// PriceFunc looks up the latest price of a symbol.
type PriceFunc func(symbol string) (float64, bool)

// NoPrices is the price source used when no market is attached.
func NoPrices(string) (float64, bool) { return 0, false }

// FrozenPrices serves a fixed copy of prices.
func FrozenPrices(prices map[string]float64) PriceFunc {
	frozen := make(map[string]float64, len(prices))
	for k, v := range prices {
		frozen[k] = v
	}
	return func(symbol string) (float64, bool) {
		px, ok := frozen[symbol]
		return px, ok
	}
}

// Holding is one open long position.
type Holding struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// HoldingValue is a holding marked to market.
type HoldingValue struct {
	Holding
	Price         float64 `json:"current_price"`
	Priced        bool    `json:"priced"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Valuation is the result of marking the whole portfolio to market.
type Valuation struct {
	Cash          float64            `json:"cash"`
	HoldingsValue float64            `json:"holdings_value"`
	TotalValue    float64            `json:"total_value"`
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	TotalPnL      float64            `json:"total_pnl"`
	PeakNetWorth  float64            `json:"peak_net_worth"`
	Allocation    map[string]float64 `json:"allocation_pct"`
	Holdings      []HoldingValue     `json:"holdings"`
}

// PortfolioSnapshot is the serializable portfolio state.
type PortfolioSnapshot struct {
	InitialCash  float64   `json:"initial_cash"`
	Cash         float64   `json:"cash"`
	RealizedPnL  float64   `json:"realized_pnl"`
	PeakNetWorth float64   `json:"peak_net_worth"`
	Holdings     []Holding `json:"holdings"`
}

// Portfolio tracks virtual cash, realized PnL, and per-symbol positions.
type Portfolio struct {
	mu          sync.Mutex
	initialCash float64
	cash        float64
	realizedPnL float64
	peak        float64
	holdings    map[string]Holding
	log         zerolog.Logger
}

// NewPortfolio constructs a portfolio funded with initialCash.
func NewPortfolio(initialCash float64, log zerolog.Logger) (*Portfolio, error) {
	if initialCash < 0 || math.IsNaN(initialCash) || math.IsInf(initialCash, 0) {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidCash, initialCash)
	}
	return &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		peak:        initialCash,
		holdings:    make(map[string]Holding),
		log:         log.With().Str("component", "portfolio").Logger(),
	}, nil
}

// Apply executes a market transaction. On error the state is unchanged.
func (p *Portfolio) Apply(symbol string, side Side, qty int64, price float64, ts time.Time) error {
	if err := p.apply(symbol, side, qty, price); err != nil {
		p.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("side", string(side)).
			Int64("qty", qty).
			Float64("price", price).
			Time("ts", ts).
			Msg("transaction rejected")
		return err
	}
	p.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Int64("qty", qty).
		Float64("price", price).
		Time("ts", ts).
		Msg("transaction applied")
	return nil
}

func (p *Portfolio) apply(symbol string, side Side, qty int64, price float64) error {
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return ErrInvalidPrice
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.holdings[symbol]
	notional := float64(qty) * price

	switch side {
	case Buy:
		if p.cash < notional {
			return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, notional, p.cash)
		}
		newQty := state.Quantity + qty
		newAvg := (state.AvgCost*float64(state.Quantity) + notional) / float64(newQty)
		p.cash -= notional
		p.holdings[symbol] = Holding{Symbol: symbol, Quantity: newQty, AvgCost: newAvg}

	case Sell:
		if state.Quantity < qty {
			return fmt.Errorf("%w: hold %d, sell %d", ErrInsufficientPosition, state.Quantity, qty)
		}
		p.realizedPnL += (price - state.AvgCost) * float64(qty)
		p.cash += notional
		newQty := state.Quantity - qty
		if newQty == 0 {
			delete(p.holdings, symbol)
		} else {
			p.holdings[symbol] = Holding{Symbol: symbol, Quantity: newQty, AvgCost: state.AvgCost}
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	return nil
}

// Valuation marks holdings with prices and advances the peak net worth.
// Holdings without a usable price contribute zero.
func (p *Portfolio) Valuation(prices PriceFunc) Valuation {
	if prices == nil {
		prices = NoPrices
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Valuation{
		Cash:        p.cash,
		RealizedPnL: p.realizedPnL,
		Holdings:    make([]HoldingValue, 0, len(p.holdings)),
	}
	for _, h := range p.sortedLocked() {
		hv := HoldingValue{Holding: h}
		px, ok := prices(h.Symbol)
		if ok && px > 0 {
			hv.Price = px
			hv.Priced = true
			hv.MarketValue = float64(h.Quantity) * px
			hv.UnrealizedPnL = (px - h.AvgCost) * float64(h.Quantity)
		} else {
			p.log.Warn().Str("symbol", h.Symbol).Msg("no price for holding, valued at zero")
		}
		out.HoldingsValue += hv.MarketValue
		out.UnrealizedPnL += hv.UnrealizedPnL
		out.Holdings = append(out.Holdings, hv)
	}
	out.TotalValue = out.Cash + out.HoldingsValue
	out.TotalPnL = out.RealizedPnL + out.UnrealizedPnL

	if out.TotalValue > p.peak {
		p.peak = out.TotalValue
	}
	out.PeakNetWorth = p.peak

	out.Allocation = make(map[string]float64, len(out.Holdings)+1)
	if out.TotalValue > 0 {
		out.Allocation[CashKey] = out.Cash / out.TotalValue * 100
		for _, hv := range out.Holdings {
			out.Allocation[hv.Symbol] = hv.MarketValue / out.TotalValue * 100
		}
	} else {
		out.Allocation[CashKey] = 0
		for _, hv := range out.Holdings {
			out.Allocation[hv.Symbol] = 0
		}
	}
	return out
}

// InitialCash returns the starting bankroll.
func (p *Portfolio) InitialCash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialCash
}

// Cash reports free cash.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// RealizedPnL returns total closed-trade profit and loss.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realizedPnL
}

// PeakNetWorth returns the highest total value seen by Valuation.
func (p *Portfolio) PeakNetWorth() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Position returns the holding for symbol, if any.
func (p *Portfolio) Position(symbol string) (Holding, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.holdings[symbol]
	return h, ok
}

// Holdings returns every open holding sorted by symbol.
func (p *Portfolio) Holdings() []Holding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sortedLocked()
}

func (p *Portfolio) sortedLocked() []Holding {
	out := make([]Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot copies the portfolio state.
func (p *Portfolio) Snapshot() PortfolioSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PortfolioSnapshot{
		InitialCash:  p.initialCash,
		Cash:         p.cash,
		RealizedPnL:  p.realizedPnL,
		PeakNetWorth: p.peak,
		Holdings:     p.sortedLocked(),
	}
}

// Restore replaces the portfolio state with snap after validating it.
func (p *Portfolio) Restore(snap PortfolioSnapshot) error {
	if snap.Cash < 0 || snap.InitialCash < 0 {
		return fmt.Errorf("restore: %w", ErrInvalidCash)
	}
	holdings := make(map[string]Holding, len(snap.Holdings))
	for _, h := range snap.Holdings {
		if h.Symbol == "" {
			return fmt.Errorf("restore: %w", ErrInvalidSymbol)
		}
		if h.Quantity <= 0 {
			return fmt.Errorf("restore %s: %w", h.Symbol, ErrInvalidQuantity)
		}
		if h.AvgCost <= 0 {
			return fmt.Errorf("restore %s: %w", h.Symbol, ErrInvalidPrice)
		}
		holdings[h.Symbol] = h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialCash = snap.InitialCash
	p.cash = snap.Cash
	p.realizedPnL = snap.RealizedPnL
	p.peak = math.Max(snap.PeakNetWorth, snap.InitialCash)
	p.holdings = holdings
	p.log.Info().Float64("cash", p.cash).Int("holdings", len(holdings)).Msg("portfolio restored")
	return nil
}
