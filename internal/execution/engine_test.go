package execution

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/paper"
	"papertrader-go/internal/risk"
	"papertrader-go/internal/signal"
)

type market map[string]float64

func (m market) price(symbol string) (float64, bool) {
	px, ok := m[symbol]
	return px, ok
}

type captureRecorder struct{ trades []paper.TradeRecord }

func (c *captureRecorder) Record(rec paper.TradeRecord) { c.trades = append(c.trades, rec) }

func newEngine(t *testing.T, cash float64, limits risk.Limits, m market, opts ...Option) *Engine {
	t.Helper()
	p, err := paper.NewPortfolio(cash, zerolog.Nop())
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	e, err := NewEngine(p, limits, m.price, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func event(kind signal.Kind, symbol string, price float64) signal.Event {
	return signal.Event{Symbol: symbol, Kind: kind, Price: price, Ts: time.Unix(1_700_000_000, 0)}
}

func hasAlert(alerts []risk.Alert, kind risk.AlertKind) bool {
	for _, a := range alerts {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func TestBuyThenSellRecordsSequentialTrades(t *testing.T) {
	m := market{"SIM_A": 100}
	rec := &captureRecorder{}
	e := newEngine(t, 100000, risk.DefaultLimits(), m, WithRecorder(rec))

	e.HandleSignal(event(signal.Buy, "SIM_A", 100))
	m["SIM_A"] = 105
	e.HandleSignal(event(signal.Sell, "SIM_A", 105))

	trades := e.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != "TRADE_00001" || trades[1].ID != "TRADE_00002" {
		t.Fatalf("unexpected trade ids %s, %s", trades[0].ID, trades[1].ID)
	}
	if trades[0].Side != paper.Buy || trades[0].Quantity != 100 || trades[0].TotalValue != 10000 {
		t.Fatalf("unexpected buy record %+v", trades[0])
	}
	if e.Portfolio().RealizedPnL() != 500 {
		t.Fatalf("expected realized 500, got %.2f", e.Portfolio().RealizedPnL())
	}
	if len(rec.trades) != 2 {
		t.Fatalf("expected recorder to see 2 trades, got %d", len(rec.trades))
	}
}

func TestPreTradeVetoKeepsLogAndPortfolio(t *testing.T) {
	m := market{"SIM_A": 100}
	e := newEngine(t, 10000, risk.DefaultLimits(), m)

	e.HandleSignal(event(signal.Buy, "SIM_A", 100))

	if len(e.Trades()) != 0 {
		t.Fatalf("vetoed buy must not be recorded")
	}
	if e.Portfolio().Cash() != 10000 {
		t.Fatalf("vetoed buy must not touch cash")
	}
	if !hasAlert(e.ActiveAlerts(), risk.MaxPositionPreTrade) {
		t.Fatalf("expected pre-trade alert to stay visible, got %+v", e.ActiveAlerts())
	}

	// the next evaluation replaces the set
	e.HandleSignal(event(signal.Hold, "SIM_A", 100))
	if len(e.ActiveAlerts()) != 0 {
		t.Fatalf("expected alerts replaced on refresh, got %+v", e.ActiveAlerts())
	}
}

func TestDrawdownAlertAppearsAndClears(t *testing.T) {
	m := market{"SIM_A": 500}
	limits := risk.Limits{StopLossPct: 0.9, MaxPositionPct: 1, MaxDrawdownPct: 0.15}
	e := newEngine(t, 100000, limits, m)

	e.HandleSignal(event(signal.Buy, "SIM_A", 500))
	if len(e.Trades()) != 1 {
		t.Fatalf("expected buy to execute")
	}

	m["SIM_A"] = 300
	e.HandleSignal(event(signal.Hold, "SIM_A", 300))
	if !hasAlert(e.ActiveAlerts(), risk.MaxDrawdown) {
		t.Fatalf("expected drawdown alert, got %+v", e.ActiveAlerts())
	}

	m["SIM_A"] = 500
	e.HandleSignal(event(signal.WarmingUp, "SIM_A", 500))
	if hasAlert(e.ActiveAlerts(), risk.MaxDrawdown) {
		t.Fatalf("expected drawdown alert cleared after recovery")
	}
}

func TestFailedSellIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	p, _ := paper.NewPortfolio(1000, zerolog.Nop())
	e, err := NewEngine(p, risk.DefaultLimits(), market{}.price, zerolog.New(&buf))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.HandleSignal(event(signal.Sell, "SIM_A", 10))
	if len(e.Trades()) != 0 {
		t.Fatalf("expected no trade")
	}
	if !strings.Contains(buf.String(), "trade not executed") {
		t.Fatalf("expected rejection logged, got %s", buf.String())
	}
}

func TestMalformedSignalsSkipped(t *testing.T) {
	e := newEngine(t, 100000, risk.DefaultLimits(), market{"SIM_A": 1})
	e.HandleSignal(event(signal.Buy, "", 1))
	e.HandleSignal(event(signal.Buy, "SIM_A", 0))
	e.HandleSignal(event(signal.Kind("MAYBE"), "SIM_A", 1))
	if len(e.Trades()) != 0 {
		t.Fatalf("malformed signals must not trade")
	}
}

func TestNewEngineValidates(t *testing.T) {
	p, _ := paper.NewPortfolio(1, zerolog.Nop())
	if _, err := NewEngine(p, risk.DefaultLimits(), nil, zerolog.Nop(), WithTradeQuantity(0)); err == nil {
		t.Fatalf("expected error for zero trade quantity")
	}
	if _, err := NewEngine(p, risk.Limits{}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for zero limits")
	}
	if _, err := NewEngine(nil, risk.DefaultLimits(), nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil portfolio")
	}
}

func TestSnapshotRestoreContinuesTradeIDs(t *testing.T) {
	m := market{"SIM_A": 10}
	e := newEngine(t, 100000, risk.DefaultLimits(), m, WithTradeQuantity(10))
	e.HandleSignal(event(signal.Buy, "SIM_A", 10))
	snap := e.Snapshot()

	p, _ := paper.NewPortfolio(0, zerolog.Nop())
	if err := p.Restore(e.Portfolio().Snapshot()); err != nil {
		t.Fatalf("portfolio restore: %v", err)
	}
	restored, err := NewEngine(p, risk.DefaultLimits(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := restored.Restore(snap, m.price); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.TradeQuantity() != 10 {
		t.Fatalf("expected trade quantity 10, got %d", restored.TradeQuantity())
	}
	restored.HandleSignal(event(signal.Buy, "SIM_A", 10))
	trades := restored.Trades()
	if len(trades) != 2 || trades[1].ID != "TRADE_00002" {
		t.Fatalf("expected continued ids, got %+v", trades)
	}

	if err := restored.Restore(EngineSnapshot{}, nil); err == nil {
		t.Fatalf("expected invalid snapshot rejected")
	}
}

func TestSetPriceFuncToNoPrices(t *testing.T) {
	m := market{"SIM_A": 10}
	e := newEngine(t, 100000, risk.DefaultLimits(), m)
	e.HandleSignal(event(signal.Buy, "SIM_A", 10))
	e.SetPriceFunc(nil)
	v := e.Valuation()
	if v.HoldingsValue != 0 {
		t.Fatalf("expected unpriced holdings after price source removed, got %.2f", v.HoldingsValue)
	}
}

func TestPreTradeVetoAtPositionLimitEdge(t *testing.T) {
	m := market{"SIM_A": 100}
	e := newEngine(t, 100000, risk.DefaultLimits(), m, WithTradeQuantity(1))

	// 250 single-unit buys end exactly at 25% of a 100000 portfolio
	for i := 0; i < 250; i++ {
		e.HandleSignal(event(signal.Buy, "SIM_A", 100))
	}
	if len(e.Trades()) != 250 {
		t.Fatalf("expected buys up to the limit to execute, got %d trades", len(e.Trades()))
	}
	if hasAlert(e.ActiveAlerts(), risk.MaxPositionPreTrade) || hasAlert(e.ActiveAlerts(), risk.MaxPosition) {
		t.Fatalf("expected no position alerts at exactly the limit, got %+v", e.ActiveAlerts())
	}

	e.HandleSignal(event(signal.Buy, "SIM_A", 100))
	if len(e.Trades()) != 250 {
		t.Fatalf("expected the buy past the limit to be vetoed")
	}
	if e.Portfolio().Cash() != 75000 {
		t.Fatalf("vetoed buy must not touch cash, got %.2f", e.Portfolio().Cash())
	}
	if !hasAlert(e.ActiveAlerts(), risk.MaxPositionPreTrade) {
		t.Fatalf("expected pre-trade alert, got %+v", e.ActiveAlerts())
	}
}

func TestDrawdownAlertAtThresholdEdge(t *testing.T) {
	m := market{"SIM_A": 500}
	limits := risk.Limits{StopLossPct: 0.9, MaxPositionPct: 1, MaxDrawdownPct: 0.15}
	e := newEngine(t, 100000, limits, m)

	e.HandleSignal(event(signal.Buy, "SIM_A", 500))
	if len(e.Trades()) != 1 {
		t.Fatalf("expected buy to execute")
	}

	// total 85000: exactly 15% below the 100000 peak
	m["SIM_A"] = 350
	e.HandleSignal(event(signal.Hold, "SIM_A", 350))
	if hasAlert(e.ActiveAlerts(), risk.MaxDrawdown) {
		t.Fatalf("expected no drawdown alert at exactly the limit, got %+v", e.ActiveAlerts())
	}

	// total 84999
	m["SIM_A"] = 349.99
	alerts := e.EvaluateRisk()
	if !hasAlert(alerts, risk.MaxDrawdown) {
		t.Fatalf("expected drawdown alert one unit past the limit, got %+v", alerts)
	}
	if !hasAlert(e.ActiveAlerts(), risk.MaxDrawdown) {
		t.Fatalf("expected EvaluateRisk to update the active set")
	}

	m["SIM_A"] = 500
	if hasAlert(e.EvaluateRisk(), risk.MaxDrawdown) {
		t.Fatalf("expected drawdown alert cleared after recovery")
	}
	if e.Portfolio().PeakNetWorth() != 100000 {
		t.Fatalf("expected peak to stay 100000, got %.2f", e.Portfolio().PeakNetWorth())
	}
}
