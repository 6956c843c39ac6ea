// Package risk evaluates portfolio state against stop-loss, position-size and drawdown limits.
package risk

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AlertKind names the limit that fired.
type AlertKind string

const (
	StopLoss            AlertKind = "STOP_LOSS_PER_POSITION"
	MaxPosition         AlertKind = "MAX_POSITION_SIZE"
	MaxPositionPreTrade AlertKind = "MAX_POSITION_SIZE_PRE_TRADE"
	MaxDrawdown         AlertKind = "MAX_ACCOUNT_DRAWDOWN"
)

// Kinds lists every alert kind.
var Kinds = []AlertKind{StopLoss, MaxPosition, MaxPositionPreTrade, MaxDrawdown}

// Alert is one limit breach. Symbol is empty for account-level alerts.
type Alert struct {
	Kind    AlertKind `json:"alert_type"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	Ts      time.Time `json:"timestamp"`
}

// Limit keys accepted by LimitsFromMap.
const (
	KeyStopLossPct    = "stop_loss_pct"
	KeyMaxPositionPct = "max_pos_pct"
	KeyMaxDrawdownPct = "max_dd_pct"
)

var ErrInvalidLimits = errors.New("invalid risk limits")

// Limits are expressed as fractions, e.g. 0.10 for 10%.
type Limits struct {
	StopLossPct    float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	MaxPositionPct float64 `yaml:"max_pos_pct" json:"max_pos_pct"`
	MaxDrawdownPct float64 `yaml:"max_dd_pct" json:"max_dd_pct"`
}

// DefaultLimits returns 10% stop-loss, 25% max position, 15% max drawdown.
func DefaultLimits() Limits {
	return Limits{StopLossPct: 0.10, MaxPositionPct: 0.25, MaxDrawdownPct: 0.15}
}

// Validate requires every limit in (0, 1].
func (l Limits) Validate() error {
	check := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrInvalidLimits, name, v)
		}
		return nil
	}
	if err := check(KeyStopLossPct, l.StopLossPct); err != nil {
		return err
	}
	if err := check(KeyMaxPositionPct, l.MaxPositionPct); err != nil {
		return err
	}
	return check(KeyMaxDrawdownPct, l.MaxDrawdownPct)
}

// LimitsFromMap overlays named values onto DefaultLimits. Unknown keys are rejected.
func LimitsFromMap(values map[string]float64) (Limits, error) {
	l := DefaultLimits()
	var unknown []string
	for k, v := range values {
		switch k {
		case KeyStopLossPct:
			l.StopLossPct = v
		case KeyMaxPositionPct:
			l.MaxPositionPct = v
		case KeyMaxDrawdownPct:
			l.MaxDrawdownPct = v
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Limits{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidLimits, strings.Join(unknown, ", "))
	}
	if err := l.Validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// Position is a holding as seen by the evaluator.
type Position struct {
	Symbol      string
	Quantity    int64
	AvgCost     float64
	Price       float64
	Priced      bool
	MarketValue float64
}

// View is the portfolio state one evaluation runs against.
type View struct {
	Positions    []Position
	TotalValue   float64
	PeakNetWorth float64
}

// CheckStopLoss alerts for each priced position down at least stopLossPct from its cost.
func CheckStopLoss(positions []Position, stopLossPct float64, now time.Time) []Alert {
	var alerts []Alert
	for _, p := range positions {
		if !p.Priced || p.Price <= 0 || p.AvgCost <= 0 {
			continue
		}
		change := (p.Price - p.AvgCost) / p.AvgCost
		if change > -stopLossPct {
			continue
		}
		alerts = append(alerts, Alert{
			Kind:   StopLoss,
			Symbol: p.Symbol,
			Message: fmt.Sprintf("Stop-loss triggered for %s. Loss: %.2f%% (limit %.2f%%). Avg cost %.2f, price %.2f, qty %d.",
				p.Symbol, -change*100, stopLossPct*100, p.AvgCost, p.Price, p.Quantity),
			Ts: now,
		})
	}
	return alerts
}

// CheckMaxPosition alerts for each position whose share of totalValue exceeds maxPct.
func CheckMaxPosition(positions []Position, totalValue, maxPct float64, now time.Time) []Alert {
	if totalValue <= 0 {
		return nil
	}
	var alerts []Alert
	for _, p := range positions {
		share := p.MarketValue / totalValue
		if share <= maxPct {
			continue
		}
		alerts = append(alerts, Alert{
			Kind:   MaxPosition,
			Symbol: p.Symbol,
			Message: fmt.Sprintf("Max position size triggered for %s. Holding %.2f%% (limit %.2f%%). Market value %.2f, portfolio value %.2f.",
				p.Symbol, share*100, maxPct*100, p.MarketValue, totalValue),
			Ts: now,
		})
	}
	return alerts
}

// CheckMaxPositionPreTrade tests a hypothetical post-trade position value before a buy.
func CheckMaxPositionPreTrade(symbol string, potentialValue, totalValue, maxPct float64, now time.Time) (Alert, bool) {
	if totalValue <= 0 {
		return Alert{}, false
	}
	share := potentialValue / totalValue
	if share <= maxPct {
		return Alert{}, false
	}
	return Alert{
		Kind:   MaxPositionPreTrade,
		Symbol: symbol,
		Message: fmt.Sprintf("Pre-trade max position size triggered for %s. Potential holding %.2f%% (limit %.2f%%). Potential value %.2f, portfolio value %.2f.",
			symbol, share*100, maxPct*100, potentialValue, totalValue),
		Ts: now,
	}, true
}

// CheckDrawdown alerts when the fall from peak exceeds maxPct.
func CheckDrawdown(totalValue, peak, maxPct float64, now time.Time) (Alert, bool) {
	if peak <= 0 {
		return Alert{}, false
	}
	dd := (peak - totalValue) / peak
	if dd <= maxPct {
		return Alert{}, false
	}
	return Alert{
		Kind: MaxDrawdown,
		Message: fmt.Sprintf("Max account drawdown triggered. Drawdown %.2f%% (limit %.2f%%). Peak %.2f, current %.2f.",
			dd*100, maxPct*100, peak, totalValue),
		Ts: now,
	}, true
}

// Evaluate runs the stop-loss, max-position and drawdown checks. The result
// replaces any previous alert set.
func Evaluate(v View, l Limits, now time.Time) []Alert {
	alerts := make([]Alert, 0)
	alerts = append(alerts, CheckStopLoss(v.Positions, l.StopLossPct, now)...)
	alerts = append(alerts, CheckMaxPosition(v.Positions, v.TotalValue, l.MaxPositionPct, now)...)
	if a, ok := CheckDrawdown(v.TotalValue, v.PeakNetWorth, l.MaxDrawdownPct, now); ok {
		alerts = append(alerts, a)
	}
	return alerts
}
