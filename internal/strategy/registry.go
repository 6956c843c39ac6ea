// Package strategy turns ticks into trading signals and exposes the catalogue of
// strategies a session can be started with.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	sig "papertrader-go/internal/signal"
)

// Strategy defines behaviour shared by strategy implementations used by the engine.
type Strategy interface {
	Name() string
	Symbol() string
	OnTick(t sig.Tick) *sig.Event
	Reset()
}

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidParams   = errors.New("invalid strategy parameters")
)

// ParamType names the accepted JSON/YAML kind of a parameter.
type ParamType string

const (
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamString ParamType = "string"
)

// ParamSpec documents one constructor parameter.
type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
}

// Spec describes a buildable strategy.
type Spec struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"parameters"`
}

type builder func(p map[string]any) (Strategy, error)

type entry struct {
	spec  Spec
	build builder
}

// MaxWindow bounds every lookback length a strategy keeps in memory.
const MaxWindow = 10_000

// largest integer a float64 holds exactly
const maxExactInt = 1 << 53

var registry = map[string]entry{
	MovingAverageID: {
		spec: Spec{
			ID:          MovingAverageID,
			Name:        "Realtime Simple Moving Average Crossover",
			Description: "Emits BUY when the short SMA crosses above the long SMA and SELL on the opposite cross.",
			Params: []ParamSpec{
				{Name: "symbol", Type: ParamString, Required: true},
				{Name: "short_window", Type: ParamInt, Default: 5},
				{Name: "long_window", Type: ParamInt, Default: 10},
			},
		},
		build: func(p map[string]any) (Strategy, error) {
			short, long := p["short_window"].(int), p["long_window"].(int)
			if short <= 0 {
				return nil, fmt.Errorf("%w: short_window must be positive", ErrInvalidParams)
			}
			if short >= long {
				return nil, fmt.Errorf("%w: short_window %d must be less than long_window %d", ErrInvalidParams, short, long)
			}
			if long > MaxWindow {
				return nil, fmt.Errorf("%w: long_window %d exceeds %d", ErrInvalidParams, long, MaxWindow)
			}
			return NewMovingAverage(p["symbol"].(string), short, long), nil
		},
	},
	RSIID: {
		spec: Spec{
			ID:          RSIID,
			Name:        "Realtime RSI Threshold Crossover",
			Description: "Emits BUY when RSI rises out of the oversold zone and SELL when it falls out of the overbought zone.",
			Params: []ParamSpec{
				{Name: "symbol", Type: ParamString, Required: true},
				{Name: "period", Type: ParamInt, Default: 14},
				{Name: "oversold_threshold", Type: ParamFloat, Default: 30.0},
				{Name: "overbought_threshold", Type: ParamFloat, Default: 70.0},
			},
		},
		build: func(p map[string]any) (Strategy, error) {
			period := p["period"].(int)
			oversold, overbought := p["oversold_threshold"].(float64), p["overbought_threshold"].(float64)
			if period < 2 || period > MaxWindow {
				return nil, fmt.Errorf("%w: period must be between 2 and %d", ErrInvalidParams, MaxWindow)
			}
			if oversold < 0 || overbought > 100 || oversold >= overbought {
				return nil, fmt.Errorf("%w: thresholds must satisfy 0 <= oversold < overbought <= 100", ErrInvalidParams)
			}
			return NewRSI(p["symbol"].(string), period, oversold, overbought), nil
		},
	},
}

// Available lists every registered strategy ordered by id.
func Available() []Spec {
	out := make([]Spec, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the spec registered under id.
func Lookup(id string) (Spec, bool) {
	e, ok := registry[strings.TrimSpace(id)]
	return e.spec, ok
}

// Build validates params against the registered spec and constructs the strategy.
func Build(id string, params map[string]any) (Strategy, error) {
	e, ok := registry[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	resolved, err := resolveParams(e.spec, params)
	if err != nil {
		return nil, err
	}
	return e.build(resolved)
}

func resolveParams(spec Spec, params map[string]any) (map[string]any, error) {
	known := make(map[string]ParamSpec, len(spec.Params))
	for _, ps := range spec.Params {
		known[ps.Name] = ps
	}
	for key := range params {
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q for %s", ErrInvalidParams, key, spec.ID)
		}
	}

	out := make(map[string]any, len(spec.Params))
	for _, ps := range spec.Params {
		raw, ok := params[ps.Name]
		if !ok || raw == nil {
			if ps.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", ErrInvalidParams, ps.Name)
			}
			raw = ps.Default
		}
		v, err := coerce(ps, raw)
		if err != nil {
			return nil, err
		}
		out[ps.Name] = v
	}
	return out, nil
}

func coerce(ps ParamSpec, raw any) (any, error) {
	switch ps.Type {
	case ParamString:
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidParams, ps.Name)
		}
		return strings.TrimSpace(s), nil
	case ParamInt:
		f, ok := number(raw)
		if !ok || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
			return nil, fmt.Errorf("%w: %q must be an integer, got %v", ErrInvalidParams, ps.Name, raw)
		}
		return int(f), nil
	case ParamFloat:
		f, ok := number(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %q must be a number, got %v", ErrInvalidParams, ps.Name, raw)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q has unsupported type %s", ErrInvalidParams, ps.Name, ps.Type)
}

func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
