// Package session wires the tick bus, bar aggregator, strategy, engine and
// portfolio into one simulation run and owns its lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"papertrader-go/internal/bars"
	"papertrader-go/internal/exchange"
	"papertrader-go/internal/execution"
	"papertrader-go/internal/metrics"
	"papertrader-go/internal/paper"
	"papertrader-go/internal/risk"
	"papertrader-go/internal/signal"
	"papertrader-go/internal/strategy"
)

const (
	DefaultInitialCash   = 100000.0
	DefaultChartInterval = "1m"
	RecentTradesLimit    = 20
	saveTimeout          = 5 * time.Second
)

var (
	ErrRunning       = errors.New("simulation already running")
	ErrNotRunning    = errors.New("simulation not running")
	ErrNoSession     = errors.New("no simulation session")
	ErrInvalidParams = errors.New("invalid simulation parameters")
)

// Params describes one simulation run.
type Params struct {
	StrategyID     string                  `json:"strategy_id"`
	StrategyParams map[string]any          `json:"parameters"`
	InitialCash    float64                 `json:"initial_capital"`
	Risk           map[string]float64      `json:"risk_parameters,omitempty"`
	ChartInterval  string                  `json:"chart_interval"`
	TradeQuantity  int64                   `json:"trade_quantity"`
	Feeds          []exchange.SymbolConfig `json:"feeds,omitempty"`
}

// Deps carries collaborators shared by every session a Manager creates.
type Deps struct {
	Log              zerolog.Logger
	Store            Store // nil disables snapshots
	SnapshotInterval time.Duration
	Recorder         paper.TradeRecorder
	BusOptions       []exchange.Option
	OnTick           func(signal.Tick) // optional extra subscriber, e.g. the websocket hub
}

// StrategyInfo is the strategy section of Status.
type StrategyInfo struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Symbol     string         `json:"symbol"`
	Parameters map[string]any `json:"parameters"`
}

// Status is the read model served to API clients.
type Status struct {
	SessionID     string              `json:"session_id"`
	Running       bool                `json:"is_running"`
	StartedAt     time.Time           `json:"started_at,omitempty"`
	StoppedAt     time.Time           `json:"stopped_at,omitempty"`
	Strategy      StrategyInfo        `json:"strategy"`
	TradeQuantity int64               `json:"trade_quantity"`
	Limits        risk.Limits         `json:"risk_limits"`
	Portfolio     paper.Valuation     `json:"portfolio"`
	RecentTrades  []paper.TradeRecord `json:"recent_trades"`
	TotalTrades   int                 `json:"total_trades"`
	Alerts        []risk.Alert        `json:"risk_alerts"`
	Prices        map[string]float64  `json:"prices"`
}

// Session owns the components of one simulation.
type Session struct {
	params Params
	limits risk.Limits
	strat  strategy.Strategy
	feeds  []exchange.SymbolConfig
	deps   Deps
	log    zerolog.Logger

	mu        sync.Mutex
	id        string
	running   bool
	startedAt time.Time
	stoppedAt time.Time
	portfolio *paper.Portfolio
	engine    *execution.Engine
	bars      *bars.Aggregator
	bus       *exchange.Bus
	runner    *strategy.Runner
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New validates params and builds a stopped session.
func New(params Params, deps Deps) (*Session, error) {
	strat, err := strategy.Build(params.StrategyID, params.StrategyParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	limits, err := risk.LimitsFromMap(params.Risk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if params.ChartInterval == "" {
		params.ChartInterval = DefaultChartInterval
	}
	if _, err := bars.ParseInterval(params.ChartInterval); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if params.TradeQuantity == 0 {
		params.TradeQuantity = execution.DefaultTradeQuantity
	}
	if params.InitialCash < 0 {
		return nil, fmt.Errorf("%w: initial capital %.2f", ErrInvalidParams, params.InitialCash)
	}

	feeds, err := resolveFeeds(params, strat)
	if err != nil {
		return nil, err
	}

	s := &Session{
		params: params,
		limits: limits,
		strat:  strat,
		feeds:  feeds,
		deps:   deps,
		id:     uuid.NewString(),
	}
	s.log = deps.Log.With().Str("component", "session").Str("session", s.id).Logger()
	s.bars = bars.NewAggregator(deps.Log)
	if err := s.buildBook(); err != nil {
		return nil, err
	}
	return s, nil
}

// resolveFeeds validates configured feeds and adds a default one for the
// strategy symbol when it is missing.
func resolveFeeds(params Params, strat strategy.Strategy) ([]exchange.SymbolConfig, error) {
	feeds := make([]exchange.SymbolConfig, 0, len(params.Feeds)+1)
	seen := make(map[string]bool, len(params.Feeds))
	for _, f := range params.Feeds {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		if seen[f.Symbol] {
			return nil, fmt.Errorf("%w: duplicate feed %s", ErrInvalidParams, f.Symbol)
		}
		seen[f.Symbol] = true
		feeds = append(feeds, f)
	}
	if !seen[strat.Symbol()] {
		feeds = append(feeds, DefaultFeed(params.StrategyID, strat.Symbol()))
	}
	return feeds, nil
}

// DefaultFeed is the synthetic feed used for a strategy symbol with no explicit config.
func DefaultFeed(strategyID, symbol string) exchange.SymbolConfig {
	vol := 0.01
	if strategyID == strategy.RSIID {
		vol = 0.02
	}
	return exchange.SymbolConfig{Symbol: symbol, InitialPrice: 100, Volatility: vol, Interval: time.Second}
}

func (s *Session) buildBook() error {
	p, e, err := s.newBook()
	if err != nil {
		return err
	}
	s.portfolio, s.engine = p, e
	return nil
}

func (s *Session) newBook() (*paper.Portfolio, *execution.Engine, error) {
	p, err := paper.NewPortfolio(s.params.InitialCash, s.deps.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	opts := []execution.Option{execution.WithTradeQuantity(s.params.TradeQuantity)}
	if s.deps.Recorder != nil {
		opts = append(opts, execution.WithRecorder(s.deps.Recorder))
	}
	e, err := execution.NewEngine(p, s.limits, paper.NoPrices, s.deps.Log, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return p, e, nil
}

// ID returns the session identifier used for snapshots.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Params returns the resolved parameters.
func (s *Session) Params() Params { return s.params }

// Engine exposes the trading engine.
func (s *Session) Engine() *execution.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Running reports whether ticks are flowing.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start creates a fresh bus and strategy runner and begins ticking.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	bus := exchange.NewBus(s.deps.Log, s.deps.BusOptions...)
	for _, f := range s.feeds {
		if err := bus.Configure(f); err != nil {
			return fmt.Errorf("configure feed: %w", err)
		}
	}
	runner := strategy.NewRunner(s.strat, s.engine.HandleSignal, s.deps.Log)

	// per symbol: aggregator, then strategy, then external listeners
	for _, f := range s.feeds {
		bus.Subscribe(f.Symbol, s.bars.OnTick(s.params.ChartInterval))
	}
	bus.Subscribe(s.strat.Symbol(), runner.OnTick)
	if s.deps.OnTick != nil {
		for _, f := range s.feeds {
			bus.Subscribe(f.Symbol, s.deps.OnTick)
		}
	}

	s.engine.SetPriceFunc(bus.CurrentPrice)
	runner.Start()
	if err := bus.Start(); err != nil {
		runner.Stop()
		return fmt.Errorf("start tick bus: %w", err)
	}
	s.bus, s.runner = bus, runner
	s.running = true
	s.startedAt = time.Now()

	if s.deps.Store != nil && s.deps.SnapshotInterval > 0 {
		loopCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.loopDone = make(chan struct{})
		go s.snapshotLoop(loopCtx, s.loopDone, s.deps.SnapshotInterval, s.id, s.portfolio, s.engine)
	}

	s.log.Info().
		Str("strategy", s.strat.Name()).
		Str("symbol", s.strat.Symbol()).
		Float64("initial_capital", s.params.InitialCash).
		Str("chart_interval", s.params.ChartInterval).
		Msg("simulation started")
	return nil
}

// Stop halts ticking and freezes the engine's prices at their last values.
// Portfolio, trades and alerts are retained.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}

	s.runner.Stop()
	s.bus.Stop()
	if s.cancel != nil {
		s.cancel()
		<-s.loopDone
		s.cancel, s.loopDone = nil, nil
	}
	s.engine.SetPriceFunc(paper.FrozenPrices(s.bus.Prices()))
	s.running = false
	s.stoppedAt = time.Now()

	if s.deps.Store != nil {
		s.save(context.Background(), s.capture(s.id, s.portfolio, s.engine))
	}
	s.log.Info().Int("trades", len(s.engine.Trades())).Msg("simulation stopped")
	return nil
}

// Reset replaces portfolio and engine with fresh ones and clears bars.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	if err := s.buildBook(); err != nil {
		return err
	}
	s.bars.ResetAll()
	s.strat.Reset()
	s.bus = nil
	s.log.Info().Msg("simulation reset")
	return nil
}

// CurrentBar returns the forming bar for symbol at the chart interval (or interval when given).
func (s *Session) CurrentBar(symbol, interval string) (bars.Bar, bool) {
	if interval == "" {
		interval = s.params.ChartInterval
	}
	return s.bars.Current(symbol, interval)
}

// Status assembles the current read model.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:     s.id,
		Running:       s.running,
		StartedAt:     s.startedAt,
		StoppedAt:     s.stoppedAt,
		TradeQuantity: s.engine.TradeQuantity(),
		Limits:        s.engine.Limits(),
		Portfolio:     s.engine.Valuation(),
		RecentTrades:  s.engine.RecentTrades(RecentTradesLimit),
		TotalTrades:   len(s.engine.Trades()),
		Alerts:        s.engine.ActiveAlerts(),
		Strategy: StrategyInfo{
			ID:         s.params.StrategyID,
			Symbol:     s.strat.Symbol(),
			Parameters: s.params.StrategyParams,
		},
		Prices: map[string]float64{},
	}
	if spec, ok := strategy.Lookup(s.params.StrategyID); ok {
		st.Strategy.Name = spec.Name
	}
	if s.bus != nil {
		st.Prices = s.bus.Prices()
	}
	return st
}

// Snapshot captures portfolio and engine state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture(s.id, s.portfolio, s.engine)
}

func (s *Session) capture(id string, p *paper.Portfolio, e *execution.Engine) Snapshot {
	return Snapshot{
		SessionID:      id,
		Taken:          time.Now().UTC(),
		StrategyID:     s.params.StrategyID,
		StrategyParams: s.params.StrategyParams,
		Portfolio:      p.Snapshot(),
		Engine:         e.Snapshot(),
	}
}

// Restore loads snap into a stopped session and adopts its id. The snapshot is
// applied to a fresh portfolio and engine that replace the current ones only
// when both halves restore cleanly.
func (s *Session) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	if snap.StrategyID != "" && snap.StrategyID != s.params.StrategyID {
		return fmt.Errorf("%w: snapshot strategy %s does not match %s", ErrInvalidParams, snap.StrategyID, s.params.StrategyID)
	}
	p, e, err := s.newBook()
	if err != nil {
		return err
	}
	if err := p.Restore(snap.Portfolio); err != nil {
		return err
	}
	if err := e.Restore(snap.Engine, paper.NoPrices); err != nil {
		return err
	}
	s.portfolio, s.engine = p, e
	if snap.SessionID != "" {
		s.id = snap.SessionID
		s.log = s.deps.Log.With().Str("component", "session").Str("session", s.id).Logger()
	}
	s.log.Info().Time("taken", snap.Taken).Msg("session restored")
	return nil
}

func (s *Session) snapshotLoop(ctx context.Context, done chan struct{}, every time.Duration, id string, p *paper.Portfolio, e *execution.Engine) {
	defer close(done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.save(ctx, s.capture(id, p, e))
		}
	}
}

func (s *Session) save(ctx context.Context, snap Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := s.deps.Store.Save(ctx, snap); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("snapshot save failed")
		return
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	s.log.Debug().Msg("snapshot saved")
}
