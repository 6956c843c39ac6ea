package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"papertrader-go/internal/bars"
	"papertrader-go/internal/exchange"
	"papertrader-go/internal/metrics"
	"papertrader-go/internal/session"
	"papertrader-go/internal/strategy"
)

// StartRequest is the body of POST /api/simulation/start.
type StartRequest struct {
	StrategyID     string             `json:"strategy_id" validate:"required"`
	Parameters     map[string]any     `json:"parameters" validate:"required"`
	InitialCapital float64            `json:"initial_capital" default:"100000" validate:"gte=0"`
	RiskParameters map[string]float64 `json:"risk_parameters"`
	ChartInterval  string             `json:"chart_interval" default:"1m"`
	TradeQuantity  int64              `json:"trade_quantity" default:"100" validate:"gt=0"`
}

// KlineRequest is the query of GET /api/klines/current.
type KlineRequest struct {
	Symbol   string `query:"symbol" validate:"required"`
	Interval string `query:"interval"`
}

// Handler serves the simulation control API.
type Handler struct {
	mgr   *session.Manager
	hub   *Hub
	feeds []exchange.SymbolConfig
	log   zerolog.Logger
}

// NewHandler builds handlers over mgr. feeds are passed to every new session.
func NewHandler(mgr *session.Manager, hub *Hub, feeds []exchange.SymbolConfig, log zerolog.Logger) *Handler {
	return &Handler{mgr: mgr, hub: hub, feeds: feeds, log: log.With().Str("component", "api").Logger()}
}

// RegisterRoutes mounts every endpoint on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/simulation/status", h.Status)
	g.GET("/simulation/strategies", h.Strategies)
	g.POST("/simulation/start", h.Start)
	g.POST("/simulation/stop", h.Stop)
	g.POST("/simulation/reset", h.Reset)
	g.POST("/risk/evaluate", h.EvaluateRisk)
	g.GET("/klines/current", h.CurrentKline)
	if h.hub != nil {
		e.GET("/ws/ticks", h.hub.ServeWS)
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

func (h *Handler) Status(c echo.Context) error {
	s, ok := h.mgr.Current()
	if !ok {
		return dataResponse(c, http.StatusOK, "no simulation session", session.Status{})
	}
	return successResponse(c, s.Status())
}

func (h *Handler) Strategies(c echo.Context) error {
	return successResponse(c, strategy.Available())
}

func (h *Handler) Start(c echo.Context) error {
	req := &StartRequest{}
	if verrs := readAndValidate(c, req); verrs != nil {
		return dataResponse(c, http.StatusBadRequest, "", verrs)
	}
	params := session.Params{
		StrategyID:     req.StrategyID,
		StrategyParams: req.Parameters,
		InitialCash:    req.InitialCapital,
		Risk:           req.RiskParameters,
		ChartInterval:  req.ChartInterval,
		TradeQuantity:  req.TradeQuantity,
		Feeds:          h.feeds,
	}
	// the session outlives the request
	s, err := h.mgr.Start(context.WithoutCancel(c.Request().Context()), params)
	switch {
	case errors.Is(err, session.ErrRunning):
		return errorResponse(c, http.StatusConflict, err)
	case errors.Is(err, session.ErrInvalidParams):
		return errorResponse(c, http.StatusBadRequest, err)
	case err != nil:
		h.log.Error().Err(err).Msg("start simulation")
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return dataResponse(c, http.StatusOK, "simulation started", s.Status())
}

func (h *Handler) Stop(c echo.Context) error {
	if err := h.mgr.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			return messageResponse(c, "simulation is not running")
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return messageResponse(c, "simulation stopped; portfolio and trades retained")
}

func (h *Handler) Reset(c echo.Context) error {
	err := h.mgr.Reset()
	switch {
	case errors.Is(err, session.ErrRunning):
		return errorResponse(c, http.StatusConflict, errors.New("stop the simulation before resetting"))
	case errors.Is(err, session.ErrNoSession):
		return errorResponse(c, http.StatusNotFound, err)
	case err != nil:
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return messageResponse(c, "simulation reset")
}

// EvaluateRisk re-runs the risk checks against current prices and returns the new alert set.
func (h *Handler) EvaluateRisk(c echo.Context) error {
	s, ok := h.mgr.Current()
	if !ok {
		return errorResponse(c, http.StatusNotFound, session.ErrNoSession)
	}
	return successResponse(c, s.Engine().EvaluateRisk())
}

func (h *Handler) CurrentKline(c echo.Context) error {
	req := &KlineRequest{}
	if verrs := readAndValidate(c, req); verrs != nil {
		return dataResponse(c, http.StatusBadRequest, "", verrs)
	}
	if req.Interval != "" {
		if _, err := bars.ParseInterval(req.Interval); err != nil {
			return errorResponse(c, http.StatusBadRequest, err)
		}
	}
	s, ok := h.mgr.Current()
	if !ok {
		return errorResponse(c, http.StatusNotFound, session.ErrNoSession)
	}
	bar, ok := s.CurrentBar(req.Symbol, req.Interval)
	if !ok {
		return errorResponse(c, http.StatusNotFound, errors.New("no bar for symbol and interval"))
	}
	return successResponse(c, bar)
}
