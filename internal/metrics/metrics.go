package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of synthetic ticks dispatched"},
		[]string{"symbol"},
	)
	SubscriberPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "subscriber_panics_total", Help: "Tick subscribers that panicked and were recovered"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Strategy signals emitted"},
		[]string{"symbol", "kind"},
	)
	BarsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_opened_total", Help: "OHLCV buckets opened by the aggregator"},
		[]string{"symbol", "interval"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Trades applied to the portfolio"},
		[]string{"symbol", "side"},
	)
	TradesBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_blocked_total", Help: "Trades refused by risk checks or the portfolio"},
		[]string{"symbol", "reason"},
	)
	RiskAlertsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "risk_alerts_active", Help: "Alerts produced by the latest risk evaluation"},
		[]string{"kind"},
	)
	NetWorth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "portfolio_net_worth", Help: "Total portfolio value at the latest valuation"},
	)
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "snapshots_total", Help: "Session snapshot attempts"},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		SubscriberPanicsTotal,
		SignalsTotal,
		BarsOpenedTotal,
		TradesTotal,
		TradesBlockedTotal,
		RiskAlertsActive,
		NetWorth,
		SnapshotsTotal,
	)
}

// Handler exposes the default registry for embedding in other routers.
func Handler() http.Handler { return promhttp.Handler() }

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
