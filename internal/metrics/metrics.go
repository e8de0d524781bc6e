package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of price observations ingested"},
		[]string{"source"},
	)
	DroppedTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dropped_ticks_total", Help: "Ticks dropped while an evaluation was in flight"},
	)
	SkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "skips_total", Help: "Evaluations that ended without a trade"},
		[]string{"reason"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Tradeable signals emitted"},
		[]string{"direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"direction"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "settlements_total", Help: "Trades settled by outcome"},
		[]string{"outcome"},
	)
	VenueErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "venue_errors_total", Help: "Failed venue quote or resolution lookups"},
	)
	AvailableBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bankroll_available_usd", Help: "Cash available for new bets"},
	)
	CumulativePnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bankroll_pnl_usd", Help: "Cumulative realized P&L"},
	)
	BreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "breaker_tripped", Help: "1 while the P&L circuit breaker holds trading paused"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, DroppedTicksTotal, SkipsTotal, SignalsTotal, OrdersTotal,
		SettlementsTotal, VenueErrorsTotal, AvailableBalance, CumulativePnL, BreakerTripped,
	)
}

// Handler returns a mux exposing /metrics; callers may mount more routes on it.
func Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func Serve(addr string, handler http.Handler) *http.Server {
	if handler == nil {
		handler = Handler()
	}
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
