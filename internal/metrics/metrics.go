package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MarketsScanned = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "markets_scanned_total", Help: "Markets analyzed during ranking cycles"},
	)
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stream_ticks_total", Help: "Ticker updates received from the stream"},
		[]string{"market"},
	)
	WhaleTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whale_trades_total", Help: "Large trades recorded by the whale tracker"},
		[]string{"market", "side"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "monitor_alerts_total", Help: "Position status alerts fired by the monitor"},
		[]string{"market", "status"},
	)
)

func init() {
	prometheus.MustRegister(MarketsScanned, TicksTotal, WhaleTradesTotal, AlertsTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{ Addr: addr, Handler: mux }
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
