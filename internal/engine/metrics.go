// metrics.go exposes Prometheus counters/gauges for observability, adapted
// from chidi150c-coinbase/metrics.go's counter/gauge vector set and
// registered the same way: package-level vars, MustRegister in init().
package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_trades_total",
			Help: "Trades committed, by side",
		},
		[]string{"side"},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_decisions_total",
			Help: "Per-tick decision outcomes (traded or skipped)",
		},
		[]string{"outcome"}, // "traded" | a skip reason
	)

	mtxGateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perp_gate_denials_total",
			Help: "Gate vetoes of trade candidates, by reason",
		},
		[]string{"reason"},
	)

	mtxDailyPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perp_daily_pnl_usd",
			Help: "Running daily realized PnL in USD",
		},
	)

	mtxConfluenceStrength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perp_confluence_strength",
			Help:    "Weighted confluence strength (0-100) of committed trades",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	mtxControlState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perp_control_state",
			Help: "Current control-plane status as a labeled indicator (1 = active)",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(mtxTrades, mtxDecisions, mtxGateDenials)
	prometheus.MustRegister(mtxDailyPnl, mtxConfluenceStrength, mtxControlState)
}

func recordTickOutcome(outcome string) { mtxDecisions.WithLabelValues(outcome).Inc() }

func recordTrade(side string, confluenceStrength float64) {
	mtxTrades.WithLabelValues(side).Inc()
	mtxConfluenceStrength.Observe(confluenceStrength)
}

func recordGateDenial(reason string) { mtxGateDenials.WithLabelValues(reason).Inc() }

func setDailyPnl(v float64) { mtxDailyPnl.Set(v) }

func setControlState(status string) {
	for _, s := range []string{"unarmed", "armed", "running", "paused", "kill_switch_active"} {
		if s == status {
			mtxControlState.WithLabelValues(s).Set(1)
		} else {
			mtxControlState.WithLabelValues(s).Set(0)
		}
	}
}
