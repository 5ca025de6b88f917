// Package metrics registers the Prometheus collectors for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts orders accepted into a book, by side.
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bourse_orders_placed_total",
		Help: "Total number of orders placed, by side",
	},
	[]string{"side"},
)

// OrdersCancelled counts cancelled orders.
var OrdersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bourse_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	},
)

// TradesMatched counts trades produced by the matching crank.
var TradesMatched = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bourse_trades_matched_total",
		Help: "Total number of trades produced by matching",
	},
)

// TradesSettled counts settled trades.
var TradesSettled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bourse_trades_settled_total",
		Help: "Total number of trades settled",
	},
)

// CrankIterations records how many iterations each crank invocation used.
var CrankIterations = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "bourse_crank_iterations",
		Help:    "Iterations consumed per matching crank invocation",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	},
)

// EscrowTransitions counts escrow state transitions, by resulting status.
var EscrowTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bourse_escrow_transitions_total",
		Help: "Escrow state transitions, by resulting status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrdersCancelled,
		TradesMatched,
		TradesSettled,
		CrankIterations,
		EscrowTransitions,
	)
}
