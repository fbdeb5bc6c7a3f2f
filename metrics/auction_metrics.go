package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "operations_total",
	Help:      "Total number of auction operations seen by the service.",
}, []string{"auction_id", "op", "result"})

var BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "bids_total",
	Help:      "Total number of bids submitted to the service.",
}, []string{"auction_id", "result"})

var ValueCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "value_collected_total",
	Help:      "Total value collected from accepted bids.",
}, []string{"auction_id"})

var ValuePaidOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "value_paid_out_total",
	Help:      "Total value paid out by withdrawals.",
}, []string{"auction_id"})

var JournalErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "escrow",
	Name:      "journal_errors_total",
	Help:      "Committed auction mutations that could not be persisted.",
}, []string{"auction_id"})
