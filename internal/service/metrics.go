package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfers initiated, labeled by flow and resulting status",
	}, []string{"flow", "status"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfer_rejections_total",
		Help: "Transfers refused by policy checks, labeled by reason",
	}, []string{"flow", "reason"})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_idempotent_replays_total",
		Help: "Initiations answered from a previously stored result",
	}, []string{"flow"})

	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconcile_notifications_total",
		Help: "Rail notifications processed, labeled by outcome",
	}, []string{"outcome"})

	railLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_rail_submit_duration_seconds",
		Help:    "Latency of external rail submissions",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	integrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_integrity_failures_total",
		Help: "Accounts whose ledger history disagrees with the stored balance",
	})
)
