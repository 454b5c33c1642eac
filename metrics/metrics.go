// Package metrics exposes Prometheus counters for the credit API.
//
// Outcomes are recorded by the HTTP layer after each workflow call; the
// domain package stays metrics-free. Mount promhttp.Handler() at /metrics
// to scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels recorded per workflow call.
const (
	OutcomeOK           = "ok"
	OutcomeIdempotent   = "idempotent"
	OutcomeInsufficient = "insufficient"
	OutcomeValidation   = "validation"
	OutcomeStorage      = "storage"
)

var (
	// ConsumeTotal counts consume calls by outcome.
	ConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credit",
		Name:      "consume_total",
		Help:      "Consume workflow calls by outcome.",
	}, []string{"outcome"})

	// GrantTotal counts grant calls by outcome.
	GrantTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credit",
		Name:      "grant_total",
		Help:      "Grant workflow calls by outcome.",
	}, []string{"outcome"})

	// BalanceReads counts balance queries by outcome.
	BalanceReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credit",
		Name:      "balance_reads_total",
		Help:      "Balance queries by outcome.",
	}, []string{"outcome"})

	// LedgerReads counts audit queries by outcome.
	LedgerReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "credit",
		Name:      "ledger_reads_total",
		Help:      "Ledger audit queries by outcome.",
	}, []string{"outcome"})

	// AdminDenied counts rejected admin-surface requests.
	AdminDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "credit",
		Name:      "admin_denied_total",
		Help:      "Requests rejected by the admin bearer-token check.",
	})
)
