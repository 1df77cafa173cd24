// Package metrics registers the process-wide prometheus instruments for the
// execution core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_intents_total",
		Help: "Intents handled, labeled by final status",
	}, []string{"status"})

	RiskRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_risk_rejections_total",
		Help: "Intents rejected by risk admission, labeled by reason",
	}, []string{"reason"})

	RiskOverrides = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_risk_data_overrides_total",
		Help: "Times a failed risk data read was allowed through by operator override",
	})

	BrokerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_broker_errors_total",
		Help: "Broker calls that returned an error",
	})

	BrokerTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_broker_timeouts_total",
		Help: "Broker submissions with unknown outcome pending reconciliation",
	})

	LedgerAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_ledger_appends_total",
		Help: "Fill records appended to the ledger",
	})

	LedgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_ledger_conflicts_total",
		Help: "Ledger appends skipped because the fill was already recorded",
	})

	LifecycleViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exec_lifecycle_violations_total",
		Help: "Illegal order state transitions observed (order frozen)",
	})

	InFlightSubmissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "exec_inflight_submissions",
		Help: "Broker submissions currently holding a shutdown gate slot",
	})

	BreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exec_circuit_breaker_trips_total",
		Help: "Circuit breaker rejections, labeled by sub-reason",
	}, []string{"breaker"})
)

func init() {
	prometheus.MustRegister(
		IntentsTotal, RiskRejections, RiskOverrides,
		BrokerErrors, BrokerTimeouts,
		LedgerAppends, LedgerConflicts,
		LifecycleViolations, InFlightSubmissions, BreakerTrips,
	)
}
