// Package metrics exports the prometheus collectors shared by the widget
// flow and the payment reconciler.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paywatch"

var (
	InvoicesRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoices_requested_total",
			Help:      "Invoice requests by outcome.",
		},
		[]string{"result"})

	SettlementsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_detected_total",
			Help:      "Settlements matched to an attached invoice, by detector.",
		},
		[]string{"source"})

	DuplicateSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_suppressed_total",
			Help:      "Settlement notifications dropped because the invoice was already paid.",
		},
		[]string{"source"})

	ConnectionStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_connection_transitions_total",
			Help:      "Settlement channel state transitions.",
		},
		[]string{"state"})

	SessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Tip sessions by terminal state.",
		},
		[]string{"state"})

	PaymentsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_reconciled_total",
			Help:      "Stored payments moved out of pending by the reconciler.",
		},
		[]string{"status"})

	SubscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settlement_subscribers",
			Help:      "Open settlement websocket subscribers.",
		})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		InvoicesRequested,
		SettlementsDetected,
		DuplicateSettlements,
		ConnectionStates,
		SessionOutcomes,
		PaymentsReconciled,
		SubscribersGauge,
	}
}

// Register adds every collector to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		err := reg.Register(c)
		var already prometheus.AlreadyRegisteredError
		if err != nil && !errors.As(err, &already) {
			return err
		}
	}

	return nil
}
