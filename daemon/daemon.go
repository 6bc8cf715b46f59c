// Package daemon reconciles the payment ledger against the lightning node
// and pushes settlements to the widgets listening on the settlement hub.
package daemon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nostrstack/paywatch/database"
	"github.com/nostrstack/paywatch/database/models"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/metrics"
	"github.com/nostrstack/paywatch/settlement"
	log "github.com/sirupsen/logrus"
)

const MONITORING_INTERVAL_SECONDS = 10

type Server interface {
	ListenAndServe() error
}

// Publisher delivers a settlement frame to every subscriber of a domain.
type Publisher interface {
	PublishSettlement(domain string, msg *settlement.Message)
}

func Start(ctx context.Context, server Server, monitor *PaymentMonitor) error {
	log.Info("Starting paywatchd")

	go func() {
		err := server.ListenAndServe()
		if err != nil {
			log.Fatalf("couldn't start server: %v", err)
		}
	}()

	ticker := monitor.clock.TickAfter(0)
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down paywatchd")
			monitor.Stop()

			return nil
		case <-ticker:
			monitor.MonitorPayments(ctx)
			ticker = monitor.clock.TickAfter(MONITORING_INTERVAL_SECONDS * time.Second)
		}
	}
}

type PaymentMonitor struct {
	repository database.PaymentRepository
	node       lightning.Client
	publisher  Publisher
	clock      clock.Clock
	watchers   *fn.GoroutineManager
}

func NewPaymentMonitor(repository database.PaymentRepository, node lightning.Client, publisher Publisher, clk clock.Clock) *PaymentMonitor {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &PaymentMonitor{
		repository: repository,
		node:       node,
		publisher:  publisher,
		clock:      clk,
		watchers:   fn.NewGoroutineManager(),
	}
}

func (m *PaymentMonitor) MonitorPayments(ctx context.Context) {
	payments, err := m.repository.GetPendingPayments(ctx)
	if err != nil {
		log.Errorf("failed to get pending payments: %v", err)

		return
	}

	for _, payment := range payments {
		err := m.MonitorPayment(ctx, payment)
		if err != nil {
			log.Errorf("failed to monitor payment: %v", err)

			continue
		}
	}
}

// MonitorPayment brings one pending payment in line with the node's view of
// its invoice.
func (m *PaymentMonitor) MonitorPayment(ctx context.Context, payment *models.Payment) error {
	logger := log.WithContext(ctx).WithFields(log.Fields{
		"hash":   payment.PaymentHash,
		"domain": payment.Domain,
	})
	logger.Debug("processing payment")

	rhash, err := hex.DecodeString(payment.PaymentHash)
	if err != nil {
		return fmt.Errorf("invalid payment hash %q: %w", payment.PaymentHash, err)
	}

	status, err := m.node.LookupInvoice(ctx, rhash)
	switch {
	case errors.Is(err, lightning.ErrInvoiceNotFound):
		logger.Warn("invoice not found on node")

		return m.cancel(ctx, payment)
	case err != nil:
		return fmt.Errorf("failed to lookup invoice: %w", err)
	}

	switch status.State {
	case lightning.InvoiceSettled:
		paidAt := status.SettledAt
		if paidAt.IsZero() {
			paidAt = m.clock.Now()
		}

		return m.settle(ctx, payment, status.Preimage, paidAt)
	case lightning.InvoiceCanceled:
		return m.cancel(ctx, payment)
	case lightning.InvoiceAccepted:
		logger.Debug("HTLC accepted, waiting for settlement")
	default:
		if payment.Expired(m.clock.Now()) {
			changed, err := m.repository.MarkExpired(ctx, payment.PaymentHash)
			if err != nil {
				return fmt.Errorf("failed to mark payment expired: %w", err)
			}
			if changed {
				logger.Info("payment expired")
				metrics.PaymentsReconciled.WithLabelValues(models.PaymentStatusExpired.String()).Inc()
			}

			return nil
		}
		logger.Debug("waiting for payment")
	}

	return nil
}

// Track follows a freshly issued invoice on the node so a settlement is
// pushed as soon as it happens instead of on the next reconcile pass.
func (m *PaymentMonitor) Track(ctx context.Context, payment *models.Payment) bool {
	return m.watchers.Go(ctx, func(ctx context.Context) {
		logger := log.WithContext(ctx).WithField("hash", payment.PaymentHash)

		rhash, err := hex.DecodeString(payment.PaymentHash)
		if err != nil {
			logger.WithError(err).Warn("not tracking payment with invalid hash")

			return
		}

		ctx, cancel := context.WithDeadline(ctx, payment.ExpiresAt)
		defer cancel()

		preimage, err := m.node.MonitorPaymentReception(ctx, rhash)
		switch {
		case errors.Is(err, lightning.ErrInvoiceCanceled):
			if err := m.cancel(ctx, payment); err != nil {
				logger.WithError(err).Warn("failed to cancel payment")
			}
		case err != nil:
			// The reconciler picks it up on its next pass.
			logger.WithError(err).Debug("stopped tracking payment")
		default:
			if err := m.settle(ctx, payment, preimage, m.clock.Now()); err != nil {
				logger.WithError(err).Warn("failed to settle payment")
			}
		}
	})
}

func (m *PaymentMonitor) Stop() {
	m.watchers.Stop()
}

func (m *PaymentMonitor) settle(ctx context.Context, payment *models.Payment, rawPreimage string, paidAt time.Time) error {
	logger := log.WithContext(ctx).WithField("hash", payment.PaymentHash)

	var preimage *lntypes.Preimage
	if rawPreimage != "" {
		p, err := lntypes.MakePreimageFromStr(rawPreimage)
		if err != nil {
			logger.WithError(err).Warn("node returned an invalid preimage")
		} else {
			preimage = &p
		}
	}

	changed, err := m.repository.MarkPaid(ctx, payment.PaymentHash, preimage, paidAt)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}
	if !changed {
		logger.Debug("payment already marked paid")

		return nil
	}

	logger.Info("payment settled")
	metrics.PaymentsReconciled.WithLabelValues(models.PaymentStatusPaid.String()).Inc()

	paid := true
	msg := &settlement.Message{
		Type:        settlement.TypeInvoicePaid,
		Domain:      payment.Domain,
		PR:          payment.PaymentRequest,
		ProviderRef: payment.PaymentHash,
		Paid:        &paid,
		Status:      "paid",
	}
	if preimage != nil {
		msg.Preimage = preimage.String()
	}
	m.publisher.PublishSettlement(payment.Domain, msg)

	return nil
}

func (m *PaymentMonitor) cancel(ctx context.Context, payment *models.Payment) error {
	changed, err := m.repository.MarkCanceled(ctx, payment.PaymentHash)
	if err != nil {
		return fmt.Errorf("failed to mark payment canceled: %w", err)
	}
	if changed {
		metrics.PaymentsReconciled.WithLabelValues(models.PaymentStatusCanceled.String()).Inc()
	}

	return nil
}
