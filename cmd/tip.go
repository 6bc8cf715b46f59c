package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nostrstack/paywatch/config"
	"github.com/nostrstack/paywatch/invoice"
	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/presenter"
	"github.com/nostrstack/paywatch/session"
	"github.com/nostrstack/paywatch/settlement"
	log "github.com/sirupsen/logrus"
)

var errSessionFailed = errors.New("tip session failed")

type tipOptions struct {
	// Amount in sats. Zero uses the configured default.
	Amount int64
	// Preset selects a preset amount by index when not negative.
	Preset int
	// Simulate feeds a synthetic settlement as soon as the invoice shows up.
	Simulate bool
	Wait     time.Duration
	QR       bool
}

// failureWatch forwards to the terminal and remembers when the session fails.
type failureWatch struct {
	session.Presenter
	failed chan string
}

func (f *failureWatch) ShowStatus(state payment.State, text string) {
	f.Presenter.ShowStatus(state, text)
	if state == payment.StateFailed {
		select {
		case f.failed <- text:
		default:
		}
	}
}

func runTip(ctx context.Context, out io.Writer, cfg *config.Widget, opts tipOptions) (*session.PaidEvent, error) {
	watcher := settlement.New(settlement.Config{
		StreamURL: cfg.StreamEndpoint(),
		StatusURL: cfg.StatusEndpoint(),
		Domain:    cfg.Domain(),
	})

	term := presenter.NewTerminal(out)
	term.QR = opts.QR
	view := &failureWatch{Presenter: term, failed: make(chan string, 1)}

	controller := session.New(cfg.SessionConfig(), invoice.New(cfg.BaseURL), watcher, view)
	defer controller.Destroy()

	invoices := make(chan session.InvoiceEvent, 1)
	paid := make(chan session.PaidEvent, 1)
	controller.OnInvoice(func(ev session.InvoiceEvent) {
		select {
		case invoices <- ev:
		default:
		}
	})
	controller.OnPaid(func(ev session.PaidEvent) {
		select {
		case paid <- ev:
		default:
		}
	})

	var err error
	if opts.Preset >= 0 {
		_, err = controller.SelectPreset(ctx, opts.Preset)
	} else {
		amount := opts.Amount
		if amount == 0 {
			amount = cfg.DefaultAmountSats
		}
		_, err = controller.SelectAmount(ctx, amount)
	}
	if err != nil {
		return nil, err
	}

	wait := opts.Wait
	if wait <= 0 {
		wait = cfg.TTL() + 30*time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		select {
		case ev := <-invoices:
			log.WithContext(ctx).WithField("ref", ev.ProviderRef).Debug("invoice shown")
			if !opts.Simulate {
				continue
			}

			frame, err := json.Marshal(settlement.Message{
				Type:        settlement.TypeInvoicePaid,
				PR:          ev.PR,
				ProviderRef: ev.ProviderRef,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to encode simulated settlement: %w", err)
			}
			if err := controller.HandleMessage(frame); err != nil {
				return nil, fmt.Errorf("failed to simulate settlement: %w", err)
			}
		case ev := <-paid:
			return &ev, nil
		case text := <-view.failed:
			return nil, fmt.Errorf("%s: %w", text, errSessionFailed)
		case <-ctx.Done():
			return nil, fmt.Errorf("no payment received, session %s: %w", controller.State(), ctx.Err())
		}
	}
}
