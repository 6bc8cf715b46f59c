// Package session drives one tip widget: amount selection, invoice request,
// countdown and settlement, one session at a time.
//
// All state lives on a single event loop goroutine. The invoice request, the
// expiry timer and the settlement watcher only post events to it, each tagged
// with the session that produced it, and the loop drops any event whose
// session is no longer current.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/settlement"
)

var (
	ErrDestroyed              = errors.New("tip controller destroyed")
	ErrCustomAmountNotAllowed = errors.New("custom amounts are disabled")
	ErrUnknownPreset          = errors.New("no such preset amount")
	// ErrRefreshUnavailable is returned when there is no invoice waiting for
	// a payment.
	ErrRefreshUnavailable = errors.New("no invoice to check")
)

// DefaultTTL is how long an invoice is shown before the widget gives up.
const DefaultTTL = 10 * time.Minute

// Status texts handed to the presenter.
const (
	StatusRequesting    = "Creating invoice..."
	StatusWaiting       = "Scan the invoice to pay"
	StatusRealtimeDown  = "Live updates unavailable, checking payment status"
	StatusConfigFailed  = "Payments are not configured for this site"
	StatusRequestFailed = "Could not create an invoice, pick an amount to try again"
	StatusExpired       = "Invoice expired, refresh to check for a late payment"
	StatusRefreshFailed = "Could not check the payment status, try again"
	StatusPaid          = "Payment received, thank you!"
)

//go:generate go tool mockgen -destination=mock_watcher.go -package=session . Watcher

// Watcher is the settlement watcher as the controller uses it. Callbacks
// registered on it must not fire for an invoice once Stop, Attach or Destroy
// has returned.
type Watcher interface {
	Attach(pr, providerRef string) error
	Start(ctx context.Context) error
	OnStateChange(cb func(payment.ConnectionState))
	OnPaid(cb func(settlement.Settlement))
	Refresh(ctx context.Context) error
	HandleMessage(raw []byte) error
	Stop()
	Destroy()
}

//go:generate go tool mockgen -destination=mock_presenter.go -package=session . Presenter

// Presenter renders the widget. Every method is called from the controller
// loop, one call at a time, and must not call back into the Controller. Use
// OnInvoice and OnPaid to react to the session.
type Presenter interface {
	ShowInvoice(invoice payment.Invoice)
	ShowCountdown(remaining time.Duration)
	ShowStatus(state payment.State, text string)
	ShowConnection(state payment.ConnectionState)
	Celebrate(event PaidEvent)
}

type Config struct {
	Domain string
	Action string
	ItemID string

	PresetAmounts     []money.Money
	AllowCustomAmount bool
	Metadata          payment.Metadata

	TTL   time.Duration
	Clock clock.Clock
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.Action == "" {
		c.Action = "tip"
	}
}

// InvoiceEvent is reported once per created invoice.
type InvoiceEvent struct {
	PR          string
	ProviderRef string
	AmountSats  money.Money
}

// PaidEvent is reported once per paid session.
type PaidEvent struct {
	PR          string
	ProviderRef string
	AmountSats  money.Money
	ItemID      string
	Metadata    payment.Metadata
}

// Snapshot is a copy of the controller state for display.
type Snapshot struct {
	State      payment.State
	Connection payment.ConnectionState
	Remaining  time.Duration
	// Session is nil until the first amount is selected.
	Session *payment.Session
}

type nopPresenter struct{}

func (nopPresenter) ShowInvoice(payment.Invoice) {}
func (nopPresenter) ShowCountdown(time.Duration) {}
func (nopPresenter) ShowStatus(payment.State, string) {}
func (nopPresenter) ShowConnection(payment.ConnectionState) {}
func (nopPresenter) Celebrate(PaidEvent) {}
