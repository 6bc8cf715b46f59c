// Package presenter renders a tip session on a terminal.
package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/session"
	log "github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

// Terminal writes the widget to an io.Writer: the invoice as a QR code, a
// countdown line and status updates.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
	// QR disables the QR code when false, for writers that are not terminals.
	QR bool

	lastShown time.Duration
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, QR: true, lastShown: -1}
}

var _ session.Presenter = (*Terminal)(nil)

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		log.WithError(err).Debug("failed to write to terminal")
	}
}

func (t *Terminal) ShowInvoice(invoice payment.Invoice) {
	var b strings.Builder
	if t.QR {
		qr, err := qrcode.New(strings.ToUpper("lightning:"+invoice.PaymentRequest), qrcode.Medium)
		if err != nil {
			log.WithError(err).Warn("failed to render invoice QR code")
		} else {
			b.WriteString(qr.ToSmallString(false))
		}
	}
	fmt.Fprintf(&b, "Pay %s (%s BTC)\n", invoice.AmountSats, invoice.AmountSats.ToBtc().String())
	fmt.Fprintf(&b, "%s\n", invoice.PaymentRequest)

	t.mu.Lock()
	t.lastShown = -1
	t.mu.Unlock()

	t.printf("%s", b.String())
}

// ShowCountdown prints once per minute, then every second of the last ten.
func (t *Terminal) ShowCountdown(remaining time.Duration) {
	remaining = remaining.Truncate(time.Second)

	t.mu.Lock()
	if remaining == t.lastShown {
		t.mu.Unlock()

		return
	}
	show := remaining%time.Minute == 0 || remaining <= 10*time.Second || t.lastShown < 0
	if show {
		t.lastShown = remaining
	}
	t.mu.Unlock()

	if show {
		t.printf("Expires in %s\n", formatRemaining(remaining))
	}
}

func (t *Terminal) ShowStatus(state payment.State, text string) {
	t.printf("[%s] %s\n", strings.ToLower(state.String()), text)
}

func (t *Terminal) ShowConnection(state payment.ConnectionState) {
	switch state {
	case payment.ConnectionOpen:
		t.printf("Live updates connected\n")
	case payment.ConnectionError:
		t.printf("Live updates unavailable\n")
	}
}

func (t *Terminal) Celebrate(event session.PaidEvent) {
	line := fmt.Sprintf("⚡ Received %s", event.AmountSats)
	if event.ItemID != "" {
		line += " for " + event.ItemID
	}
	t.printf("%s\n", line)
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)

	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
