package lightning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nostrstack/paywatch/money"
)

const DefaultCltvExpiry uint64 = 144

var (
	ErrInvoiceCanceled = fmt.Errorf("invoice canceled")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

type Preimage = string

// InvoiceState mirrors the node's view of an invoice we issued.
type InvoiceState string

const (
	InvoiceOpen     InvoiceState = "OPEN"
	InvoiceSettled  InvoiceState = "SETTLED"
	InvoiceCanceled InvoiceState = "CANCELED"
	InvoiceAccepted InvoiceState = "ACCEPTED"
)

type InvoiceStatus struct {
	State    InvoiceState
	Preimage Preimage
	// SettledAt is zero unless the invoice is settled.
	SettledAt time.Time
}

//go:generate go tool mockgen -destination=mock.go -package=lightning . Client
type Client interface {
	GenerateInvoice(ctx context.Context, amount money.Money, expiry time.Duration, memo string) (paymentRequest string, rhash []byte, e error)
	LookupInvoice(ctx context.Context, rhash []byte) (*InvoiceStatus, error)
	MonitorPaymentReception(ctx context.Context, rhash []byte) (Preimage, error)
}
