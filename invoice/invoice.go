// Package invoice asks the payment backend to mint Lightning invoices for a
// tenant. Nothing here retries or caches; callers decide what to do with a
// failure.
package invoice

import (
	"context"
	"fmt"
	"strings"

	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
)

// MockBaseURL selects the offline backend.
const MockBaseURL = "mock"

type Request struct {
	Domain     string
	Action     string
	AmountSats money.Money
	Metadata   payment.Metadata
}

//go:generate go tool mockgen -destination=mock.go -package=invoice . Requester
type Requester interface {
	Request(ctx context.Context, req Request) (*payment.Invoice, error)
}

// New returns the HTTP client for a backend origin, or the offline backend
// when baseURL is "mock". Both satisfy the same interface.
func New(baseURL string, opts ...Option) Requester {
	if strings.EqualFold(strings.TrimSpace(baseURL), MockBaseURL) {
		return NewMockBackend()
	}

	return NewClient(baseURL, opts...)
}

func validate(req Request) error {
	if strings.TrimSpace(req.Domain) == "" {
		return fmt.Errorf("no tenant domain to address the payment backend: %w", payment.ErrConfiguration)
	}
	if req.AmountSats == 0 {
		return payment.ErrInvalidAmount
	}

	return nil
}
