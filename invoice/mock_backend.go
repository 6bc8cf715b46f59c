package invoice

import (
	"context"
	"fmt"

	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/payment"
)

// MockBackend synthesizes invoices locally for demos and tests. The invoice
// depends only on the amount.
type MockBackend struct{}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Request(_ context.Context, req Request) (*payment.Invoice, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	invoice, err := lightning.NewMockInvoice(req.AmountSats)
	if err != nil {
		return nil, fmt.Errorf("failed to build mock invoice: %w", err)
	}

	return &payment.Invoice{
		PaymentRequest: invoice.PaymentRequest,
		ProviderRef:    invoice.PaymentHash.String(),
		AmountSats:     req.AmountSats,
	}, nil
}
