package settlement

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/payment"
)

// TypeInvoicePaid is the message type the backend pushes on settlement.
const TypeInvoicePaid = "invoice-paid"

// Source identifies which detector saw a settlement.
type Source string

const (
	SourceStream  Source = "stream"
	SourcePoll    Source = "poll"
	SourceMessage Source = "message"
)

// Message is both the real-time frame and the status poll payload. Backends
// disagree on field names, so every known spelling is accepted.
type Message struct {
	Type           string `json:"type,omitempty"`
	Domain         string `json:"domain,omitempty"`
	PR             string `json:"pr,omitempty"`
	Invoice        string `json:"invoice,omitempty"`
	ProviderRef    string `json:"provider_ref,omitempty"`
	ProviderRefAlt string `json:"providerRef,omitempty"`
	PaymentHash    string `json:"payment_hash,omitempty"`
	Paid           *bool  `json:"paid,omitempty"`
	Status         string `json:"status,omitempty"`
	Preimage       string `json:"preimage,omitempty"`
	LinkingKey     string `json:"linkingKey,omitempty"`
}

// ParseMessage decodes a raw frame. Non JSON input is a protocol error.
func ParseMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode settlement message: %v: %w", err, payment.ErrProtocol)
	}

	return &msg, nil
}

func (m *Message) PaymentRequest() string {
	if m.PR != "" {
		return lightning.NormalizePaymentRequest(m.PR)
	}

	return lightning.NormalizePaymentRequest(m.Invoice)
}

func (m *Message) Ref() string {
	for _, ref := range []string{m.ProviderRef, m.ProviderRefAlt, m.PaymentHash} {
		if ref = strings.TrimSpace(ref); ref != "" {
			return ref
		}
	}

	return ""
}

// HasIdentity reports whether the message names an invoice at all.
func (m *Message) HasIdentity() bool {
	return m.PaymentRequest() != "" || m.Ref() != ""
}

var paidStatuses = map[string]bool{
	"paid":      true,
	"settled":   true,
	"completed": true,
	"complete":  true,
	"succeeded": true,
	"success":   true,
	"verified":  true,
}

// Settled reports whether the message announces a payment. An explicit paid
// flag wins over type and status.
func (m *Message) Settled() bool {
	if m.Paid != nil {
		return *m.Paid
	}
	if paidStatuses[strings.ToLower(strings.TrimSpace(m.Status))] {
		return true
	}

	return strings.EqualFold(m.Type, TypeInvoicePaid)
}

// target is the invoice identity a watcher is attached to.
type target struct {
	pr          string
	providerRef string
	paymentHash string
}

func newTarget(pr, providerRef string) target {
	t := target{
		pr:          lightning.NormalizePaymentRequest(pr),
		providerRef: strings.TrimSpace(providerRef),
	}
	if hash, err := lightning.DecodePaymentHash(t.pr); err == nil {
		t.paymentHash = hash
	}

	return t
}

func (t target) empty() bool {
	return t.pr == "" && t.providerRef == ""
}

// matches reports whether msg names this invoice, by provider reference or by
// the invoice string itself.
func (t target) matches(msg *Message) bool {
	if t.empty() {
		return false
	}

	refs := []string{msg.ProviderRef, msg.ProviderRefAlt, msg.PaymentHash}
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if t.providerRef != "" && strings.EqualFold(ref, t.providerRef) {
			return true
		}
		if t.paymentHash != "" && strings.EqualFold(ref, t.paymentHash) {
			return true
		}
	}

	pr := msg.PaymentRequest()

	return pr != "" && t.pr != "" && strings.EqualFold(pr, t.pr)
}

// verifyPreimage rejects a settlement whose preimage does not hash to the
// invoice's payment hash. Messages without a preimage pass.
func (t target) verifyPreimage(msg *Message) error {
	if msg.Preimage == "" || t.paymentHash == "" {
		return nil
	}
	if err := lightning.ValidatePreimage(msg.Preimage, t.paymentHash); err != nil {
		return fmt.Errorf("settlement preimage rejected: %v: %w", err, payment.ErrProtocol)
	}

	return nil
}
