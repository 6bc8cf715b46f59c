// Package payment holds the data model shared by the widget flow: the tip
// session, its lifecycle state and the error classes every component reports.
package payment

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nostrstack/paywatch/money"
)

var (
	// ErrConfiguration is returned when the backend cannot be addressed at
	// all, for instance because no tenant domain could be resolved. It is
	// never retried automatically.
	ErrConfiguration = errors.New("configuration error")
	// ErrNetwork covers transport failures and non-2xx answers.
	ErrNetwork = errors.New("network error")
	// ErrProtocol is returned when a response arrived but lacks the fields we
	// need. Users see it as a network error; logs keep it apart.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be a positive number of sats")
)

// Kind returns a short label for the error class, used as a log field.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrInvalidAmount):
		return "configuration"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

type State string

const (
	StateIdle       State = "IDLE"
	StateRequesting State = "REQUESTING"
	StateWaiting    State = "WAITING"
	StatePaid       State = "PAID"
	StateExpired    State = "EXPIRED"
	StateFailed     State = "FAILED"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether the state ends a session. Expired still accepts
// a late payment, but it is terminal for the countdown.
func (s State) IsTerminal() bool {
	return s == StatePaid || s == StateExpired || s == StateFailed
}

func (s *State) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan State: expected string, got %T", value)
	}
	*s = State(str)

	return nil
}

func (s State) Value() (driver.Value, error) {
	return string(s), nil
}

type ConnectionState string

const (
	ConnectionIdle       ConnectionState = "IDLE"
	ConnectionConnecting ConnectionState = "CONNECTING"
	ConnectionOpen       ConnectionState = "OPEN"
	ConnectionError      ConnectionState = "ERROR"
)

func (s ConnectionState) String() string {
	return string(s)
}

// Metadata is forwarded verbatim to the backend and echoed back on settlement.
type Metadata map[string]any

// Clone returns a shallow copy so callers can't mutate a running session.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// Invoice is what the payment backend hands back for a request.
type Invoice struct {
	PaymentRequest string
	ProviderRef    string
	AmountSats     money.Money
}

// Session is one amount-selection act. A new selection always creates a new
// session with a fresh ID.
type Session struct {
	ID             uuid.UUID
	PaymentRequest string
	ProviderRef    string
	AmountSats     money.Money
	CreatedAt      time.Time
	PaidAt         *time.Time
	State          State
	Metadata       Metadata
}

// NewSession starts a session in the requesting state.
func NewSession(amount money.Money, metadata Metadata) *Session {
	return &Session{
		ID:         uuid.New(),
		AmountSats: amount,
		State:      StateRequesting,
		Metadata:   metadata.Clone(),
	}
}

// SetInvoice binds the invoice to the session. It can only happen once.
func (s *Session) SetInvoice(invoice *Invoice, issuedAt time.Time) error {
	if s.PaymentRequest != "" {
		return fmt.Errorf("session %s already has an invoice", s.ID)
	}
	s.PaymentRequest = invoice.PaymentRequest
	s.ProviderRef = invoice.ProviderRef
	s.CreatedAt = issuedAt

	return nil
}
