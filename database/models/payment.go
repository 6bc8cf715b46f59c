package models

import (
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
)

// Payment is an invoice minted for a tenant and tracked until it settles,
// expires or is canceled on the node.
type Payment struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	Domain string `gorm:"not null;index"`
	Action string `gorm:"not null"`

	// Hex encoded, doubles as the provider reference handed to widgets.
	PaymentHash    string            `gorm:"not null;uniqueIndex"`
	PaymentRequest string            `gorm:"not null"`
	AmountSats     money.Money       `gorm:"not null"`
	Status         PaymentStatus     `gorm:"type:payment_status;not null;default:'PENDING'"`
	Metadata       payment.Metadata  `gorm:"type:jsonb;serializer:json"`
	Preimage       *lntypes.Preimage `gorm:"type:text;serializer:preimage"`

	ExpiresAt time.Time `gorm:"not null"`
	PaidAt    *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}

// Expired reports whether an unpaid invoice is past its deadline at now.
func (p *Payment) Expired(now time.Time) bool {
	return p.Status == PaymentStatusPending && !now.Before(p.ExpiresAt)
}
