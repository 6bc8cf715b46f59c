package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nostrstack/paywatch/database/models"
	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("payment not found")

//go:generate go tool mockgen -destination=mock.go -package=database . PaymentRepository
type PaymentRepository interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetPendingPayments(ctx context.Context) ([]*models.Payment, error)
	GetPaymentByHash(ctx context.Context, paymentHash string) (*models.Payment, error)
	// MarkPaid settles a payment that is not paid yet. Only the call that
	// actually flips the row reports true.
	MarkPaid(ctx context.Context, paymentHash string, preimage *lntypes.Preimage, paidAt time.Time) (bool, error)
	// MarkExpired and MarkCanceled only move pending payments.
	MarkExpired(ctx context.Context, paymentHash string) (bool, error)
	MarkCanceled(ctx context.Context, paymentHash string) (bool, error)
}

func (d *Database) SavePayment(ctx context.Context, payment *models.Payment) error {
	return d.orm.WithContext(ctx).Save(payment).Error
}

func (d *Database) GetPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := d.orm.WithContext(ctx).
		Where("status = ?", models.PaymentStatusPending).
		Order("created_at").
		Find(&payments).Error

	return payments, err
}

func (d *Database) GetPaymentByHash(ctx context.Context, paymentHash string) (*models.Payment, error) {
	var payment models.Payment
	err := d.orm.WithContext(ctx).Where("payment_hash = ?", paymentHash).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", paymentHash, ErrPaymentNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func (d *Database) MarkPaid(ctx context.Context, paymentHash string, preimage *lntypes.Preimage, paidAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":  models.PaymentStatusPaid,
		"paid_at": paidAt,
	}
	if preimage != nil {
		updates["preimage"] = preimage.String()
	}

	res := d.orm.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_hash = ? AND status <> ?", paymentHash, models.PaymentStatusPaid).
		Updates(updates)

	return res.RowsAffected > 0, res.Error
}

func (d *Database) MarkExpired(ctx context.Context, paymentHash string) (bool, error) {
	return d.moveFromPending(ctx, paymentHash, models.PaymentStatusExpired)
}

func (d *Database) MarkCanceled(ctx context.Context, paymentHash string) (bool, error) {
	return d.moveFromPending(ctx, paymentHash, models.PaymentStatusCanceled)
}

func (d *Database) moveFromPending(ctx context.Context, paymentHash string, status models.PaymentStatus) (bool, error) {
	res := d.orm.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_hash = ? AND status = ?", paymentHash, models.PaymentStatusPending).
		Update("status", status)

	return res.RowsAffected > 0, res.Error
}
