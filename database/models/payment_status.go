package models

import (
	"database/sql/driver"
	"fmt"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusExpired  PaymentStatus = "EXPIRED"
	PaymentStatusCanceled PaymentStatus = "CANCELED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s *PaymentStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = PaymentStatus(v)
	case []byte:
		*s = PaymentStatus(v)
	default:
		return fmt.Errorf("failed to scan PaymentStatus: expected string, got %T", value)
	}

	return nil
}

func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func CreatePaymentStatusEnumSQL() string {
	return `DO $$ BEGIN
	CREATE TYPE "public"."payment_status" AS ENUM (
		'PENDING',
		'PAID',
		'EXPIRED',
		'CANCELED'
	);
EXCEPTION
	WHEN duplicate_object THEN null;
END $$;
`
}

func DropPaymentStatusEnumSQL() string {
	return `DROP TYPE IF EXISTS "public"."payment_status";`
}
