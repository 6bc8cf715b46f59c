package money

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/shopspring/decimal"
)

// Money is a type that represents a monetary amount in satoshis for Bitcoin.
type Money uint64

// ErrNegativeAmount is returned when trying to create a Money with a negative amount.
var ErrNegativeAmount = errors.New("amount cannot be negative")

// ErrZeroAmount is returned when an amount has to be strictly positive.
var ErrZeroAmount = errors.New("amount must be greater than zero")

// ErrAmountTooLarge is returned for amounts above the bitcoin supply.
var ErrAmountTooLarge = errors.New("amount exceeds the bitcoin supply")

// MaxSupply is 21 million BTC in sats.
const MaxSupply Money = 21_000_000 * 100_000_000

func NewFromBtc(amount decimal.Decimal) (Money, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}

	return Money(amount.Mul(decimal.NewFromInt(1e8)).IntPart()), nil // nolint:gosec
}

// NewFromSats validates a user supplied sat amount. Invoices for nothing are
// not allowed.
func NewFromSats(sats int64) (Money, error) {
	if sats < 0 {
		return 0, ErrNegativeAmount
	}
	if sats == 0 {
		return 0, ErrZeroAmount
	}
	if Money(sats) > MaxSupply {
		return 0, ErrAmountTooLarge
	}

	return Money(sats), nil
}

func (m Money) ToBtc() decimal.Decimal {
	return decimal.NewFromUint64(uint64(m)).Div(decimal.NewFromInt(1e8))
}

func (m Money) ToMilliSat() lnwire.MilliSatoshi {
	return lnwire.MilliSatoshi(uint64(m) * 1000)
}

func (m Money) Int64() int64 {
	return int64(m) // nolint:gosec
}

func (m Money) String() string {
	return fmt.Sprintf("%d sats", uint64(m))
}
