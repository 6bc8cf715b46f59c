package lightning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/nostrstack/paywatch/money"
)

// MockInvoicePrefix is the human readable part every mock invoice starts with.
const MockInvoicePrefix = "lnbcrt"

var (
	mockPrivKeyBytes, _ = hex.DecodeString("e126f68f7eafcc8b74f54d269fe206be715000f94dac067d1c04a8ca3b2db734")

	mockPrivKey, _ = btcec.PrivKeyFromBytes(mockPrivKeyBytes)

	mockMessageSigner = zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			hash := chainhash.HashB(msg)

			return ecdsa.SignCompact(mockPrivKey, hash, true)
		},
	}

	// Fixed so that the same amount always yields the same invoice.
	mockTimestamp = time.Unix(1700000000, 0)

	mockDescription = "paywatch mock invoice"
)

type MockInvoice struct {
	PaymentRequest string
	PaymentHash    lntypes.Hash
	Preimage       lntypes.Preimage
}

// MockPreimage derives the preimage of the mock invoice for an amount.
func MockPreimage(amount money.Money) lntypes.Preimage {
	return lntypes.Preimage(sha256.Sum256([]byte(fmt.Sprintf("paywatch-mock:%d", uint64(amount)))))
}

type MockInvoiceOption func(*zpay32.Invoice)

// NewMockInvoice builds a signed regtest invoice that depends only on the
// amount. It never touches the network.
func NewMockInvoice(amount money.Money, opts ...MockInvoiceOption) (*MockInvoice, error) {
	preimage := MockPreimage(amount)
	hash := preimage.Hash()
	paymentHash := [32]byte(hash)
	amountInMillisats := amount.ToMilliSat()

	invoice := zpay32.Invoice{
		Net:         &chaincfg.RegressionNetParams,
		MilliSat:    &amountInMillisats,
		PaymentHash: &paymentHash,
		Description: &mockDescription,
		Features:    lnwire.NewFeatureVector(nil, lnwire.Features),
		Timestamp:   mockTimestamp,
	}

	for _, opt := range opts {
		opt(&invoice)
	}

	pr, err := invoice.Encode(mockMessageSigner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mock invoice: %w", err)
	}

	return &MockInvoice{
		PaymentRequest: pr,
		PaymentHash:    hash,
		Preimage:       preimage,
	}, nil
}
