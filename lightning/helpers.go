package lightning

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

type Network string

const Mainnet Network = "mainnet"
const Regtest Network = "regtest"
const Testnet Network = "testnet"

func ToChainCfgNetwork(network Network) *chaincfg.Params {
	switch network {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	case Testnet:
		return &chaincfg.TestNet3Params
	default:
		return nil
	}
}

const uriScheme = "lightning:"

// NormalizePaymentRequest strips the lightning: URI scheme (any case) and
// surrounding whitespace. Invoices are compared in this form everywhere.
func NormalizePaymentRequest(pr string) string {
	pr = strings.TrimSpace(pr)
	if len(pr) >= len(uriScheme) && strings.EqualFold(pr[:len(uriScheme)], uriScheme) {
		pr = pr[len(uriScheme):]
	}

	return strings.TrimSpace(pr)
}

// DecodePaymentHash extracts the payment hash from a BOLT11 invoice,
// whatever network it was issued for.
func DecodePaymentHash(pr string) (string, error) {
	bolt11, err := decodepay.Decodepay(NormalizePaymentRequest(pr))
	if err != nil {
		return "", fmt.Errorf("failed to decode payment request: %w", err)
	}

	return bolt11.PaymentHash, nil
}

// ValidatePreimage validates that a preimage matches a payment hash
func ValidatePreimage(preimage string, paymentHash string) error {
	if preimage == "" {
		return errors.New("preimage is empty")
	}
	if paymentHash == "" {
		return errors.New("payment hash is empty")
	}

	decodedPreimage, err := hex.DecodeString(preimage)
	if err != nil {
		return errors.New("preimage is not a valid hex string")
	}
	preimageHash := sha256.Sum256(decodedPreimage)
	if !strings.EqualFold(paymentHash, hex.EncodeToString(preimageHash[:])) {
		return errors.New("preimage does not match bolt11 payment hash")
	}

	return nil
}
