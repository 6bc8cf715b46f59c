package lnd

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/macaroon.v2"
)

func writeCredentials(t *testing.T, memFs afero.Fs, macaroonPath string) {
	t.Helper()

	cert := &x509.Certificate{}
	certBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	err := afero.WriteFile(memFs, "/tls.cert", certBytes, 0644)
	require.NoError(t, err)

	mac, err := macaroon.New([]byte("dummy-id"), []byte("dummy-location"), "dummy-root", macaroon.LatestVersion)
	require.NoError(t, err)
	macaroonBytes, err := mac.MarshalBinary()
	require.NoError(t, err)
	err = afero.WriteFile(memFs, macaroonPath, macaroonBytes, 0644)
	require.NoError(t, err)
}

func TestNewClient_WithFSMacaroonAndCert(t *testing.T) {
	ctx := context.Background()
	memFs := afero.NewMemMapFs()
	writeCredentials(t, memFs, "/invoice.macaroon")

	client, err := NewClient(ctx,
		WithLndEndpoint("localhost:10009"),
		WithTLSCertFilePath("/tls.cert"),
		WithMacaroonFilePath("/invoice.macaroon"),
		WithNetwork(lightning.Regtest),
		WithFileSystem(memFs),
	)
	require.NoError(t, err)
	client.CloseConnection()
}

func TestNewClient_NetworkPlaceholder(t *testing.T) {
	ctx := context.Background()
	memFs := afero.NewMemMapFs()
	writeCredentials(t, memFs, "/chain/regtest/invoice.macaroon")

	client, err := NewClient(ctx,
		WithTLSCertFilePath("/tls.cert"),
		WithMacaroonFilePath("/chain/{Network}/invoice.macaroon"),
		WithNetwork(lightning.Regtest),
		WithFileSystem(memFs),
	)
	require.NoError(t, err)
	client.CloseConnection()
}

func TestNewClient_MissingMacaroon(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx,
		WithTLSCertFilePath("/tls.cert"),
		WithMacaroonFilePath("/missing.macaroon"),
		WithFileSystem(afero.NewMemMapFs()),
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed reading macaroon file")
}

func TestToInvoiceStatus(t *testing.T) {
	tests := []struct {
		name    string
		invoice *lnrpc.Invoice
		want    *lightning.InvoiceStatus
	}{
		{
			name:    "open",
			invoice: &lnrpc.Invoice{State: lnrpc.Invoice_OPEN},
			want:    &lightning.InvoiceStatus{State: lightning.InvoiceOpen},
		},
		{
			name: "settled",
			invoice: &lnrpc.Invoice{
				State:      lnrpc.Invoice_SETTLED,
				RPreimage:  []byte{0x01, 0x02},
				SettleDate: 1700000000,
			},
			want: &lightning.InvoiceStatus{
				State:     lightning.InvoiceSettled,
				Preimage:  "0102",
				SettledAt: time.Unix(1700000000, 0).UTC(),
			},
		},
		{
			name:    "canceled",
			invoice: &lnrpc.Invoice{State: lnrpc.Invoice_CANCELED},
			want:    &lightning.InvoiceStatus{State: lightning.InvoiceCanceled},
		},
		{
			name:    "accepted",
			invoice: &lnrpc.Invoice{State: lnrpc.Invoice_ACCEPTED},
			want:    &lightning.InvoiceStatus{State: lightning.InvoiceAccepted},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, toInvoiceStatus(tt.invoice))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	require.False(t, isNotFound(nil))
	require.True(t, isNotFound(status.Error(codes.NotFound, "nope")))
	require.True(t, isNotFound(errors.New("rpc error: code = Unknown desc = unable to locate invoice")))
	require.False(t, isNotFound(errors.New("connection refused")))
}

func TestCheckContextDeadline(t *testing.T) {
	err := checkContextDeadline(status.Error(codes.DeadlineExceeded, "slow"), "adding invoice")
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}
