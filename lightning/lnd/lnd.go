package lnd

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/money"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"gopkg.in/macaroon.v2"
)

type Client struct {
	lndClient       lnrpc.LightningClient
	invoicesClient  invoicesrpc.InvoicesClient
	closeConnection func()
}

type Option func(*Options)

func WithLndEndpoint(endpoint string) Option {
	return func(o *Options) {
		o.lndEndpoint = endpoint
	}
}

func WithMacaroonFilePath(path string) Option {
	return func(o *Options) {
		o.macaroonFilePath = path
	}
}

func WithTLSCertFilePath(path string) Option {
	return func(o *Options) {
		o.tlsCertFilePath = path
	}
}

func WithNetwork(network lightning.Network) Option {
	return func(o *Options) {
		o.network = network
	}
}

func WithFileSystem(fs afero.Fs) Option {
	return func(o *Options) {
		o.fs = fs
	}
}

type Options struct {
	lndEndpoint      string
	macaroonFilePath string
	tlsCertFilePath  string
	network          lightning.Network
	fs               afero.Fs
}

// NewClient creates a lnd client from macaroon and cert file locations.
// The grpc connection is established lazily on the first call.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	options := Options{
		network: lightning.Mainnet,
		fs:      afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.lndEndpoint == "" {
		options.lndEndpoint = "localhost:10009"
	}
	if options.macaroonFilePath == "" {
		options.macaroonFilePath = "/root/.lnd/data/chain/bitcoin/{Network}/invoice.macaroon"
	}
	if options.tlsCertFilePath == "" {
		options.tlsCertFilePath = "/root/.lnd/tls.cert"
	}

	options.macaroonFilePath = strings.ReplaceAll(options.macaroonFilePath, "{Network}", string(options.network))

	macaroonFileBytes, err := afero.ReadFile(options.fs, options.macaroonFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed reading macaroon file: %w", err)
	}

	certBytes, err := afero.ReadFile(options.fs, options.tlsCertFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed reading TLS cert file: %w", err)
	}
	creds := credentials.NewClientTLSFromCert(loadCertPool(certBytes), "")

	mac := &macaroon.Macaroon{}
	err = mac.UnmarshalBinary(macaroonFileBytes)
	if err != nil {
		return nil, fmt.Errorf("failed unmarshalling macaroon: %w", err)
	}

	macCred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("failed creating macaroon credentials: %w", err)
	}

	conn, err := grpc.NewClient(options.lndEndpoint, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macCred))
	if err != nil {
		return nil, fmt.Errorf("failed connecting to LND node: %w", err)
	}

	return &Client{
		lndClient:      lnrpc.NewLightningClient(conn),
		invoicesClient: invoicesrpc.NewInvoicesClient(conn),
		closeConnection: func() {
			err := conn.Close()
			if err != nil {
				log.WithError(err).Error("error closing connection")
			}
		},
	}, nil
}

func checkContextDeadline(err error, prefix string) error {
	if status.Code(err) == codes.DeadlineExceeded {
		return os.ErrDeadlineExceeded
	}

	return fmt.Errorf("%s: %w", prefix, err)
}

// MonitorPaymentReception blocks until the invoice is settled or canceled.
func (c *Client) MonitorPaymentReception(ctx context.Context, rhash []byte) (lightning.Preimage, error) {
	invoiceSubscription := &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: rhash,
	}
	stream, err := c.invoicesClient.SubscribeSingleInvoice(ctx, invoiceSubscription)
	if err != nil {
		return "", checkContextDeadline(err, "subscribing to invoice")
	}

	defer func() {
		if err = stream.CloseSend(); err != nil {
			log.WithError(err).Error("error closing stream for SubscribeSingleInvoice")
		}
	}()

	for {
		invoice, err := stream.Recv()
		if err != nil {
			return "", checkContextDeadline(err, "stream recv")
		}

		log.WithField("hash", hex.EncodeToString(rhash)).Debugf("invoice update: %s", invoice.State)
		switch invoice.State {
		case lnrpc.Invoice_SETTLED:
			return hex.EncodeToString(invoice.RPreimage), nil
		case lnrpc.Invoice_CANCELED:
			return "", lightning.ErrInvoiceCanceled
		}
	}
}

func (c *Client) GenerateInvoice(ctx context.Context, amount money.Money, expiry time.Duration, memo string) (paymentRequest string, rhash []byte, e error) {
	invoiceReq := &lnrpc.Invoice{
		Value:      amount.Int64(),
		Memo:       memo,
		Expiry:     int64(expiry.Seconds()),
		CltvExpiry: lightning.DefaultCltvExpiry,
	}

	res, err := c.lndClient.AddInvoice(ctx, invoiceReq)
	if err != nil {
		return "", nil, checkContextDeadline(err, "adding invoice")
	}

	return res.PaymentRequest, res.RHash, nil
}

func (c *Client) LookupInvoice(ctx context.Context, rhash []byte) (*lightning.InvoiceStatus, error) {
	invoiceReq := &invoicesrpc.LookupInvoiceMsg{
		InvoiceRef: &invoicesrpc.LookupInvoiceMsg_PaymentHash{
			PaymentHash: rhash,
		},
	}
	res, err := c.invoicesClient.LookupInvoiceV2(ctx, invoiceReq)
	if isNotFound(err) {
		return nil, lightning.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, checkContextDeadline(err, "looking up invoice")
	}

	return toInvoiceStatus(res), nil
}

func toInvoiceStatus(invoice *lnrpc.Invoice) *lightning.InvoiceStatus {
	result := &lightning.InvoiceStatus{}
	switch invoice.State {
	case lnrpc.Invoice_SETTLED:
		result.State = lightning.InvoiceSettled
		result.Preimage = hex.EncodeToString(invoice.RPreimage)
		if invoice.SettleDate > 0 {
			result.SettledAt = time.Unix(invoice.SettleDate, 0).UTC()
		}
	case lnrpc.Invoice_CANCELED:
		result.State = lightning.InvoiceCanceled
	case lnrpc.Invoice_ACCEPTED:
		result.State = lightning.InvoiceAccepted
	default:
		result.State = lightning.InvoiceOpen
	}

	return result
}

// lnd answers unknown hashes with a plain error rather than NotFound.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.NotFound {
		return true
	}

	return strings.Contains(err.Error(), "unable to locate invoice")
}

// CloseConnection closes the connection with the lnd node
func (c *Client) CloseConnection() {
	c.closeConnection()
}

// Helper function to load a certificate pool from cert bytes
func loadCertPool(certBytes []byte) *x509.CertPool {
	cp := x509.NewCertPool()
	cp.AppendCertsFromPEM(certBytes)

	return cp
}
