package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/payment"
	log "github.com/sirupsen/logrus"
)

const payPath = "/api/pay"

const maxResponseBytes = 1 << 20

type Option func(*Options)

func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.timeout = timeout
	}
}

type Options struct {
	httpClient *http.Client
	timeout    time.Duration
}

type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a client for the backend at baseURL (scheme and host,
// optionally a path prefix).
func NewClient(baseURL string, options ...Option) *Client {
	opts := Options{
		timeout: 15 * time.Second,
	}
	for _, option := range options {
		option(&opts)
	}

	client := opts.httpClient
	if client == nil {
		client = &http.Client{Timeout: opts.timeout}
	}

	return &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type payRequest struct {
	Domain   string           `json:"domain"`
	Action   string           `json:"action"`
	Amount   int64            `json:"amount"`
	Metadata payment.Metadata `json:"metadata,omitempty"`
}

// payResponse accepts every field name backends have used so far.
type payResponse struct {
	PR             string `json:"pr"`
	Invoice        string `json:"invoice"`
	ProviderRef    string `json:"provider_ref"`
	ProviderRefAlt string `json:"providerRef"`
	PaymentHash    string `json:"payment_hash"`
}

func (r payResponse) paymentRequest() string {
	if r.PR != "" {
		return r.PR
	}

	return r.Invoice
}

func (r payResponse) providerRef() string {
	for _, ref := range []string{r.ProviderRef, r.ProviderRefAlt, r.PaymentHash} {
		if ref = strings.TrimSpace(ref); ref != "" {
			return ref
		}
	}

	return ""
}

func (c *Client) Request(ctx context.Context, req Request) (*payment.Invoice, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	logger := log.WithContext(ctx).WithFields(log.Fields{
		"domain": req.Domain,
		"amount": req.AmountSats,
	})

	body, err := json.Marshal(payRequest{
		Domain:   req.Domain,
		Action:   req.Action,
		Amount:   req.AmountSats.Int64(),
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build pay request: %w", payment.ErrConfiguration)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.WithError(err).Warn("pay request failed")

		return nil, fmt.Errorf("failed to request invoice: %v: %w", err, payment.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithField("status", resp.StatusCode).Warn("pay request rejected")

		return nil, fmt.Errorf("unexpected status code: %d: %w", resp.StatusCode, payment.ErrNetwork)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read pay response: %v: %w", err, payment.ErrNetwork)
	}

	var decoded payResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		logger.WithField("kind", "protocol").Warn("pay response is not JSON")

		return nil, fmt.Errorf("failed to decode pay response: %v: %w", err, payment.ErrProtocol)
	}

	pr := lightning.NormalizePaymentRequest(decoded.paymentRequest())
	if pr == "" {
		logger.WithField("kind", "protocol").Warn("pay response has no invoice")

		return nil, fmt.Errorf("pay response without invoice: %w", payment.ErrProtocol)
	}

	return &payment.Invoice{
		PaymentRequest: pr,
		ProviderRef:    decoded.providerRef(),
		AmountSats:     req.AmountSats,
	}, nil
}
