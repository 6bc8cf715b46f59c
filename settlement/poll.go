package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/nostrstack/paywatch/payment"
)

const maxStatusBytes = 64 << 10

func (w *Watcher) pollOnce(ctx context.Context, gen uint64) {
	if w.cfg.StatusURL == "" {
		w.logger.Debug("no status endpoint, skipping settlement poll")

		return
	}

	_, err := w.poll(ctx, gen)
	if err != nil && ctx.Err() == nil {
		w.logger.WithError(err).WithField("kind", payment.Kind(err)).Warn("settlement status poll failed")
	}
}

// poll asks the status endpoint about the attached invoice. It returns true
// when this poll is the one that marked the invoice paid.
func (w *Watcher) poll(ctx context.Context, gen uint64) (bool, error) {
	if w.cfg.StatusURL == "" {
		return false, fmt.Errorf("%w: %w", ErrNoStatusURL, payment.ErrConfiguration)
	}

	w.mu.Lock()
	if gen != w.generation || w.destroyed {
		w.mu.Unlock()

		return false, nil
	}
	t := w.target
	w.mu.Unlock()

	endpoint, err := w.statusURL(t)
	if err != nil {
		return false, fmt.Errorf("invalid status url: %v: %w", err, payment.ErrConfiguration)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build status request: %v: %w", err, payment.ErrConfiguration)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to poll settlement status: %v: %w", err, payment.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("unexpected status code: %d: %w", resp.StatusCode, payment.ErrNetwork)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return false, fmt.Errorf("failed to read settlement status: %v: %w", err, payment.ErrNetwork)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false, fmt.Errorf("failed to decode settlement status: %v: %w", err, payment.ErrProtocol)
	}
	if msg.Paid == nil && msg.Status == "" && msg.Type == "" {
		return false, fmt.Errorf("settlement status without paid or status field: %w", payment.ErrProtocol)
	}

	// The request was already scoped to our invoice. Only an answer naming
	// some other invoice is rejected.
	if !msg.HasIdentity() {
		msg.PR = t.pr
		msg.ProviderRef = t.providerRef
	}

	return w.deliver(gen, &msg, SourcePoll), nil
}

func (w *Watcher) statusURL(t target) (string, error) {
	u, err := url.Parse(w.cfg.StatusURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if w.cfg.Domain != "" {
		q.Set("domain", w.cfg.Domain)
	}
	if t.providerRef != "" {
		q.Set("ref", t.providerRef)
	}
	if t.pr != "" {
		q.Set("pr", t.pr)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
