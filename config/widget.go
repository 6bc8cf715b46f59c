// Package config loads the tip widget configuration and derives the backend
// endpoints from it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/nostrstack/paywatch/invoice"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/session"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the widget configuration is invalid.
var ErrInvalidConfig = errors.New("invalid widget config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

const (
	PayPath    = "/api/pay"
	StatusPath = "/api/pay/status"
	StreamPath = "/ws/pay"
)

// Widget is what an embedding page configures.
type Widget struct {
	// BaseURL is the backend origin, or "mock" for the offline backend.
	BaseURL string `yaml:"baseURL"`
	// Host names the tenant. When empty the BaseURL host is used.
	Host              string           `yaml:"host"`
	Action            string           `yaml:"action"`
	ItemID            string           `yaml:"itemId"`
	PresetAmountsSats []int64          `yaml:"presetAmountsSats"`
	DefaultAmountSats int64            `yaml:"defaultAmountSats"`
	AllowCustomAmount bool             `yaml:"allowCustomAmount"`
	Metadata          payment.Metadata `yaml:"metadata,omitempty"`
	InvoiceTTLSeconds int              `yaml:"invoiceTTLSeconds"`
	// StreamURL and StatusURL override the derived settlement endpoints.
	StreamURL string `yaml:"streamURL,omitempty"`
	StatusURL string `yaml:"statusURL,omitempty"`
}

// Default returns a widget talking to the offline backend.
func Default() *Widget {
	return &Widget{
		BaseURL:           invoice.MockBaseURL,
		Host:              "localhost",
		Action:            "tip",
		PresetAmountsSats: []int64{21, 100, 500},
		DefaultAmountSats: 21,
		AllowCustomAmount: true,
		InvoiceTTLSeconds: int(session.DefaultTTL / time.Second),
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(fs afero.Fs, path string) (*Widget, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read widget config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse widget config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Write stores cfg as YAML, creating the parent directory.
func Write(fs afero.Fs, path string, cfg *Widget) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode widget config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	return afero.WriteFile(fs, path, raw, 0o600)
}

// Validate checks if the configuration is valid
func (w *Widget) Validate() error {
	if !w.IsMock() {
		u, err := url.Parse(w.APIBase())
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("base url %q must be an http(s) origin or %q", w.BaseURL, invoice.MockBaseURL)
		}
	}
	for _, sats := range w.PresetAmountsSats {
		if sats <= 0 {
			return invalid("preset amount %d must be positive", sats)
		}
	}
	if len(w.PresetAmountsSats) == 0 && !w.AllowCustomAmount {
		return invalid("no preset amounts and custom amounts disabled")
	}
	if w.DefaultAmountSats < 0 {
		return invalid("default amount must not be negative")
	}
	if w.DefaultAmountSats > 0 && !w.AllowCustomAmount && !slices.Contains(w.PresetAmountsSats, w.DefaultAmountSats) {
		return invalid("default amount %d is not a preset", w.DefaultAmountSats)
	}
	if w.InvoiceTTLSeconds <= 0 {
		return invalid("invoice ttl must be positive")
	}
	if w.StreamURL != "" {
		u, err := url.Parse(w.StreamURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return invalid("stream url %q must be a ws(s) url", w.StreamURL)
		}
	}
	if w.StatusURL != "" {
		u, err := url.Parse(w.StatusURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return invalid("status url %q must be an http(s) url", w.StatusURL)
		}
	}

	return nil
}

func (w *Widget) IsMock() bool {
	return strings.EqualFold(strings.TrimSpace(w.BaseURL), invoice.MockBaseURL)
}

// APIBase is the backend origin without a trailing slash, empty in mock mode.
func (w *Widget) APIBase() string {
	if w.IsMock() {
		return ""
	}

	return strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
}

// Domain resolves the tenant: the host hint if set, otherwise the backend
// host. It is empty when neither is known.
func (w *Widget) Domain() string {
	host := strings.TrimSpace(w.Host)
	if host != "" {
		if u, err := url.Parse(host); err == nil && u.Host != "" {
			return u.Hostname()
		}

		return host
	}

	if base := w.APIBase(); base != "" {
		if u, err := url.Parse(base); err == nil {
			return u.Hostname()
		}
	}

	return ""
}

func (w *Widget) PayURL() string {
	if w.IsMock() {
		return ""
	}

	return w.APIBase() + PayPath
}

// StatusEndpoint is the settlement poll endpoint, empty in mock mode unless
// overridden.
func (w *Widget) StatusEndpoint() string {
	if w.StatusURL != "" {
		return w.StatusURL
	}
	if w.IsMock() {
		return ""
	}

	return w.APIBase() + StatusPath
}

// StreamEndpoint is the real-time settlement channel scoped to the tenant,
// derived from the backend origin by swapping http for ws.
func (w *Widget) StreamEndpoint() string {
	if w.StreamURL != "" {
		return w.StreamURL
	}
	if w.IsMock() {
		return ""
	}

	u, err := url.Parse(w.APIBase())
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	q := url.Values{}
	if domain := w.Domain(); domain != "" {
		q.Set("domain", domain)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func (w *Widget) PresetAmounts() []money.Money {
	amounts := make([]money.Money, 0, len(w.PresetAmountsSats))
	for _, sats := range w.PresetAmountsSats {
		amounts = append(amounts, money.Money(sats))
	}

	return amounts
}

func (w *Widget) TTL() time.Duration {
	return time.Duration(w.InvoiceTTLSeconds) * time.Second
}

// SessionConfig maps the widget onto the controller configuration.
func (w *Widget) SessionConfig() session.Config {
	return session.Config{
		Domain:            w.Domain(),
		Action:            w.Action,
		ItemID:            w.ItemID,
		PresetAmounts:     w.PresetAmounts(),
		AllowCustomAmount: w.AllowCustomAmount,
		Metadata:          w.Metadata.Clone(),
		TTL:               w.TTL(),
	}
}
