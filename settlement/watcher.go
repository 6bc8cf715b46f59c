// Package settlement watches a single Lightning invoice until it is paid.
//
// A Watcher prefers a real-time websocket channel and falls back to a one-shot
// REST status poll whenever the channel cannot be opened. Every attach starts
// a new generation; completions from an older generation are dropped, and the
// paid callback fires at most once per attach no matter how many detectors
// report the payment.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nostrstack/paywatch/metrics"
	"github.com/nostrstack/paywatch/payment"
	log "github.com/sirupsen/logrus"
)

var (
	ErrDestroyed   = errors.New("settlement watcher destroyed")
	ErrNotAttached = errors.New("no invoice attached")
	ErrNoStatusURL = errors.New("no settlement status endpoint configured")
)

const (
	DefaultPingInterval     = 30 * time.Second
	DefaultPongWait         = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Settlement is handed to the paid callback.
type Settlement struct {
	PaymentRequest string
	ProviderRef    string
	Preimage       string
	Source         Source
}

type Config struct {
	// StreamURL is the websocket endpoint, already scoped to the tenant.
	// Empty disables the real-time channel.
	StreamURL string
	// StatusURL is the REST status endpoint. Empty disables polling.
	StatusURL string
	Domain    string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Clock      clock.Clock
	// NewBackoff builds the reconnect policy for one Start. Returning
	// backoff.Stop from NextBackOff ends reconnection.
	NewBackoff func() backoff.BackOff

	PingInterval time.Duration
	PongWait     time.Duration
}

func (c *Config) setDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		}
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.NewBackoff == nil {
		c.NewBackoff = DefaultBackoff
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
}

// DefaultBackoff retries forever, from one second up to thirty.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return b
}

type Watcher struct {
	cfg    Config
	logger *log.Entry

	// mu guards everything below. Callbacks run while it is held, so a
	// callback that has not started before Stop returns never runs for the
	// stopped generation. Callbacks must not call back into the Watcher.
	mu         sync.Mutex
	generation uint64
	target     target
	attached   bool
	started    bool
	paid       bool
	destroyed  bool
	state      payment.ConnectionState
	onState    func(payment.ConnectionState)
	onPaid     func(Settlement)
	goroutines *fn.GoroutineManager
	conn       *websocket.Conn
	// genCtx is cancelled when the generation is retired.
	genCtx    context.Context
	genCancel context.CancelFunc
}

func New(cfg Config) *Watcher {
	cfg.setDefaults()

	genCtx, genCancel := context.WithCancel(context.Background())

	return &Watcher{
		cfg:       cfg,
		logger:    log.WithField("component", "settlement").WithField("domain", cfg.Domain),
		state:     payment.ConnectionIdle,
		genCtx:    genCtx,
		genCancel: genCancel,
	}
}

// OnStateChange registers the connection state callback, replacing any
// previous one.
func (w *Watcher) OnStateChange(cb func(payment.ConnectionState)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onState = cb
}

// OnPaid registers the paid callback, replacing any previous one.
func (w *Watcher) OnPaid(cb func(Settlement)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onPaid = cb
}

// Attach points the watcher at a new invoice. Anything still running for the
// previous invoice is stopped first and its late results are discarded.
func (w *Watcher) Attach(pr, providerRef string) error {
	t := newTarget(pr, providerRef)

	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()

		return ErrDestroyed
	}
	gm, conn := w.retireLocked()
	w.target = t
	w.attached = !t.empty()
	w.paid = false
	w.mu.Unlock()

	w.release(gm, conn)

	if t.empty() {
		return fmt.Errorf("empty invoice identity: %w", payment.ErrProtocol)
	}

	return nil
}

// Start opens the real-time channel, or polls once when there is none.
// Calling Start twice for the same attach is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.destroyed {
		return ErrDestroyed
	}
	if !w.attached {
		return ErrNotAttached
	}
	if w.started {
		return nil
	}

	w.started = true
	w.goroutines = fn.NewGoroutineManager()
	gen := w.generation

	if w.cfg.StreamURL == "" {
		w.transitionLocked(payment.ConnectionError)
		w.goroutines.Go(ctx, func(ctx context.Context) {
			w.pollOnce(ctx, gen)
		})

		return nil
	}

	w.goroutines.Go(ctx, func(ctx context.Context) {
		w.runStream(ctx, gen)
	})

	return nil
}

// Refresh polls the status endpoint once without touching the real-time
// channel. If the channel reports the payment at the same moment only one of
// them fires the paid callback.
func (w *Watcher) Refresh(ctx context.Context) error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()

		return ErrDestroyed
	}
	if !w.attached {
		w.mu.Unlock()

		return ErrNotAttached
	}
	gen, genCtx := w.generation, w.genCtx
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(genCtx, cancel)
	defer stop()

	_, err := w.poll(ctx, gen)

	return err
}

// HandleMessage feeds a frame received out of band, for instance a synthetic
// settlement in demo mode.
func (w *Watcher) HandleMessage(raw []byte) error {
	msg, err := ParseMessage(raw)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()

		return ErrDestroyed
	}
	gen := w.generation
	w.mu.Unlock()

	w.deliver(gen, msg, SourceMessage)

	return nil
}

// State returns the current connection state.
func (w *Watcher) State() payment.ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// Paid reports whether the attached invoice has been seen paid.
func (w *Watcher) Paid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.paid
}

// Stop closes the channel and cancels polls. The invoice stays attached, so
// Start may be called again. No callback fires for the stopped generation
// once Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	gm, conn := w.retireLocked()
	w.mu.Unlock()

	w.release(gm, conn)
}

// Destroy releases every resource. The watcher cannot be used afterwards.
func (w *Watcher) Destroy() {
	w.mu.Lock()
	gm, conn := w.retireLocked()
	w.destroyed = true
	w.attached = false
	w.onPaid = nil
	w.onState = nil
	w.mu.Unlock()

	w.release(gm, conn)
}

// retireLocked invalidates the running generation. The caller must release
// the returned resources after dropping the lock.
func (w *Watcher) retireLocked() (*fn.GoroutineManager, *websocket.Conn) {
	w.generation++
	w.started = false
	w.state = payment.ConnectionIdle
	w.genCancel()
	w.genCtx, w.genCancel = context.WithCancel(context.Background())

	gm, conn := w.goroutines, w.conn
	w.goroutines = nil
	w.conn = nil

	return gm, conn
}

func (w *Watcher) release(gm *fn.GoroutineManager, conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
	if gm != nil {
		gm.Stop()
	}
}

// transition reports a state change unless gen is stale.
func (w *Watcher) transition(gen uint64, state payment.ConnectionState) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation || w.destroyed {
		return false
	}
	w.transitionLocked(state)

	return true
}

func (w *Watcher) transitionLocked(state payment.ConnectionState) {
	if w.state == state {
		return
	}
	w.state = state
	metrics.ConnectionStates.WithLabelValues(state.String()).Inc()

	if w.onState != nil {
		w.onState(state)
	}
}

// deliver latches the paid flag and fires the callback for the first
// matching settlement of the current generation.
func (w *Watcher) deliver(gen uint64, msg *Message, source Source) bool {
	if !msg.Settled() {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation || w.destroyed || !w.attached {
		w.logger.WithField("source", source).Debug("dropping settlement for a retired invoice")

		return false
	}
	if !w.target.matches(msg) {
		return false
	}
	if err := w.target.verifyPreimage(msg); err != nil {
		w.logger.WithError(err).WithField("kind", "protocol").Warn("ignoring settlement")

		return false
	}
	if w.paid {
		metrics.DuplicateSettlements.WithLabelValues(string(source)).Inc()
		w.logger.WithField("source", source).Debug("invoice already paid, ignoring duplicate")

		return false
	}

	w.paid = true
	metrics.SettlementsDetected.WithLabelValues(string(source)).Inc()
	w.logger.WithField("source", source).Info("invoice paid")

	if w.onPaid != nil {
		w.onPaid(Settlement{
			PaymentRequest: w.target.pr,
			ProviderRef:    w.target.providerRef,
			Preimage:       msg.Preimage,
			Source:         source,
		})
	}

	return true
}

func (w *Watcher) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return gen == w.generation && !w.destroyed
}
