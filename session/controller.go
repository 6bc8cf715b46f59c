package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/nostrstack/paywatch/expiry"
	"github.com/nostrstack/paywatch/invoice"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/metrics"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/settlement"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const eventQueueSize = 16

type (
	selectEvent struct {
		amount money.Money
		done   chan uuid.UUID
	}
	invoiceResult struct {
		id      uuid.UUID
		invoice *payment.Invoice
		err     error
	}
	tickEvent struct {
		id        uuid.UUID
		remaining time.Duration
	}
	connectionEvent struct {
		id    uuid.UUID
		state payment.ConnectionState
	}
	settledEvent struct {
		id         uuid.UUID
		settlement settlement.Settlement
	}
	refreshEvent struct {
		done chan error
	}
	refreshFailed struct {
		id  uuid.UUID
		err error
	}
)

// active is the session the loop currently owns.
type active struct {
	session *payment.Session
	ctx     context.Context
	span    trace.Span
	logger  *log.Entry
	// cancelRequest aborts the invoice request if it is still in flight.
	cancelRequest context.CancelFunc
}

type Controller struct {
	cfg       Config
	requester invoice.Requester
	watcher   Watcher
	presenter Presenter
	timer     *expiry.Timer
	tracer    trace.Tracer

	events *queue.ConcurrentQueue
	// notices carries OnInvoice and OnPaid deliveries off the loop.
	notices  *queue.ConcurrentQueue
	requests *fn.GoroutineManager
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	loopDone chan struct{}
	once     sync.Once

	// tag is the session the timer and watcher callbacks report for.
	tagMu sync.Mutex
	tag   uuid.UUID

	cbMu      sync.Mutex
	onInvoice func(InvoiceEvent)
	onPaid    func(PaidEvent)

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the loop goroutine.
	current    *active
	connection payment.ConnectionState
}

// New wires the controller to its collaborators and starts the event loop.
// The controller owns the watcher from here on and destroys it in Destroy.
func New(cfg Config, requester invoice.Requester, watcher Watcher, presenter Presenter) *Controller {
	cfg.setDefaults()
	if presenter == nil {
		presenter = nopPresenter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg,
		requester:  requester,
		watcher:    watcher,
		presenter:  presenter,
		tracer:     otel.Tracer("github.com/nostrstack/paywatch/session"),
		events:     queue.NewConcurrentQueue(eventQueueSize),
		notices:    queue.NewConcurrentQueue(eventQueueSize),
		requests:   fn.NewGoroutineManager(),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		connection: payment.ConnectionIdle,
		snap: Snapshot{
			State:      payment.StateIdle,
			Connection: payment.ConnectionIdle,
		},
	}

	c.timer = expiry.New(cfg.Clock, func(remaining time.Duration) {
		c.enqueue(tickEvent{id: c.currentTag(), remaining: remaining})
	})
	watcher.OnStateChange(func(state payment.ConnectionState) {
		c.enqueue(connectionEvent{id: c.currentTag(), state: state})
	})
	watcher.OnPaid(func(s settlement.Settlement) {
		c.enqueue(settledEvent{id: c.currentTag(), settlement: s})
	})

	c.events.Start()
	c.notices.Start()
	go c.loop()
	go c.deliver()

	return c
}

// OnInvoice registers the callback fired once per created invoice. See
// OnPaid for the calling contract.
func (c *Controller) OnInvoice(cb func(InvoiceEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.onInvoice = cb
}

// OnPaid registers the callback fired once per paid session.
//
// OnInvoice and OnPaid callbacks run one at a time on a delivery goroutine
// of their own, never on the event loop, so they may call any Controller
// method, Destroy and SelectAmount included. No callback starts once Destroy
// has returned. A callback already running when another goroutine calls
// Destroy is not waited for.
func (c *Controller) OnPaid(cb func(PaidEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.onPaid = cb
}

// SelectAmount starts a new session for the amount, retiring the current
// one. It returns once the previous session is fully stopped and the new one
// is requesting its invoice.
func (c *Controller) SelectAmount(ctx context.Context, sats int64) (uuid.UUID, error) {
	amount, err := money.NewFromSats(sats)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%v: %w", err, payment.ErrInvalidAmount)
	}
	if !c.cfg.AllowCustomAmount && !slices.Contains(c.cfg.PresetAmounts, amount) {
		return uuid.Nil, ErrCustomAmountNotAllowed
	}

	return c.selectAmount(ctx, amount)
}

// SelectPreset starts a new session for the preset at index.
func (c *Controller) SelectPreset(ctx context.Context, index int) (uuid.UUID, error) {
	if index < 0 || index >= len(c.cfg.PresetAmounts) {
		return uuid.Nil, fmt.Errorf("preset %d of %d: %w", index, len(c.cfg.PresetAmounts), ErrUnknownPreset)
	}

	return c.selectAmount(ctx, c.cfg.PresetAmounts[index])
}

func (c *Controller) selectAmount(ctx context.Context, amount money.Money) (uuid.UUID, error) {
	done := make(chan uuid.UUID, 1)
	if !c.enqueue(selectEvent{amount: amount, done: done}) {
		return uuid.Nil, ErrDestroyed
	}

	select {
	case id := <-done:
		return id, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	case <-c.quit:
		return uuid.Nil, ErrDestroyed
	}
}

// Refresh checks the payment status once. It is available while waiting and
// after expiry.
func (c *Controller) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	if !c.enqueue(refreshEvent{done: done}) {
		return ErrDestroyed
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrDestroyed
	}
	if err != nil {
		return err
	}

	id := c.currentTag()
	if err := c.watcher.Refresh(ctx); err != nil {
		c.enqueue(refreshFailed{id: id, err: err})

		return fmt.Errorf("failed to check payment status: %w", err)
	}

	return nil
}

// HandleMessage passes a settlement frame received out of band to the
// watcher, for instance a synthetic payment in demo mode.
func (c *Controller) HandleMessage(raw []byte) error {
	select {
	case <-c.quit:
		return ErrDestroyed
	default:
	}

	return c.watcher.HandleMessage(raw)
}

// State returns the state of the current session, IDLE before the first one.
func (c *Controller) State() payment.State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	return c.snap.State
}

func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	return c.snap
}

// Destroy stops the loop and releases the timer, the watcher and any
// request in flight. No presenter call runs and no OnInvoice or OnPaid
// callback starts after it returns. It may be called from those callbacks,
// but not from a Presenter method.
func (c *Controller) Destroy() {
	c.once.Do(func() {
		close(c.quit)
		<-c.loopDone

		if c.current != nil {
			c.current.cancelRequest()
			c.current.span.End()
		}
		c.cancel()
		c.timer.Stop()
		c.watcher.Destroy()
		c.requests.Stop()
		c.events.Stop()
		c.notices.Stop()
	})
}

func (c *Controller) enqueue(ev any) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.events.ChanIn() <- ev:
		return true
	case <-c.quit:
		return false
	}
}

// post hands a caller callback to the delivery goroutine.
func (c *Controller) post(notice func()) {
	select {
	case c.notices.ChanIn() <- notice:
	case <-c.quit:
	}
}

func (c *Controller) deliver() {
	for {
		select {
		case <-c.quit:
			return
		case item := <-c.notices.ChanOut():
			select {
			case <-c.quit:
				return
			default:
			}
			item.(func())()
		}
	}
}

func (c *Controller) currentTag() uuid.UUID {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	return c.tag
}

func (c *Controller) setTag(id uuid.UUID) {
	c.tagMu.Lock()
	defer c.tagMu.Unlock()

	c.tag = id
}

func (c *Controller) loop() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.quit:
			return
		case item, ok := <-c.events.ChanOut():
			if !ok {
				return
			}
			c.handle(item)
			c.publish()
		}
	}
}

func (c *Controller) handle(item any) {
	switch ev := item.(type) {
	case selectEvent:
		c.handleSelect(ev)
	case invoiceResult:
		c.handleInvoice(ev)
	case tickEvent:
		c.handleTick(ev)
	case connectionEvent:
		c.handleConnection(ev)
	case settledEvent:
		c.handleSettled(ev)
	case refreshEvent:
		c.handleRefresh(ev)
	case refreshFailed:
		c.handleRefreshFailed(ev)
	default:
		log.Errorf("unexpected controller event %T", item)
	}
}

// lookup returns the current session if id still names it.
func (c *Controller) lookup(id uuid.UUID) *active {
	if c.current == nil || c.current.session.ID != id {
		return nil
	}

	return c.current
}

func (c *Controller) handleSelect(ev selectEvent) {
	c.retire()

	s := payment.NewSession(ev.amount, c.cfg.Metadata)
	ctx, span := c.tracer.Start(c.ctx, "tip session", trace.WithAttributes(
		attribute.String("session.id", s.ID.String()),
		attribute.String("session.domain", c.cfg.Domain),
		attribute.Int64("session.amount_sats", ev.amount.Int64()),
	))
	reqCtx, cancelRequest := context.WithCancel(ctx)

	cur := &active{
		session:       s,
		ctx:           ctx,
		span:          span,
		logger:        log.WithContext(ctx).WithField("session", s.ID).WithField("amount", ev.amount.String()),
		cancelRequest: cancelRequest,
	}
	c.current = cur
	c.connection = payment.ConnectionIdle
	c.setTag(s.ID)

	cur.logger.Info("requesting invoice")
	c.presenter.ShowStatus(payment.StateRequesting, StatusRequesting)
	ev.done <- s.ID

	req := invoice.Request{
		Domain:     c.cfg.Domain,
		Action:     c.cfg.Action,
		AmountSats: ev.amount,
		Metadata:   s.Metadata.Clone(),
	}
	id := s.ID
	c.requests.Go(reqCtx, func(ctx context.Context) {
		inv, err := c.requester.Request(ctx, req)
		c.enqueue(invoiceResult{id: id, invoice: inv, err: err})
	})
}

// retire stops everything the current session started. Once it returns no
// timer or watcher callback can report for that session.
func (c *Controller) retire() {
	cur := c.current
	if cur == nil {
		return
	}

	cur.cancelRequest()
	c.timer.Stop()
	c.watcher.Stop()
	c.setTag(uuid.Nil)

	if !cur.session.State.IsTerminal() {
		metrics.SessionOutcomes.WithLabelValues("superseded").Inc()
		cur.logger.WithField("state", cur.session.State).Info("session superseded")
	}
	cur.span.End()
	c.current = nil
}

func (c *Controller) finish(cur *active, state payment.State) {
	cur.session.State = state
	metrics.SessionOutcomes.WithLabelValues(state.String()).Inc()
	cur.span.AddEvent(state.String())
}

func (c *Controller) handleInvoice(ev invoiceResult) {
	cur := c.lookup(ev.id)
	if cur == nil || cur.session.State != payment.StateRequesting {
		return
	}

	if ev.err == nil && ev.invoice == nil {
		ev.err = fmt.Errorf("empty invoice response: %w", payment.ErrProtocol)
	}
	if ev.err != nil {
		kind := payment.Kind(ev.err)
		metrics.InvoicesRequested.WithLabelValues(kind).Inc()
		cur.logger.WithError(ev.err).WithField("kind", kind).Warn("invoice request failed")
		cur.span.RecordError(ev.err)
		cur.span.SetStatus(codes.Error, kind)

		c.finish(cur, payment.StateFailed)
		text := StatusRequestFailed
		if errors.Is(ev.err, payment.ErrConfiguration) {
			text = StatusConfigFailed
		}
		c.presenter.ShowStatus(payment.StateFailed, text)

		return
	}
	metrics.InvoicesRequested.WithLabelValues("ok").Inc()

	issuedAt := c.cfg.Clock.Now()
	if err := cur.session.SetInvoice(ev.invoice, issuedAt); err != nil {
		cur.logger.WithError(err).Error("failed to bind invoice")

		return
	}
	cur.session.State = payment.StateWaiting
	cur.logger = cur.logger.WithField("provider_ref", cur.session.ProviderRef)
	cur.logger.Info("invoice created, waiting for payment")

	shown := *ev.invoice
	shown.AmountSats = cur.session.AmountSats
	c.presenter.ShowInvoice(shown)
	c.presenter.ShowStatus(payment.StateWaiting, StatusWaiting)
	c.presenter.ShowCountdown(c.cfg.TTL)
	c.notifyInvoice(InvoiceEvent{
		PR:          cur.session.PaymentRequest,
		ProviderRef: cur.session.ProviderRef,
		AmountSats:  cur.session.AmountSats,
	})

	c.timer.Start(issuedAt, c.cfg.TTL)

	if err := c.watcher.Attach(cur.session.PaymentRequest, cur.session.ProviderRef); err != nil {
		cur.logger.WithError(err).Warn("could not watch invoice, relying on refresh")

		return
	}
	if err := c.watcher.Start(cur.ctx); err != nil {
		cur.logger.WithError(err).Warn("could not start settlement watcher")
	}
}

func (c *Controller) handleTick(ev tickEvent) {
	cur := c.lookup(ev.id)
	if cur == nil {
		return
	}

	c.presenter.ShowCountdown(ev.remaining)

	if ev.remaining == 0 && cur.session.State == payment.StateWaiting {
		cur.logger.Info("invoice expired")
		c.finish(cur, payment.StateExpired)
		c.presenter.ShowStatus(payment.StateExpired, StatusExpired)
	}
}

func (c *Controller) handleConnection(ev connectionEvent) {
	cur := c.lookup(ev.id)
	if cur == nil {
		return
	}

	previous := c.connection
	c.connection = ev.state
	c.presenter.ShowConnection(ev.state)

	if cur.session.State != payment.StateWaiting {
		return
	}
	switch {
	case ev.state == payment.ConnectionError:
		c.presenter.ShowStatus(payment.StateWaiting, StatusRealtimeDown)
	case ev.state == payment.ConnectionOpen && previous == payment.ConnectionError:
		c.presenter.ShowStatus(payment.StateWaiting, StatusWaiting)
	}
}

func (c *Controller) handleSettled(ev settledEvent) {
	cur := c.lookup(ev.id)
	if cur == nil {
		return
	}
	// A payment that lands after the countdown ran out still counts.
	if cur.session.State != payment.StateWaiting && cur.session.State != payment.StateExpired {
		return
	}
	// The watcher may still report for the previous invoice until the new
	// one is attached.
	if !samePaymentRequest(ev.settlement.PaymentRequest, cur.session.PaymentRequest) {
		cur.logger.WithField("source", ev.settlement.Source).Debug("ignoring settlement for another invoice")

		return
	}

	paidAt := c.cfg.Clock.Now()
	cur.session.PaidAt = &paidAt
	if cur.session.State == payment.StateExpired {
		cur.logger.Info("late payment after expiry")
	}
	c.finish(cur, payment.StatePaid)
	cur.logger.WithField("source", ev.settlement.Source).Info("session paid")

	// The countdown keeps running for display only.
	c.watcher.Stop()
	c.connection = payment.ConnectionIdle

	event := PaidEvent{
		PR:          cur.session.PaymentRequest,
		ProviderRef: cur.session.ProviderRef,
		AmountSats:  cur.session.AmountSats,
		ItemID:      c.cfg.ItemID,
		Metadata:    cur.session.Metadata.Clone(),
	}
	c.presenter.ShowStatus(payment.StatePaid, StatusPaid)
	c.presenter.Celebrate(event)
	c.notifyPaid(event)
}

func (c *Controller) handleRefresh(ev refreshEvent) {
	cur := c.current
	if cur == nil {
		ev.done <- ErrRefreshUnavailable

		return
	}
	switch cur.session.State {
	case payment.StateWaiting, payment.StateExpired:
		ev.done <- nil
	default:
		ev.done <- fmt.Errorf("session is %s: %w", cur.session.State, ErrRefreshUnavailable)
	}
}

func (c *Controller) handleRefreshFailed(ev refreshFailed) {
	cur := c.lookup(ev.id)
	if cur == nil {
		return
	}

	cur.logger.WithError(ev.err).WithField("kind", payment.Kind(ev.err)).Warn("payment status check failed")
	if cur.session.State == payment.StateWaiting || cur.session.State == payment.StateExpired {
		c.presenter.ShowStatus(cur.session.State, StatusRefreshFailed)
	}
}

func samePaymentRequest(a, b string) bool {
	a, b = lightning.NormalizePaymentRequest(a), lightning.NormalizePaymentRequest(b)

	return a != "" && strings.EqualFold(a, b)
}

func (c *Controller) notifyInvoice(event InvoiceEvent) {
	c.cbMu.Lock()
	cb := c.onInvoice
	c.cbMu.Unlock()

	if cb != nil {
		c.post(func() { cb(event) })
	}
}

func (c *Controller) notifyPaid(event PaidEvent) {
	c.cbMu.Lock()
	cb := c.onPaid
	c.cbMu.Unlock()

	if cb != nil {
		c.post(func() { cb(event) })
	}
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:      payment.StateIdle,
		Connection: c.connection,
	}
	if cur := c.current; cur != nil {
		s := *cur.session
		s.Metadata = s.Metadata.Clone()
		snap.Session = &s
		snap.State = s.State
		if s.PaymentRequest != "" {
			snap.Remaining = c.timer.Remaining()
		}
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}
