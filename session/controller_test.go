package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/nostrstack/paywatch/invoice"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/money"
	"github.com/nostrstack/paywatch/payment"
	"github.com/nostrstack/paywatch/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	eventually = 2 * time.Second
	tick       = 5 * time.Millisecond
	domain     = "example.com"
)

type status struct {
	state payment.State
	text  string
}

type recordingPresenter struct {
	mu           sync.Mutex
	invoices     []payment.Invoice
	statuses     []status
	connections  []payment.ConnectionState
	celebrations []PaidEvent
}

func (p *recordingPresenter) ShowInvoice(invoice payment.Invoice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoices = append(p.invoices, invoice)
}

func (p *recordingPresenter) ShowCountdown(time.Duration) {}

func (p *recordingPresenter) ShowStatus(state payment.State, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status{state: state, text: text})
}

func (p *recordingPresenter) ShowConnection(state payment.ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections = append(p.connections, state)
}

func (p *recordingPresenter) Celebrate(event PaidEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.celebrations = append(p.celebrations, event)
}

func (p *recordingPresenter) sawState(state payment.State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.statuses {
		if s.state == state {
			return true
		}
	}

	return false
}

func (p *recordingPresenter) sawText(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.statuses {
		if s.text == text {
			return true
		}
	}

	return false
}

func (p *recordingPresenter) celebrated() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.celebrations)
}

type observer struct {
	mu       sync.Mutex
	invoices []InvoiceEvent
	paid     []PaidEvent
}

func observe(c *Controller) *observer {
	o := &observer{}
	c.OnInvoice(func(event InvoiceEvent) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.invoices = append(o.invoices, event)
	})
	c.OnPaid(func(event PaidEvent) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.paid = append(o.paid, event)
	})

	return o
}

func (o *observer) invoiceEvents() []InvoiceEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]InvoiceEvent(nil), o.invoices...)
}

func (o *observer) paidEvents() []PaidEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]PaidEvent(nil), o.paid...)
}

func mockInvoice(t *testing.T, amount money.Money) *lightning.MockInvoice {
	t.Helper()

	inv, err := lightning.NewMockInvoice(amount)
	require.NoError(t, err)

	return inv
}

func noRetry() backoff.BackOff {
	return &backoff.StopBackOff{}
}

func paidFrame(t *testing.T, providerRef string) []byte {
	t.Helper()

	raw, err := json.Marshal(settlement.Message{Type: settlement.TypeInvoicePaid, ProviderRef: providerRef})
	require.NoError(t, err)

	return raw
}

func TestController_MockBackendInvoice(t *testing.T) {
	watcher := settlement.New(settlement.Config{Domain: domain})
	presenter := &recordingPresenter{}
	c := New(Config{
		Domain:        domain,
		ItemID:        "post-1",
		PresetAmounts: []money.Money{21, 100},
		Metadata:      payment.Metadata{"note": "great post"},
	}, invoice.NewMockBackend(), watcher, presenter)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	id, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 1 }, eventually, tick)
	created := obs.invoiceEvents()[0]
	require.True(t, strings.HasPrefix(created.PR, lightning.MockInvoicePrefix))
	require.EqualValues(t, 21, created.AmountSats)
	require.NotEmpty(t, created.ProviderRef)

	require.Eventually(t, func() bool { return c.State() == payment.StateWaiting }, eventually, tick)
	snap := c.Snapshot()
	require.Equal(t, id, snap.Session.ID)
	require.Equal(t, created.PR, snap.Session.PaymentRequest)
	require.Positive(t, snap.Remaining)
	require.LessOrEqual(t, snap.Remaining, DefaultTTL)

	// No settlement channel is configured for this widget.
	require.Eventually(t, func() bool { return presenter.sawText(StatusRealtimeDown) }, eventually, tick)
	require.Never(t, func() bool { return len(obs.paidEvents()) > 0 }, 100*time.Millisecond, tick)

	require.NoError(t, c.HandleMessage(paidFrame(t, created.ProviderRef)))

	require.Eventually(t, func() bool { return len(obs.paidEvents()) == 1 }, eventually, tick)
	paid := obs.paidEvents()[0]
	require.Equal(t, created.PR, paid.PR)
	require.EqualValues(t, 21, paid.AmountSats)
	require.Equal(t, "post-1", paid.ItemID)
	require.Equal(t, payment.Metadata{"note": "great post"}, paid.Metadata)

	require.Eventually(t, func() bool { return c.State() == payment.StatePaid }, eventually, tick)
	require.NotNil(t, c.Snapshot().Session.PaidAt)
	require.Equal(t, 1, presenter.celebrated())
}

func TestController_BackendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	ctrl := gomock.NewController(t)
	watcher := NewMockWatcher(ctrl)
	watcher.EXPECT().OnStateChange(gomock.Any())
	watcher.EXPECT().OnPaid(gomock.Any())
	watcher.EXPECT().Destroy()

	failed := make(chan struct{})
	presenter := NewMockPresenter(ctrl)
	gomock.InOrder(
		presenter.EXPECT().ShowStatus(payment.StateRequesting, StatusRequesting),
		presenter.EXPECT().ShowStatus(payment.StateFailed, StatusRequestFailed).Do(func(payment.State, string) {
			close(failed)
		}),
	)

	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewClient(server.URL), watcher, presenter)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)

	select {
	case <-failed:
	case <-time.After(eventually):
		t.Fatal("session never failed")
	}
	require.Eventually(t, func() bool { return c.State() == payment.StateFailed }, eventually, tick)
	require.Zero(t, c.Snapshot().Remaining)
	require.Empty(t, obs.invoiceEvents())
	require.ErrorIs(t, c.Refresh(context.Background()), ErrRefreshUnavailable)
}

func TestController_MissingDomain(t *testing.T) {
	presenter := &recordingPresenter{}
	c := New(Config{AllowCustomAmount: true}, invoice.NewMockBackend(), settlement.New(settlement.Config{}), presenter)
	t.Cleanup(c.Destroy)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == payment.StateFailed }, eventually, tick)
	require.True(t, presenter.sawText(StatusConfigFailed))
}

func TestController_PollAfterChannelFailure(t *testing.T) {
	inv := mockInvoice(t, 21)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pay", r.URL.Path)
		_, _ = fmt.Fprintf(w, `{"pr":"lightning:%s","provider_ref":"ref-1"}`, inv.PaymentRequest)
	}))
	t.Cleanup(api.Close)

	var polls atomic.Int32
	status := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ref-1", r.URL.Query().Get("ref"))
		if polls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"status":"pending"}`))

			return
		}
		_, _ = w.Write([]byte(`{"paid":true,"provider_ref":"ref-1"}`))
	}))
	t.Cleanup(status.Close)

	dead := httptest.NewServer(http.NotFoundHandler())
	streamURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	watcher := settlement.New(settlement.Config{
		StreamURL:  streamURL,
		StatusURL:  status.URL,
		Domain:     domain,
		NewBackoff: noRetry,
	})
	presenter := &recordingPresenter{}
	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewClient(api.URL), watcher, presenter)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Snapshot().Connection == payment.ConnectionError && polls.Load() == 1
	}, eventually, tick)
	require.Equal(t, payment.StateWaiting, c.State())
	require.True(t, presenter.sawText(StatusRealtimeDown))
	require.Empty(t, obs.paidEvents())

	require.NoError(t, c.Refresh(context.Background()))

	require.Eventually(t, func() bool { return len(obs.paidEvents()) == 1 }, eventually, tick)
	require.Equal(t, "ref-1", obs.paidEvents()[0].ProviderRef)
	require.Eventually(t, func() bool { return c.State() == payment.StatePaid }, eventually, tick)

	require.ErrorIs(t, c.Refresh(context.Background()), ErrRefreshUnavailable)
	require.Never(t, func() bool { return len(obs.paidEvents()) > 1 }, 100*time.Millisecond, tick)
}

func TestController_LatePaymentAfterExpiry(t *testing.T) {
	start := time.Unix(1700000000, 0)
	ticks := make(chan time.Duration, 100)
	testClock := clock.NewTestClockWithTickSignal(start, ticks)
	inv := mockInvoice(t, 21)

	ctrl := gomock.NewController(t)
	watcher := NewMockWatcher(ctrl)
	var onPaid func(settlement.Settlement)
	watcher.EXPECT().OnStateChange(gomock.Any())
	watcher.EXPECT().OnPaid(gomock.Any()).Do(func(cb func(settlement.Settlement)) {
		onPaid = cb
	})
	gomock.InOrder(
		watcher.EXPECT().Attach(inv.PaymentRequest, inv.PaymentHash.String()).Return(nil),
		watcher.EXPECT().Start(gomock.Any()).Return(nil),
		watcher.EXPECT().Refresh(gomock.Any()).Return(nil),
		watcher.EXPECT().Stop(),
		watcher.EXPECT().Destroy(),
	)

	presenter := &recordingPresenter{}
	c := New(Config{
		Domain:            domain,
		AllowCustomAmount: true,
		TTL:               30 * time.Second,
		Clock:             testClock,
	}, invoice.NewMockBackend(), watcher, presenter)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == payment.StateWaiting }, eventually, tick)

	select {
	case <-ticks:
	case <-time.After(eventually):
		t.Fatal("countdown never armed")
	}
	testClock.SetTime(start.Add(30 * time.Second))

	require.Eventually(t, func() bool { return c.State() == payment.StateExpired }, eventually, tick)
	require.Zero(t, c.Snapshot().Remaining)
	require.True(t, presenter.sawText(StatusExpired))
	require.Empty(t, obs.paidEvents())

	require.NoError(t, c.Refresh(context.Background()))

	testClock.SetTime(start.Add(35 * time.Second))
	settled := settlement.Settlement{PaymentRequest: inv.PaymentRequest, Source: settlement.SourceStream}
	onPaid(settled)
	onPaid(settled)

	require.Eventually(t, func() bool { return c.State() == payment.StatePaid }, eventually, tick)
	require.Eventually(t, func() bool { return len(obs.paidEvents()) == 1 }, eventually, tick)
	require.Never(t, func() bool { return len(obs.paidEvents()) > 1 }, 100*time.Millisecond, tick)
	require.Equal(t, start.Add(35*time.Second), *c.Snapshot().Session.PaidAt)
	require.Equal(t, 1, presenter.celebrated())
}

func TestController_NewSelectionRetiresPrevious(t *testing.T) {
	first := mockInvoice(t, 21)
	second := mockInvoice(t, 100)

	ctrl := gomock.NewController(t)
	watcher := NewMockWatcher(ctrl)
	var onPaid func(settlement.Settlement)
	watcher.EXPECT().OnStateChange(gomock.Any())
	watcher.EXPECT().OnPaid(gomock.Any()).Do(func(cb func(settlement.Settlement)) {
		onPaid = cb
	})
	gomock.InOrder(
		watcher.EXPECT().Attach(first.PaymentRequest, first.PaymentHash.String()).Return(nil),
		watcher.EXPECT().Start(gomock.Any()).Return(nil),
		watcher.EXPECT().Stop(),
		watcher.EXPECT().Attach(second.PaymentRequest, second.PaymentHash.String()).Return(nil),
		watcher.EXPECT().Start(gomock.Any()).Return(nil),
		watcher.EXPECT().Stop(),
		watcher.EXPECT().Destroy(),
	)

	c := New(Config{Domain: domain, PresetAmounts: []money.Money{21, 100}}, invoice.NewMockBackend(), watcher, nil)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	firstID, err := c.SelectPreset(context.Background(), 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == payment.StateWaiting }, eventually, tick)

	secondID, err := c.SelectPreset(context.Background(), 1)
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	require.Eventually(t, func() bool {
		snap := c.Snapshot()

		return snap.State == payment.StateWaiting && snap.Session.ID == secondID
	}, eventually, tick)

	onPaid(settlement.Settlement{PaymentRequest: second.PaymentRequest, Source: settlement.SourcePoll})
	require.Eventually(t, func() bool { return len(obs.paidEvents()) == 1 }, eventually, tick)

	paid := obs.paidEvents()[0]
	require.EqualValues(t, 100, paid.AmountSats)
	require.Equal(t, second.PaymentRequest, paid.PR)

	created := obs.invoiceEvents()
	require.Len(t, created, 2)
	require.EqualValues(t, 21, created[0].AmountSats)
	require.EqualValues(t, 100, created[1].AmountSats)
}

func TestController_StaleInvoiceResultIgnored(t *testing.T) {
	second := mockInvoice(t, 100)

	ctrl := gomock.NewController(t)
	requester := invoice.NewMockRequester(ctrl)
	requester.EXPECT().Request(gomock.Any(), gomock.Any()).Times(2).DoAndReturn(
		func(ctx context.Context, req invoice.Request) (*payment.Invoice, error) {
			if req.AmountSats == 21 {
				<-ctx.Done()

				return nil, fmt.Errorf("request aborted: %w", payment.ErrNetwork)
			}

			return &payment.Invoice{PaymentRequest: second.PaymentRequest, ProviderRef: "ref-100"}, nil
		})

	presenter := &recordingPresenter{}
	c := New(Config{Domain: domain, AllowCustomAmount: true}, requester, settlement.New(settlement.Config{}), presenter)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)
	_, err = c.SelectAmount(context.Background(), 100)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == payment.StateWaiting }, eventually, tick)
	require.Never(t, func() bool { return presenter.sawState(payment.StateFailed) }, 100*time.Millisecond, tick)
	require.Equal(t, payment.StateWaiting, c.State())

	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 1 }, eventually, tick)
	created := obs.invoiceEvents()
	require.EqualValues(t, 100, created[0].AmountSats)
	require.Equal(t, "ref-100", created[0].ProviderRef)
}

func TestController_OldInvoiceSettlementIgnored(t *testing.T) {
	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewMockBackend(), settlement.New(settlement.Config{}), nil)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 1 }, eventually, tick)
	old := obs.invoiceEvents()[0]

	_, err = c.SelectAmount(context.Background(), 100)
	require.NoError(t, err)
	require.NoError(t, c.HandleMessage(paidFrame(t, old.ProviderRef)))

	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 2 }, eventually, tick)
	require.NoError(t, c.HandleMessage(paidFrame(t, old.ProviderRef)))
	require.Never(t, func() bool { return len(obs.paidEvents()) > 0 }, 100*time.Millisecond, tick)

	current := obs.invoiceEvents()[1]
	require.NoError(t, c.HandleMessage(paidFrame(t, current.ProviderRef)))
	require.Eventually(t, func() bool { return len(obs.paidEvents()) == 1 }, eventually, tick)
	require.EqualValues(t, 100, obs.paidEvents()[0].AmountSats)
}

func TestController_AmountRules(t *testing.T) {
	c := New(Config{Domain: domain, PresetAmounts: []money.Money{21, 100}}, invoice.NewMockBackend(), settlement.New(settlement.Config{}), nil)
	t.Cleanup(c.Destroy)

	tests := []struct {
		name    string
		sats    int64
		wantErr error
	}{
		{name: "zero", sats: 0, wantErr: payment.ErrInvalidAmount},
		{name: "negative", sats: -5, wantErr: payment.ErrInvalidAmount},
		{name: "above supply", sats: 20_000_000_000_000_000, wantErr: payment.ErrInvalidAmount},
		{name: "custom", sats: 50, wantErr: ErrCustomAmountNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SelectAmount(context.Background(), tt.sats)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := c.SelectPreset(context.Background(), 2)
	require.ErrorIs(t, err, ErrUnknownPreset)
	require.Equal(t, payment.StateIdle, c.State())
	require.Nil(t, c.Snapshot().Session)
	require.ErrorIs(t, c.Refresh(context.Background()), ErrRefreshUnavailable)

	_, err = c.SelectAmount(context.Background(), 100)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State() == payment.StateWaiting }, eventually, tick)
}

func TestController_Destroy(t *testing.T) {
	ctrl := gomock.NewController(t)
	watcher := NewMockWatcher(ctrl)
	watcher.EXPECT().OnStateChange(gomock.Any())
	watcher.EXPECT().OnPaid(gomock.Any())
	watcher.EXPECT().Destroy().Times(1)

	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewMockBackend(), watcher, nil)
	c.Destroy()
	c.Destroy()

	_, err := c.SelectAmount(context.Background(), 21)
	require.ErrorIs(t, err, ErrDestroyed)
	require.ErrorIs(t, c.Refresh(context.Background()), ErrDestroyed)
	require.ErrorIs(t, c.HandleMessage([]byte(`{}`)), ErrDestroyed)
}

func TestController_DestroyFromPaidCallback(t *testing.T) {
	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewMockBackend(), settlement.New(settlement.Config{}), nil)
	t.Cleanup(c.Destroy)

	invoices := make(chan InvoiceEvent, 1)
	destroyed := make(chan struct{})
	c.OnInvoice(func(event InvoiceEvent) { invoices <- event })
	c.OnPaid(func(PaidEvent) {
		c.Destroy()
		close(destroyed)
	})

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)

	var created InvoiceEvent
	select {
	case created = <-invoices:
	case <-time.After(eventually):
		t.Fatal("no invoice created")
	}
	require.NoError(t, c.HandleMessage(paidFrame(t, created.ProviderRef)))

	select {
	case <-destroyed:
	case <-time.After(eventually):
		t.Fatal("Destroy from the paid callback did not return")
	}

	_, err = c.SelectAmount(context.Background(), 21)
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestController_TipAgainFromPaidCallback(t *testing.T) {
	c := New(Config{Domain: domain, AllowCustomAmount: true}, invoice.NewMockBackend(), settlement.New(settlement.Config{}), nil)
	t.Cleanup(c.Destroy)
	obs := observe(c)

	again := make(chan error, 1)
	var once sync.Once
	c.OnPaid(func(PaidEvent) {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventually)
			defer cancel()

			_, err := c.SelectAmount(ctx, 100)
			again <- err
		})
	})

	_, err := c.SelectAmount(context.Background(), 21)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 1 }, eventually, tick)
	require.NoError(t, c.HandleMessage(paidFrame(t, obs.invoiceEvents()[0].ProviderRef)))

	select {
	case err := <-again:
		require.NoError(t, err)
	case <-time.After(2 * eventually):
		t.Fatal("SelectAmount from the paid callback did not return")
	}

	require.Eventually(t, func() bool { return len(obs.invoiceEvents()) == 2 }, eventually, tick)
	require.EqualValues(t, 100, obs.invoiceEvents()[1].AmountSats)
	require.Eventually(t, func() bool {
		snap := c.Snapshot()

		return snap.State == payment.StateWaiting && snap.Session.AmountSats == 100
	}, eventually, tick)
}
