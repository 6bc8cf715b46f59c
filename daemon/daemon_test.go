package daemon

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/nostrstack/paywatch/database"
	"github.com/nostrstack/paywatch/database/models"
	"github.com/nostrstack/paywatch/lightning"
	"github.com/nostrstack/paywatch/settlement"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type published struct {
	domain string
	msg    *settlement.Message
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
}

func (p *recordingPublisher) PublishSettlement(domain string, msg *settlement.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{domain: domain, msg: msg})
}

func (p *recordingPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]published(nil), p.sent...)
}

func Test_MonitorPayment(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	now := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	var preimage lntypes.Preimage
	preimage[0] = 0x42
	hash := preimage.Hash()
	hashHex := hash.String()
	rhash := hash[:]

	pending := func() *models.Payment {
		return &models.Payment{
			Domain:         "example.com",
			PaymentHash:    hashHex,
			PaymentRequest: "lnbcrt210n1abc",
			AmountSats:     21,
			Status:         models.PaymentStatusPending,
			ExpiresAt:      now.Add(time.Minute),
		}
	}

	settledAt := now.Add(-time.Second)

	tests := []struct {
		name      string
		setup     func(repo *database.MockPaymentRepository, node *lightning.MockClient)
		payment   func() *models.Payment
		published int
		wantErr   bool
	}{
		{
			name: "settled invoice is marked paid and published",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State:     lightning.InvoiceSettled,
					Preimage:  preimage.String(),
					SettledAt: settledAt,
				}, nil)
				repo.EXPECT().MarkPaid(ctx, hashHex, &preimage, settledAt).Return(true, nil)
			},
			payment:   pending,
			published: 1,
		},
		{
			name: "already paid row is not published again",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State:    lightning.InvoiceSettled,
					Preimage: preimage.String(),
				}, nil)
				repo.EXPECT().MarkPaid(ctx, hashHex, &preimage, now).Return(false, nil)
			},
			payment: pending,
		},
		{
			name: "open invoice within its window is left alone",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State: lightning.InvoiceOpen,
				}, nil)
			},
			payment: pending,
		},
		{
			name: "open invoice past its deadline expires",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State: lightning.InvoiceOpen,
				}, nil)
				repo.EXPECT().MarkExpired(ctx, hashHex).Return(true, nil)
			},
			payment: func() *models.Payment {
				p := pending()
				p.ExpiresAt = now.Add(-time.Second)

				return p
			},
		},
		{
			name: "accepted invoice waits even past its deadline",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State: lightning.InvoiceAccepted,
				}, nil)
			},
			payment: func() *models.Payment {
				p := pending()
				p.ExpiresAt = now.Add(-time.Second)

				return p
			},
		},
		{
			name: "canceled invoice",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(&lightning.InvoiceStatus{
					State: lightning.InvoiceCanceled,
				}, nil)
				repo.EXPECT().MarkCanceled(ctx, hashHex).Return(true, nil)
			},
			payment: pending,
		},
		{
			name: "invoice not found on node",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(nil, lightning.ErrInvoiceNotFound)
				repo.EXPECT().MarkCanceled(ctx, hashHex).Return(true, nil)
			},
			payment: pending,
		},
		{
			name: "node unreachable",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {
				node.EXPECT().LookupInvoice(ctx, rhash).Return(nil, errors.New("connection refused"))
			},
			payment: pending,
			wantErr: true,
		},
		{
			name:  "invalid hash",
			setup: func(repo *database.MockPaymentRepository, node *lightning.MockClient) {},
			payment: func() *models.Payment {
				p := pending()
				p.PaymentHash = "zz"

				return p
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := database.NewMockPaymentRepository(ctrl)
			node := lightning.NewMockClient(ctrl)
			publisher := &recordingPublisher{}
			monitor := NewPaymentMonitor(repo, node, publisher, clock.NewTestClock(now))
			tt.setup(repo, node)

			err := monitor.MonitorPayment(ctx, tt.payment())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			sent := publisher.messages()
			require.Len(t, sent, tt.published)
			for _, p := range sent {
				require.Equal(t, "example.com", p.domain)
				require.True(t, p.msg.Settled())
				require.Equal(t, hashHex, p.msg.Ref())
				require.Equal(t, preimage.String(), p.msg.Preimage)
			}
		})
	}
}

func Test_MonitorPayments(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	ctx := context.Background()
	repo := database.NewMockPaymentRepository(ctrl)
	node := lightning.NewMockClient(ctrl)
	monitor := NewPaymentMonitor(repo, node, &recordingPublisher{}, clock.NewTestClock(time.Now()))

	good := &models.Payment{PaymentHash: hex.EncodeToString(make([]byte, 32)), ExpiresAt: time.Now().Add(time.Hour)}
	bad := &models.Payment{PaymentHash: "not-hex"}

	repo.EXPECT().GetPendingPayments(ctx).Return([]*models.Payment{bad, good}, nil)
	node.EXPECT().LookupInvoice(ctx, make([]byte, 32)).Return(&lightning.InvoiceStatus{State: lightning.InvoiceOpen}, nil)

	// One broken row must not stop the pass.
	monitor.MonitorPayments(ctx)

	repo.EXPECT().GetPendingPayments(ctx).Return(nil, errors.New("db down"))
	monitor.MonitorPayments(ctx)
}

func Test_Track(t *testing.T) {
	var preimage lntypes.Preimage
	preimage[31] = 0x07
	hash := preimage.Hash()

	newPayment := func() *models.Payment {
		return &models.Payment{
			Domain:         "example.com",
			PaymentHash:    hash.String(),
			PaymentRequest: "lnbcrt1",
			ExpiresAt:      time.Now().Add(time.Minute),
		}
	}

	t.Run("settles as soon as the node reports the payment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := database.NewMockPaymentRepository(ctrl)
		node := lightning.NewMockClient(ctrl)
		publisher := &recordingPublisher{}
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		monitor := NewPaymentMonitor(repo, node, publisher, clock.NewTestClock(start))
		t.Cleanup(monitor.Stop)

		node.EXPECT().MonitorPaymentReception(gomock.Any(), hash[:]).Return(preimage.String(), nil)
		repo.EXPECT().MarkPaid(gomock.Any(), hash.String(), &preimage, start).Return(true, nil)

		require.True(t, monitor.Track(context.Background(), newPayment()))
		require.Eventually(t, func() bool {
			return len(publisher.messages()) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("canceled invoice", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := database.NewMockPaymentRepository(ctrl)
		node := lightning.NewMockClient(ctrl)
		monitor := NewPaymentMonitor(repo, node, &recordingPublisher{}, nil)
		t.Cleanup(monitor.Stop)

		done := make(chan struct{})
		node.EXPECT().MonitorPaymentReception(gomock.Any(), hash[:]).Return("", lightning.ErrInvoiceCanceled)
		repo.EXPECT().MarkCanceled(gomock.Any(), hash.String()).DoAndReturn(func(context.Context, string) (bool, error) {
			close(done)

			return true, nil
		})

		require.True(t, monitor.Track(context.Background(), newPayment()))
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("payment was not canceled")
		}
	})

	t.Run("stop ends tracking", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := database.NewMockPaymentRepository(ctrl)
		node := lightning.NewMockClient(ctrl)
		monitor := NewPaymentMonitor(repo, node, &recordingPublisher{}, nil)

		started := make(chan struct{})
		node.EXPECT().MonitorPaymentReception(gomock.Any(), hash[:]).DoAndReturn(func(ctx context.Context, _ []byte) (string, error) {
			close(started)
			<-ctx.Done()

			return "", ctx.Err()
		})

		require.True(t, monitor.Track(context.Background(), newPayment()))
		<-started
		monitor.Stop()
		require.False(t, monitor.Track(context.Background(), newPayment()))
	})
}
