package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type settlementFixture struct {
	store     *memStore
	processor *stubProcessor
	locker    *memLocker
	svc       *SettlementService
}

func newSettlementFixture(t *testing.T, result *domain.ProcessorResult) *settlementFixture {
	t.Helper()
	store := newMemStore()
	ctx := context.Background()

	require.NoError(t, memInvoices{store}.Create(ctx, &domain.Invoice{ID: "inv-1", UserID: "user-1", Amount: 50}))
	require.NoError(t, memMethods{store}.Create(ctx, &domain.PaymentMethod{
		ID: "pm-1", UserID: "user-1", Type: "card", Provider: "Visa", MaskedIdentifier: "**** 4242", IsActive: true,
	}))
	require.NoError(t, memMethods{store}.Create(ctx, &domain.PaymentMethod{
		ID: "pm-other", UserID: "user-2", Type: "card", Provider: "Visa", IsActive: true,
	}))

	processor := &stubProcessor{result: result}
	locker := newMemLocker()
	reconciler := NewReconciler(memInvoices{store}, memPayments{store}, store, zap.NewNop())
	svc := NewSettlementService(memInvoices{store}, memMethods{store}, memPayments{store}, processor, reconciler, locker, nil,
		SettlementConfig{ProcessorTimeout: time.Second, LockWait: 2 * time.Second}, zap.NewNop())
	return &settlementFixture{store: store, processor: processor, locker: locker, svc: svc}
}

func settleReq(amount int64) SettleRequest {
	return SettleRequest{InvoiceID: "inv-1", PaymentMethodID: "pm-1", Amount: amount, RequestedBy: "user-1"}
}

func TestSettle_Completed(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "txn-success"})

	res, err := f.svc.Settle(context.Background(), settleReq(50))
	require.NoError(t, err)

	assert.Equal(t, SettlementPaid, res.Status)
	assert.Equal(t, "txn-success", res.TransactionID)
	assert.False(t, res.AlreadyPaid)
	require.NotNil(t, res.PaidAt)

	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusCompleted, payments[0].Status)
	assert.Equal(t, "txn-success", *payments[0].TransactionID)
	assert.Equal(t, "pm-1", *payments[0].PaymentMethodID)
	assert.NotNil(t, payments[0].ProcessedAt)

	inv := f.store.invoice("inv-1")
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "Visa **** 4242", inv.PaymentMethod)
	assert.NotNil(t, inv.PaidAt)
}

func TestSettle_IdempotentAfterSuccess(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "txn-success"})
	ctx := context.Background()

	first, err := f.svc.Settle(ctx, settleReq(50))
	require.NoError(t, err)

	second, err := f.svc.Settle(ctx, settleReq(50))
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.processor.calls.Load(), "processor must not be charged twice")
	assert.Equal(t, SettlementPaid, second.Status)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, "txn-success", second.TransactionID)
	assert.Len(t, f.store.paymentsFor("inv-1"), 1)
	assert.Equal(t, 1, f.store.completions["inv-1"])
}

func TestSettle_PreconditionsWriteNothing(t *testing.T) {
	tests := []struct {
		name    string
		req     SettleRequest
		wantErr error
	}{
		{"unknown invoice", SettleRequest{InvoiceID: "nope", PaymentMethodID: "pm-1", Amount: 50, RequestedBy: "user-1"}, domain.ErrNotFound},
		{"foreign requester", SettleRequest{InvoiceID: "inv-1", PaymentMethodID: "pm-1", Amount: 50, RequestedBy: "user-2"}, domain.ErrForbidden},
		{"foreign payment method", SettleRequest{InvoiceID: "inv-1", PaymentMethodID: "pm-other", Amount: 50, RequestedBy: "user-1"}, domain.ErrForbidden},
		{"unknown payment method", SettleRequest{InvoiceID: "inv-1", PaymentMethodID: "pm-x", Amount: 50, RequestedBy: "user-1"}, domain.ErrNotFound},
		{"short amount", settleReq(49), domain.ErrInvalidAmount},
		{"over amount", settleReq(51), domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "t"})

			_, err := f.svc.Settle(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.store.paymentsFor("inv-1"))
			assert.Equal(t, int32(0), f.processor.calls.Load())
			assert.Equal(t, domain.InvoiceStatusPending, f.store.invoice("inv-1").Status)
		})
	}
}

func TestSettle_InactiveMethodForbidden(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted})
	require.NoError(t, memMethods{f.store}.Create(context.Background(), &domain.PaymentMethod{ID: "pm-old", UserID: "user-1", IsActive: false}))

	_, err := f.svc.Settle(context.Background(), SettleRequest{InvoiceID: "inv-1", PaymentMethodID: "pm-old", Amount: 50, RequestedBy: "user-1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Empty(t, f.store.paymentsFor("inv-1"))
}

func TestSettle_FailureLeavesInvoicePayable(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{
		Status:        domain.ProcessorFailed,
		TransactionID: "txn-declined",
		FailureReason: "insufficient funds",
	})
	ctx := context.Background()

	res, err := f.svc.Settle(ctx, settleReq(50))
	require.NoError(t, err)
	assert.Equal(t, SettlementFailed, res.Status)
	assert.Contains(t, res.Message, "insufficient funds")

	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, "insufficient funds", payments[0].Notes)

	inv := f.store.invoice("inv-1")
	assert.Equal(t, domain.InvoiceStatusPending, inv.Status)
	assert.Nil(t, inv.PaidAt)

	// A retry with a working processor opens a fresh attempt
	f.processor.result = &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "txn-ok"}
	res, err = f.svc.Settle(ctx, settleReq(50))
	require.NoError(t, err)
	assert.Equal(t, SettlementPaid, res.Status)
	assert.Len(t, f.store.paymentsFor("inv-1"), 2)
}

func TestSettle_PendingIsDurable(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{
		Status:        domain.ProcessorPending,
		TransactionID: "txn-wait",
		Notes:         "awaiting processor confirmation",
	})

	res, err := f.svc.Settle(context.Background(), settleReq(50))
	require.NoError(t, err)
	assert.Equal(t, SettlementPending, res.Status)

	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusPending, payments[0].Status)
	assert.Equal(t, "txn-wait", *payments[0].TransactionID)
	assert.Equal(t, "awaiting processor confirmation", payments[0].Notes)
	assert.Equal(t, domain.InvoiceStatusPending, f.store.invoice("inv-1").Status)
}

func TestSettle_ProcessorUnavailableLeavesPending(t *testing.T) {
	f := newSettlementFixture(t, nil)
	f.processor.err = errors.New("connection reset")

	_, err := f.svc.Settle(context.Background(), settleReq(50))
	assert.ErrorIs(t, err, domain.ErrProcessorUnavailable)

	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusPending, payments[0].Status)
	assert.Equal(t, domain.InvoiceStatusPending, f.store.invoice("inv-1").Status)
}

func TestSettle_CancelledKeepsPendingRow(t *testing.T) {
	f := newSettlementFixture(t, nil)
	f.processor.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.svc.Settle(ctx, settleReq(50))
	assert.ErrorIs(t, err, domain.ErrProcessorUnavailable)

	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusPending, payments[0].Status)
}

func TestSettle_GatewayProcessorStoresReference(t *testing.T) {
	f := newSettlementFixture(t, nil)
	gw := &stubGateway{}
	f.svc.processor = NewGatewayProcessor(gw, "EV charging invoice", 0)

	res, err := f.svc.Settle(context.Background(), settleReq(50))
	require.NoError(t, err)
	assert.Equal(t, SettlementPending, res.Status)
	assert.Equal(t, "sid-1", res.TransactionID)
	assert.Equal(t, res.PaymentID, gw.lastReq.PaymentID, "gateway reference id is the payment row")

	p, err := memPayments{f.store}.GetByGatewayReference(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentChannelGateway, p.Channel)
	assert.Equal(t, domain.PaymentStatusPending, p.Status)
}

func TestSettle_GatewayProcessorEnforcesMinimum(t *testing.T) {
	f := newSettlementFixture(t, nil)
	gw := &stubGateway{}
	f.svc.processor = NewGatewayProcessor(gw, "EV charging invoice", 5000)

	_, err := f.svc.Settle(context.Background(), settleReq(50))
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	assert.Empty(t, f.store.paymentsFor("inv-1"))
	assert.Equal(t, 0, gw.seq)
}

func TestSettle_ConcurrentAttemptsChargeOnce(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "txn-success"})
	f.processor.delay = 50 * time.Millisecond

	results := make([]*SettlementResult, 2)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := f.svc.Settle(context.Background(), settleReq(50))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), f.processor.calls.Load(), "processor must be charged once")
	payments := f.store.paymentsFor("inv-1")
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentStatusCompleted, payments[0].Status)

	alreadyPaid := 0
	for _, r := range results {
		assert.Equal(t, SettlementPaid, r.Status)
		assert.Equal(t, payments[0].ID, r.PaymentID)
		if r.AlreadyPaid {
			alreadyPaid++
		}
	}
	assert.Equal(t, 1, alreadyPaid)
}

func TestSettle_RefusedWhileAnotherAttemptHoldsInvoice(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "t"})
	f.svc.cfg.LockWait = 50 * time.Millisecond
	_, ok, err := f.locker.TryLock(context.Background(), settleLockPrefix+"inv-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Settle(context.Background(), settleReq(50))
	assert.ErrorIs(t, err, domain.ErrSettlementInProgress)
	assert.Empty(t, f.store.paymentsFor("inv-1"))
	assert.Equal(t, int32(0), f.processor.calls.Load())
}

func TestSettle_LockerDownRefuses(t *testing.T) {
	f := newSettlementFixture(t, &domain.ProcessorResult{Status: domain.ProcessorCompleted, TransactionID: "t"})
	f.locker.fails = true

	_, err := f.svc.Settle(context.Background(), settleReq(50))
	assert.ErrorIs(t, err, domain.ErrProcessorUnavailable)
	assert.Empty(t, f.store.paymentsFor("inv-1"))
	assert.Equal(t, int32(0), f.processor.calls.Load())
}
