package service

import (
	"context"
	"testing"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/config"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInvoice = &domain.Invoice{ID: "inv-1", UserID: "user-1", Amount: 50}
	testMethod  = &domain.PaymentMethod{ID: "pm-1", UserID: "user-1", Provider: "BCA", IsActive: true}
	testPayment = &domain.Payment{ID: "pay-1", InvoiceID: "inv-1", Amount: 50, Status: domain.PaymentStatusPending}
)

func TestSimulator_FixedPolicies(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		pending   int
		want      domain.ProcessorStatus
	}{
		{"always completes", 100, 0, domain.ProcessorCompleted},
		{"always pending", 0, 100, domain.ProcessorPending},
		{"always fails", 0, 0, domain.ProcessorFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSimulator(42, tt.completed, tt.pending, 0)
			for i := 0; i < 20; i++ {
				res, err := sim.Attempt(context.Background(), testPayment, testInvoice, testMethod)
				require.NoError(t, err)
				assert.Equal(t, tt.want, res.Status)
				assert.NotEmpty(t, res.TransactionID)
			}
		})
	}
}

func TestSimulator_SeededSplit(t *testing.T) {
	sim := NewSimulator(7, 75, 15, 0)
	counts := map[domain.ProcessorStatus]int{}
	for i := 0; i < 2000; i++ {
		res, err := sim.Attempt(context.Background(), testPayment, testInvoice, testMethod)
		require.NoError(t, err)
		counts[res.Status]++
	}

	assert.InDelta(t, 1500, counts[domain.ProcessorCompleted], 120)
	assert.InDelta(t, 300, counts[domain.ProcessorPending], 80)
	assert.InDelta(t, 200, counts[domain.ProcessorFailed], 80)
}

func TestSimulator_Reproducible(t *testing.T) {
	a := NewSimulator(99, 75, 15, 0)
	b := NewSimulator(99, 75, 15, 0)
	for i := 0; i < 50; i++ {
		ra, _ := a.Attempt(context.Background(), testPayment, testInvoice, testMethod)
		rb, _ := b.Attempt(context.Background(), testPayment, testInvoice, testMethod)
		assert.Equal(t, ra.Status, rb.Status)
	}
}

func TestSimulator_HonoursCancellation(t *testing.T) {
	sim := NewSimulator(1, 100, 0, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Attempt(ctx, testPayment, testInvoice, testMethod)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewPaymentProcessor(t *testing.T) {
	gw := &stubGateway{}

	p := NewPaymentProcessor(config.PaymentConfig{ProcessorMode: config.ProcessorModeSimulator, SimulatorCompleted: 75, SimulatorPending: 15}, gw)
	assert.Equal(t, domain.PaymentChannelSimulated, p.Channel())

	p = NewPaymentProcessor(config.PaymentConfig{ProcessorMode: config.ProcessorModeGateway}, gw)
	assert.Equal(t, domain.PaymentChannelGateway, p.Channel())

	res, err := p.Attempt(context.Background(), testPayment, testInvoice, testMethod)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessorPending, res.Status)
	assert.Equal(t, "sid-1", res.GatewayReference)
	assert.Equal(t, res.GatewayReference, res.TransactionID)
	assert.Equal(t, "pay-1", gw.lastReq.PaymentID)
	assert.Equal(t, int64(50), gw.lastReq.Amount)
}

func TestGatewayProcessor_MinimumAmount(t *testing.T) {
	gw := &stubGateway{}
	p := NewPaymentProcessor(config.PaymentConfig{ProcessorMode: config.ProcessorModeGateway, MinimumAmount: 5000}, gw)
	assert.Equal(t, int64(5000), p.MinimumAmount())

	_, err := p.Attempt(context.Background(), testPayment, testInvoice, testMethod)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	assert.Equal(t, 0, gw.seq)

	sim := NewPaymentProcessor(config.PaymentConfig{ProcessorMode: config.ProcessorModeSimulator}, gw)
	assert.Equal(t, int64(0), sim.MinimumAmount())
}
