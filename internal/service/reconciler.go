package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"go.uber.org/zap"
)

// Completion carries what is recorded when a payment succeeds.
type Completion struct {
	TransactionID    string
	GatewayReference string
	Notes            string
	MethodLabel      string // recorded on the invoice
	PaidAt           time.Time
}

// Reconciler applies terminal outcomes to payments and their invoices. Both
// the direct and the redirect path go through it, so the rules hold no matter
// which channel learns the outcome first.
type Reconciler struct {
	invoices domain.InvoiceRepository
	payments domain.PaymentRepository
	tx       domain.Transactor
	log      *zap.Logger
	now      func() time.Time
}

func NewReconciler(invoices domain.InvoiceRepository, payments domain.PaymentRepository, tx domain.Transactor, log *zap.Logger) *Reconciler {
	return &Reconciler{
		invoices: invoices,
		payments: payments,
		tx:       tx,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Complete marks payment completed and its invoice paid in one transaction.
//
// It returns the payment as stored afterwards and whether this call applied
// the completion. A payment that was already completed is a no-op. A payment
// whose invoice was settled by another attempt is failed and ErrAlreadySettled
// is returned.
func (r *Reconciler) Complete(ctx context.Context, payment *domain.Payment, c Completion) (*domain.Payment, bool, error) {
	if payment.Status == domain.PaymentStatusCompleted {
		return payment, false, nil
	}
	if err := payment.CanTransitionTo(domain.PaymentStatusCompleted); err != nil {
		r.log.Warn("success reported for a failed payment",
			zap.String("payment_id", payment.ID),
			zap.String("invoice_id", payment.InvoiceID),
			zap.Error(err),
		)
		return payment, false, nil
	}

	processedAt := r.now()
	paidAt := c.PaidAt
	if paidAt.IsZero() {
		paidAt = processedAt
	}

	update := domain.PaymentUpdate{
		Status:      domain.PaymentStatusCompleted,
		Notes:       c.Notes,
		ProcessedAt: &processedAt,
	}
	if c.TransactionID != "" {
		update.TransactionID = &c.TransactionID
	}
	if c.GatewayReference != "" {
		update.GatewayReference = &c.GatewayReference
	}

	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.payments.Transition(ctx, payment.ID, update); err != nil {
			return err
		}
		return r.invoices.MarkPaid(ctx, payment.InvoiceID, c.MethodLabel, paidAt)
	})
	if err == nil {
		applied := *payment
		applied.Status = domain.PaymentStatusCompleted
		applied.ProcessedAt = &processedAt
		return r.reload(ctx, &applied), true, nil
	}
	if !errors.Is(err, domain.ErrStaleWrite) {
		return payment, false, fmt.Errorf("failed to complete payment %s: %w", payment.ID, err)
	}

	// Lost a race: either this payment or its invoice moved on first
	current, err := r.payments.GetByID(ctx, payment.ID)
	if err != nil {
		return payment, false, fmt.Errorf("failed to reload payment %s: %w", payment.ID, err)
	}
	switch current.Status {
	case domain.PaymentStatusCompleted:
		return current, false, nil
	case domain.PaymentStatusFailed:
		r.log.Warn("success reported for a failed payment",
			zap.String("payment_id", current.ID),
			zap.String("invoice_id", current.InvoiceID),
		)
		return current, false, nil
	}

	// Payment still pending, so the invoice was paid by a different attempt
	r.log.Error("invoice already settled by another payment",
		zap.String("payment_id", current.ID),
		zap.String("invoice_id", current.InvoiceID),
		zap.String("transaction_id", c.TransactionID),
	)
	failed, _, ferr := r.Fail(ctx, current, "invoice already settled by another payment", c.TransactionID)
	if ferr != nil {
		return current, false, ferr
	}
	return failed, false, domain.ErrAlreadySettled
}

// Fail marks a pending payment failed. The invoice is never touched: a pending
// invoice stays payable and a paid one stays paid.
func (r *Reconciler) Fail(ctx context.Context, payment *domain.Payment, reason, transactionID string) (*domain.Payment, bool, error) {
	if err := payment.CanTransitionTo(domain.PaymentStatusFailed); err != nil {
		return payment, false, nil
	}

	processedAt := r.now()
	update := domain.PaymentUpdate{
		Status:      domain.PaymentStatusFailed,
		Notes:       reason,
		ProcessedAt: &processedAt,
	}
	if transactionID != "" {
		update.TransactionID = &transactionID
	}

	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		return r.payments.Transition(ctx, payment.ID, update)
	})
	if errors.Is(err, domain.ErrStaleWrite) {
		return r.reload(ctx, payment), false, nil
	}
	if err != nil {
		return payment, false, fmt.Errorf("failed to fail payment %s: %w", payment.ID, err)
	}
	applied := *payment
	applied.Status = domain.PaymentStatusFailed
	applied.Notes = reason
	applied.ProcessedAt = &processedAt
	return r.reload(ctx, &applied), true, nil
}

// Annotate records processor metadata on a payment that stays pending.
// Terminal payments are refused with ErrInvalidTransition.
func (r *Reconciler) Annotate(ctx context.Context, payment *domain.Payment, transactionID, gatewayReference, notes string) error {
	if err := payment.CanTransitionTo(domain.PaymentStatusPending); err != nil {
		return fmt.Errorf("payment %s: %w", payment.ID, err)
	}
	update := domain.PaymentUpdate{
		Status: domain.PaymentStatusPending,
		Notes:  notes,
	}
	if transactionID != "" {
		update.TransactionID = &transactionID
	}
	if gatewayReference != "" {
		update.GatewayReference = &gatewayReference
	}
	if err := r.payments.Transition(ctx, payment.ID, update); err != nil {
		return fmt.Errorf("failed to annotate payment %s: %w", payment.ID, err)
	}
	return nil
}

// reload reads the stored payment, falling back to the caller's view on error
func (r *Reconciler) reload(ctx context.Context, fallback *domain.Payment) *domain.Payment {
	p, err := r.payments.GetByID(ctx, fallback.ID)
	if err != nil {
		r.log.Warn("failed to reload payment", zap.String("payment_id", fallback.ID), zap.Error(err))
		return fallback
	}
	return p
}
