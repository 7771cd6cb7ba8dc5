package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Settlement statuses reported to callers
const (
	SettlementPaid    = "paid"
	SettlementPending = "pending"
	SettlementFailed  = "failed"
)

// SettleRequest is a direct payment attempt against an invoice
type SettleRequest struct {
	InvoiceID       string
	PaymentMethodID string
	Amount          int64
	RequestedBy     string
}

// SettlementResult is what the UI shows after a direct payment attempt
type SettlementResult struct {
	InvoiceID     string     `json:"invoice_id"`
	Status        string     `json:"status"`
	PaymentID     string     `json:"payment_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	AlreadyPaid   bool       `json:"already_paid"`
	Message       string     `json:"message"`
}

// SettlementConfig tunes the direct path
type SettlementConfig struct {
	ProcessorTimeout time.Duration
	// LockWait bounds how long a second attempt on the same invoice waits for
	// the first to finish before it is refused.
	LockWait time.Duration
}

// SettlementService runs the synchronous payment path
type SettlementService struct {
	invoices   domain.InvoiceRepository
	methods    domain.PaymentMethodRepository
	payments   domain.PaymentRepository
	processor  domain.PaymentProcessor
	reconciler *Reconciler
	locker     domain.Locker
	metrics    *telemetry.PaymentMetrics
	cfg        SettlementConfig
	log        *zap.Logger
}

func NewSettlementService(
	invoices domain.InvoiceRepository,
	methods domain.PaymentMethodRepository,
	payments domain.PaymentRepository,
	processor domain.PaymentProcessor,
	reconciler *Reconciler,
	locker domain.Locker,
	metrics *telemetry.PaymentMetrics,
	cfg SettlementConfig,
	log *zap.Logger,
) *SettlementService {
	return &SettlementService{
		invoices:   invoices,
		methods:    methods,
		payments:   payments,
		processor:  processor,
		reconciler: reconciler,
		locker:     locker,
		metrics:    metrics,
		cfg:        cfg,
		log:        log.Named("payment.settlement"),
	}
}

// Settle attempts to collect the invoice total with a stored payment method.
//
// Preconditions fail before any payment row is written. Once the row exists
// it is never deleted: processor errors and cancellation leave it pending.
// Attempts on one invoice are serialized so the processor is charged at most
// once while another attempt is in flight.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*SettlementResult, error) {
	invoice, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", req.InvoiceID, err)
	}
	if invoice.UserID != req.RequestedBy {
		return nil, domain.ErrForbidden
	}

	if invoice.IsPaid() {
		return s.settledResult(ctx, invoice), nil
	}

	method, err := s.methods.GetByID(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("payment method %s: %w", req.PaymentMethodID, err)
	}
	if method.UserID != invoice.UserID || !method.IsActive {
		return nil, domain.ErrForbidden
	}

	if req.Amount != invoice.Amount {
		return nil, fmt.Errorf("%w: got %d, invoice total is %d", domain.ErrInvalidAmount, req.Amount, invoice.Amount)
	}
	if floor := s.processor.MinimumAmount(); invoice.Amount < floor {
		return nil, fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimum, invoice.Amount, floor)
	}

	unlock, err := s.lock(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Another attempt may have settled the invoice while this one waited
	invoice, err = s.invoices.GetByID(ctx, invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", req.InvoiceID, err)
	}
	if invoice.IsPaid() {
		return s.settledResult(ctx, invoice), nil
	}

	payment := &domain.Payment{
		InvoiceID:       invoice.ID,
		PaymentMethodID: &method.ID,
		Amount:          req.Amount,
		Channel:         s.processor.Channel(),
		Status:          domain.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	log := s.log.With(
		zap.String("invoice_id", invoice.ID),
		zap.String("payment_id", payment.ID),
		zap.String("channel", payment.Channel),
	)

	result, err := s.attempt(ctx, payment, invoice, method)
	if err != nil {
		log.Warn("processor unavailable, payment left pending", zap.Error(err))
		s.metrics.RecordSettlement(ctx, "unavailable")
		return nil, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
	}

	switch result.Status {
	case domain.ProcessorCompleted:
		final, _, err := s.reconciler.Complete(ctx, payment, Completion{
			TransactionID: result.TransactionID,
			Notes:         result.Notes,
			MethodLabel:   method.Label(),
		})
		if errors.Is(err, domain.ErrAlreadySettled) {
			log.Warn("invoice settled concurrently by another attempt")
			return s.reloadSettled(ctx, invoice.ID)
		}
		if err != nil {
			return nil, err
		}
		if final.Status != domain.PaymentStatusCompleted {
			log.Warn("completion not applied", zap.String("status", final.Status))
			return &SettlementResult{
				InvoiceID: invoice.ID,
				Status:    SettlementFailed,
				PaymentID: payment.ID,
				Message:   "Payment could not be completed",
			}, nil
		}
		log.Info("payment completed", zap.String("transaction_id", result.TransactionID))
		s.metrics.RecordSettlement(ctx, SettlementPaid)
		return s.reloadSettledWith(ctx, invoice.ID, final)

	case domain.ProcessorPending:
		if err := s.reconciler.Annotate(ctx, payment, result.TransactionID, result.GatewayReference, result.Notes); err != nil {
			return nil, err
		}
		log.Info("payment pending", zap.String("transaction_id", result.TransactionID))
		s.metrics.RecordSettlement(ctx, SettlementPending)
		return &SettlementResult{
			InvoiceID:     invoice.ID,
			Status:        SettlementPending,
			PaymentID:     payment.ID,
			TransactionID: result.TransactionID,
			Message:       "Payment is awaiting confirmation",
		}, nil

	default:
		reason := result.FailureReason
		if reason == "" {
			reason = "payment declined"
		}
		if _, _, err := s.reconciler.Fail(ctx, payment, reason, result.TransactionID); err != nil {
			return nil, err
		}
		log.Info("payment failed", zap.String("reason", reason))
		s.metrics.RecordSettlement(ctx, SettlementFailed)
		return &SettlementResult{
			InvoiceID:     invoice.ID,
			Status:        SettlementFailed,
			PaymentID:     payment.ID,
			TransactionID: result.TransactionID,
			Message:       "Payment failed: " + reason,
		}, nil
	}
}

// lock takes the per-invoice settlement lock. The hold outlives the processor
// timeout so a slow attempt cannot lose it mid-charge.
func (s *SettlementService) lock(ctx context.Context, invoiceID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := settleLockPrefix + invoiceID
	release, held, err := acquire(ctx, s.locker, key, s.cfg.ProcessorTimeout+s.cfg.LockWait, s.cfg.LockWait)
	if err != nil {
		s.log.Error("settlement lock unavailable", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("%w: settlement lock: %v", domain.ErrProcessorUnavailable, err)
	}
	if !held {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrSettlementInProgress)
	}
	return func() {
		if err := release(); err != nil {
			s.log.Warn("failed to release settlement lock", zap.String("invoice_id", invoiceID), zap.Error(err))
		}
	}, nil
}

func (s *SettlementService) attempt(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice, method *domain.PaymentMethod) (*domain.ProcessorResult, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "processor.Attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.channel", s.processor.Channel()),
		attribute.String("invoice.id", invoice.ID),
	)

	if s.cfg.ProcessorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
		defer cancel()
	}

	result, err := s.processor.Attempt(ctx, payment, invoice, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.result", string(result.Status)))
	return result, nil
}

func (s *SettlementService) reloadSettled(ctx context.Context, invoiceID string) (*SettlementResult, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, err)
	}
	return s.settledResult(ctx, invoice), nil
}

func (s *SettlementService) reloadSettledWith(ctx context.Context, invoiceID string, payment *domain.Payment) (*SettlementResult, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, err)
	}
	result := &SettlementResult{
		InvoiceID: invoice.ID,
		Status:    SettlementPaid,
		PaymentID: payment.ID,
		PaidAt:    invoice.PaidAt,
		Message:   "Payment completed",
	}
	if payment.TransactionID != nil {
		result.TransactionID = *payment.TransactionID
	}
	return result, nil
}

// settledResult reports the latest state of a paid invoice. It is the
// idempotent answer to a retried Settle and never contacts the processor.
func (s *SettlementService) settledResult(ctx context.Context, invoice *domain.Invoice) *SettlementResult {
	result := &SettlementResult{
		InvoiceID:   invoice.ID,
		Status:      SettlementPaid,
		PaidAt:      invoice.PaidAt,
		AlreadyPaid: true,
		Message:     "Invoice is already paid",
	}

	completed, err := s.payments.GetCompletedByInvoice(ctx, invoice.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("failed to load completed payment", zap.String("invoice_id", invoice.ID), zap.Error(err))
		}
		return result
	}
	result.PaymentID = completed.ID
	if completed.TransactionID != nil {
		result.TransactionID = *completed.TransactionID
	}
	return result
}
