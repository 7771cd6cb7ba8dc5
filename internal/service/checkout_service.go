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

// Reconcile outcomes
const (
	OutcomeCompleted          = "completed"
	OutcomeAlreadyCompleted   = "already_completed"
	OutcomeSuperseded         = "superseded"
	OutcomeFailed             = "failed"
	OutcomePending            = "pending"
	OutcomeUnknownTransaction = "unknown_transaction"
	OutcomeVerificationFailed = "verification_failed"
)

// CheckoutRequest starts a redirect payment
type CheckoutRequest struct {
	InvoiceID   string
	RequestedBy string
	Description string
	BankHint    string
}

// CheckoutResult is where the buyer is sent to pay
type CheckoutResult struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
	PaymentID string `json:"payment_id"`
}

// VerificationResult is the non-throwing answer to a gateway callback
type VerificationResult struct {
	Success   bool   `json:"success"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
	InvoiceID string `json:"invoice_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

// CheckoutConfig tunes the redirect path
type CheckoutConfig struct {
	MinimumAmount      int64
	GatewayTimeout     time.Duration
	LockTTL            time.Duration
	DefaultDescription string
}

// CheckoutService runs the redirect payment path: it opens hosted checkouts
// and reconciles the gateway's return and webhook callbacks.
type CheckoutService struct {
	invoices   domain.InvoiceRepository
	payments   domain.PaymentRepository
	gateway    domain.GatewayClient
	locker     domain.Locker
	reconciler *Reconciler
	metrics    *telemetry.PaymentMetrics
	cfg        CheckoutConfig
	log        *zap.Logger
}

func NewCheckoutService(
	invoices domain.InvoiceRepository,
	payments domain.PaymentRepository,
	gateway domain.GatewayClient,
	locker domain.Locker,
	reconciler *Reconciler,
	metrics *telemetry.PaymentMetrics,
	cfg CheckoutConfig,
	log *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		invoices:   invoices,
		payments:   payments,
		gateway:    gateway,
		locker:     locker,
		reconciler: reconciler,
		metrics:    metrics,
		cfg:        cfg,
		log:        log.Named("payment.checkout"),
	}
}

// CreateCheckout records a pending gateway payment and returns the hosted
// checkout URL. The gateway reference is stored on the payment so callbacks
// can find it again.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	invoice, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", req.InvoiceID, err)
	}
	if invoice.UserID != req.RequestedBy {
		return nil, domain.ErrForbidden
	}
	if invoice.IsPaid() {
		return nil, domain.ErrAlreadySettled
	}
	if invoice.Amount < s.cfg.MinimumAmount {
		return nil, fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimum, invoice.Amount, s.cfg.MinimumAmount)
	}

	payment := &domain.Payment{
		InvoiceID: invoice.ID,
		Amount:    invoice.Amount,
		Channel:   domain.PaymentChannelGateway,
		Status:    domain.PaymentStatusPending,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record checkout payment: %w", err)
	}

	log := s.log.With(zap.String("invoice_id", invoice.ID), zap.String("payment_id", payment.ID))

	session, err := s.openCheckout(ctx, domain.CheckoutRequest{
		PaymentID:   payment.ID,
		Amount:      invoice.Amount,
		Description: SanitizeDescription(req.Description, s.cfg.DefaultDescription),
		BankHint:    req.BankHint,
	})
	if err != nil {
		log.Warn("gateway unavailable, payment left pending", zap.Error(err))
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	if err := s.payments.SetGatewayReference(ctx, payment.ID, session.Reference); err != nil {
		return nil, fmt.Errorf("failed to store gateway reference: %w", err)
	}

	log.Info("checkout created", zap.String("reference", session.Reference))
	return &CheckoutResult{
		URL:       session.URL,
		Reference: session.Reference,
		PaymentID: payment.ID,
	}, nil
}

func (s *CheckoutService) openCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	ctx, span := otel.Tracer("payment").Start(ctx, "gateway.CreateCheckoutURL")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", req.PaymentID))

	if s.cfg.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
	}

	session, err := s.gateway.CreateCheckoutURL(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return session, nil
}

// Reconcile applies a gateway callback. Return redirects and webhooks run the
// same rules; channel is only recorded. It never returns an error because the
// caller is usually an unattended webhook endpoint.
func (s *CheckoutService) Reconcile(ctx context.Context, params map[string]string, channel domain.Channel) (result *VerificationResult) {
	reference := ""
	log := s.log.Named("reconcile").With(zap.String("channel", string(channel)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("reconcile panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = verificationFailed(reference, "Payment verification failed")
		}
		s.metrics.RecordReconcile(ctx, string(channel), result.Outcome)
	}()

	code := ""
	if len(params) > 0 {
		reference, code = s.gateway.ExtractReference(params)
	}
	log = log.With(zap.String("reference", reference), zap.String("response_code", code))

	if reference == "" {
		log.Warn("callback without gateway reference")
		return verificationFailed("", "Invalid payment callback")
	}

	outcome, err := s.gateway.InterpretCallback(params)
	if err != nil {
		// A forged or tampered callback carries no trustworthy reference, so
		// no payment is touched.
		if errors.Is(err, domain.ErrVerificationFailed) {
			log.Warn("callback rejected", zap.Error(err))
			return verificationFailed(reference, "Payment verification failed")
		}
		log.Warn("callback could not be interpreted", zap.Error(err))
		return s.reconcileFailure(ctx, log, reference, "", err.Error())
	}
	if outcome.Reference != "" {
		reference = outcome.Reference
	}

	switch outcome.Status {
	case domain.CallbackSuccess:
		return s.reconcileSuccess(ctx, log, reference, channel, outcome)
	case domain.CallbackPending:
		log.Info("gateway reports payment pending")
		return &VerificationResult{
			Success:   false,
			Outcome:   OutcomePending,
			Message:   "Payment is still being processed",
			Reference: reference,
		}
	default:
		reason := outcome.Reason
		if reason == "" {
			reason = "gateway reported failure (code " + outcome.ResponseCode + ")"
		}
		return s.reconcileFailure(ctx, log, reference, outcome.TransactionID, reason)
	}
}

func (s *CheckoutService) reconcileSuccess(ctx context.Context, log *zap.Logger, reference string, channel domain.Channel, outcome *domain.CallbackOutcome) *VerificationResult {
	unlock := s.lock(ctx, log, reference)
	defer unlock()

	payment, err := s.payments.GetByGatewayReference(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("success callback for unknown transaction")
		return unknownTransaction(reference)
	}
	if err != nil {
		log.Error("failed to load payment", zap.Error(err))
		return verificationFailed(reference, "Payment verification failed")
	}
	log = log.With(zap.String("payment_id", payment.ID), zap.String("invoice_id", payment.InvoiceID))

	if payment.Status == domain.PaymentStatusCompleted {
		log.Info("payment already completed")
		return completedResult(payment, OutcomeAlreadyCompleted, "Payment already confirmed")
	}

	label := "ipaymu"
	if outcome.Channel != "" {
		label = "ipaymu:" + outcome.Channel
	}
	final, applied, err := s.reconciler.Complete(ctx, payment, Completion{
		TransactionID: outcome.TransactionID,
		Notes:         fmt.Sprintf("confirmed via %s; via=%s bank=%s", channel, outcome.Channel, outcome.Bank),
		MethodLabel:   label,
		PaidAt:        outcome.PaidAt,
	})
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		return &VerificationResult{
			Outcome:   OutcomeSuperseded,
			Message:   "Invoice was already settled by another payment",
			Reference: reference,
			InvoiceID: payment.InvoiceID,
			PaymentID: payment.ID,
		}
	case err != nil:
		log.Error("failed to complete payment", zap.Error(err))
		return verificationFailed(reference, "Payment verification failed")
	}

	switch {
	case applied:
		log.Info("payment completed")
		return completedResult(final, OutcomeCompleted, "Payment confirmed")
	case final.Status == domain.PaymentStatusCompleted:
		return completedResult(final, OutcomeAlreadyCompleted, "Payment already confirmed")
	default:
		return &VerificationResult{
			Outcome:   OutcomeFailed,
			Message:   "Payment was already marked failed",
			Reference: reference,
			InvoiceID: final.InvoiceID,
			PaymentID: final.ID,
		}
	}
}

func (s *CheckoutService) reconcileFailure(ctx context.Context, log *zap.Logger, reference, transactionID, reason string) *VerificationResult {
	unlock := s.lock(ctx, log, reference)
	defer unlock()

	payment, err := s.payments.GetByGatewayReference(ctx, reference)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("failure callback for unknown transaction")
		return unknownTransaction(reference)
	}
	if err != nil {
		log.Error("failed to load payment", zap.Error(err))
		return verificationFailed(reference, "Payment verification failed")
	}
	log = log.With(zap.String("payment_id", payment.ID), zap.String("invoice_id", payment.InvoiceID))

	final, applied, err := s.reconciler.Fail(ctx, payment, reason, transactionID)
	if err != nil {
		log.Error("failed to record payment failure", zap.Error(err))
		return verificationFailed(reference, "Payment verification failed")
	}

	if final.Status == domain.PaymentStatusCompleted {
		log.Warn("failure callback ignored for completed payment")
		return completedResult(final, OutcomeAlreadyCompleted, "Payment already confirmed")
	}
	if applied {
		log.Info("payment failed", zap.String("reason", reason))
	}
	return &VerificationResult{
		Outcome:   OutcomeFailed,
		Message:   "Payment failed: " + reason,
		Reference: reference,
		InvoiceID: final.InvoiceID,
		PaymentID: final.ID,
	}
}

// lock serializes callbacks for one reference. Contention is retried until
// the lock TTL or the context runs out; after that the compare-and-set writes
// alone keep the outcome single.
func (s *CheckoutService) lock(ctx context.Context, log *zap.Logger, reference string) func() {
	if s.locker == nil {
		return func() {}
	}

	release, held, err := acquire(ctx, s.locker, reconcileLockPrefix+reference, s.cfg.LockTTL, s.cfg.LockTTL)
	switch {
	case err != nil:
		log.Warn("reconcile lock unavailable, relying on conditional writes", zap.Error(err))
	case !held:
		log.Warn("reconcile lock wait expired, relying on conditional writes")
	}
	return func() {
		if err := release(); err != nil {
			log.Warn("failed to release reconcile lock", zap.Error(err))
		}
	}
}

func completedResult(p *domain.Payment, outcome, message string) *VerificationResult {
	return &VerificationResult{
		Success:   true,
		Outcome:   outcome,
		Message:   message,
		Reference: deref(p.GatewayReference),
		InvoiceID: p.InvoiceID,
		PaymentID: p.ID,
	}
}

func verificationFailed(reference, message string) *VerificationResult {
	return &VerificationResult{
		Outcome:   OutcomeVerificationFailed,
		Message:   message,
		Reference: reference,
	}
}

func unknownTransaction(reference string) *VerificationResult {
	return &VerificationResult{
		Outcome:   OutcomeUnknownTransaction,
		Message:   "Transaction not found",
		Reference: reference,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
