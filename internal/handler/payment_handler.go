package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/middleware"
	"github.com/mansoorceksport/voltcharge/internal/service"
	"github.com/mansoorceksport/voltcharge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Settler runs a direct payment attempt
type Settler interface {
	Settle(ctx context.Context, req service.SettleRequest) (*service.SettlementResult, error)
}

// CheckoutCreator opens a hosted gateway checkout
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
}

// PaymentHandler serves the member-facing invoice payment endpoints
type PaymentHandler struct {
	settlement Settler
	checkout   CheckoutCreator
	invoices   domain.InvoiceRepository
	payments   domain.PaymentRepository
	log        *zap.Logger
}

func NewPaymentHandler(
	settlement Settler,
	checkout CheckoutCreator,
	invoices domain.InvoiceRepository,
	payments domain.PaymentRepository,
	log *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		settlement: settlement,
		checkout:   checkout,
		invoices:   invoices,
		payments:   payments,
		log:        log.Named("handler.payment"),
	}
}

// SettleRequest is the body of POST /v1/me/invoices/:id/settle
type SettleRequest struct {
	PaymentMethodID string `json:"payment_method_id"`
	Amount          int64  `json:"amount"`
}

// CheckoutRequest is the body of POST /v1/me/invoices/:id/checkout
type CheckoutRequest struct {
	Description string `json:"description"`
	Bank        string `json:"bank"`
}

// Settle handles POST /v1/me/invoices/:id/settle
func (h *PaymentHandler) Settle(c *fiber.Ctx) error {
	var req SettleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}
	req.PaymentMethodID = strings.TrimSpace(req.PaymentMethodID)
	if req.PaymentMethodID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "payment_method_id is required",
		})
	}

	invoiceID := c.Params("id")
	telemetry.SpanFromContext(c).SetAttributes(invoiceAttr(invoiceID))

	result, err := h.settlement.Settle(c.UserContext(), service.SettleRequest{
		InvoiceID:       invoiceID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		RequestedBy:     middleware.UserID(c),
	})
	if err != nil {
		h.logFailure("settle failed", invoiceID, err)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": result.Status != service.SettlementFailed,
		"data":    result,
	})
}

// Checkout handles POST /v1/me/invoices/:id/checkout
func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}
	}

	invoiceID := c.Params("id")
	telemetry.SpanFromContext(c).SetAttributes(invoiceAttr(invoiceID))

	result, err := h.checkout.CreateCheckout(c.UserContext(), service.CheckoutRequest{
		InvoiceID:   invoiceID,
		RequestedBy: middleware.UserID(c),
		Description: req.Description,
		BankHint:    req.Bank,
	})
	if err != nil {
		h.logFailure("checkout failed", invoiceID, err)
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// GetInvoice handles GET /v1/me/invoices/:id
func (h *PaymentHandler) GetInvoice(c *fiber.Ctx) error {
	invoice, err := h.ownedInvoice(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    invoice,
	})
}

// ListPayments handles GET /v1/me/invoices/:id/payments
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	invoice, err := h.ownedInvoice(c)
	if err != nil {
		return writeError(c, err)
	}

	payments, err := h.payments.ListByInvoice(c.UserContext(), invoice.ID)
	if err != nil {
		h.logFailure("list payments failed", invoice.ID, err)
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    payments,
	})
}

func (h *PaymentHandler) ownedInvoice(c *fiber.Ctx) (*domain.Invoice, error) {
	invoice, err := h.invoices.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if invoice.UserID != middleware.UserID(c) {
		return nil, domain.ErrForbidden
	}
	return invoice, nil
}

func (h *PaymentHandler) logFailure(msg, invoiceID string, err error) {
	if statusFor(err) >= fiber.StatusInternalServerError {
		h.log.Error(msg, zap.String("invoice_id", invoiceID), zap.Error(err))
		return
	}
	h.log.Info(msg, zap.String("invoice_id", invoiceID), zap.Error(err))
}

func invoiceAttr(id string) attribute.KeyValue {
	return attribute.String("invoice.id", id)
}
