package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/service"
	"go.uber.org/zap"
)

// CallbackReconciler applies gateway callbacks
type CallbackReconciler interface {
	Reconcile(ctx context.Context, params map[string]string, channel domain.Channel) *service.VerificationResult
}

// GatewayHandler serves the public iPaymu callback endpoints. No authentication:
// trust comes from the callback signature.
type GatewayHandler struct {
	reconciler CallbackReconciler
	log        *zap.Logger
}

func NewGatewayHandler(reconciler CallbackReconciler, log *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		reconciler: reconciler,
		log:        log.Named("handler.gateway"),
	}
}

// Return handles GET /v1/payments/ipaymu/return, where the buyer lands after paying
func (h *GatewayHandler) Return(c *fiber.Ctx) error {
	result := h.reconciler.Reconcile(c.UserContext(), c.Queries(), domain.ChannelReturn)
	return c.JSON(fiber.Map{
		"success":    result.Success,
		"message":    result.Message,
		"invoice_id": result.InvoiceID,
	})
}

// Notify handles POST /v1/payments/ipaymu/notify.
// Always 200: any other status makes the gateway retry.
func (h *GatewayHandler) Notify(c *fiber.Ctx) error {
	params, err := callbackParams(c)
	if err != nil {
		h.log.Warn("unreadable webhook body", zap.Error(err))
		params = map[string]string{}
	}

	result := h.reconciler.Reconcile(c.UserContext(), params, domain.ChannelWebhook)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": result.Success,
		"message": result.Message,
	})
}

// callbackParams flattens a form or JSON webhook body into string parameters
func callbackParams(c *fiber.Ctx) (map[string]string, error) {
	params := map[string]string{}

	if bytes.HasPrefix(bytes.TrimSpace(c.Request().Header.ContentType()), []byte(fiber.MIMEApplicationJSON)) {
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.UseNumber()
		var raw map[string]interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			if v == nil {
				continue
			}
			params[k] = fmt.Sprint(v)
		}
		return params, nil
	}

	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})
	return params, nil
}
