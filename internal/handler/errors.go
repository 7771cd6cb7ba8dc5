package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/voltcharge/internal/domain"
)

// statusFor maps domain error kinds to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrBelowMinimum):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrSettlementInProgress):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrProcessorUnavailable), errors.Is(err, domain.ErrGatewayUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrVerificationFailed):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}
