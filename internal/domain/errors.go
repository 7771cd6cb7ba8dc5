package domain

import "errors"

// Common errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("access forbidden: you don't own this resource")
)

// Settlement errors. Precondition failures are returned before any payment row is written.
var (
	ErrInvalidAmount        = errors.New("amount does not match invoice total")
	ErrAlreadySettled       = errors.New("invoice is already paid")
	ErrSettlementInProgress = errors.New("another payment attempt for this invoice is in progress")
	ErrBelowMinimum         = errors.New("invoice amount is below the gateway minimum")
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrVerificationFailed   = errors.New("gateway callback verification failed")
)

// Persistence errors
var (
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrStaleWrite        = errors.New("record was modified concurrently")
)
