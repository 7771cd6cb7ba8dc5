package domain

import "context"

// ProcessorStatus is the tri-state outcome of a collection attempt.
type ProcessorStatus string

const (
	ProcessorCompleted ProcessorStatus = "completed"
	ProcessorPending   ProcessorStatus = "pending"
	ProcessorFailed    ProcessorStatus = "failed"
)

// ProcessorResult is what a PaymentProcessor reports for one attempt.
type ProcessorResult struct {
	Status        ProcessorStatus
	TransactionID string
	FailureReason string
	Notes         string
	// GatewayReference is set by processors whose pending attempts are later
	// settled through gateway callbacks.
	GatewayReference string
}

// PaymentProcessor collects payment.Amount for invoice against method.
// An error means the processor could not be reached; business declines are
// reported as ProcessorFailed results.
type PaymentProcessor interface {
	Channel() string
	// MinimumAmount is the smallest invoice total accepted, 0 for no floor.
	MinimumAmount() int64
	Attempt(ctx context.Context, payment *Payment, invoice *Invoice, method *PaymentMethod) (*ProcessorResult, error)
}
