package domain

import (
	"context"
	"fmt"
	"time"
)

// Payment status constants
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Payment channel constants
const (
	PaymentChannelSimulated = "simulated"
	PaymentChannelGateway   = "gateway"
)

// Payment is a single collection attempt against an invoice. Rows are never
// deleted; they form the audit trail of every attempt.
type Payment struct {
	ID               string     `bson:"_id" json:"id"`
	InvoiceID        string     `bson:"invoice_id" json:"invoice_id"`
	PaymentMethodID  *string    `bson:"payment_method_id,omitempty" json:"payment_method_id,omitempty"`
	Amount           int64      `bson:"amount" json:"amount"`
	Channel          string     `bson:"channel" json:"channel"`
	Status           string     `bson:"status" json:"status"`
	TransactionID    *string    `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	GatewayReference *string    `bson:"gateway_reference,omitempty" json:"gateway_reference,omitempty"`
	Notes            string     `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	ProcessedAt      *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the payment can no longer change.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusFailed
}

// CanTransitionTo validates a status change.
//
// Valid transitions are:
//   - pending -> pending (annotation only: transaction id, notes)
//   - pending -> completed
//   - pending -> failed
//
// Completed and failed are terminal.
func (p *Payment) CanTransitionTo(target string) error {
	if p.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	}
	switch target {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
}

// PaymentUpdate describes the fields written when a pending payment moves on.
type PaymentUpdate struct {
	Status           string
	TransactionID    *string
	GatewayReference *string
	Notes            string
	ProcessedAt      *time.Time
}

// PaymentRepository defines operations for managing payments
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByGatewayReference(ctx context.Context, reference string) (*Payment, error)
	GetCompletedByInvoice(ctx context.Context, invoiceID string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Payment, error)
	SetGatewayReference(ctx context.Context, id, reference string) error
	// Transition applies update to a payment that is still pending. It returns
	// ErrStaleWrite when the payment already reached a terminal status.
	Transition(ctx context.Context, id string, update PaymentUpdate) error
}

// Transactor runs fn so that every repository write made with the context it
// receives commits or rolls back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes work on a key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
