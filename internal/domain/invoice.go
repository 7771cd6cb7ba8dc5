package domain

import (
	"context"
	"time"
)

// Invoice status constants
const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
)

// Invoice is a charging-session bill. It is created by the billing subsystem
// and only ever moves pending -> paid here.
type Invoice struct {
	ID            string     `bson:"_id,omitempty" json:"id"`
	UserID        string     `bson:"user_id" json:"user_id"`
	Amount        int64      `bson:"amount" json:"amount"` // Amount in smallest currency unit
	Status        string     `bson:"status" json:"status"`
	PaymentMethod string     `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	PaidAt        *time.Time `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsPaid reports whether the invoice has been settled.
func (i *Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

// InvoiceRepository defines operations for managing invoices
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	// MarkPaid flips a pending invoice to paid. It returns ErrStaleWrite when
	// the invoice is no longer pending.
	MarkPaid(ctx context.Context, id, paymentMethod string, paidAt time.Time) error
}
