package domain

import (
	"context"
	"time"
)

// PaymentMethod is a stored instrument owned by a user. Read-only for settlement.
type PaymentMethod struct {
	ID               string    `bson:"_id,omitempty" json:"id"`
	UserID           string    `bson:"user_id" json:"user_id"`
	Type             string    `bson:"type" json:"type"` // card, ewallet, va
	Provider         string    `bson:"provider" json:"provider"`
	MaskedIdentifier string    `bson:"masked_identifier" json:"masked_identifier"`
	IsActive         bool      `bson:"is_active" json:"is_active"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

// Label is the human readable name recorded on a settled invoice.
func (m *PaymentMethod) Label() string {
	if m.MaskedIdentifier == "" {
		return m.Provider
	}
	return m.Provider + " " + m.MaskedIdentifier
}

// PaymentMethodRepository defines read access to payment methods
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *PaymentMethod) error
	GetByID(ctx context.Context, id string) (*PaymentMethod, error)
}
