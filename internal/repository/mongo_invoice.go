package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoInvoiceRepository implements domain.InvoiceRepository
type MongoInvoiceRepository struct {
	collection *mongo.Collection
}

// NewMongoInvoiceRepository creates a new invoice repository
// Note: invoices are owned by the billing subsystem, so no indexes are created here
func NewMongoInvoiceRepository(db *mongo.Database) *MongoInvoiceRepository {
	coll := db.Collection("invoices")
	return &MongoInvoiceRepository{
		collection: coll,
	}
}

// Create inserts a pending invoice. Billing assigns string ids; a missing id gets an ObjectID hex.
func (r *MongoInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	if invoice.ID == "" {
		invoice.ID = primitive.NewObjectID().Hex()
	}
	if invoice.Status == "" {
		invoice.Status = domain.InvoiceStatusPending
	}

	doc := bson.M{
		"_id":            invoice.ID,
		"user_id":        invoice.UserID,
		"amount":         invoice.Amount,
		"status":         invoice.Status,
		"payment_method": invoice.PaymentMethod,
		"created_at":     invoice.CreatedAt,
		"updated_at":     invoice.UpdatedAt,
	}
	if invoice.PaidAt != nil {
		doc["paid_at"] = *invoice.PaidAt
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *MongoInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	invoice, err := mapBsonToInvoice(raw)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", id, err)
	}
	return invoice, nil
}

// MarkPaid settles a pending invoice. paid_at and status are written together
// so paid_at is present only on paid invoices.
func (r *MongoInvoiceRepository) MarkPaid(ctx context.Context, id, paymentMethod string, paidAt time.Time) error {
	filter := bson.M{
		"_id":    id,
		"status": domain.InvoiceStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.InvoiceStatusPaid,
			"payment_method": paymentMethod,
			"paid_at":        paidAt.UTC(),
			"updated_at":     time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

// missOrStale tells a missing invoice apart from one that already left pending
func (r *MongoInvoiceRepository) missOrStale(ctx context.Context, id string) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check invoice: %w", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrStaleWrite
}

func mapBsonToInvoice(raw bson.M) (*domain.Invoice, error) {
	invoice := &domain.Invoice{}

	switch id := raw["_id"].(type) {
	case string:
		invoice.ID = id
	case primitive.ObjectID:
		invoice.ID = id.Hex()
	}
	if userID, ok := raw["user_id"].(string); ok {
		invoice.UserID = userID
	}
	amount, err := decodeAmount(raw["amount"])
	if err != nil {
		return nil, err
	}
	invoice.Amount = amount
	if status, ok := raw["status"].(string); ok {
		invoice.Status = status
	}
	if paymentMethod, ok := raw["payment_method"].(string); ok {
		invoice.PaymentMethod = paymentMethod
	}
	if paidAt, ok := raw["paid_at"].(primitive.DateTime); ok {
		t := paidAt.Time().UTC()
		invoice.PaidAt = &t
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		invoice.CreatedAt = created.Time().UTC()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		invoice.UpdatedAt = updated.Time().UTC()
	}

	return invoice, nil
}

// decodeAmount accepts the integer encodings billing writes. Doubles are
// accepted only when they hold a whole number of minor units.
func decodeAmount(v interface{}) (int64, error) {
	switch amount := v.(type) {
	case int64:
		return amount, nil
	case int32:
		return int64(amount), nil
	case float64:
		if amount != math.Trunc(amount) || math.Abs(amount) > maxExactDouble {
			return 0, fmt.Errorf("amount %v is not a whole number of minor units", amount)
		}
		return int64(amount), nil
	case nil:
		return 0, fmt.Errorf("amount is missing")
	default:
		return 0, fmt.Errorf("amount has unsupported type %T", v)
	}
}

// maxExactDouble is the largest integer a float64 holds exactly
const maxExactDouble = 1 << 53
