package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPaymentRepository implements domain.PaymentRepository
type MongoPaymentRepository struct {
	collection *mongo.Collection
}

func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	return &MongoPaymentRepository{
		collection: db.Collection("payments"),
	}
}

// EnsureIndexes creates the indexes settlement correctness depends on.
// At most one completed payment may exist per invoice, and a gateway
// reference identifies at most one payment.
func (r *MongoPaymentRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "invoice_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_completed_per_invoice").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": domain.PaymentStatusCompleted}),
		},
		{
			Keys: bson.D{{Key: "gateway_reference", Value: 1}},
			Options: options.Index().
				SetName("uniq_gateway_reference").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"gateway_reference": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "invoice_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create payment indexes: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = ulid.Make().String()
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, payment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", domain.ErrStaleWrite, err)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoPaymentRepository) GetByGatewayReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{"gateway_reference": reference})
}

func (r *MongoPaymentRepository) GetCompletedByInvoice(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	return r.findOne(ctx, bson.M{
		"invoice_id": invoiceID,
		"status":     domain.PaymentStatusCompleted,
	})
}

// ListByInvoice returns every attempt for an invoice, oldest first
func (r *MongoPaymentRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*domain.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"invoice_id": invoiceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer cursor.Close(ctx)

	payments := []*domain.Payment{}
	if err := cursor.All(ctx, &payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	return payments, nil
}

// SetGatewayReference attaches the gateway correlation key to a pending payment
func (r *MongoPaymentRepository) SetGatewayReference(ctx context.Context, id, reference string) error {
	filter := bson.M{"_id": id, "status": domain.PaymentStatusPending}
	update := bson.M{"$set": bson.M{
		"gateway_reference": reference,
		"updated_at":        time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: gateway reference %s already bound", domain.ErrStaleWrite, reference)
		}
		return fmt.Errorf("failed to set gateway reference: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

// Transition is a compare-and-set on status: only pending payments match.
func (r *MongoPaymentRepository) Transition(ctx context.Context, id string, u domain.PaymentUpdate) error {
	set := bson.M{
		"status":     u.Status,
		"updated_at": time.Now().UTC(),
	}
	if u.TransactionID != nil {
		set["transaction_id"] = *u.TransactionID
	}
	if u.GatewayReference != nil {
		set["gateway_reference"] = *u.GatewayReference
	}
	if u.Notes != "" {
		set["notes"] = u.Notes
	}
	if u.ProcessedAt != nil {
		set["processed_at"] = u.ProcessedAt.UTC()
	}

	filter := bson.M{"_id": id, "status": domain.PaymentStatusPending}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		// A second completed payment for the same invoice trips the partial unique index
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", domain.ErrStaleWrite, err)
		}
		return fmt.Errorf("failed to transition payment: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *MongoPaymentRepository) findOne(ctx context.Context, filter bson.M) (*domain.Payment, error) {
	var payment domain.Payment
	if err := r.collection.FindOne(ctx, filter).Decode(&payment); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *MongoPaymentRepository) missOrStale(ctx context.Context, id string) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check payment: %w", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrStaleWrite
}
