package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoPaymentMethodRepository struct {
	collection *mongo.Collection
}

func NewMongoPaymentMethodRepository(db *mongo.Database) *MongoPaymentMethodRepository {
	return &MongoPaymentMethodRepository{
		collection: db.Collection("payment_methods"),
	}
}

func (r *MongoPaymentMethodRepository) Create(ctx context.Context, method *domain.PaymentMethod) error {
	if method.ID == "" {
		method.ID = primitive.NewObjectID().Hex()
	}
	method.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, method); err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

func (r *MongoPaymentMethodRepository) GetByID(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&method); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return &method, nil
}
