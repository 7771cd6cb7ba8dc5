package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/config"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/repository"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds demo invoices and payment methods for local development.
// Re-running is safe: rows that already exist are skipped.
func main() {
	userID := flag.String("user", "demo-driver", "user id that owns the seeded rows")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)
	if err := repository.NewMongoPaymentRepository(db).EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to ensure payment indexes: %v", err)
	}

	methods := repository.NewMongoPaymentMethodRepository(db)
	invoices := repository.NewMongoInvoiceRepository(db)

	seedMethods := []domain.PaymentMethod{
		{ID: "pm-demo-card", Type: "card", Provider: "visa", MaskedIdentifier: "**** 4242", IsActive: true},
		{ID: "pm-demo-ewallet", Type: "ewallet", Provider: "gopay", MaskedIdentifier: "0812****789", IsActive: true},
		{ID: "pm-demo-va", Type: "va", Provider: "bca", IsActive: true},
		{ID: "pm-demo-expired", Type: "card", Provider: "mastercard", MaskedIdentifier: "**** 0005", IsActive: false},
	}
	for _, m := range seedMethods {
		m.UserID = *userID
		report("payment method "+m.ID, methods.Create(ctx, &m))
	}

	seedInvoices := []domain.Invoice{
		{ID: "inv-demo-0001", Amount: 42000},
		{ID: "inv-demo-0002", Amount: 75000},
		{ID: "inv-demo-0003", Amount: 18500},
		{ID: "inv-demo-small", Amount: 2500}, // below the gateway minimum
	}
	for _, inv := range seedInvoices {
		inv.UserID = *userID
		report("invoice "+inv.ID, invoices.Create(ctx, &inv))
	}

	fmt.Println("Seeding Complete.")
}

func report(what string, err error) {
	switch {
	case err == nil:
		fmt.Printf("Created: %s\n", what)
	case mongo.IsDuplicateKeyError(err):
		fmt.Printf("Skipping duplicate: %s\n", what)
	default:
		log.Printf("Error creating %s: %v\n", what, err)
	}
}
