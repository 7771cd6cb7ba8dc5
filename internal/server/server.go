package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/voltcharge/internal/config"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/handler"
	"github.com/mansoorceksport/voltcharge/internal/middleware"
	"github.com/mansoorceksport/voltcharge/internal/repository"
	"github.com/mansoorceksport/voltcharge/internal/service"
	"github.com/mansoorceksport/voltcharge/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoClient *mongo.Client
	MongoDB     *mongo.Database
	RedisClient *redis.Client
	Logger      *zap.Logger

	// Optional overrides, mainly for tests
	Gateway   domain.GatewayClient
	Processor domain.PaymentProcessor
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	// Initialize repositories
	invoiceRepo := repository.NewMongoInvoiceRepository(deps.MongoDB)
	paymentRepo := repository.NewMongoPaymentRepository(deps.MongoDB)
	cache := repository.NewRedisCache(deps.RedisClient)
	methodRepo := repository.NewCachedPaymentMethodRepository(repository.NewMongoPaymentMethodRepository(deps.MongoDB), cache)
	transactor := repository.NewMongoTransactor(deps.MongoClient)
	locker := repository.NewRedisLocker(deps.RedisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := paymentRepo.EnsureIndexes(ctx); err != nil {
		log.Error("payment indexes not ensured", zap.Error(err))
	}

	metrics, err := telemetry.NewPaymentMetrics()
	if err != nil {
		log.Warn("payment metrics disabled", zap.Error(err))
	}

	gateway := deps.Gateway
	if gateway == nil {
		gateway = service.NewGatewayClient(cfg.IPaymu, cfg.Payment.GatewayTimeout, log)
	}
	processor := deps.Processor
	if processor == nil {
		processor = service.NewPaymentProcessor(cfg.Payment, gateway)
	}

	// Initialize services
	reconciler := service.NewReconciler(invoiceRepo, paymentRepo, transactor, log.Named("payment.reconcile"))
	settlementService := service.NewSettlementService(
		invoiceRepo, methodRepo, paymentRepo, processor, reconciler, locker, metrics,
		service.SettlementConfig{
			ProcessorTimeout: cfg.Payment.ProcessorTimeout,
			LockWait:         cfg.Payment.ReconcileLockTTL,
		},
		log,
	)
	checkoutService := service.NewCheckoutService(
		invoiceRepo, paymentRepo, gateway, locker, reconciler, metrics,
		service.CheckoutConfig{
			MinimumAmount:      cfg.Payment.MinimumAmount,
			GatewayTimeout:     cfg.Payment.GatewayTimeout,
			LockTTL:            cfg.Payment.ReconcileLockTTL,
			DefaultDescription: cfg.Payment.DefaultDescription,
		},
		log,
	)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(settlementService, checkoutService, invoiceRepo, paymentRepo, log)
	gatewayHandler := handler.NewGatewayHandler(checkoutService, log)

	app := fiber.New(fiber.Config{
		AppName:      "VoltCharge Settlement API",
		ErrorHandler: customErrorHandler(log),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	if cfg.OTEL.Enabled {
		app.Use(telemetry.FiberMiddleware())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "voltcharge-settlement",
		})
	})

	v1 := app.Group("/v1")

	// ===========================================
	// MEMBER API - /v1/me/*
	// ===========================================
	me := v1.Group("/me",
		middleware.VerifyToken(cfg.JWT.Secret),
		middleware.IdempotencyMiddleware(deps.RedisClient, cfg.Payment.IdempotencyTTL, log),
	)
	me.Get("/invoices/:id", paymentHandler.GetInvoice)
	me.Get("/invoices/:id/payments", paymentHandler.ListPayments)
	me.Post("/invoices/:id/settle", paymentHandler.Settle)
	me.Post("/invoices/:id/checkout", paymentHandler.Checkout)

	// ===========================================
	// GATEWAY CALLBACKS - public, signature checked
	// ===========================================
	ipaymu := v1.Group("/payments/ipaymu")
	ipaymu.Get("/return", gatewayHandler.Return)
	ipaymu.Post("/notify", gatewayHandler.Notify)

	return app
}

func customErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		msg := err.Error()
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
			msg = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   msg,
		})
	}
}
