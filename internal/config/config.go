package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Processor modes
const (
	ProcessorModeSimulator = "simulator"
	ProcessorModeGateway   = "gateway"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	MongoDB MongoDBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Log     LogConfig
	OTEL    OTELConfig
	Payment PaymentConfig
	IPaymu  IPaymuConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
}

// JWTConfig holds the HMAC secret used to verify member tokens
type JWTConfig struct {
	Secret string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string
}

// OTELConfig holds OpenTelemetry exporter configuration
type OTELConfig struct {
	Enabled        bool
	Endpoint       string
	InstanceID     string
	Token          string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// PaymentConfig holds settlement engine configuration
type PaymentConfig struct {
	// ProcessorMode selects the direct-settlement processor: simulator or gateway
	ProcessorMode      string
	// SimulatorSeed makes simulated outcomes reproducible; 0 seeds from the clock
	SimulatorSeed      int64
	SimulatorCompleted int // percent of attempts that complete
	SimulatorPending   int // percent of attempts left pending
	SimulatorLatency   time.Duration
	ProcessorTimeout   time.Duration
	GatewayTimeout     time.Duration
	MinimumAmount      int64 // gateway floor in smallest currency unit
	ReconcileLockTTL   time.Duration
	IdempotencyTTL     time.Duration
	DefaultDescription string
}

// IPaymuConfig holds iPaymu redirect gateway credentials
type IPaymuConfig struct {
	VA        string
	APIKey    string
	BaseURL   string
	NotifyURL string
	ReturnURL string
	CancelURL string
}

// Enabled reports whether real gateway credentials are configured
func (c IPaymuConfig) Enabled() bool {
	return c.APIKey != "" && c.VA != ""
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: getEnv("MONGODB_DATABASE", "voltcharge"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		OTEL: OTELConfig{
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "voltcharge-settlement"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnv("OTEL_ENVIRONMENT", "development"),
		},
		Payment: PaymentConfig{
			ProcessorMode:      strings.ToLower(getEnv("PAYMENT_PROCESSOR_MODE", ProcessorModeSimulator)),
			SimulatorSeed:      getEnvAsInt64("PAYMENT_SIMULATOR_SEED", 0),
			SimulatorCompleted: int(getEnvAsInt64("PAYMENT_SIMULATOR_COMPLETED_PCT", 75)),
			SimulatorPending:   int(getEnvAsInt64("PAYMENT_SIMULATOR_PENDING_PCT", 15)),
			SimulatorLatency:   getEnvAsDuration("PAYMENT_SIMULATOR_LATENCY", 200*time.Millisecond),
			ProcessorTimeout:   getEnvAsDuration("PAYMENT_PROCESSOR_TIMEOUT", 15*time.Second),
			GatewayTimeout:     getEnvAsDuration("PAYMENT_GATEWAY_TIMEOUT", 20*time.Second),
			MinimumAmount:      getEnvAsInt64("PAYMENT_GATEWAY_MIN_AMOUNT", 5000),
			ReconcileLockTTL:   getEnvAsDuration("PAYMENT_RECONCILE_LOCK_TTL", 10*time.Second),
			IdempotencyTTL:     getEnvAsDuration("PAYMENT_IDEMPOTENCY_TTL", 24*time.Hour),
			DefaultDescription: getEnv("PAYMENT_DEFAULT_DESCRIPTION", "EV charging invoice"),
		},
		IPaymu: IPaymuConfig{
			VA:        getEnv("IPAYMU_VA", ""),
			APIKey:    getEnv("IPAYMU_API_KEY", ""),
			BaseURL:   getEnv("IPAYMU_BASE_URL", "https://sandbox.ipaymu.com"),
			NotifyURL: getEnv("PAYMENT_NOTIFY_URL", ""),
			ReturnURL: getEnv("PAYMENT_RETURN_URL", ""),
			CancelURL: getEnv("PAYMENT_CANCEL_URL", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	p := c.Payment
	switch p.ProcessorMode {
	case ProcessorModeSimulator:
	case ProcessorModeGateway:
		if !c.IPaymu.Enabled() {
			return fmt.Errorf("IPAYMU_API_KEY and IPAYMU_VA are required in gateway mode")
		}
	default:
		return fmt.Errorf("PAYMENT_PROCESSOR_MODE must be %q or %q, got %q",
			ProcessorModeSimulator, ProcessorModeGateway, p.ProcessorMode)
	}

	if p.SimulatorCompleted < 0 || p.SimulatorPending < 0 || p.SimulatorCompleted+p.SimulatorPending > 100 {
		return fmt.Errorf("simulator thresholds must be non-negative and sum to at most 100")
	}
	if p.ProcessorTimeout <= 0 || p.GatewayTimeout <= 0 {
		return fmt.Errorf("processor and gateway timeouts must be positive")
	}
	if p.ReconcileLockTTL <= 0 {
		return fmt.Errorf("PAYMENT_RECONCILE_LOCK_TTL must be positive")
	}
	if p.MinimumAmount < 0 {
		return fmt.Errorf("PAYMENT_GATEWAY_MIN_AMOUNT must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 retrieves an environment variable as int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings such as "15s" or "250ms"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
