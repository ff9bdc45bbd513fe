package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	backendMemory    = "memory"
	backendPostgres  = "postgres"
	backendRedis     = "redis"
	backendFirestore = "firestore"
)

var errInvalidConfig = errors.New("invalid configuration")

// Config is the service configuration, read from the environment.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`

	// UserIDHeader is set by the upstream gateway after it authenticated the caller.
	UserIDHeader string `env:"USER_ID_HEADER" envDefault:"X-User-ID"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`

	Postgres  PostgresConfig  `envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Firestore FirestoreConfig `envPrefix:"FIRESTORE_"`
	Stripe    StripeConfig    `envPrefix:"STRIPE_"`
	Billing   BillingConfig   `envPrefix:"BILLING_"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"goonboard"`
}

type PostgresConfig struct {
	URL      string `env:"URL"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
	Migrate  bool   `env:"MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"goonboard:"`
}

type FirestoreConfig struct {
	ProjectID           string `env:"PROJECT_ID"`
	RecordsCollection   string `env:"RECORDS_COLLECTION" envDefault:"onboarding_records"`
	CustomersCollection string `env:"CUSTOMERS_COLLECTION" envDefault:"onboarding_customers"`
}

type StripeConfig struct {
	APIKey        string        `env:"API_KEY"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type BillingConfig struct {
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerReset     time.Duration `env:"BREAKER_RESET" envDefault:"30s"`
	PortalReturnURL  string        `env:"PORTAL_RETURN_URL"`
	WebhookRateLimit int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"100"`
}

// loadConfig reads .env when present and then the process environment.
func loadConfig() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", errInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	switch c.StorageBackend {
	case backendMemory:
	case backendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("%w: POSTGRES_URL is required for the postgres backend", errInvalidConfig)
		}
	case backendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for the redis backend", errInvalidConfig)
		}
	case backendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("%w: FIRESTORE_PROJECT_ID is required for the firestore backend", errInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", errInvalidConfig, c.StorageBackend)
	}

	if c.Stripe.APIKey != "" && c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is required with STRIPE_API_KEY", errInvalidConfig)
	}
	if c.UserIDHeader == "" {
		return fmt.Errorf("%w: USER_ID_HEADER must not be empty", errInvalidConfig)
	}
	return nil
}

func (c *Config) billingEnabled() bool {
	return c.Stripe.APIKey != ""
}
