package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
)

// Config carries all runtime settings for the billing service. Values are
// read once from the environment at startup and shared through fx.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseDSN string

	StripeAPIKey        string
	StripeWebhookSecret string

	// Checkout redirect defaults used when a caller does not supply its own.
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	TracingEnabled   bool
	TracingEndpoint  string
	TracingProtocol  string
	TracingSampling  float64
	ServiceName      string
	ServiceVersion   string
	MetricsEnabled   bool
	PlanCacheTTL     time.Duration
	IntentWorkerOn   bool
	IntentBatchSize  int
	IntentPollPeriod time.Duration

	RateLimitPerMinute int
}

var (
	ErrMissingDatabaseDSN = errors.New("missing_database_dsn")
	ErrMissingStripeKey   = errors.New("missing_stripe_api_key")
)

// Load builds a Config from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Environment:         getenv("BILLING_ENV", "development"),
		HTTPAddr:            getenv("BILLING_HTTP_ADDR", ":8080"),
		DatabaseDSN:         strings.TrimSpace(os.Getenv("BILLING_DATABASE_DSN")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		CheckoutSuccessURL:  getenv("BILLING_CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:   getenv("BILLING_CHECKOUT_CANCEL_URL", ""),
		TracingEnabled:      getbool("BILLING_TRACING_ENABLED", false),
		TracingEndpoint:     getenv("BILLING_TRACING_ENDPOINT", ""),
		TracingProtocol:     getenv("BILLING_TRACING_PROTOCOL", "grpc"),
		TracingSampling:     getfloat("BILLING_TRACING_SAMPLING", 1.0),
		ServiceName:         getenv("BILLING_SERVICE_NAME", "billingd"),
		ServiceVersion:      getenv("BILLING_SERVICE_VERSION", "dev"),
		MetricsEnabled:      getbool("BILLING_METRICS_ENABLED", true),
		PlanCacheTTL:        getduration("BILLING_PLAN_CACHE_TTL", 5*time.Minute),
		IntentWorkerOn:      getbool("BILLING_INTENT_WORKER_ENABLED", true),
		IntentBatchSize:     getint("BILLING_INTENT_BATCH_SIZE", 20),
		IntentPollPeriod:    getduration("BILLING_INTENT_POLL_PERIOD", 30*time.Second),
		RateLimitPerMinute:  getint("BILLING_RATE_LIMIT_PER_MINUTE", 120),
	}

	if cfg.IsProduction() {
		if cfg.DatabaseDSN == "" {
			return cfg, ErrMissingDatabaseDSN
		}
		if cfg.StripeAPIKey == "" {
			return cfg, ErrMissingStripeKey
		}
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getint(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getfloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getduration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
