package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	AutoMigrate        bool

	Currency      string
	CurrencyScale int32
	AdvanceRatio  decimal.Decimal

	CartTTL              time.Duration
	SubscriptionCacheTTL time.Duration
	LockTTL              time.Duration
	LockRetryBackoff     time.Duration
	IdempotencyTTL       time.Duration

	GatewayTimeout      time.Duration
	CommitTimeout       time.Duration
	PaymentProvider     string
	PaymentSessionTTL   time.Duration
	PaymentFinishURL    string
	PaymentSandbox      bool
	MidtransServerKey   string
	MidtransBaseURL     string
	XenditSecretKey     string
	XenditCallbackToken string
	XenditBaseURL       string
	WebhookReplayTTL    time.Duration

	OrderAPIURL      string
	UpstreamAPIURL   string
	UpstreamTimeout  time.Duration
	CircuitMinReqs   int
	CircuitFailRatio float64
	CircuitOpenFor   time.Duration

	RateLimitCheckout string

	ReconcileEnabled     bool
	ReconcileConcurrency int
	ReconcileDelay       time.Duration
	ReconcileMaxRetry    int
	ReconcileQueue       string

	Obs ObsConfig
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	PprofEnabled     bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AutoMigrate:        parseBool(k.String("AUTO_MIGRATE"), true),

		Currency:      strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "IDR")),
		CurrencyScale: int32(parseInt(k.String("CURRENCY_SCALE"), 0)),

		CartTTL:              parseDuration(k.String("CART_TTL"), "168h"),
		SubscriptionCacheTTL: parseDuration(k.String("SUBSCRIPTION_CACHE_TTL"), "1m"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		GatewayTimeout:      parseDuration(k.String("GATEWAY_TIMEOUT"), "15s"),
		CommitTimeout:       parseDuration(k.String("COMMIT_TIMEOUT"), "10s"),
		PaymentProvider:     strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "midtrans")),
		PaymentSessionTTL:   parseDuration(k.String("PAYMENT_SESSION_TTL"), "30m"),
		PaymentFinishURL:    k.String("PAYMENT_FINISH_URL"),
		PaymentSandbox:      parseBool(k.String("PAYMENT_SANDBOX"), true),
		MidtransServerKey:   k.String("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:     k.String("MIDTRANS_BASE_URL"),
		XenditSecretKey:     k.String("XENDIT_SECRET_KEY"),
		XenditCallbackToken: k.String("XENDIT_CALLBACK_TOKEN"),
		XenditBaseURL:       k.String("XENDIT_BASE_URL"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		OrderAPIURL:      strings.TrimRight(k.String("ORDER_API_URL"), "/"),
		UpstreamAPIURL:   strings.TrimRight(k.String("UPSTREAM_API_URL"), "/"),
		UpstreamTimeout:  parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),
		CircuitMinReqs:   parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:   parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		RateLimitCheckout: valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "10-M"),

		ReconcileEnabled:     parseBool(k.String("RECONCILE_ENABLED"), false),
		ReconcileConcurrency: parseInt(k.String("RECONCILE_CONCURRENCY"), 5),
		ReconcileDelay:       parseDuration(k.String("RECONCILE_DELAY"), "1m"),
		ReconcileMaxRetry:    parseInt(k.String("RECONCILE_MAX_RETRY"), 10),
		ReconcileQueue:       valueOrDefault(k.String("RECONCILE_QUEUE"), "checkout"),

		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "storefront"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     k.String("OBS_OTLP_ENDPOINT"),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			PprofEnabled:     parseBool(k.String("OBS_ENABLE_PPROF"), false),
		},
	}

	ratio, err := decimal.NewFromString(valueOrDefault(k.String("ADVANCE_RATIO"), "0.3"))
	if err != nil {
		return nil, fmt.Errorf("ADVANCE_RATIO: %w", err)
	}
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("ADVANCE_RATIO must be in (0, 1], got %s", ratio)
	}
	cfg.AdvanceRatio = ratio

	if cfg.CurrencyScale < 0 || cfg.CurrencyScale > 4 {
		return nil, fmt.Errorf("CURRENCY_SCALE must be between 0 and 4, got %d", cfg.CurrencyScale)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.PaymentProvider {
	case "midtrans", "xendit":
	default:
		return nil, fmt.Errorf("PAYMENT_PROVIDER %q is not supported", cfg.PaymentProvider)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
