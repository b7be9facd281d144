package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/database"
	"github.com/moneyflowz367/affilync-bigcommerce/models"
	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"

	PublisherSNS   = "sns"
	PublisherKafka = "kafka"

	dbCredentialsSecret = "attribution/DB_CREDENTIALS"
	clientSecretSecret  = "attribution/BIGCOMMERCE_CLIENT_SECRET"
)

// Config holds all configuration for the attribution service.
type Config struct {
	Port     string
	AppEnv   string
	Postgres database.PostgresConfig
	RedisURL string

	LedgerBackend        string
	ClickRegistryBackend string
	IdempotencyTable     string

	PublisherBackend      string
	ConversionSNSTopicARN string
	KafkaBrokers          []string
	KafkaConversionTopic  string

	ProductSyncQueueURL    string
	StoreLifecycleQueueURL string

	// BigCommerceClientSecret verifies deliveries for stores without a shared secret of their own.
	BigCommerceClientSecret   string
	DefaultCookieDurationDays int
	DefaultAttributionModel   models.AttributionModel

	RedeliveryWindow   time.Duration
	ReservationTimeout time.Duration
	PruneInterval      time.Duration
	// SaleLag is the longest gap between placing an order and its sale status change that
	// still sees every click of its attribution window.
	SaleLag time.Duration

	MaxWebhookBodyBytes int64
	RateLimitPerMinute  int

	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	MetricsNamespace   string
}

// SecretGetter is the part of awspkg.SecretsClient used for overrides.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from the environment (and .env when present), with an
// optional Secrets Manager override for credentials.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := awspkg.LoadAWSConfig(context.Background()); err == nil {
			applySecrets(context.Background(), cfg, awspkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8095"),
		AppEnv: getEnv("APP_ENV", "development"),
		Postgres: database.PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       os.Getenv("POSTGRES_DB"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		RedisURL:                os.Getenv("REDIS_URL"),
		LedgerBackend:           strings.ToLower(getEnv("LEDGER_BACKEND", BackendPostgres)),
		ClickRegistryBackend:    strings.ToLower(getEnv("CLICK_REGISTRY_BACKEND", BackendPostgres)),
		IdempotencyTable:        getEnv("IDEMPOTENCY_TABLE", "attribution-idempotency"),
		PublisherBackend:        strings.ToLower(getEnv("PUBLISHER_BACKEND", PublisherSNS)),
		ConversionSNSTopicARN:   os.Getenv("CONVERSION_SNS_TOPIC_ARN"),
		KafkaBrokers:            splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaConversionTopic:    getEnv("KAFKA_CONVERSION_TOPIC", "conversions.attributed"),
		ProductSyncQueueURL:     os.Getenv("PRODUCT_SYNC_QUEUE_URL"),
		StoreLifecycleQueueURL:  os.Getenv("STORE_LIFECYCLE_QUEUE_URL"),
		BigCommerceClientSecret: os.Getenv("BIGCOMMERCE_CLIENT_SECRET"),
		DefaultAttributionModel: models.AttributionModel(getEnv("DEFAULT_ATTRIBUTION_MODEL", string(models.ModelLastClick))),
		CloudWatchEnabled:       os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:      getEnv("CLOUDWATCH_LOG_GROUP", "/affilync/attribution-service"),
		MetricsNamespace:        getEnv("METRICS_NAMESPACE", "Affilync/Attribution"),
	}

	var err error
	if cfg.DefaultCookieDurationDays, err = getEnvInt("DEFAULT_COOKIE_DURATION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return nil, err
	}
	maxBody, err := getEnvInt("MAX_WEBHOOK_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxWebhookBodyBytes = int64(maxBody)

	if cfg.RedeliveryWindow, err = getEnvDuration("REDELIVERY_WINDOW", 168*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ReservationTimeout, err = getEnvDuration("RESERVATION_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PruneInterval, err = getEnvDuration("PRUNE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SaleLag, err = getEnvDuration("ATTRIBUTION_SALE_LAG", 90*24*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overrides DB credentials and the app client secret. Missing or unreadable
// secrets leave the environment values in place.
func applySecrets(ctx context.Context, cfg *Config, sm SecretGetter) {
	if m, err := sm.GetSecretMap(ctx, dbCredentialsSecret); err == nil {
		override(&cfg.Postgres.User, m["POSTGRES_USER"])
		override(&cfg.Postgres.Password, m["POSTGRES_PASSWORD"])
		override(&cfg.Postgres.DB, m["POSTGRES_DB"])
		override(&cfg.Postgres.Host, m["POSTGRES_HOST"])
		override(&cfg.Postgres.Port, m["POSTGRES_PORT"])
	}
	if v, err := sm.GetSecret(ctx, clientSecretSecret); err == nil {
		override(&cfg.BigCommerceClientSecret, v)
	}
}

func (c *Config) Validate() error {
	if c.Postgres.User == "" || c.Postgres.Password == "" || c.Postgres.DB == "" || c.Postgres.Host == "" {
		return fmt.Errorf("database config incomplete")
	}

	switch c.LedgerBackend {
	case BackendPostgres, BackendDynamoDB:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	switch c.ClickRegistryBackend {
	case BackendPostgres:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis click registry backend")
		}
	default:
		return fmt.Errorf("unknown CLICK_REGISTRY_BACKEND %q", c.ClickRegistryBackend)
	}

	switch c.PublisherBackend {
	case PublisherSNS:
		if c.ConversionSNSTopicARN == "" {
			return fmt.Errorf("CONVERSION_SNS_TOPIC_ARN is required for the sns publisher")
		}
	case PublisherKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka publisher")
		}
	default:
		return fmt.Errorf("unknown PUBLISHER_BACKEND %q", c.PublisherBackend)
	}

	if !c.DefaultAttributionModel.Known() {
		return fmt.Errorf("unknown DEFAULT_ATTRIBUTION_MODEL %q", c.DefaultAttributionModel)
	}
	if c.DefaultCookieDurationDays <= 0 {
		return fmt.Errorf("DEFAULT_COOKIE_DURATION_DAYS must be positive")
	}
	if c.SaleLag < 0 {
		return fmt.Errorf("ATTRIBUTION_SALE_LAG must not be negative")
	}
	if c.MaxWebhookBodyBytes <= 0 {
		return fmt.Errorf("MAX_WEBHOOK_BODY_BYTES must be positive")
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
