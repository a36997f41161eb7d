package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envHTTPAddr    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr = "STOREFRONT_METRICS_ADDR"

	envStorageDriver       = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN         = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envCartStore           = "STOREFRONT_CART_STORE"
	envMongoURI            = "STOREFRONT_MONGO_URI"
	envMongoDatabase       = "STOREFRONT_MONGO_DATABASE"
	envRedisAddr           = "STOREFRONT_REDIS_ADDR"
	envSessionCacheTTL     = "STOREFRONT_SESSION_CACHE_TTL"

	envPaymentProvider       = "STOREFRONT_PAYMENT_PROVIDER"
	envAllowMockIntegrations = "STOREFRONT_ALLOW_MOCK_INTEGRATIONS"
	envStripeSecretKey       = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret   = "STRIPE_WEBHOOK_SECRET"
	envStripeAPIURL          = "STRIPE_API_URL"

	envCheckoutUIMode   = "STOREFRONT_CHECKOUT_UI_MODE"
	envCurrency         = "STOREFRONT_CURRENCY"
	envFrontendURL      = "STOREFRONT_FRONTEND_URL"
	envProcessorTimeout = "STOREFRONT_PROCESSOR_TIMEOUT"
	envRequestTimeout   = "STOREFRONT_REQUEST_TIMEOUT"
	envJWTSecret        = "STOREFRONT_JWT_SECRET"
	envAllowedOrigins   = "STOREFRONT_ALLOWED_ORIGINS"

	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryBaseDelay        = "STOREFRONT_OUTBOX_RETRY_BASE_DELAY"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envSweepInterval               = "STOREFRONT_SWEEP_INTERVAL"
	envSweepMinAge                 = "STOREFRONT_SWEEP_MIN_AGE"

	envKafkaBrokers         = "STOREFRONT_KAFKA_BROKERS"
	envKafkaSettlementGroup = "STOREFRONT_KAFKA_SETTLEMENT_GROUP"
	envKafkaMaxRetries      = "STOREFRONT_KAFKA_MAX_RETRIES"

	envOTelExporter = "STOREFRONT_OTEL_EXPORTER"
	envOTLPEndpoint = "STOREFRONT_OTLP_ENDPOINT"

	envShutdownTimeout = "STOREFRONT_SHUTDOWN_TIMEOUT"
	envLogLevel        = "STOREFRONT_LOG_LEVEL"
)

type envLookup func(key string) (string, bool)

var (
	positiveInt      = func(v int) bool { return v > 0 }
	nonNegativeInt   = func(v int) bool { return v >= 0 }
	positiveDuration = func(v time.Duration) bool { return v > 0 }
	nonNegDuration   = func(v time.Duration) bool { return v >= 0 }
)

// readConfigFromEnv собирает конфигурацию из окружения. Некорректные значения
// не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, validate func(int) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, validate func(time.Duration) bool, msg string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, validate, msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	lower(envCartStore, &cfg.CartStore)
	str(envMongoURI, &cfg.MongoURI)
	str(envMongoDatabase, &cfg.MongoDatabase)
	str(envRedisAddr, &cfg.RedisAddr)
	duration(envSessionCacheTTL, &cfg.SessionCacheTTL, positiveDuration, "must be > 0")

	lower(envPaymentProvider, &cfg.PaymentProvider)
	boolean(envAllowMockIntegrations, &cfg.AllowMockIntegrations)
	str(envStripeSecretKey, &cfg.StripeSecretKey)
	str(envStripeWebhookSecret, &cfg.StripeWebhookSecret)
	str(envStripeAPIURL, &cfg.StripeAPIURL)

	lower(envCheckoutUIMode, &cfg.CheckoutUIMode)
	lower(envCurrency, &cfg.Currency)
	str(envFrontendURL, &cfg.FrontendURL)
	duration(envProcessorTimeout, &cfg.ProcessorTimeout, positiveDuration, "must be > 0")
	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")
	str(envJWTSecret, &cfg.JWTSecret)
	str(envAllowedOrigins, &cfg.AllowedOrigins)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryBaseDelay, &cfg.OutboxRetryBaseDelay, nonNegDuration, "must be >= 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")
	duration(envSweepInterval, &cfg.SweepInterval, positiveDuration, "must be > 0")
	duration(envSweepMinAge, &cfg.SweepMinAge, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaSettlementGroup, &cfg.KafkaSettlementGroup)
	integer(envKafkaMaxRetries, &cfg.KafkaMaxRetries, nonNegativeInt, "must be >= 0")

	lower(envOTelExporter, &cfg.OTelExporter)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)

	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

// readLogLevel возвращает уровень из STOREFRONT_LOG_LEVEL; по умолчанию info.
func readLogLevel(lookup envLookup) (log.Level, error) {
	v, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(v) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(v))
	if err != nil {
		return log.InfoLevel, err
	}
	return level, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}

func parseInt(raw string, validate func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("%d %s", value, msg)
	}
	return value, nil
}

func parseDuration(raw string, validate func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if validate != nil && !validate(value) {
		return 0, fmt.Errorf("%s %s", value, msg)
	}
	return value, nil
}
