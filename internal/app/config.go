package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// CartStoreMongo переносит корзины и каталог в MongoDB.
	CartStoreMongo = "mongo"

	// PaymentProviderStripe — реальный платёжный провайдер.
	PaymentProviderStripe = "stripe"
	// PaymentProviderMock — in-memory провайдер для локальной разработки.
	PaymentProviderMock = "mock"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	CartStore     string
	MongoURI      string
	MongoDatabase string

	RedisAddr       string
	SessionCacheTTL time.Duration

	PaymentProvider       string
	AllowMockIntegrations bool
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripeAPIURL          string

	CheckoutUIMode   string
	Currency         string
	FrontendURL      string
	ProcessorTimeout time.Duration
	RequestTimeout   time.Duration

	JWTSecret string
	// AllowedOrigins — список origin через запятую для CORS.
	AllowedOrigins string

	OutboxPollInterval          time.Duration
	OutboxBatchSize             int
	OutboxMaxAttempts           int
	OutboxRetryBaseDelay        time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	SweepInterval time.Duration
	SweepMinAge   time.Duration

	// KafkaBrokers — список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers         string
	KafkaSettlementGroup string
	KafkaMaxRetries      int

	OTelExporter string
	OTLPEndpoint string

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		MongoDatabase: "storefront",

		SessionCacheTTL: 30 * time.Minute,

		PaymentProvider: PaymentProviderStripe,

		CheckoutUIMode:   string(domain.UIModeEmbedded),
		Currency:         checkout.DefaultCurrency,
		FrontendURL:      checkout.DefaultFrontendURL,
		ProcessorTimeout: checkout.DefaultProcessorTimeout,
		RequestTimeout:   30 * time.Second,

		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryBaseDelay:        50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		SweepInterval: 5 * time.Minute,
		SweepMinAge:   15 * time.Minute,

		KafkaSettlementGroup: "storefront-settlement",
		KafkaMaxRetries:      3,

		OTelExporter: telemetry.ExporterNone,

		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate проверяет согласованность настроек до запуска зависимостей.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}

	switch c.CartStore {
	case "":
	case CartStoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = append(errs, errors.New("mongo cart store requires a URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cart store %q", c.CartStore))
	}

	switch c.PaymentProvider {
	case PaymentProviderStripe:
		if strings.TrimSpace(c.StripeSecretKey) == "" {
			errs = append(errs, errors.New("stripe provider requires a secret key"))
		}
	case PaymentProviderMock:
		if !c.AllowMockIntegrations {
			errs = append(errs, errors.New("mock payment provider requires mock integrations to be allowed"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown payment provider %q", c.PaymentProvider))
	}

	if !domain.UIMode(c.CheckoutUIMode).Valid() {
		errs = append(errs, fmt.Errorf("unknown checkout ui mode %q", c.CheckoutUIMode))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}

	switch c.OTelExporter {
	case telemetry.ExporterNone, telemetry.ExporterStdout:
	case telemetry.ExporterOTLP:
		if strings.TrimSpace(c.OTLPEndpoint) == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown otel exporter %q", c.OTelExporter))
	}

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
