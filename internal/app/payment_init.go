package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment/stripepay"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// paymentDependencies — платёжный провайдер и проверка webhook-подписей.
type paymentDependencies struct {
	gateway domain.PaymentGateway
	// webhooks равен nil, если секрет webhook не настроен: маршрут тогда не регистрируется.
	webhooks domain.WebhookVerifier
}

// initPaymentGateway создаёт провайдера по cfg.PaymentProvider и, если задан Redis, оборачивает его кэшем.
func initPaymentGateway(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) (paymentDependencies, error) {
	var result paymentDependencies

	switch cfg.PaymentProvider {
	case PaymentProviderMock:
		if !cfg.AllowMockIntegrations {
			return result, errors.New("mock payment provider requires mock integrations to be allowed")
		}
		result.gateway = payment.NewMockGateway()
		logger.Warn("using mock payment provider")
	case "", PaymentProviderStripe:
		gateway, err := stripepay.NewGateway(stripepay.Config{
			SecretKey: cfg.StripeSecretKey,
			APIURL:    cfg.StripeAPIURL,
			HTTPClient: &http.Client{
				Timeout:   cfg.ProcessorTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Logger: logger.WithField("component", "stripe"),
		})
		if err != nil {
			return result, err
		}
		stripe.SetAppInfo(&stripe.AppInfo{Name: "storefront", Version: version.GetVersion()})
		result.gateway = gateway
	default:
		return result, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}

	if secret := strings.TrimSpace(cfg.StripeWebhookSecret); secret != "" {
		verifier, err := stripepay.NewWebhookVerifier(secret)
		if err != nil {
			return result, err
		}
		result.webhooks = verifier
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		sessionCache := cache.NewRedisSessionCache(client, cfg.SessionCacheTTL)
		if err := sessionCache.Ping(ctx); err != nil {
			// Кэш необязателен: сервис стартует, а CachingGateway обходит недоступный Redis.
			logger.WithError(err).WithField("addr", addr).Warn("redis is unavailable at startup")
		}
		deps.addCloser("redis", func(context.Context) error { return client.Close() })
		deps.addChecker("redis", healthcheck.NewOptionalChecker("redis", sessionCache.Ping))
		result.gateway = cache.NewCachingGateway(result.gateway, sessionCache, logger.WithField("component", "session-cache"))
		logger.WithField("addr", addr).Info("terminal sessions are cached in redis")
	}

	return result, nil
}
