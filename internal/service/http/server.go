// Package httpsvc реализует HTTP API витрины: создание checkout-сессий, статус оплаты, вебхуки, история заказов.
package httpsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const (
	maxWebhookBody         = int64(65536)
	defaultWebhookTTL      = 72 * time.Hour
	defaultRequestTimeout  = 30 * time.Second
	defaultOrdersPageLimit = 20
	maxOrdersPageLimit     = 100
)

// CheckoutService — операции checkout, которые нужны HTTP-слою.
type CheckoutService interface {
	CreateSession(ctx context.Context, in checkout.CreateSessionInput) (checkout.SessionStart, error)
	GetStatus(ctx context.Context, sessionID, callerUserID string) (checkout.Settlement, error)
	Settle(ctx context.Context, sessionID string) (checkout.Settlement, error)
	Expire(ctx context.Context, sessionID, reason string) error
	Timeline(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error)
}

// Config — зависимости и настройки HTTP API.
type Config struct {
	Checkout    CheckoutService
	Orders      domain.OrderRepository
	Webhooks    domain.WebhookVerifier
	Idempotency domain.IdempotencyRepository
	Tokens      *auth.TokenVerifier
	Metrics     *metrics.CheckoutMetrics
	Logger      *log.Entry

	AllowedOrigins []string
	RequestTimeout time.Duration
	WebhookTTL     time.Duration
}

// Server обрабатывает HTTP-запросы витрины.
type Server struct {
	checkout    CheckoutService
	orders      domain.OrderRepository
	webhooks    domain.WebhookVerifier
	idempotency domain.IdempotencyRepository
	tokens      *auth.TokenVerifier
	metrics     *metrics.CheckoutMetrics
	logger      *log.Entry

	allowedOrigins []string
	requestTimeout time.Duration
	webhookTTL     time.Duration
}

// NewServer создаёт HTTP API.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	webhookTTL := cfg.WebhookTTL
	if webhookTTL <= 0 {
		webhookTTL = defaultWebhookTTL
	}
	return &Server{
		checkout:       cfg.Checkout,
		orders:         cfg.Orders,
		webhooks:       cfg.Webhooks,
		idempotency:    cfg.Idempotency,
		tokens:         cfg.Tokens,
		metrics:        cfg.Metrics,
		logger:         logger,
		allowedOrigins: cfg.AllowedOrigins,
		requestTimeout: timeout,
		webhookTTL:     webhookTTL,
	}
}

// Handler собирает маршруты.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/payment", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, requireUser)
			r.Get("/create-session", s.handleCreateSession)
			r.Post("/create-session", s.handleCreateSession)
			r.Get("/session-status", s.handleSessionStatus)
		})
		r.Get("/public/session-status", s.handlePublicSessionStatus)
	})

	if s.webhooks != nil {
		r.Post("/stripe-webhook", s.handleWebhook)
	}

	r.Route("/orders", func(r chi.Router) {
		r.Use(s.authenticate, requireUser)
		r.Get("/", s.handleListOrders)
		r.Get("/{order_id}", s.handleGetOrder)
	})

	return otelhttp.NewHandler(r, "storefront-http")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(started).String(),
		}).Debug("http request")
	})
}

func (s *Server) requestLog(r *http.Request) *log.Entry {
	return s.logger.WithField("request_id", middleware.GetReqID(r.Context()))
}
