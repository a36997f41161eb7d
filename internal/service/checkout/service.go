package checkout

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// DefaultCurrency используется, если валюта не задана конфигурацией.
	DefaultCurrency = "mxn"
	// DefaultProcessorTimeout ограничивает каждый вызов платёжного провайдера.
	DefaultProcessorTimeout = 20 * time.Second
	// DefaultFrontendURL — адрес витрины для return/success/cancel ссылок.
	DefaultFrontendURL = "http://localhost:5173"
)

// Service объединяет создание checkout-сессий и сверку оплаты.
// Все методы безопасны для конкурентного вызова. Корректность держится на одном контракте:
// OrderRepository хранит не больше одного заказа на идентификатор платёжной сессии.
type Service struct {
	carts    domain.CartRepository
	orders   domain.OrderRepository
	gateway  domain.PaymentGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry

	currency         string
	mode             domain.UIMode
	frontendURL      string
	processorTimeout time.Duration
	now              func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithOutbox включает запись события order.created в transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

// WithTimeline включает запись timeline checkout-сессий.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger задаёт логгер компонента.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCurrency задаёт валюту сессий (ISO 4217 в нижнем регистре).
func WithCurrency(currency string) Option {
	return func(s *Service) {
		if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
			s.currency = c
		}
	}
}

// WithUIMode выбирает режим платёжной формы для всего развёртывания.
func WithUIMode(mode domain.UIMode) Option {
	return func(s *Service) {
		if mode.Valid() {
			s.mode = mode
		}
	}
}

// WithFrontendURL задаёт адрес витрины.
func WithFrontendURL(url string) Option {
	return func(s *Service) {
		if u := strings.TrimRight(strings.TrimSpace(url), "/"); u != "" {
			s.frontendURL = u
		}
	}
}

// WithProcessorTimeout ограничивает длительность вызова провайдера.
func WithProcessorTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.processorTimeout = timeout
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт checkout-сервис.
func NewService(carts domain.CartRepository, orders domain.OrderRepository, gateway domain.PaymentGateway, opts ...Option) *Service {
	s := &Service{
		carts:            carts,
		orders:           orders,
		gateway:          gateway,
		logger:           log.WithField("component", "checkout"),
		currency:         DefaultCurrency,
		mode:             domain.UIModeEmbedded,
		frontendURL:      DefaultFrontendURL,
		processorTimeout: DefaultProcessorTimeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode возвращает режим платёжной формы развёртывания.
func (s *Service) Mode() domain.UIMode {
	return s.mode
}

func (s *Service) appendTimeline(ctx context.Context, sessionID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		SessionID: sessionID,
		Type:      eventType,
		Reason:    reason,
		Occurred:  s.now(),
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"session_id": sessionID,
			"event":      eventType,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}

// Timeline возвращает события checkout-сессии. Без подключённого репозитория список пуст.
func (s *Service) Timeline(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, sessionID)
}
