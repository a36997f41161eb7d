package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с провайдером hosted checkout.
type PaymentGateway interface {
	// CreateSession регистрирует новую checkout-сессию.
	CreateSession(ctx context.Context, req SessionRequest) (CheckoutSession, error)
	// RetrieveSession возвращает текущее состояние сессии.
	RetrieveSession(ctx context.Context, sessionID string) (CheckoutSession, error)
}

// WebhookVerifier проверяет подпись входящего вебхука и разбирает событие.
type WebhookVerifier interface {
	VerifyEvent(payload []byte, signature string) (PaymentEvent, error)
}

// SessionCache хранит сессии в терминальных статусах, чтобы не ходить к провайдеру повторно.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (CheckoutSession, bool, error)
	Set(ctx context.Context, session CheckoutSession) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события checkout-сессий.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, sessionID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
