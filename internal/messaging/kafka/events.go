package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType определяет тип события в топиках storefront.
type EventType string

const (
	EventTypeOrderCreated           EventType = "order.created"
	EventTypeSettlementRequested    EventType = "checkout.settlement_requested"
	EventTypeSettlementDeadLettered EventType = "checkout.settlement_dead_lettered"
)

// Topics для Kafka
const (
	TopicOrderEvents        = "storefront.order.events"
	TopicSettlementRequests = "storefront.checkout.settlement-requests"
	TopicDeadLetterQueue    = "storefront.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — формат сообщения, которое outbox публикует в топик заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// SettlementRequest просит сервис сверить checkout-сессию с провайдером.
// Используется как альтернатива webhook и redirect, например из back-office.
type SettlementRequest struct {
	EventType   EventType `json:"event_type"`
	SessionID   string    `json:"session_id"`
	Source      string    `json:"source,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSettlementRequest создаёт запрос на сверку.
func NewSettlementRequest(sessionID, source string) *SettlementRequest {
	return &SettlementRequest{
		EventType:   EventTypeSettlementRequested,
		SessionID:   sessionID,
		Source:      source,
		RequestedAt: time.Now().UTC(),
	}
}

// DeadLetter — сообщение, которое consumer не смог обработать.
type DeadLetter struct {
	EventType         EventType `json:"event_type"`
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Permanent         bool      `json:"permanent"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseSettlementRequest разбирает запрос на сверку.
func ParseSettlementRequest(value []byte) (*SettlementRequest, error) {
	var request SettlementRequest
	if err := json.Unmarshal(value, &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement request: %w", err)
	}
	request.SessionID = strings.TrimSpace(request.SessionID)
	if request.SessionID == "" {
		return nil, fmt.Errorf("settlement request has empty session_id")
	}
	return &request, nil
}

// ParseDeadLetter разбирает сообщение из DLQ.
func ParseDeadLetter(value []byte) (*DeadLetter, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}
