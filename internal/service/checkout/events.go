package checkout

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// EventTypeOrderCreated — тип outbox-события о новом заказе.
	EventTypeOrderCreated = "order.created"
	// AggregateTypeOrder — тип агрегата outbox-сообщений о заказах.
	AggregateTypeOrder = "order"
)

// OrderCreatedPayload — тело события order.created.
type OrderCreatedPayload struct {
	OrderID          string             `json:"order_id"`
	UserID           string             `json:"user_id"`
	PaymentSessionID string             `json:"payment_session_id"`
	Currency         string             `json:"currency"`
	AmountMinor      int64              `json:"amount_minor"`
	Amount           string             `json:"amount"`
	BuyerEmail       string             `json:"buyer_email,omitempty"`
	Items            []OrderCreatedItem `json:"items"`
	CreatedAt        time.Time          `json:"created_at"`
}

// OrderCreatedItem — позиция заказа в событии.
type OrderCreatedItem struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// NewOrderCreatedPayload собирает тело события из заказа.
func NewOrderCreatedPayload(order domain.Order) OrderCreatedPayload {
	items := make([]OrderCreatedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderCreatedItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return OrderCreatedPayload{
		OrderID:          order.ID,
		UserID:           order.UserID,
		PaymentSessionID: order.PaymentSessionID,
		Currency:         order.Currency,
		AmountMinor:      order.AmountMinor,
		Amount:           FormatMinor(order.AmountMinor),
		BuyerEmail:       order.Buyer.Email,
		Items:            items,
		CreatedAt:        order.CreatedAt,
	}
}

func (s *Service) enqueueOrderCreated(ctx context.Context, order domain.Order, logger *log.Entry) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(NewOrderCreatedPayload(order))
	if err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal order.created payload")
		return
	}

	_, err = s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     EventTypeOrderCreated,
		Payload:       payload,
	})
	if err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order.created")
		return
	}
	s.metrics.RecordOutboxEnqueued()
}
