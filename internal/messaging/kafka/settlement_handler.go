package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// Settler сверяет checkout-сессию с провайдером и материализует заказ.
type Settler interface {
	Settle(ctx context.Context, sessionID string) (checkout.Settlement, error)
}

// NewSettlementHandler возвращает handler для топика запросов на сверку.
// Ошибки провайдера повторяются, остальные отказы помечаются как постоянные.
func NewSettlementHandler(settler Settler, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-settlement-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		request, err := ParseSettlementRequest(message.Value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}

		settlement, err := settler.Settle(ctx, request.SessionID)
		if err != nil {
			if errors.Is(err, domain.ErrUpstreamPayment) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: settle %s: %w", ErrPermanent, request.SessionID, err)
		}

		logger.WithFields(log.Fields{
			"session_id": settlement.SessionID,
			"status":     settlement.Status,
			"outcome":    settlement.Outcome,
			"order_id":   settlement.OrderID,
			"source":     request.Source,
		}).Info("settlement request processed")
		return nil
	}
}
