package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Outcome — что сделала сверка с заказом.
type Outcome string

const (
	// OutcomeCreated — заказ создан этим вызовом.
	OutcomeCreated Outcome = "created"
	// OutcomeAlreadyExists — заказ уже был создан ранее.
	OutcomeAlreadyExists Outcome = "already_exists"
	// OutcomeCartMissing — сессия оплачена, но корзины уже нет; заказ не создаётся.
	OutcomeCartMissing Outcome = "cart_missing"
	// OutcomeNotPaid — сессия не оплачена, заказ не нужен.
	OutcomeNotPaid Outcome = "not_paid"
	// OutcomeNeedsReview — сессия оплачена, но корзину уже нельзя оценить (товар удалён
	// или цена стала некорректной). Заказ не создаётся, корзина остаётся привязанной к сессии.
	OutcomeNeedsReview Outcome = "needs_review"
)

// Подсказки клиенту, что делать дальше.
const (
	NextActionResumePayment    = "resume_payment"
	NextActionShowConfirmation = "show_confirmation"
	NextActionRestartCheckout  = "restart_checkout"
)

// Settlement — результат сверки checkout-сессии.
type Settlement struct {
	SessionID  string
	Status     domain.SessionStatus
	BuyerEmail string
	OrderID    string
	Outcome    Outcome
	NextAction string
}

// NextActionFor возвращает подсказку для статуса; для неизвестных статусов пустую строку.
func NextActionFor(status domain.SessionStatus) string {
	switch status {
	case domain.SessionStatusOpen:
		return NextActionResumePayment
	case domain.SessionStatusPaid:
		return NextActionShowConfirmation
	case domain.SessionStatusUnpaid, domain.SessionStatusCanceled:
		return NextActionRestartCheckout
	default:
		return ""
	}
}

// GetStatus запрашивает статус сессии у провайдера и, если она оплачена,
// ровно один раз превращает корзину в заказ.
// callerUserID — пользователь из проверенного токена или пустая строка для публичного вызова.
func (s *Service) GetStatus(ctx context.Context, sessionID, callerUserID string) (Settlement, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Settlement{}, domain.ErrSessionIDRequired
	}
	logger := s.logger.WithField("session_id", sessionID)

	session, err := s.retrieveFromProcessor(ctx, sessionID)
	if err != nil {
		logger.WithError(err).Warn("failed to retrieve checkout session")
		s.metrics.RecordSettlement("upstream_error")
		return Settlement{}, err
	}

	ownerID, err := s.resolveOwner(ctx, session)
	if err != nil {
		logger.WithError(err).Warn("checkout session has no owner binding")
		s.metrics.RecordSettlement("unauthorized")
		return Settlement{}, err
	}
	caller := strings.TrimSpace(callerUserID)
	if caller != "" && caller != ownerID {
		logger.WithFields(log.Fields{
			"caller_id": caller,
			"owner_id":  ownerID,
		}).Warn("caller does not own checkout session")
		s.metrics.RecordSettlement("forbidden")
		return Settlement{}, domain.ErrForbidden
	}

	result := Settlement{
		SessionID:  sessionID,
		Status:     session.Status,
		BuyerEmail: session.Buyer.Email,
		Outcome:    OutcomeNotPaid,
		NextAction: NextActionFor(session.Status),
	}
	if session.Status != domain.SessionStatusPaid {
		s.metrics.RecordSettlement(string(OutcomeNotPaid))
		return result, nil
	}

	orderID, outcome, err := s.materialize(ctx, session, ownerID, logger)
	if err != nil {
		s.metrics.RecordSettlement("error")
		return Settlement{}, err
	}
	result.OrderID = orderID
	result.Outcome = outcome
	s.metrics.RecordSettlement(string(outcome))
	return result, nil
}

// Settle сверяет сессию без проверки вызывающего: для вебхуков, воркеров и CLI.
func (s *Service) Settle(ctx context.Context, sessionID string) (Settlement, error) {
	return s.GetStatus(ctx, sessionID, "")
}

// Expire снимает привязку отменённой или неуспешной сессии с корзины пользователя.
func (s *Service) Expire(ctx context.Context, sessionID, reason string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ErrSessionIDRequired
	}

	cart, err := s.carts.FindByPendingSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil
		}
		return fmt.Errorf("find cart by session: %w", err)
	}
	if err := s.carts.ClearPendingSession(ctx, cart.UserID, sessionID); err != nil {
		return fmt.Errorf("clear pending session: %w", err)
	}

	eventType := domain.TimelineSessionExpired
	if reason == domain.EventSessionAsyncPaymentFailed {
		eventType = domain.TimelinePaymentFailed
	}
	s.appendTimeline(ctx, sessionID, eventType, reason)
	s.logger.WithFields(log.Fields{
		"session_id": sessionID,
		"user_id":    cart.UserID,
		"reason":     reason,
	}).Info("pending checkout session released")
	return nil
}

// resolveOwner определяет владельца сессии: сначала metadata провайдера,
// затем корзина, к которой привязана сессия.
func (s *Service) resolveOwner(ctx context.Context, session domain.CheckoutSession) (string, error) {
	if owner := strings.TrimSpace(session.UserID()); owner != "" {
		return owner, nil
	}

	cart, err := s.carts.FindByPendingSession(ctx, session.ID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return "", domain.ErrUnauthorized
		}
		return "", fmt.Errorf("find cart by session: %w", err)
	}
	if cart.UserID == "" {
		return "", domain.ErrUnauthorized
	}
	return cart.UserID, nil
}

func (s *Service) materialize(ctx context.Context, session domain.CheckoutSession, ownerID string, logger *log.Entry) (string, Outcome, error) {
	existing, err := s.orders.GetByPaymentSession(ctx, session.ID)
	switch {
	case err == nil:
		s.cleanupCart(ctx, ownerID, session.ID, logger)
		return existing.ID, OutcomeAlreadyExists, nil
	case !errors.Is(err, domain.ErrOrderNotFound):
		return "", "", fmt.Errorf("lookup order by session: %w", err)
	}

	cart, err := s.carts.GetByUser(ctx, ownerID)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return "", "", fmt.Errorf("load cart: %w", err)
	}
	if err != nil || cart.Empty() {
		if winner, lookupErr := s.orders.GetByPaymentSession(ctx, session.ID); lookupErr == nil {
			return winner.ID, OutcomeAlreadyExists, nil
		}
		logger.WithField("user_id", ownerID).Warn("paid session has no cart to materialize")
		s.appendTimeline(ctx, session.ID, domain.TimelineSettlementCartMissing, "")
		return "", OutcomeCartMissing, nil
	}

	order, err := s.buildOrder(session, ownerID, cart)
	if err != nil {
		logger.WithError(err).Error("paid cart cannot be turned into an order")
		if errors.Is(err, domain.ErrInvalidPricing) || errors.Is(err, domain.ErrItemQtyInvalid) {
			s.appendTimeline(ctx, session.ID, domain.TimelineSettlementNeedsReview, err.Error())
			return "", OutcomeNeedsReview, nil
		}
		return "", "", err
	}

	outcome, err := s.orders.CreateOnce(ctx, order)
	if err != nil {
		logger.WithError(err).Error("failed to insert order")
		return "", "", fmt.Errorf("insert order: %w", err)
	}

	if outcome == domain.InsertAlreadyExists {
		winner, err := s.orders.GetByPaymentSession(ctx, session.ID)
		if err != nil {
			return "", "", fmt.Errorf("load existing order: %w", err)
		}
		s.appendTimeline(ctx, session.ID, domain.TimelineSettlementDuplicate, "")
		s.cleanupCart(ctx, ownerID, session.ID, logger)
		logger.WithField("order_id", winner.ID).Debug("order already materialized by a concurrent settlement")
		return winner.ID, OutcomeAlreadyExists, nil
	}

	// Заказ собран из этой корзины, поэтому она удаляется, даже если пользователь
	// успел открыть по ней новую сессию: та сессия при оплате получит cart_missing.
	if cart.PendingSessionID != session.ID {
		logger.WithFields(log.Fields{
			"user_id":         ownerID,
			"pending_session": cart.PendingSessionID,
		}).Warn("cart consumed by an order of another session")
	}
	if err := s.carts.Delete(ctx, ownerID); err != nil {
		logger.WithError(err).WithField("user_id", ownerID).Warn("failed to delete cart after order")
	}
	s.enqueueOrderCreated(ctx, order, logger)
	s.appendTimeline(ctx, session.ID, domain.TimelineOrderMaterialized, "")
	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"user_id":      ownerID,
		"amount_minor": order.AmountMinor,
	}).Info("order materialized")
	return order.ID, OutcomeCreated, nil
}

func (s *Service) buildOrder(session domain.CheckoutSession, ownerID string, cart domain.Cart) (domain.Order, error) {
	priced, err := priceCart(cart)
	if err != nil {
		return domain.Order{}, err
	}
	items, total := toOrderItems(priced)

	currency := strings.ToLower(strings.TrimSpace(session.Currency))
	if currency == "" {
		currency = s.currency
	}

	order := domain.Order{
		ID:               uuid.NewString(),
		UserID:           ownerID,
		PaymentSessionID: session.ID,
		PaymentStatus:    session.Status,
		Currency:         currency,
		AmountMinor:      total,
		Items:            items,
		Buyer:            session.Buyer,
		CreatedAt:        s.now(),
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order invariants: %w", errors.Join(errs...))
	}
	return order, nil
}

// cleanupCart удаляет корзину, только если она всё ещё привязана к этой сессии:
// пользователь мог начать новую покупку после оплаты.
func (s *Service) cleanupCart(ctx context.Context, userID, sessionID string, logger *log.Entry) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrCartNotFound) {
			logger.WithError(err).Warn("failed to load cart for cleanup")
		}
		return
	}
	if cart.PendingSessionID != sessionID {
		return
	}
	if err := s.carts.Delete(ctx, userID); err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("failed to delete cart after order")
	}
}
