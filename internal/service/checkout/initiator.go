package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// sessionIDPlaceholder подставляется провайдером в return URL.
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// CreateSessionInput — параметры создания checkout-сессии.
type CreateSessionInput struct {
	// UserID — аутентифицированный пользователь; берётся только из проверенного токена.
	UserID string
	// IdempotencyKey пробрасывается провайдеру, если клиент его прислал.
	IdempotencyKey string
}

// SessionStart — ответ клиенту. В зависимости от режима заполнено ровно одно из
// ClientSecret (embedded) и RedirectURL (hosted).
type SessionStart struct {
	SessionID    string
	Mode         domain.UIMode
	ClientSecret string
	RedirectURL  string
}

// CreateSession строит позиции из корзины пользователя, регистрирует сессию у провайдера
// и запоминает её идентификатор в корзине.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (SessionStart, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return SessionStart{}, domain.ErrUnauthorized
	}
	logger := s.logger.WithField("user_id", userID)

	cart, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		s.metrics.RecordSessionCreated(resultLabel(err))
		return SessionStart{}, fmt.Errorf("load cart: %w", err)
	}

	priced, err := priceCart(cart)
	if err != nil {
		logger.WithError(err).Warn("cart rejected before checkout")
		s.metrics.RecordSessionCreated(resultLabel(err))
		return SessionStart{}, err
	}

	req := domain.SessionRequest{
		Mode:      s.mode,
		Currency:  s.currency,
		LineItems: toLineItems(priced),
		Metadata: map[string]string{
			domain.MetadataUserID: userID,
			domain.MetadataCartID: cart.ID,
		},
		IdempotencyKey: processorIdempotencyKey(userID, in.IdempotencyKey),
	}
	if s.mode == domain.UIModeHosted {
		req.SuccessURL = s.frontendURL + "/return?session_id=" + sessionIDPlaceholder
		req.CancelURL = s.frontendURL + "/cart"
	} else {
		req.ReturnURL = s.frontendURL + "/return?session_id=" + sessionIDPlaceholder
	}

	session, err := s.createAtProcessor(ctx, req)
	if err != nil {
		logger.WithError(err).Error("processor rejected checkout session")
		s.metrics.RecordSessionCreated(resultLabel(err))
		return SessionStart{}, err
	}

	if err := s.carts.SetPendingSession(ctx, userID, session.ID, s.now()); err != nil {
		logger.WithError(err).WithField("session_id", session.ID).Error("failed to bind session to cart")
		s.metrics.RecordSessionCreated("error")
		return SessionStart{}, fmt.Errorf("bind session to cart: %w", err)
	}

	s.appendTimeline(ctx, session.ID, domain.TimelineSessionOpened, "")
	s.metrics.RecordSessionCreated("ok")
	logger.WithFields(log.Fields{
		"session_id": session.ID,
		"cart_id":    cart.ID,
		"items":      len(priced),
	}).Info("checkout session created")

	start := SessionStart{SessionID: session.ID, Mode: s.mode}
	if s.mode == domain.UIModeHosted {
		start.RedirectURL = session.URL
	} else {
		start.ClientSecret = session.ClientSecret
	}
	return start, nil
}

func (s *Service) createAtProcessor(ctx context.Context, req domain.SessionRequest) (domain.CheckoutSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()

	started := time.Now()
	session, err := s.gateway.CreateSession(callCtx, req)
	s.metrics.ObserveProcessorCall("create", started, err)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: create session: %w", domain.ErrUpstreamPayment, err)
	}
	if session.ID == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: create session: empty session id", domain.ErrUpstreamPayment)
	}
	return session, nil
}

func (s *Service) retrieveFromProcessor(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()

	started := time.Now()
	session, err := s.gateway.RetrieveSession(callCtx, sessionID)
	s.metrics.ObserveProcessorCall("retrieve", started, err)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: retrieve session %s: %w", domain.ErrUpstreamPayment, sessionID, err)
	}
	return session, nil
}

// processorIdempotencyKey привязывает ключ клиента к пользователю, чтобы одинаковые ключи
// разных пользователей не склеивались у провайдера. Пустой ключ остаётся пустым.
func processorIdempotencyKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID + "\x00" + key))
	return "checkout-" + hex.EncodeToString(sum[:])
}

// resultLabel сводит ошибку к короткой метке для метрик.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidPricing), errors.Is(err, domain.ErrItemQtyInvalid):
		return "invalid"
	case errors.Is(err, domain.ErrUpstreamPayment):
		return "upstream"
	default:
		return "error"
	}
}
