package cache

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CachingGateway оборачивает платёжный шлюз: сессии в терминальном статусе
// (paid, canceled) отдаются из кэша. Открытые и неоплаченные сессии всегда
// запрашиваются у провайдера.
type CachingGateway struct {
	next   domain.PaymentGateway
	cache  domain.SessionCache
	logger *log.Entry
}

// NewCachingGateway создаёт обёртку над шлюзом.
func NewCachingGateway(next domain.PaymentGateway, cache domain.SessionCache, logger *log.Entry) *CachingGateway {
	if logger == nil {
		logger = log.WithField("component", "session-cache")
	}
	return &CachingGateway{next: next, cache: cache, logger: logger}
}

// CreateSession всегда идёт к провайдеру.
func (g *CachingGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.CheckoutSession, error) {
	return g.next.CreateSession(ctx, req)
}

// RetrieveSession читает кэш и при промахе обращается к провайдеру.
// Ошибки кэша только логируются.
func (g *CachingGateway) RetrieveSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	cached, ok, err := g.cache.Get(ctx, sessionID)
	if err != nil {
		g.logger.WithError(err).WithField("session_id", sessionID).Warn("session cache read failed")
	}
	if ok && cached.Status.Terminal() {
		return cached, nil
	}

	session, err := g.next.RetrieveSession(ctx, sessionID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if session.Status.Terminal() {
		if err := g.cache.Set(ctx, session); err != nil {
			g.logger.WithError(err).WithField("session_id", sessionID).Warn("session cache write failed")
		}
	}
	return session, nil
}

var _ domain.PaymentGateway = (*CachingGateway)(nil)
