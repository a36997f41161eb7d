package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway — in-memory платёжный провайдер для локальной разработки и тестов.
// Сессии создаются в статусе open; тест или оператор переводит их в нужный статус через Complete/SetStatus.
type MockGateway struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession

	CreateErr   error
	RetrieveErr error

	CreateCalls   int
	RetrieveCalls int
	Requests      []domain.SessionRequest
}

// NewMockGateway возвращает пустой mock-провайдер.
func NewMockGateway() *MockGateway {
	return &MockGateway{sessions: make(map[string]domain.CheckoutSession)}
}

// CreateSession сохраняет запрос и возвращает новую open-сессию.
func (m *MockGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.Requests = append(m.Requests, req)
	if m.CreateErr != nil {
		return domain.CheckoutSession{}, m.CreateErr
	}
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}

	var total int64
	for _, item := range req.LineItems {
		total += item.UnitAmount * item.Quantity
	}

	id := "cs_mock_" + uuid.NewString()
	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	session := domain.CheckoutSession{
		ID:          id,
		Status:      domain.SessionStatusOpen,
		AmountTotal: total,
		Currency:    req.Currency,
		Metadata:    metadata,
	}
	if req.Mode == domain.UIModeHosted {
		session.URL = "https://checkout.mock.local/pay/" + id
	} else {
		session.ClientSecret = id + "_secret_" + uuid.NewString()[:8]
	}

	m.sessions[id] = session
	return session, nil
}

// RetrieveSession возвращает текущее состояние сессии.
func (m *MockGateway) RetrieveSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RetrieveCalls++
	if m.RetrieveErr != nil {
		return domain.CheckoutSession{}, m.RetrieveErr
	}
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}

	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.CheckoutSession{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// Complete помечает сессию оплаченной и записывает данные покупателя.
func (m *MockGateway) Complete(sessionID string, buyer domain.Buyer) error {
	return m.update(sessionID, func(s *domain.CheckoutSession) {
		s.Status = domain.SessionStatusPaid
		s.Buyer = buyer
	})
}

// SetStatus выставляет произвольный статус, включая неизвестные перечислению значения.
func (m *MockGateway) SetStatus(sessionID string, status domain.SessionStatus) error {
	return m.update(sessionID, func(s *domain.CheckoutSession) {
		s.Status = status
	})
}

// PutSession кладёт сессию напрямую, например без metadata.
func (m *MockGateway) PutSession(session domain.CheckoutSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
}

// Calls возвращает счётчики вызовов под блокировкой.
func (m *MockGateway) Calls() (create, retrieve int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.RetrieveCalls
}

func (m *MockGateway) update(sessionID string, fn func(s *domain.CheckoutSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	fn(&session)
	m.sessions[sessionID] = session
	return nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
