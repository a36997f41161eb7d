package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartStore — in-memory каталог товаров и корзин для локальной разработки и тестов.
type CartStore struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	carts    map[string]domain.Cart
}

// NewCartRepository возвращает пустое in-memory хранилище корзин.
func NewCartRepository() *CartStore {
	return &CartStore{
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
	}
}

// PutProduct добавляет или заменяет товар каталога.
func (s *CartStore) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product.Images = append([]string(nil), product.Images...)
	s.products[product.ID] = product
}

// PutCart сохраняет корзину пользователя. Поле Product у позиций игнорируется.
func (s *CartStore) PutCart(cart domain.Cart) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}
	items := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	cart.Items = items
	s.carts[cart.UserID] = cart
	return cart
}

// GetByUser возвращает корзину с подгруженными товарами.
func (s *CartStore) GetByUser(_ context.Context, userID string) (domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return s.resolve(cart), nil
}

// FindByPendingSession ищет корзину по привязанной checkout-сессии.
func (s *CartStore) FindByPendingSession(_ context.Context, sessionID string) (domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cart := range s.carts {
		if sessionID != "" && cart.PendingSessionID == sessionID {
			return s.resolve(cart), nil
		}
	}
	return domain.Cart{}, domain.ErrCartNotFound
}

// SetPendingSession привязывает сессию к корзине пользователя.
func (s *CartStore) SetPendingSession(_ context.Context, userID, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return domain.ErrCartNotFound
	}
	cart.PendingSessionID = sessionID
	cart.PendingSessionAt = at
	cart.UpdatedAt = at
	s.carts[userID] = cart
	return nil
}

// ClearPendingSession снимает привязку, если она не была перезаписана новой сессией.
func (s *CartStore) ClearPendingSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok || cart.PendingSessionID != sessionID {
		return nil
	}
	cart.PendingSessionID = ""
	cart.PendingSessionAt = time.Time{}
	s.carts[userID] = cart
	return nil
}

// ListPendingSessions возвращает самые старые привязанные сессии.
func (s *CartStore) ListPendingSessions(_ context.Context, olderThan time.Time, limit int) ([]domain.PendingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingSession, 0)
	for _, cart := range s.carts {
		if cart.PendingSessionID == "" || cart.PendingSessionAt.After(olderThan) {
			continue
		}
		result = append(result, domain.PendingSession{
			UserID:    cart.UserID,
			CartID:    cart.ID,
			SessionID: cart.PendingSessionID,
			Since:     cart.PendingSessionAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Since.Before(result[j].Since)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete удаляет корзину пользователя; отсутствие корзины не ошибка.
func (s *CartStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

// resolve подставляет товары в позиции; вызывается под блокировкой.
func (s *CartStore) resolve(cart domain.Cart) domain.Cart {
	items := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		resolved := domain.CartItem{ProductID: item.ProductID, Quantity: item.Quantity}
		if product, ok := s.products[item.ProductID]; ok {
			product.Images = append([]string(nil), product.Images...)
			resolved.Product = &product
		}
		items = append(items, resolved)
	}
	cart.Items = items
	return cart
}

var _ domain.CartRepository = (*CartStore)(nil)
