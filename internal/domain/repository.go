package domain

import (
	"context"
	"time"
)

// CartRepository описывает хранилище корзин.
type CartRepository interface {
	// GetByUser возвращает корзину пользователя с подгруженными товарами или ErrCartNotFound.
	GetByUser(ctx context.Context, userID string) (Cart, error)
	// FindByPendingSession ищет корзину, к которой привязана checkout-сессия.
	FindByPendingSession(ctx context.Context, sessionID string) (Cart, error)
	// SetPendingSession записывает идентификатор созданной checkout-сессии.
	SetPendingSession(ctx context.Context, userID, sessionID string, at time.Time) error
	// ClearPendingSession снимает привязку, только если она всё ещё указывает на sessionID.
	ClearPendingSession(ctx context.Context, userID, sessionID string) error
	// ListPendingSessions возвращает корзины, у которых сессия висит дольше olderThan.
	ListPendingSessions(ctx context.Context, olderThan time.Time, limit int) ([]PendingSession, error)
	// Delete удаляет корзину. Отсутствие корзины ошибкой не считается.
	Delete(ctx context.Context, userID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateOnce вставляет заказ; повторная вставка для той же платёжной сессии даёт InsertAlreadyExists.
	CreateOnce(ctx context.Context, order Order) (InsertOutcome, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByPaymentSession возвращает заказ платёжной сессии или ErrOrderNotFound.
	GetByPaymentSession(ctx context.Context, sessionID string) (Order, error)
	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
}
