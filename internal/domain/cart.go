package domain

import "time"

// Product — товар каталога в том виде, в каком он хранится.
// Цена хранится «как есть»: её валидирует слой checkout при переводе в минимальные единицы.
type Product struct {
	ID        string
	Name      string
	Price     string
	ShortDesc string
	Images    []string
}

// CartItem — ссылка на товар и количество. Product заполняется при чтении корзины
// и остаётся nil, если товар был удалён из каталога.
type CartItem struct {
	ProductID string
	Quantity  int
	Product   *Product
}

// Cart — корзина пользователя (одна на пользователя).
type Cart struct {
	ID               string
	UserID           string
	Items            []CartItem
	PendingSessionID string
	PendingSessionAt time.Time
	UpdatedAt        time.Time
}

// Empty сообщает, что в корзине нет позиций.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// PendingSession описывает корзину с незавершённой checkout-сессией.
type PendingSession struct {
	UserID    string
	CartID    string
	SessionID string
	Since     time.Time
}
