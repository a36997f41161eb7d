package domain

import "time"

// OrderItem — снимок позиции корзины на момент оплаты.
type OrderItem struct {
	ProductID string
	Name      string
	Qty       int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
}

// Address — адрес доставки, который покупатель указал у провайдера.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Buyer — контактные данные покупателя из checkout-сессии.
type Buyer struct {
	Email   string
	Name    string
	Phone   string
	Address Address
}

// Order — неизменяемая запись об оплаченной покупке. Создаётся один раз на платёжную сессию.
type Order struct {
	ID               string
	UserID           string
	PaymentSessionID string
	PaymentStatus    SessionStatus
	Currency         string
	AmountMinor      int64
	Items            []OrderItem
	Buyer            Buyer
	CreatedAt        time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.PaymentSessionID == "" {
		errs = append(errs, ErrSessionIDRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// InsertOutcome — результат идемпотентной вставки заказа.
type InsertOutcome string

const (
	// InsertCreated — заказ записан этим вызовом.
	InsertCreated InsertOutcome = "created"
	// InsertAlreadyExists — заказ для этой платёжной сессии уже был записан ранее.
	InsertAlreadyExists InsertOutcome = "already_exists"
)
