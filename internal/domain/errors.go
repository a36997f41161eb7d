package domain

import "errors"

var (
	// ErrUserRequired возвращается, когда вызов не привязан к пользователю.
	ErrUserRequired = errors.New("user_id is required")
	// ErrSessionIDRequired возвращается при пустом идентификаторе checkout-сессии.
	ErrSessionIDRequired = errors.New("session_id is required")
	// ErrCurrencyRequired — у заказа не указана валюта.
	ErrCurrencyRequired = errors.New("currency is required")
	// ErrItemsRequired — заказ без позиций.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrItemQtyInvalid — количество в позиции <= 0.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrItemPriceInvalid — цена позиции в заказе не положительная.
	ErrItemPriceInvalid = errors.New("item price must be positive")
	// ErrAmountMismatch — итог заказа не совпадает с суммой позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")

	// ErrCartNotFound — у пользователя нет корзины.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartEmpty — корзина есть, но в ней нет позиций.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSessionNotFound — платёжный провайдер не знает такую сессию.
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrInvalidPricing — цена товара отсутствует, не число или не даёт положительную сумму в минимальных единицах.
	ErrInvalidPricing = errors.New("invalid product pricing")
	// ErrUnauthorized — не удалось установить, какому пользователю принадлежит сессия.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — аутентифицированный пользователь не владеет сессией.
	ErrForbidden = errors.New("session belongs to another user")
	// ErrUpstreamPayment — ошибка или таймаут платёжного провайдера.
	ErrUpstreamPayment = errors.New("payment processor error")
	// ErrWebhookSignature — подпись вебхука не прошла проверку.
	ErrWebhookSignature = errors.New("invalid webhook signature")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят запросом с тем же телом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsNotFound объединяет все ошибки отсутствия сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrCartEmpty) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
