package domain

// SessionStatus — статус checkout-сессии у платёжного провайдера.
// Неизвестные значения передаются дальше без изменений.
type SessionStatus string

const (
	SessionStatusOpen     SessionStatus = "open"
	SessionStatusPaid     SessionStatus = "paid"
	SessionStatusUnpaid   SessionStatus = "unpaid"
	SessionStatusCanceled SessionStatus = "canceled"
)

// Known сообщает, входит ли статус в перечисление, с которым работает сервис.
func (s SessionStatus) Known() bool {
	switch s {
	case SessionStatusOpen, SessionStatusPaid, SessionStatusUnpaid, SessionStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус больше не изменится у провайдера.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusPaid || s == SessionStatusCanceled
}

// UIMode — способ показа платёжной формы; выбирается один раз на развёртывание.
type UIMode string

const (
	// UIModeEmbedded — форма встраивается в страницу, клиент получает client_secret.
	UIModeEmbedded UIMode = "embedded"
	// UIModeHosted — клиента перенаправляют на страницу провайдера.
	UIModeHosted UIMode = "hosted"
)

// Valid проверяет, что режим поддерживается.
func (m UIMode) Valid() bool {
	return m == UIModeEmbedded || m == UIModeHosted
}

// Ключи metadata, которые сервис кладёт в сессию провайдера.
const (
	MetadataUserID = "user_id"
	MetadataCartID = "cart_id"
)

// LineItem — позиция, отправляемая провайдеру.
type LineItem struct {
	Name        string
	Description string
	Images      []string
	UnitAmount  int64
	Quantity    int64
}

// SessionRequest — параметры создания checkout-сессии.
type SessionRequest struct {
	Mode       UIMode
	Currency   string
	LineItems  []LineItem
	ReturnURL  string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// IdempotencyKey передаётся провайдеру, чтобы повтор запроса не создал вторую сессию.
	IdempotencyKey string
}

// CheckoutSession — состояние сессии у провайдера.
type CheckoutSession struct {
	ID           string
	Status       SessionStatus
	ClientSecret string
	URL          string
	AmountTotal  int64
	Currency     string
	Buyer        Buyer
	Metadata     map[string]string
}

// UserID возвращает пользователя, записанного в metadata при создании сессии.
func (s CheckoutSession) UserID() string {
	return s.Metadata[MetadataUserID]
}

// PaymentEvent — проверенное событие вебхука провайдера.
type PaymentEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Типы событий вебхука, которые обрабатывает сервис.
const (
	EventSessionCompleted             = "checkout.session.completed"
	EventSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventSessionAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventSessionExpired               = "checkout.session.expired"
)
