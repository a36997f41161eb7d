package stripepay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// WebhookVerifier проверяет подпись Stripe-Signature общим секретом.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier создаёт проверку подписи вебхуков.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

type sessionObject struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// VerifyEvent проверяет подпись и достаёт идентификатор checkout-сессии из события.
// Для событий не про checkout-сессию SessionID пустой.
func (v *WebhookVerifier) VerifyEvent(payload []byte, signature string) (domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %w", domain.ErrWebhookSignature, err)
	}

	result := domain.PaymentEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return result, nil
	}

	var obj sessionObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode event object: %w", err)
	}
	if obj.Object == "checkout.session" {
		result.SessionID = obj.ID
	}
	return result, nil
}

var _ domain.WebhookVerifier = (*WebhookVerifier)(nil)
