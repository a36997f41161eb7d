// Package stripepay подключает Stripe Checkout Sessions как платёжного провайдера.
package stripepay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Config — параметры подключения к Stripe.
type Config struct {
	SecretKey string
	// APIURL переопределяет адрес API (stripe-mock, тестовый сервер).
	APIURL     string
	HTTPClient *http.Client
	Logger     *log.Entry
}

// Gateway реализует domain.PaymentGateway поверх Stripe Checkout Sessions.
type Gateway struct {
	client session.Client
}

// NewGateway создаёт шлюз. Повторы на уровне SDK выключены: таймаут и повтор решает вызывающий.
func NewGateway(cfg Config) (*Gateway, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "stripe")
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger,
	}
	if url := strings.TrimSpace(cfg.APIURL); url != "" {
		backendCfg.URL = stripe.String(url)
	}

	return &Gateway{
		client: session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: key,
		},
	}, nil
}

// CreateSession регистрирует checkout-сессию в режиме payment.
func (g *Gateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:      stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: toLineItemParams(req.Currency, req.LineItems),
	}
	params.Context = ctx

	switch req.Mode {
	case domain.UIModeHosted:
		params.UIMode = stripe.String(string(stripe.CheckoutSessionUIModeHosted))
		params.SuccessURL = stripe.String(req.SuccessURL)
		params.CancelURL = stripe.String(req.CancelURL)
	default:
		params.UIMode = stripe.String(string(stripe.CheckoutSessionUIModeEmbedded))
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := g.client.New(params)
	if err != nil {
		return domain.CheckoutSession{}, translateError(err)
	}
	return fromStripe(created), nil
}

// RetrieveSession возвращает текущее состояние сессии.
func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	found, err := g.client.Get(sessionID, params)
	if err != nil {
		return domain.CheckoutSession{}, translateError(err)
	}
	return fromStripe(found), nil
}

func toLineItemParams(currency string, items []domain.LineItem) []*stripe.CheckoutSessionLineItemParams {
	result := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			product.Description = stripe.String(item.Description)
		}
		if len(item.Images) > 0 {
			product.Images = stripe.StringSlice(item.Images)
		}

		result = append(result, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.UnitAmount),
				ProductData: product,
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	return result
}

// MapStatus сводит пару (status, payment_status) Stripe к статусу сессии.
func MapStatus(status stripe.CheckoutSessionStatus, paymentStatus stripe.CheckoutSessionPaymentStatus) domain.SessionStatus {
	switch {
	case paymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return domain.SessionStatusPaid
	case status == stripe.CheckoutSessionStatusExpired:
		return domain.SessionStatusCanceled
	case status == stripe.CheckoutSessionStatusOpen:
		return domain.SessionStatusOpen
	case status == stripe.CheckoutSessionStatusComplete && paymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid:
		return domain.SessionStatusUnpaid
	default:
		return domain.SessionStatus(paymentStatus)
	}
}

func fromStripe(s *stripe.CheckoutSession) domain.CheckoutSession {
	result := domain.CheckoutSession{
		ID:           s.ID,
		Status:       MapStatus(s.Status, s.PaymentStatus),
		ClientSecret: s.ClientSecret,
		URL:          s.URL,
		AmountTotal:  s.AmountTotal,
		Currency:     string(s.Currency),
		Metadata:     s.Metadata,
	}
	if d := s.CustomerDetails; d != nil {
		result.Buyer = domain.Buyer{Email: d.Email, Name: d.Name, Phone: d.Phone}
		if a := d.Address; a != nil {
			result.Buyer.Address = domain.Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	if result.Buyer.Email == "" {
		result.Buyer.Email = s.CustomerEmail
	}
	return result
}

func translateError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, stripeErr.Msg)
	}
	return err
}

var _ domain.PaymentGateway = (*Gateway)(nil)
