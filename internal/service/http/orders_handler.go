package httpsvc

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

// OrderItemDTO — позиция заказа в ответе.
type OrderItemDTO struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// TimelineEventDTO — событие checkout-сессии в ответе.
type TimelineEventDTO struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	Occurred string `json:"occurred"`
}

// OrderDTO — заказ в ответе.
type OrderDTO struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	PaymentStatus string             `json:"payment_status"`
	Currency      string             `json:"currency"`
	AmountMinor   int64              `json:"amount_minor"`
	Amount        string             `json:"amount"`
	CustomerEmail string             `json:"customer_email,omitempty"`
	Items         []OrderItemDTO     `json:"items"`
	Timeline      []TimelineEventDTO `json:"timeline,omitempty"`
	CreatedAt     string             `json:"created_at"`
}

// GET /orders?limit=
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_argument", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxOrdersPageLimit)
	}

	orders, err := s.orders.ListByUser(r.Context(), auth.UserIDFromContext(r.Context()), limit)
	if err != nil {
		respondDomainError(w, s.requestLog(r), err)
		return
	}

	dtos := make([]OrderDTO, 0, len(orders))
	for _, order := range orders {
		dtos = append(dtos, toOrderDTO(order, nil))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /orders/{order_id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "order_id is required")
		return
	}

	order, err := s.orders.Get(r.Context(), orderID)
	if err == nil && order.UserID != auth.UserIDFromContext(r.Context()) {
		// Чужой заказ выглядит как отсутствующий.
		err = domain.ErrOrderNotFound
	}
	if err != nil {
		respondDomainError(w, s.requestLog(r), err)
		return
	}

	events, err := s.checkout.Timeline(r.Context(), order.PaymentSessionID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.requestLog(r).WithError(err).Warn("failed to load checkout timeline")
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order, events))
}

func toOrderDTO(order domain.Order, events []domain.TimelineEvent) OrderDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemDTO{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	var timeline []TimelineEventDTO
	for _, e := range events {
		timeline = append(timeline, TimelineEventDTO{
			Type:     e.Type,
			Reason:   e.Reason,
			Occurred: e.Occurred.UTC().Format(time.RFC3339),
		})
	}

	return OrderDTO{
		ID:            order.ID,
		SessionID:     order.PaymentSessionID,
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		AmountMinor:   order.AmountMinor,
		Amount:        checkout.FormatMinor(order.AmountMinor),
		CustomerEmail: order.Buyer.Email,
		Items:         items,
		Timeline:      timeline,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
	}
}
