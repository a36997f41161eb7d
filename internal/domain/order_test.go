package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	return domain.Order{
		ID:               "order-1",
		UserID:           "user-1",
		PaymentSessionID: "cs_test_1",
		PaymentStatus:    domain.SessionStatusPaid,
		Currency:         "mxn",
		AmountMinor:      3998 + 500,
		Items: []domain.OrderItem{
			{ProductID: "p-1", Name: "Mug", Qty: 2, PriceMinor: 1999},
			{ProductID: "p-2", Name: "Sticker", Qty: 1, PriceMinor: 500},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *domain.Order)
		want   error
	}{
		{name: "missing user", mutate: func(o *domain.Order) { o.UserID = "" }, want: domain.ErrUserRequired},
		{name: "missing session", mutate: func(o *domain.Order) { o.PaymentSessionID = "" }, want: domain.ErrSessionIDRequired},
		{name: "missing currency", mutate: func(o *domain.Order) { o.Currency = "" }, want: domain.ErrCurrencyRequired},
		{name: "no items", mutate: func(o *domain.Order) { o.Items = nil; o.AmountMinor = 0 }, want: domain.ErrItemsRequired},
		{name: "zero qty", mutate: func(o *domain.Order) { o.Items[1].Qty = 0; o.AmountMinor = 3998 }, want: domain.ErrItemQtyInvalid},
		{name: "zero price", mutate: func(o *domain.Order) { o.Items[1].PriceMinor = 0; o.AmountMinor = 3998 }, want: domain.ErrItemPriceInvalid},
		{name: "amount mismatch", mutate: func(o *domain.Order) { o.AmountMinor = 1 }, want: domain.ErrAmountMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mutate(&order)
			errs := order.ValidateInvariants()
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}
