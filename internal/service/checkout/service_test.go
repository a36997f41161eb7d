package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	carts    *memory.CartStore
	orders   domain.OrderRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway
	service  *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		carts:    memory.NewCartRepository(),
		orders:   memory.NewOrderRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		gateway:  payment.NewMockGateway(),
	}
	base := []Option{
		WithOutbox(f.outbox),
		WithTimeline(f.timeline),
		WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())),
		WithFrontendURL("https://shop.example.com/"),
	}
	f.service = NewService(f.carts, f.orders, f.gateway, append(base, opts...)...)

	f.carts.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: "19.99", Images: []string{"https://cdn.example.com/mug.png"}})
	f.carts.PutProduct(domain.Product{ID: "pin", Name: "Pin", Price: "5.50"})
	return f
}

func (f *fixture) seedCart(userID string) domain.Cart {
	return f.carts.PutCart(domain.Cart{
		UserID: userID,
		Items: []domain.CartItem{
			{ProductID: "mug", Quantity: 2},
			{ProductID: "pin", Quantity: 1},
		},
	})
}

func (f *fixture) paidSession(t *testing.T, userID string) string {
	t.Helper()
	f.seedCart(userID)
	start, err := f.service.CreateSession(context.Background(), CreateSessionInput{UserID: userID})
	require.NoError(t, err)
	require.NoError(t, f.gateway.Complete(start.SessionID, domain.Buyer{Email: "buyer@example.com"}))
	return start.SessionID
}

// Сценарий A: корзина -> сессия -> оплата -> заказ, корзина удалена.
func TestCheckout_CreateAndSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cart := f.seedCart("user-1")

	start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1", IdempotencyKey: "idem-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.UIModeEmbedded, start.Mode)
	assert.NotEmpty(t, start.ClientSecret)
	assert.Empty(t, start.RedirectURL)

	require.Len(t, f.gateway.Requests, 1)
	req := f.gateway.Requests[0]
	assert.Equal(t, "mxn", req.Currency)
	assert.Equal(t, processorIdempotencyKey("user-1", "idem-1"), req.IdempotencyKey)
	assert.Equal(t, "https://shop.example.com/return?session_id={CHECKOUT_SESSION_ID}", req.ReturnURL)
	assert.Equal(t, map[string]string{domain.MetadataUserID: "user-1", domain.MetadataCartID: cart.ID}, req.Metadata)
	require.Len(t, req.LineItems, 2)
	assert.Equal(t, int64(1999), req.LineItems[0].UnitAmount)
	assert.Equal(t, int64(2), req.LineItems[0].Quantity)

	bound, err := f.carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, start.SessionID, bound.PendingSessionID)

	require.NoError(t, f.gateway.Complete(start.SessionID, domain.Buyer{Email: "buyer@example.com"}))

	settlement, err := f.service.GetStatus(ctx, start.SessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaid, settlement.Status)
	assert.Equal(t, "buyer@example.com", settlement.BuyerEmail)
	assert.Equal(t, OutcomeCreated, settlement.Outcome)
	assert.Equal(t, NextActionShowConfirmation, settlement.NextAction)
	require.NotEmpty(t, settlement.OrderID)

	order, err := f.orders.Get(ctx, settlement.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1999+550), order.AmountMinor)
	assert.Equal(t, start.SessionID, order.PaymentSessionID)
	assert.Equal(t, "user-1", order.UserID)
	assert.Empty(t, order.ValidateInvariants())

	_, err = f.carts.GetByUser(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, EventTypeOrderCreated, pending[0].EventType)
	assert.Contains(t, string(pending[0].Payload), `"amount":"45.48"`)

	events, err := f.service.Timeline(ctx, start.SessionID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{domain.TimelineSessionOpened, domain.TimelineOrderMaterialized}, types)
}

// Сценарий B: повторная сверка возвращает тот же заказ.
func TestCheckout_SettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.paidSession(t, "user-1")

	first, err := f.service.Settle(ctx, sessionID)
	require.NoError(t, err)
	second, err := f.service.Settle(ctx, sessionID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, first.Outcome)
	assert.Equal(t, OutcomeAlreadyExists, second.Outcome)
	assert.Equal(t, first.OrderID, second.OrderID)

	orders, err := f.orders.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Len(t, f.outbox.AllPending(), 1)
}

func TestCheckout_ConcurrentSettlementCreatesOneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.paidSession(t, "user-1")

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		orderIDs = make(map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.service.GetStatus(ctx, sessionID, "user-1")
			if err != nil {
				t.Errorf("unexpected settle error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Outcome == OutcomeCreated {
				created++
			}
			if res.OrderID != "" {
				orderIDs[res.OrderID] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, orderIDs, 1)
	orders, err := f.orders.ListByUser(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

// Сценарий C: сессия ещё открыта, заказ не создаётся.
func TestCheckout_OpenSessionDoesNotCreateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCart("user-1")

	start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	require.NoError(t, err)

	res, err := f.service.GetStatus(ctx, start.SessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusOpen, res.Status)
	assert.Equal(t, OutcomeNotPaid, res.Outcome)
	assert.Equal(t, NextActionResumePayment, res.NextAction)
	assert.Empty(t, res.OrderID)

	cart, err := f.carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

// Сценарий D: неизвестный статус передаётся без изменений.
func TestCheckout_UnknownStatusPassesThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCart("user-1")

	start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	require.NoError(t, err)
	require.NoError(t, f.gateway.SetStatus(start.SessionID, "no_payment_required"))

	res, err := f.service.GetStatus(ctx, start.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatus("no_payment_required"), res.Status)
	assert.Empty(t, res.NextAction)
	assert.Equal(t, OutcomeNotPaid, res.Outcome)
}

func TestCheckout_UnpaidAndCanceledRestart(t *testing.T) {
	for _, status := range []domain.SessionStatus{domain.SessionStatusUnpaid, domain.SessionStatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.seedCart("user-1")

			start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
			require.NoError(t, err)
			require.NoError(t, f.gateway.SetStatus(start.SessionID, status))

			res, err := f.service.GetStatus(ctx, start.SessionID, "user-1")
			require.NoError(t, err)
			assert.Equal(t, NextActionRestartCheckout, res.NextAction)
		})
	}
}

func TestCheckout_CreateSessionRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "  "})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("no cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "ghost"})
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.carts.PutCart(domain.Cart{UserID: "user-1"})
		_, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrCartEmpty)
		assert.True(t, domain.IsNotFound(err))
		create, _ := f.gateway.Calls()
		assert.Zero(t, create)
	})

	t.Run("invalid pricing makes no processor call", func(t *testing.T) {
		f := newFixture(t)
		f.carts.PutProduct(domain.Product{ID: "broken", Name: "Broken", Price: "n/a"})
		f.carts.PutCart(domain.Cart{UserID: "user-1", Items: []domain.CartItem{
			{ProductID: "mug", Quantity: 1},
			{ProductID: "broken", Quantity: 1},
		}})
		_, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrInvalidPricing)
		create, _ := f.gateway.Calls()
		assert.Zero(t, create)
	})

	t.Run("processor failure", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("user-1")
		f.gateway.CreateErr = errors.New("connection reset")
		_, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
		assert.ErrorIs(t, err, domain.ErrUpstreamPayment)

		cart, getErr := f.carts.GetByUser(ctx, "user-1")
		require.NoError(t, getErr)
		assert.Empty(t, cart.PendingSessionID)
	})
}

func TestCheckout_HostedMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithUIMode(domain.UIModeHosted), WithCurrency("USD"))
	f.seedCart("user-1")

	start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.UIModeHosted, start.Mode)
	assert.True(t, strings.HasPrefix(start.RedirectURL, "https://"))
	assert.Empty(t, start.ClientSecret)

	req := f.gateway.Requests[0]
	assert.Equal(t, "usd", req.Currency)
	assert.Empty(t, req.ReturnURL)
	assert.Equal(t, "https://shop.example.com/return?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "https://shop.example.com/cart", req.CancelURL)
}

func TestCheckout_IdentityBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("caller mismatch is forbidden", func(t *testing.T) {
		f := newFixture(t)
		sessionID := f.paidSession(t, "user-1")

		_, err := f.service.GetStatus(ctx, sessionID, "intruder")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		orders, listErr := f.orders.ListByUser(ctx, "user-1", 10)
		require.NoError(t, listErr)
		assert.Empty(t, orders)
	})

	t.Run("falls back to cart binding", func(t *testing.T) {
		f := newFixture(t)
		f.seedCart("user-2")
		require.NoError(t, f.carts.SetPendingSession(ctx, "user-2", "cs_legacy", time.Now()))
		f.gateway.PutSession(domain.CheckoutSession{ID: "cs_legacy", Status: domain.SessionStatusPaid})

		res, err := f.service.GetStatus(ctx, "cs_legacy", "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, res.Outcome)

		order, err := f.orders.Get(ctx, res.OrderID)
		require.NoError(t, err)
		assert.Equal(t, "user-2", order.UserID)
		assert.Equal(t, "mxn", order.Currency)
	})

	t.Run("no binding is unauthorized", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.PutSession(domain.CheckoutSession{ID: "cs_orphan", Status: domain.SessionStatusPaid})

		_, err := f.service.GetStatus(ctx, "cs_orphan", "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestCheckout_SettlementErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.GetStatus(ctx, " ", "")
	assert.ErrorIs(t, err, domain.ErrSessionIDRequired)

	_, err = f.service.GetStatus(ctx, "cs_unknown", "")
	assert.ErrorIs(t, err, domain.ErrUpstreamPayment)

	f.gateway.RetrieveErr = context.DeadlineExceeded
	_, err = f.service.GetStatus(ctx, "cs_unknown", "")
	assert.ErrorIs(t, err, domain.ErrUpstreamPayment)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// blockingGateway отвечает только по истечении контекста вызова.
type blockingGateway struct{}

func (blockingGateway) CreateSession(ctx context.Context, _ domain.SessionRequest) (domain.CheckoutSession, error) {
	<-ctx.Done()
	return domain.CheckoutSession{}, ctx.Err()
}

func (blockingGateway) RetrieveSession(ctx context.Context, _ string) (domain.CheckoutSession, error) {
	<-ctx.Done()
	return domain.CheckoutSession{}, ctx.Err()
}

func TestCheckout_ProcessorTimeout(t *testing.T) {
	ctx := context.Background()
	const timeout = 50 * time.Millisecond

	carts := memory.NewCartRepository()
	carts.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: "19.99"})
	carts.PutCart(domain.Cart{UserID: "user-1", Items: []domain.CartItem{{ProductID: "mug", Quantity: 1}}})
	svc := NewService(carts, memory.NewOrderRepository(), blockingGateway{},
		WithProcessorTimeout(timeout),
		WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	started := time.Now()
	_, err := svc.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	elapsed := time.Since(started)
	require.ErrorIs(t, err, domain.ErrUpstreamPayment)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*time.Second)

	cart, err := carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.PendingSessionID, "no session is bound when the processor times out")

	started = time.Now()
	_, err = svc.GetStatus(ctx, "cs_slow", "user-1")
	elapsed = time.Since(started)
	require.ErrorIs(t, err, domain.ErrUpstreamPayment)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestCheckout_PaidSessionWithBrokenCatalog(t *testing.T) {
	ctx := context.Background()

	for _, price := range []string{"0", "free"} {
		t.Run(price, func(t *testing.T) {
			f := newFixture(t)
			sessionID := f.paidSession(t, "user-1")
			f.carts.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: price})

			for i := 0; i < 3; i++ {
				res, err := f.service.GetStatus(ctx, sessionID, "user-1")
				require.NoError(t, err)
				assert.Equal(t, domain.SessionStatusPaid, res.Status)
				assert.Equal(t, "buyer@example.com", res.BuyerEmail)
				assert.Equal(t, OutcomeNeedsReview, res.Outcome)
				assert.Equal(t, NextActionShowConfirmation, res.NextAction)
				assert.Empty(t, res.OrderID)
			}

			cart, err := f.carts.GetByUser(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, sessionID, cart.PendingSessionID, "cart stays bound for a later settlement")

			events, err := f.service.Timeline(ctx, sessionID)
			require.NoError(t, err)
			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, domain.TimelineSettlementNeedsReview, last.Type)
			assert.Contains(t, last.Reason, "mug")

			f.carts.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: "19.99"})
			res, err := f.service.Settle(ctx, sessionID)
			require.NoError(t, err)
			assert.Equal(t, OutcomeCreated, res.Outcome)
			assert.NotEmpty(t, res.OrderID)
		})
	}
}

func TestCheckout_CreatedOrderConsumesCartOfNewerSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.paidSession(t, "user-1")

	second, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	require.NoError(t, err)
	require.NotEqual(t, first, second.SessionID)

	res, err := f.service.Settle(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	_, err = f.carts.GetByUser(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrCartNotFound)

	require.NoError(t, f.gateway.Complete(second.SessionID, domain.Buyer{Email: "buyer@example.com"}))
	res, err = f.service.Settle(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCartMissing, res.Outcome)

	orders, err := f.orders.ListByUser(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCheckout_PaidWithoutCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.paidSession(t, "user-1")
	require.NoError(t, f.carts.Delete(ctx, "user-1"))

	res, err := f.service.GetStatus(ctx, sessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCartMissing, res.Outcome)
	assert.Equal(t, domain.SessionStatusPaid, res.Status)
	assert.Empty(t, res.OrderID)
}

func TestCheckout_DuplicateKeepsNewCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sessionID := f.paidSession(t, "user-1")

	_, err := f.service.Settle(ctx, sessionID)
	require.NoError(t, err)

	// Пользователь успел собрать новую корзину.
	f.seedCart("user-1")
	res, err := f.service.Settle(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, res.Outcome)

	cart, err := f.carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestCheckout_Expire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCart("user-1")

	start, err := f.service.CreateSession(ctx, CreateSessionInput{UserID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, f.service.Expire(ctx, start.SessionID, domain.EventSessionExpired))
	cart, err := f.carts.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.PendingSessionID)

	require.NoError(t, f.service.Expire(ctx, "cs_unknown", domain.EventSessionExpired))
	assert.ErrorIs(t, f.service.Expire(ctx, "", ""), domain.ErrSessionIDRequired)

	events, err := f.service.Timeline(ctx, start.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineSessionExpired, events[1].Type)
}

func TestNextActionFor(t *testing.T) {
	assert.Equal(t, NextActionResumePayment, NextActionFor(domain.SessionStatusOpen))
	assert.Equal(t, NextActionShowConfirmation, NextActionFor(domain.SessionStatusPaid))
	assert.Equal(t, NextActionRestartCheckout, NextActionFor(domain.SessionStatusUnpaid))
	assert.Equal(t, NextActionRestartCheckout, NextActionFor(domain.SessionStatusCanceled))
	assert.Empty(t, NextActionFor("processing"))
}
