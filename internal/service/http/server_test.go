package httpsvc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment/stripepay"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const (
	jwtSecret     = "test-jwt-secret"
	webhookSecret = "whsec_test"
)

type harness struct {
	server  *httptest.Server
	carts   *memory.CartStore
	orders  domain.OrderRepository
	gateway *payment.MockGateway
}

func newHarness(t *testing.T, mode domain.UIMode) *harness {
	t.Helper()

	h := &harness{
		carts:   memory.NewCartRepository(),
		orders:  memory.NewOrderRepository(),
		gateway: payment.NewMockGateway(),
	}
	m := metrics.NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())
	svc := checkout.NewService(h.carts, h.orders, h.gateway,
		checkout.WithTimeline(memory.NewTimelineRepository()),
		checkout.WithOutbox(memory.NewOutboxRepository()),
		checkout.WithMetrics(m),
		checkout.WithUIMode(mode),
	)
	verifier, err := stripepay.NewWebhookVerifier(webhookSecret)
	require.NoError(t, err)

	api := NewServer(Config{
		Checkout:       svc,
		Orders:         h.orders,
		Webhooks:       verifier,
		Idempotency:    memory.NewIdempotencyRepository(),
		Tokens:         auth.NewTokenVerifier(jwtSecret),
		Metrics:        m,
		AllowedOrigins: []string{"https://shop.example.com"},
	})
	h.server = httptest.NewServer(api.Handler())
	t.Cleanup(h.server.Close)

	h.carts.PutProduct(domain.Product{ID: "mug", Name: "Mug", Price: "19.99"})
	h.carts.PutCart(domain.Cart{UserID: "user-1", Items: []domain.CartItem{{ProductID: "mug", Quantity: 2}}})
	return h
}

func (h *harness) do(t *testing.T, method, path, userID string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	require.NoError(t, err)
	if userID != "" {
		token, err := auth.IssueToken(jwtSecret, userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (h *harness) createSession(t *testing.T) CreateSessionResponse {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/payment/create-session", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out CreateSessionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func (h *harness) sendWebhook(t *testing.T, eventID, eventType, sessionID string) (*http.Response, []byte) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":{"id":%q,"object":"checkout.session"}}}`,
		eventID, eventType, sessionID)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return h.do(t, http.MethodPost, "/stripe-webhook", "", strings.NewReader(payload),
		map[string]string{"Stripe-Signature": signed.Header})
}

func TestCreateSession_Embedded(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)

	out := h.createSession(t)
	assert.NotEmpty(t, out.SessionID)
	assert.NotEmpty(t, out.ClientSecret)
	assert.Empty(t, out.RedirectURL)
}

func TestCreateSession_Hosted(t *testing.T) {
	h := newHarness(t, domain.UIModeHosted)

	resp, body := h.do(t, http.MethodGet, "/payment/create-session", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"redirect_url"`)
	assert.NotContains(t, string(body), `"client_secret"`)
}

func TestCreateSession_IdempotencyKeyScopedByUser(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	h.carts.PutCart(domain.Cart{UserID: "user-2", Items: []domain.CartItem{{ProductID: "mug", Quantity: 1}}})

	headers := map[string]string{"Idempotency-Key": "checkout-attempt-1"}
	for _, userID := range []string{"user-1", "user-2"} {
		resp, body := h.do(t, http.MethodPost, "/payment/create-session", userID, nil, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	require.Len(t, h.gateway.Requests, 2)
	first, second := h.gateway.Requests[0].IdempotencyKey, h.gateway.Requests[1].IdempotencyKey
	assert.NotEmpty(t, first)
	assert.NotEqual(t, "checkout-attempt-1", first)
	assert.NotEqual(t, first, second)
}

func TestCreateSession_Errors(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)

	resp, _ := h.do(t, http.MethodPost, "/payment/create-session", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/payment/create-session", "", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/payment/create-session", "nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.carts.PutProduct(domain.Product{ID: "free", Name: "Free", Price: "0"})
	h.carts.PutCart(domain.Cart{UserID: "user-2", Items: []domain.CartItem{{ProductID: "free", Quantity: 1}}})
	resp, body := h.do(t, http.MethodPost, "/payment/create-session", "user-2", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "invalid_pricing")

	h.gateway.CreateErr = fmt.Errorf("stripe down")
	resp, body = h.do(t, http.MethodPost, "/payment/create-session", "user-1", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotContains(t, string(body), "stripe down")
}

func TestSessionStatus_SettlesAndIsIdempotent(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)
	require.NoError(t, h.gateway.Complete(out.SessionID, domain.Buyer{Email: "buyer@example.com"}))

	var first, second SessionStatusResponse
	resp, body := h.do(t, http.MethodGet, "/payment/session-status?session_id="+out.SessionID, "user-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &first))

	resp, body = h.do(t, http.MethodGet, "/payment/public/session-status?session_id="+out.SessionID+"&user_id=attacker", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &second))

	assert.Equal(t, "paid", first.Status)
	assert.Equal(t, "buyer@example.com", first.CustomerEmail)
	assert.Equal(t, checkout.NextActionShowConfirmation, first.NextAction)
	assert.NotEmpty(t, first.OrderID)
	assert.Equal(t, first.OrderID, second.OrderID)

	orders, err := h.orders.ListByUser(t.Context(), "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestSessionStatus_Errors(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)

	resp, _ := h.do(t, http.MethodGet, "/payment/public/session-status", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/payment/session-status?session_id="+out.SessionID, "user-9", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/payment/public/session-status?session_id=cs_unknown", "", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	h.gateway.PutSession(domain.CheckoutSession{ID: "cs_orphan", Status: domain.SessionStatusOpen})
	resp, _ = h.do(t, http.MethodGet, "/payment/public/session-status?session_id=cs_orphan", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_CompletedSettlesOnce(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)
	require.NoError(t, h.gateway.Complete(out.SessionID, domain.Buyer{Email: "buyer@example.com"}))

	resp, body := h.sendWebhook(t, "evt_1", domain.EventSessionCompleted, out.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"result":"created"`)

	resp, body = h.sendWebhook(t, "evt_1", domain.EventSessionCompleted, out.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"result":"duplicate"`)

	_, retrieve := h.gateway.Calls()
	assert.Equal(t, 1, retrieve)

	resp, body = h.sendWebhook(t, "evt_2", domain.EventSessionAsyncPaymentSucceeded, out.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"result":"already_exists"`)
}

func TestWebhook_ExpiredReleasesCart(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)

	resp, body := h.sendWebhook(t, "evt_exp", domain.EventSessionExpired, out.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"result":"released"`)

	cart, err := h.carts.GetByUser(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.PendingSessionID)
}

func TestWebhook_UpstreamFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)
	require.NoError(t, h.gateway.Complete(out.SessionID, domain.Buyer{}))

	h.gateway.RetrieveErr = fmt.Errorf("timeout")
	resp, _ := h.sendWebhook(t, "evt_retry", domain.EventSessionCompleted, out.SessionID)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	h.gateway.RetrieveErr = nil
	resp, body := h.sendWebhook(t, "evt_retry", domain.EventSessionCompleted, out.SessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"result":"created"`)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	resp, _ := h.do(t, http.MethodPost, "/stripe-webhook", "", strings.NewReader(`{"id":"evt"}`),
		map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrders_ListAndGet(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	out := h.createSession(t)
	require.NoError(t, h.gateway.Complete(out.SessionID, domain.Buyer{Email: "buyer@example.com"}))
	_, _ = h.do(t, http.MethodGet, "/payment/session-status?session_id="+out.SessionID, "user-1", nil, nil)

	resp, body := h.do(t, http.MethodGet, "/orders", "user-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []OrderDTO
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(3998), list[0].AmountMinor)
	assert.Equal(t, "39.98", list[0].Amount)

	resp, body = h.do(t, http.MethodGet, "/orders/"+list[0].ID, "user-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var order OrderDTO
	require.NoError(t, json.Unmarshal(body, &order))
	assert.Equal(t, out.SessionID, order.SessionID)
	require.Len(t, order.Timeline, 2)
	assert.Equal(t, domain.TimelineOrderMaterialized, order.Timeline[1].Type)

	resp, _ = h.do(t, http.MethodGet, "/orders/"+list[0].ID, "user-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/orders?limit=zero", "user-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, domain.UIModeEmbedded)
	resp, _ := h.do(t, http.MethodOptions, "/payment/create-session", "", nil, map[string]string{
		"Origin":                        "https://shop.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "https://shop.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
