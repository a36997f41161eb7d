package app

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment/stripepay"
)

func TestInitPaymentGateway_Mock(t *testing.T) {
	deps := &runtimeDependencies{}
	cfg := Config{PaymentProvider: PaymentProviderMock, AllowMockIntegrations: true}

	pay, err := initPaymentGateway(context.Background(), cfg, deps, log.WithField("test", "payment"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pay.gateway.(*payment.MockGateway); !ok {
		t.Fatalf("expected mock gateway, got %T", pay.gateway)
	}
	if pay.webhooks != nil {
		t.Fatal("webhooks must stay nil without a secret")
	}
}

func TestInitPaymentGateway_MockRequiresOptIn(t *testing.T) {
	_, err := initPaymentGateway(context.Background(), Config{PaymentProvider: PaymentProviderMock}, &runtimeDependencies{}, log.WithField("test", "payment"))
	if err == nil || !strings.Contains(err.Error(), "mock integrations") {
		t.Fatalf("expected opt-in error, got %v", err)
	}
}

func TestInitPaymentGateway_Stripe(t *testing.T) {
	cfg := Config{
		PaymentProvider:     PaymentProviderStripe,
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_test",
		StripeAPIURL:        "http://127.0.0.1:12111",
	}

	pay, err := initPaymentGateway(context.Background(), cfg, &runtimeDependencies{}, log.WithField("test", "payment"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pay.gateway.(*stripepay.Gateway); !ok {
		t.Fatalf("expected stripe gateway, got %T", pay.gateway)
	}
	if _, ok := pay.webhooks.(*stripepay.WebhookVerifier); !ok {
		t.Fatalf("expected stripe webhook verifier, got %T", pay.webhooks)
	}
}

func TestInitPaymentGateway_StripeRequiresKey(t *testing.T) {
	_, err := initPaymentGateway(context.Background(), Config{PaymentProvider: PaymentProviderStripe}, &runtimeDependencies{}, log.WithField("test", "payment"))
	if err == nil {
		t.Fatal("expected error without stripe key")
	}
}

func TestInitPaymentGateway_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	deps := &runtimeDependencies{}
	cfg := Config{
		PaymentProvider:       PaymentProviderMock,
		AllowMockIntegrations: true,
		RedisAddr:             mr.Addr(),
	}

	pay, err := initPaymentGateway(context.Background(), cfg, deps, log.WithField("test", "payment"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pay.gateway.(*cache.CachingGateway); !ok {
		t.Fatalf("expected caching gateway, got %T", pay.gateway)
	}
	if len(deps.checkers) != 1 || deps.checkers[0].name != "redis" {
		t.Fatalf("expected redis checker, got %+v", deps.checkers)
	}
	if len(deps.closers) != 1 {
		t.Fatalf("expected redis closer, got %d", len(deps.closers))
	}
	if err := deps.close(context.Background(), log.WithField("test", "payment")); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}
