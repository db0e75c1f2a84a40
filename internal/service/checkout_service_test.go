package service

import (
	"context"
	"testing"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStripeClient запоминает ключи идемпотентности и имитирует сбои провайдера
type stubStripeClient struct {
	keys     []string
	failures int
}

func (s *stubStripeClient) CreateCheckoutSession(ctx context.Context, userID string, plan *domain.Plan, autoRenew bool, idempotencyKey string) (*stripe.CheckoutIntent, error) {
	s.keys = append(s.keys, idempotencyKey)
	if s.failures > 0 {
		s.failures--
		return nil, domain.ErrUpstreamUnavailable
	}
	return &stripe.CheckoutIntent{SessionID: "cs_test_1", CheckoutURL: "https://checkout.example/cs_test_1"}, nil
}

func testCatalog() repository.PlanCatalog {
	return repository.NewInMemoryPlanCatalog(
		domain.Plan{ID: "pro", Name: "Pro", Price: 9.99, Currency: "usd", ProviderPriceID: "price_pro", Active: true},
		domain.Plan{ID: "legacy", Name: "Legacy", Price: 4.99, Currency: "usd", ProviderPriceID: "price_legacy", Active: false},
	)
}

func TestInitiateCheckoutReturnsSession(t *testing.T) {
	client := &stubStripeClient{}
	svc := NewCheckoutService(client, testCatalog(), testLogger())

	intent, err := svc.InitiateCheckout(context.Background(), "user-1", "pro", "nonce-1", true)

	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", intent.SessionID)
	assert.NotEmpty(t, intent.CheckoutURL)
}

func TestInitiateCheckoutIdempotencyKeyIsDeterministic(t *testing.T) {
	client := &stubStripeClient{}
	svc := NewCheckoutService(client, testCatalog(), testLogger())
	ctx := context.Background()

	_, err := svc.InitiateCheckout(ctx, "user-1", "pro", "nonce-1", true)
	require.NoError(t, err)
	_, err = svc.InitiateCheckout(ctx, "user-1", "pro", "nonce-1", true)
	require.NoError(t, err)
	_, err = svc.InitiateCheckout(ctx, "user-1", "pro", "nonce-2", true)
	require.NoError(t, err)

	require.Len(t, client.keys, 3)
	assert.Equal(t, client.keys[0], client.keys[1])
	assert.NotEqual(t, client.keys[0], client.keys[2])
}

func TestInitiateCheckoutRejectsUnknownPlan(t *testing.T) {
	svc := NewCheckoutService(&stubStripeClient{}, testCatalog(), testLogger())

	_, err := svc.InitiateCheckout(context.Background(), "user-1", "nonexistent", "nonce-1", true)

	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestInitiateCheckoutRejectsInactivePlan(t *testing.T) {
	svc := NewCheckoutService(&stubStripeClient{}, testCatalog(), testLogger())

	_, err := svc.InitiateCheckout(context.Background(), "user-1", "legacy", "nonce-1", true)

	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestInitiateCheckoutRetriesTransientFailures(t *testing.T) {
	client := &stubStripeClient{failures: 2}
	svc := NewCheckoutService(client, testCatalog(), testLogger())

	intent, err := svc.InitiateCheckout(context.Background(), "user-1", "pro", "nonce-1", true)

	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", intent.SessionID)
	assert.Len(t, client.keys, 3)
}

func TestInitiateCheckoutGivesUpAfterRetries(t *testing.T) {
	client := &stubStripeClient{failures: 10}
	svc := NewCheckoutService(client, testCatalog(), testLogger())

	_, err := svc.InitiateCheckout(context.Background(), "user-1", "pro", "nonce-1", true)

	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Len(t, client.keys, checkoutMaxRetries)
}

func TestInitiateCheckoutValidatesInput(t *testing.T) {
	svc := NewCheckoutService(&stubStripeClient{}, testCatalog(), testLogger())

	_, err := svc.InitiateCheckout(context.Background(), "", "pro", "nonce-1", true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.InitiateCheckout(context.Background(), "user-1", "", "nonce-1", true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
