package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/lifecycle"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v78/webhook"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testJWTSecret     = "jwt_test_secret"
)

type routerEnv struct {
	router *gin.Engine
	store  *repository.InMemoryStore
}

// stubStripeClient возвращает фиксированную checkout-сессию
type stubStripeClient struct{}

func (stubStripeClient) CreateCheckoutSession(ctx context.Context, userID string, plan *domain.Plan, autoRenew bool, idempotencyKey string) (*stripe.CheckoutIntent, error) {
	return &stripe.CheckoutIntent{SessionID: "cs_test_1", CheckoutURL: "https://checkout.example/cs_test_1"}, nil
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.ERROR)
	log.SetOutput(os.Stderr)

	store := repository.NewInMemoryStore()
	catalog := repository.NewInMemoryPlanCatalog(
		domain.Plan{ID: "pro", Name: "Pro", Price: 9.99, Currency: "usd", ProviderPriceID: "price_pro", Active: true},
	)

	webhookService := service.NewWebhookService(
		stripe.NewSignatureVerifier(testWebhookSecret, log),
		stripe.NewEventClassifier(log),
		store,
		lifecycle.NewMachine(3),
		nil, nil,
		service.WebhookConfig{},
		log,
	)
	checkoutService := service.NewCheckoutService(stubStripeClient{}, catalog, log)
	subscriptionService := service.NewSubscriptionService(store, nil, log)

	auth := middleware.NewJWTMiddleware(middleware.NewHMACTokenValidator(testJWTSecret), log)
	router := SetupRouter(webhookService, checkoutService, subscriptionService, auth, prometheus.NewRegistry(), log)

	return &routerEnv{router: router, store: store}
}

func signedWebhookRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	now := time.Now()
	sig := stripewebhook.ComputeSignature(now, payload, testWebhookSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig))
	return req
}

func bearerToken(t *testing.T, userID, scope string) string {
	t.Helper()
	claims := middleware.TokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthEndpoint(t *testing.T) {
	env := newRouterEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookEndpointAcceptsSignedEvent(t *testing.T) {
	env := newRouterEnv(t)
	payload := []byte(`{
		"id": "evt_http_1",
		"type": "checkout.session.completed",
		"created": ` + fmt.Sprint(time.Now().Unix()) + `,
		"data": {"object": {"id": "cs_test_1", "metadata": {"user_id": "user-1", "plan_id": "pro"}, "amount_total": 999, "currency": "usd"}}
	}`)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, signedWebhookRequest(t, payload))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"received": true}`, w.Body.String())

	sub, err := env.store.GetSubscription(context.Background(), lifecycle.SubscriptionIDFromSession("cs_test_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
}

func TestWebhookEndpointRejectsBadSignature(t *testing.T) {
	env := newRouterEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutEndpointRequiresAuth(t *testing.T) {
	env := newRouterEnv(t)
	body := []byte(`{"plan_id":"pro","nonce":"n1"}`)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutEndpointCreatesSession(t *testing.T) {
	env := newRouterEnv(t)
	body := []byte(`{"plan_id":"pro","nonce":"n1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "user-1", ""))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var intent stripe.CheckoutIntent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &intent))
	assert.Equal(t, "cs_test_1", intent.SessionID)
}

func TestCheckoutEndpointRejectsUnknownPlan(t *testing.T) {
	env := newRouterEnv(t)
	body := []byte(`{"plan_id":"nonexistent","nonce":"n1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(body))
	req.Header.Set("Authorization", bearerToken(t, "user-1", ""))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "InvalidPlan")
}

func TestSubscriptionsMeReturnsUserState(t *testing.T) {
	env := newRouterEnv(t)

	event := &domain.WebhookEvent{
		ID: uuid.New(), ExternalID: "evt_seed", Type: "checkout.session.completed",
		Status: domain.ProcessingStatusPending, ReceivedAt: time.Now(),
	}
	require.NoError(t, env.store.InsertEvent(context.Background(), event))
	sub := domain.Subscription{
		ID: uuid.New(), UserID: "user-1", PlanID: "pro",
		Status: domain.SubscriptionStatusActive, Version: 1, CreatedAt: time.Now(),
	}
	require.NoError(t, env.store.CommitTransition(context.Background(), repository.TransitionCommit{
		Event: event, Outcome: domain.ProcessingStatusProcessed, Subscription: &sub, Created: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/me", nil)
	req.Header.Set("Authorization", bearerToken(t, "user-1", ""))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result service.UserSubscriptions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.Current)
	assert.Equal(t, sub.ID, result.Current.ID)
}

func TestWebhookEventsRequireAdminScope(t *testing.T) {
	env := newRouterEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/webhook-events", nil)
	req.Header.Set("Authorization", bearerToken(t, "user-1", ""))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/webhook-events", nil)
	req.Header.Set("Authorization", bearerToken(t, "ops-1", middleware.ScopeAdmin))

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
