package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// checkoutMaxRetries попытки запроса к провайдеру при временной недоступности
const checkoutMaxRetries = 3

// CheckoutService инициирует оплату подписки через checkout-сессию провайдера.
// Сервис ничего не пишет в хранилище: подписка появится позже,
// когда придет вебхук checkout.session.completed.
type CheckoutService struct {
	client  stripe.Client
	catalog repository.PlanCatalog
	log     *logger.Logger
}

// NewCheckoutService создает новый сервис инициации оплаты
func NewCheckoutService(client stripe.Client, catalog repository.PlanCatalog, log *logger.Logger) *CheckoutService {
	return &CheckoutService{
		client:  client,
		catalog: catalog,
		log:     log,
	}
}

// InitiateCheckout создает checkout-сессию для пользователя и плана.
// nonce различает независимые покупки одного плана одним пользователем;
// повтор с тем же nonce попадает в тот же ключ идемпотентности
// и не создаст вторую сессию.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, userID, planID, nonce string, autoRenew bool) (*stripe.CheckoutIntent, error) {
	if userID == "" || planID == "" {
		return nil, fmt.Errorf("%w: user_id and plan_id are required", domain.ErrInvalidInput)
	}

	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidPlan, planID)
		}
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: plan %s is inactive", domain.ErrInvalidPlan, planID)
	}

	idempotencyKey := checkoutIdempotencyKey(userID, planID, nonce)

	var intent *stripe.CheckoutIntent
	operation := func() error {
		var opErr error
		intent, opErr = s.client.CreateCheckoutSession(ctx, userID, plan, autoRenew, idempotencyKey)
		if opErr == nil {
			return nil
		}
		if errors.Is(opErr, domain.ErrUpstreamUnavailable) {
			return opErr
		}
		return backoff.Permanent(opErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), checkoutMaxRetries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		s.log.Errorw("Checkout session creation failed", "error", err, "userID", userID, "planID", planID)
		return nil, err
	}

	s.log.Infow("Checkout initiated", "userID", userID, "planID", planID, "sessionID", intent.SessionID)
	return intent, nil
}

// checkoutIdempotencyKey детерминированный ключ идемпотентности:
// одинаковые аргументы всегда дают один ключ
func checkoutIdempotencyKey(userID, planID, nonce string) string {
	sum := sha256.Sum256([]byte(userID + "|" + planID + "|" + nonce))
	return "checkout_" + hex.EncodeToString(sum[:])
}
