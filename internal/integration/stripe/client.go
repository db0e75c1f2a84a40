package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Ключи метаданных для связи checkout-сессии с внутренними сущностями
const (
	metadataUserIDKey    = "user_id"
	metadataPlanIDKey    = "plan_id"
	metadataAutoRenewKey = "auto_renew"
)

// CheckoutIntent результат инициации оплаты: сессия, на которую
// нужно перенаправить пользователя
type CheckoutIntent struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Client определяет методы для взаимодействия со Stripe API
type Client interface {
	// CreateCheckoutSession создает checkout-сессию для плана.
	// idempotencyKey делает повторный вызов с теми же аргументами безопасным.
	CreateCheckoutSession(ctx context.Context, userID string, plan *domain.Plan, autoRenew bool, idempotencyKey string) (*CheckoutIntent, error)
}

// stripeClient реализует интерфейс Client
type stripeClient struct {
	client     *client.API
	successURL string
	cancelURL  string
	log        *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe
func NewStripeClient(apiKey, successURL, cancelURL string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeClient{
		client:     sc,
		successURL: successURL,
		cancelURL:  cancelURL,
		log:        log,
	}
}

// CreateCheckoutSession создает checkout-сессию в режиме подписки.
// Идентичность будущей подписки несут метаданные сессии: вебхук
// checkout.session.completed вернет их вместе с ID сессии.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, userID string, plan *domain.Plan, autoRenew bool, idempotencyKey string) (*CheckoutIntent, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.ProviderPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(sc.successURL),
		CancelURL:         stripe.String(sc.cancelURL),
		ClientReferenceID: stripe.String(userID),
		// Те же метаданные уходят и в подписку провайдера: события
		// customer.subscription.* несут их независимо от сессии
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserIDKey: userID,
				metadataPlanIDKey: plan.ID,
			},
		},
		Params: stripe.Params{
			IdempotencyKey: stripe.String(idempotencyKey),
			Context:        ctx,
		},
	}
	params.AddMetadata(metadataUserIDKey, userID)
	params.AddMetadata(metadataPlanIDKey, plan.ID)
	params.AddMetadata(metadataAutoRenewKey, strconv.FormatBool(autoRenew))

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		if isRetryable(err) {
			return nil, fmt.Errorf("stripe: failed to create checkout session: %w", domain.ErrUpstreamUnavailable)
		}
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", userID, "planID", plan.ID)
	return &CheckoutIntent{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// isRetryable отличает временную недоступность провайдера от ошибки запроса
func isRetryable(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeAPI {
			return true
		}
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	// Не-Stripe ошибка - сетевая, запрос можно повторить
	return true
}

// logStripeError логирует детали ошибки Stripe
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
