package stripe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
)

// EventClassifier нормализует сырые типы событий провайдера в закрытое
// множество намерений. Любой незнакомый тип отображается в
// IntentUnrecognized - это штатный путь, а не ошибка.
type EventClassifier interface {
	Classify(envelope domain.EventEnvelope, payload []byte) (domain.Intent, domain.EventData, error)
}

// stripeClassifier реализация EventClassifier для событий Stripe
type stripeClassifier struct {
	log *logger.Logger
}

// NewEventClassifier создает новый классификатор событий
func NewEventClassifier(log *logger.Logger) EventClassifier {
	return &stripeClassifier{log: log}
}

// eventBody обертка data.object полного события
type eventBody struct {
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSessionObject тело checkout.session.completed
type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
}

// subscriptionObject тело customer.subscription.*
type subscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
}

// invoiceObject тело invoice.*
type invoiceObject struct {
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	AttemptCount int    `json:"attempt_count"`
	Currency     string `json:"currency"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
}

// Classify извлекает намерение и нормализованные данные из события
func (c *stripeClassifier) Classify(envelope domain.EventEnvelope, payload []byte) (domain.Intent, domain.EventData, error) {
	var body eventBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	switch envelope.Type {
	case "checkout.session.completed":
		return c.classifyCheckoutCompleted(body.Data.Object)

	case "customer.subscription.created":
		return c.classifySubscription(body.Data.Object, domain.IntentSubscriptionCreated)

	case "customer.subscription.updated":
		return c.classifySubscription(body.Data.Object, domain.IntentSubscriptionUpdated)

	case "customer.subscription.deleted":
		return c.classifySubscription(body.Data.Object, domain.IntentSubscriptionCanceled)

	case "invoice.paid", "invoice.payment_succeeded":
		return c.classifyInvoice(body.Data.Object, domain.IntentPaymentSucceeded)

	case "invoice.payment_failed":
		return c.classifyInvoice(body.Data.Object, domain.IntentPaymentFailed)
	}

	c.log.Debugw("Unrecognized event type", "type", envelope.Type, "externalEventID", envelope.ExternalID)
	return domain.IntentUnrecognized, domain.EventData{}, nil
}

func (c *stripeClassifier) classifyCheckoutCompleted(object json.RawMessage) (domain.Intent, domain.EventData, error) {
	var session checkoutSessionObject
	if err := json.Unmarshal(object, &session); err != nil {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if session.ID == "" {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: checkout session without id", domain.ErrMalformedPayload)
	}

	userID := session.Metadata[metadataUserIDKey]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	autoRenew := true
	if raw, ok := session.Metadata[metadataAutoRenewKey]; ok {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			autoRenew = parsed
		}
	}

	data := domain.EventData{
		CheckoutSessionID:      session.ID,
		ExternalSubscriptionID: session.Subscription,
		UserID:                 userID,
		PlanID:                 session.Metadata[metadataPlanIDKey],
		AutoRenew:              autoRenew,
		Amount:                 float64(session.AmountTotal) / 100,
		Currency:               session.Currency,
	}
	return domain.IntentCheckoutCompleted, data, nil
}

func (c *stripeClassifier) classifySubscription(object json.RawMessage, intent domain.Intent) (domain.Intent, domain.EventData, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(object, &sub); err != nil {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if sub.ID == "" {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: subscription without id", domain.ErrMalformedPayload)
	}

	// Метаданные подписки заполняются при создании checkout-сессии
	// и позволяют найти ожидающую Pending-подписку, если сессия
	// пришла без ID подписки провайдера
	data := domain.EventData{
		ExternalSubscriptionID: sub.ID,
		ProviderStatus:         sub.Status,
		UserID:                 sub.Metadata[metadataUserIDKey],
		PlanID:                 sub.Metadata[metadataPlanIDKey],
		PeriodStart:            unixTime(sub.CurrentPeriodStart),
		PeriodEnd:              unixTime(sub.CurrentPeriodEnd),
		AutoRenew:              !sub.CancelAtPeriodEnd,
	}
	return intent, data, nil
}

func (c *stripeClassifier) classifyInvoice(object json.RawMessage, intent domain.Intent) (domain.Intent, domain.EventData, error) {
	var inv invoiceObject
	if err := json.Unmarshal(object, &inv); err != nil {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if inv.Subscription == "" {
		return domain.IntentUnrecognized, domain.EventData{}, fmt.Errorf("%w: invoice without subscription", domain.ErrMalformedPayload)
	}

	amount := inv.AmountPaid
	if intent == domain.IntentPaymentFailed {
		amount = inv.AmountDue
	}

	data := domain.EventData{
		ExternalSubscriptionID: inv.Subscription,
		Attempt:                inv.AttemptCount,
		Amount:                 float64(amount) / 100,
		Currency:               inv.Currency,
		PeriodStart:            unixTime(inv.PeriodStart),
		PeriodEnd:              unixTime(inv.PeriodEnd),
	}
	return intent, data, nil
}

func unixTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
