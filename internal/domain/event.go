package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus статус обработки вебхук-события в журнале
type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusIgnored   ProcessingStatus = "ignored"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// WebhookEvent запись журнала обработанных вебхук-событий.
// ExternalID уникален глобально и служит ключом дедупликации.
type WebhookEvent struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	ExternalID string           `json:"external_id" db:"external_id"` // ID события в платежной системе
	Type       string           `json:"type" db:"type"`               // сырой тип события провайдера
	Status     ProcessingStatus `json:"status" db:"status"`
	// PayloadDigest SHA-256 сырого тела: позволяет отличить честный повтор
	// доставки от другого тела под тем же ID (аномалия дедупликации)
	PayloadDigest string     `json:"payload_digest" db:"payload_digest"`
	Payload       []byte     `json:"payload,omitempty" db:"payload"`
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
	ReceivedAt    time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// EventEnvelope минимальный конверт вебхук-события: ID и сырой тип
type EventEnvelope struct {
	ExternalID string `json:"id"`
	Type       string `json:"type"`
}

// Intent нормализованное намерение события. Закрытое множество:
// классификатор обязан отобразить любой сырой тип в одно из этих значений.
type Intent string

const (
	IntentCheckoutCompleted    Intent = "checkout_completed"
	IntentSubscriptionCreated  Intent = "subscription_created"
	IntentSubscriptionUpdated  Intent = "subscription_updated"
	IntentSubscriptionCanceled Intent = "subscription_canceled"
	IntentPaymentSucceeded     Intent = "payment_succeeded"
	IntentPaymentFailed        Intent = "payment_failed"
	IntentUnrecognized         Intent = "unrecognized"
)

// EventData нормализованные данные события, извлеченные классификатором.
// Заполняются только поля, осмысленные для конкретного намерения.
type EventData struct {
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	CheckoutSessionID      string    `json:"checkout_session_id,omitempty"`
	UserID                 string    `json:"user_id,omitempty"`
	PlanID                 string    `json:"plan_id,omitempty"`
	ProviderStatus         string    `json:"provider_status,omitempty"` // active / past_due из subscription.updated
	PeriodStart            time.Time `json:"period_start,omitempty"`
	PeriodEnd              time.Time `json:"period_end,omitempty"`
	AutoRenew              bool      `json:"auto_renew,omitempty"`
	Attempt                int       `json:"attempt,omitempty"` // счетчик попыток оплаты из invoice.payment_failed
	Amount                 float64   `json:"amount,omitempty"`
	Currency               string    `json:"currency,omitempty"`
}
