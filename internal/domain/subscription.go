package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "pending"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// IsTerminal сообщает, является ли статус терминальным.
// Из терминального состояния подписка не переходит никуда:
// повторная покупка начинает новую подписку с новым ID.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

// Subscription представляет собой модель подписки
type Subscription struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	ExternalID         string             `json:"external_id,omitempty" db:"external_id"` // ID подписки в платежной системе, пустой до подтверждения провайдером
	UserID             string             `json:"user_id" db:"user_id"`
	PlanID             string             `json:"plan_id" db:"plan_id"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end"`
	AutoRenew          bool               `json:"auto_renew" db:"auto_renew"`
	Version            int64              `json:"version" db:"version"` // монотонно растет при каждом принятом переходе
	CanceledAt         *time.Time         `json:"canceled_at,omitempty" db:"canceled_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// BillingCycle период тарификации плана
type BillingCycle string

const (
	BillingCycleMonth BillingCycle = "month"
	BillingCycleYear  BillingCycle = "year"
)

// Plan представляет план подписки. Справочные данные, принадлежат
// внешнему каталогу; сервис их только читает.
type Plan struct {
	ID           string       `json:"id" db:"id"`
	Name         string       `json:"name" db:"name"`
	Price        float64      `json:"price" db:"price"`
	Currency     string       `json:"currency" db:"currency"`
	BillingCycle BillingCycle `json:"billing_cycle" db:"billing_cycle"`
	UsageQuota   int64        `json:"usage_quota" db:"usage_quota"`
	// ProviderPriceID идентификатор цены в платежной системе
	ProviderPriceID string `json:"provider_price_id" db:"provider_price_id"`
	Active          bool   `json:"active" db:"active"`
}
