package domain

import (
	"time"

	"github.com/google/uuid"
)

// EffectKind вид отложенного побочного эффекта
type EffectKind string

const (
	EffectKindGrantAccess   EffectKind = "grant_access"
	EffectKindRevokeAccess  EffectKind = "revoke_access"
	EffectKindNotifyUser    EffectKind = "notify_user"
	EffectKindRecordPayment EffectKind = "record_payment"
)

// EffectStatus статус доставки эффекта
type EffectStatus string

const (
	EffectStatusQueued    EffectStatus = "queued"
	EffectStatusDelivered EffectStatus = "delivered"
	EffectStatusAbandoned EffectStatus = "abandoned"
)

// PendingEffect отложенный побочный эффект принятого перехода.
// Создается машиной состояний, доставляется диспетчером как минимум один раз;
// EffectID позволяет получателю дедуплицировать повторные доставки.
type PendingEffect struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	SubscriptionID uuid.UUID    `json:"subscription_id" db:"subscription_id"`
	Kind           EffectKind   `json:"kind" db:"kind"`
	Payload        []byte       `json:"payload" db:"payload"`
	Attempts       int          `json:"attempts" db:"attempts"`
	NextAttemptAt  time.Time    `json:"next_attempt_at" db:"next_attempt_at"`
	Status         EffectStatus `json:"status" db:"status"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// EffectSpec эффект в том виде, в каком его порождает машина состояний:
// без идентификаторов и бухгалтерии доставки, только вид и полезная нагрузка
type EffectSpec struct {
	Kind    EffectKind
	Payload map[string]any
}
