package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionReader доступ на чтение к подпискам
type SubscriptionReader interface {
	// GetSubscription возвращает подписку по внутреннему ID
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// GetSubscriptionByExternalID возвращает подписку по ID в платежной системе
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error)

	// GetSubscriptionsByUserID возвращает все подписки пользователя, новые первыми
	GetSubscriptionsByUserID(ctx context.Context, userID string) ([]domain.Subscription, error)
}

// EventLedger журнал обработанных вебхук-событий, ключ - externalEventID
type EventLedger interface {
	// GetEvent возвращает запись журнала по ID события провайдера
	GetEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error)

	// InsertEvent вставляет новую запись журнала; на повтор ключа возвращает domain.ErrDuplicate
	InsertEvent(ctx context.Context, event *domain.WebhookEvent) error

	// MarkEventFailed помечает запись журнала как Failed с текстом ошибки
	MarkEventFailed(ctx context.Context, externalEventID string, errMsg string) error

	// ListEvents возвращает страницу журнала, новые первыми
	ListEvents(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, error)
}

// EffectQueue очередь отложенных эффектов для фонового диспетчера
type EffectQueue interface {
	// DequeueDueEffects выбирает эффекты, готовые к доставке, и сдвигает их
	// next_attempt_at на lease вперед, чтобы параллельный воркер их не взял
	DequeueDueEffects(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.PendingEffect, error)

	// MarkEffectDelivered помечает эффект доставленным
	MarkEffectDelivered(ctx context.Context, id uuid.UUID) error

	// RescheduleEffect сохраняет счетчик попыток и время следующей попытки
	RescheduleEffect(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error

	// MarkEffectAbandoned выводит эффект из ротации после исчерпания попыток.
	// Запись остается в очереди для ручного разбора, а не удаляется.
	MarkEffectAbandoned(ctx context.Context, id uuid.UUID, attempts int) error
}

// TransitionCommit атомарный результат сверки одного вебхук-события
type TransitionCommit struct {
	// Event запись журнала, которую нужно довести до Outcome
	Event   *domain.WebhookEvent
	Outcome domain.ProcessingStatus

	// Subscription следующий снимок; nil, если переход не изменил состояние
	Subscription *domain.Subscription
	// Created true, если снимок нужно вставить, а не обновить
	Created bool
	// ExpectedVersion версия, прочитанная перед вычислением перехода;
	// коммит отклоняется с domain.ErrVersionConflict, если она устарела
	ExpectedVersion int64

	Effects []domain.PendingEffect
}

// Store долговременное хранилище движка сверки.
// CommitTransition - единственная операция записи состояния подписки:
// снимок, исход события и эффекты фиксируются одной транзакцией,
// чтобы падение между ними не оставило журнал и подписку рассогласованными.
type Store interface {
	SubscriptionReader
	EventLedger
	EffectQueue

	CommitTransition(ctx context.Context, commit TransitionCommit) error
}

// PlanCatalog справочник планов; принадлежит внешнему каталогу
type PlanCatalog interface {
	// GetPlan возвращает план по ID; domain.ErrNotFound, если плана нет
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
}
