package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/google/uuid"
)

// InMemoryStore реализация Store в памяти.
// Используется в тестах и при локальном запуске без Postgres;
// семантика, включая оптимистическую блокировку, совпадает с PostgresStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]domain.Subscription
	events        map[string]domain.WebhookEvent
	effects       map[uuid.UUID]domain.PendingEffect
}

// NewInMemoryStore создает новое хранилище в памяти
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		events:        make(map[string]domain.WebhookEvent),
		effects:       make(map[uuid.UUID]domain.PendingEffect),
	}
}

// GetSubscription возвращает подписку по внутреннему ID
func (s *InMemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subscriptions[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

// GetSubscriptionByExternalID возвращает подписку по ID в платежной системе
func (s *InMemoryStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ExternalID != "" && sub.ExternalID == externalID {
			sub := sub
			return &sub, nil
		}
	}
	return nil, domain.ErrNotFound
}

// GetSubscriptionsByUserID возвращает все подписки пользователя, новые первыми
func (s *InMemoryStore) GetSubscriptionsByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]domain.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

// GetEvent возвращает запись журнала по ID события провайдера
func (s *InMemoryStore) GetEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[externalEventID]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return &event, nil
}

// InsertEvent вставляет новую запись журнала
func (s *InMemoryStore) InsertEvent(ctx context.Context, event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ExternalID]; exists {
		return domain.NewDuplicateError("webhook event", "external_id", event.ExternalID)
	}

	s.events[event.ExternalID] = *event
	return nil
}

// MarkEventFailed помечает запись журнала как Failed
func (s *InMemoryStore) MarkEventFailed(ctx context.Context, externalEventID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[externalEventID]
	if !exists {
		return domain.ErrNotFound
	}

	event.Status = domain.ProcessingStatusFailed
	event.ErrorMessage = errMsg
	event.AttemptCount++
	event.UpdatedAt = time.Now()
	s.events[externalEventID] = event
	return nil
}

// ListEvents возвращает страницу журнала, новые первыми
func (s *InMemoryStore) ListEvents(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.WebhookEvent, 0, len(s.events))
	for _, event := range s.events {
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.After(events[j].ReceivedAt)
	})

	if offset >= len(events) {
		return []domain.WebhookEvent{}, nil
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	return events[offset:end], nil
}

// DequeueDueEffects выбирает готовые к доставке эффекты и двигает их lease вперед
func (s *InMemoryStore) DequeueDueEffects(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.PendingEffect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]domain.PendingEffect, 0)
	for _, effect := range s.effects {
		if effect.Status == domain.EffectStatusQueued && !effect.NextAttemptAt.After(now) {
			due = append(due, effect)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		stored := s.effects[due[i].ID]
		stored.NextAttemptAt = now.Add(lease)
		stored.UpdatedAt = now
		s.effects[due[i].ID] = stored
	}
	return due, nil
}

// MarkEffectDelivered помечает эффект доставленным
func (s *InMemoryStore) MarkEffectDelivered(ctx context.Context, id uuid.UUID) error {
	return s.updateEffect(id, func(effect *domain.PendingEffect) {
		effect.Status = domain.EffectStatusDelivered
		effect.Attempts++
	})
}

// RescheduleEffect сохраняет счетчик попыток и время следующей попытки
func (s *InMemoryStore) RescheduleEffect(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	return s.updateEffect(id, func(effect *domain.PendingEffect) {
		effect.Attempts = attempts
		effect.NextAttemptAt = nextAttemptAt
	})
}

// MarkEffectAbandoned выводит эффект из ротации
func (s *InMemoryStore) MarkEffectAbandoned(ctx context.Context, id uuid.UUID, attempts int) error {
	return s.updateEffect(id, func(effect *domain.PendingEffect) {
		effect.Status = domain.EffectStatusAbandoned
		effect.Attempts = attempts
	})
}

func (s *InMemoryStore) updateEffect(id uuid.UUID, apply func(*domain.PendingEffect)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	effect, exists := s.effects[id]
	if !exists {
		return domain.ErrNotFound
	}

	apply(&effect)
	effect.UpdatedAt = time.Now()
	s.effects[id] = effect
	return nil
}

// CommitTransition атомарно фиксирует снимок, исход события и эффекты.
// Версия подписки проверяется под общим мьютексом: это тот же контракт,
// что и условный UPDATE в PostgresStore.
func (s *InMemoryStore) CommitTransition(ctx context.Context, commit TransitionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if commit.Subscription != nil {
		if commit.Created {
			if _, exists := s.subscriptions[commit.Subscription.ID]; exists {
				return domain.ErrVersionConflict
			}
		} else {
			stored, exists := s.subscriptions[commit.Subscription.ID]
			if !exists {
				return domain.ErrNotFound
			}
			if stored.Version != commit.ExpectedVersion {
				return domain.ErrVersionConflict
			}
		}
		s.subscriptions[commit.Subscription.ID] = *commit.Subscription
	}

	event := s.events[commit.Event.ExternalID]
	event.Status = commit.Outcome
	event.ErrorMessage = ""
	event.AttemptCount++
	processedAt := now
	event.ProcessedAt = &processedAt
	event.UpdatedAt = now
	s.events[event.ExternalID] = event

	for _, effect := range commit.Effects {
		s.effects[effect.ID] = effect
	}
	return nil
}

// InMemoryPlanCatalog справочник планов в памяти
type InMemoryPlanCatalog struct {
	mu    sync.RWMutex
	plans map[string]domain.Plan
}

// NewInMemoryPlanCatalog создает каталог с заданными планами
func NewInMemoryPlanCatalog(plans ...domain.Plan) *InMemoryPlanCatalog {
	catalog := &InMemoryPlanCatalog{plans: make(map[string]domain.Plan, len(plans))}
	for _, plan := range plans {
		catalog.plans[plan.ID] = plan
	}
	return catalog
}

// GetPlan возвращает план по ID
func (c *InMemoryPlanCatalog) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, exists := c.plans[planID]
	if !exists {
		return nil, domain.NewNotFoundError("plan", planID)
	}
	return &plan, nil
}
