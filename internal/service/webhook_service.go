package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/lifecycle"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// WebhookConfig параметры сверки вебхук-событий
type WebhookConfig struct {
	// CommitRetries сколько раз перечитать снимок и повторить переход
	// при конфликте версий
	CommitRetries int
	// StuckEventAge возраст, после которого Pending-запись считается
	// брошенной упавшим обработчиком и подлежит повтору
	StuckEventAge time.Duration
}

// WebhookService сверяет входящие вебхук-события с состоянием подписок.
// Весь путь от сырого тела до зафиксированного перехода проходит здесь:
// проверка подписи, дедупликация, классификация, машина состояний, коммит.
type WebhookService struct {
	verifier   stripe.SignatureVerifier
	classifier stripe.EventClassifier
	store      repository.Store
	machine    *lifecycle.Machine
	cache      *repository.SubscriptionCache
	metrics    metrics.ReconcileMetrics
	cfg        WebhookConfig
	log        *logger.Logger
}

// NewWebhookService создает новый сервис сверки вебхуков
func NewWebhookService(
	verifier stripe.SignatureVerifier,
	classifier stripe.EventClassifier,
	store repository.Store,
	machine *lifecycle.Machine,
	cache *repository.SubscriptionCache,
	m metrics.ReconcileMetrics,
	cfg WebhookConfig,
	log *logger.Logger,
) *WebhookService {
	if cfg.CommitRetries <= 0 {
		cfg.CommitRetries = 5
	}
	if cfg.StuckEventAge <= 0 {
		cfg.StuckEventAge = 5 * time.Minute
	}
	return &WebhookService{
		verifier:   verifier,
		classifier: classifier,
		store:      store,
		machine:    machine,
		cache:      cache,
		metrics:    m,
		cfg:        cfg,
		log:        log,
	}
}

// ProcessWebhook обрабатывает одну доставку вебхук-события.
// Повторная доставка уже обработанного события - штатный успех:
// провайдер получит 200 и перестанет повторять.
func (s *WebhookService) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	started := time.Now()

	envelope, err := s.verifier.VerifyAndEnvelope(payload, signatureHeader)
	if err != nil {
		if s.metrics != nil && errors.Is(err, domain.ErrInvalidSignature) {
			s.metrics.IncSignatureFailure()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.IncEventReceived(envelope.Type)
		defer func() {
			s.metrics.ObserveProcessingDuration(envelope.Type, time.Since(started))
		}()
	}

	digest := payloadDigest(payload)

	event, proceed, err := s.dedup(ctx, envelope, payload, digest)
	if err != nil || !proceed {
		return err
	}

	return s.reconcile(ctx, event, envelope, payload)
}

// dedup ведет журнал доставок. Возвращает запись журнала и признак того,
// что событие нужно обрабатывать (а не подтвердить как повтор).
func (s *WebhookService) dedup(ctx context.Context, envelope domain.EventEnvelope, payload []byte, digest string) (*domain.WebhookEvent, bool, error) {
	now := time.Now()
	event := &domain.WebhookEvent{
		ID:            uuid.New(),
		ExternalID:    envelope.ExternalID,
		Type:          envelope.Type,
		Status:        domain.ProcessingStatusPending,
		PayloadDigest: digest,
		Payload:       payload,
		ReceivedAt:    now,
		UpdatedAt:     now,
	}

	err := s.store.InsertEvent(ctx, event)
	if err == nil {
		return event, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.IncDuplicate(envelope.Type)
	}

	existing, err := s.store.GetEvent(ctx, envelope.ExternalID)
	if err != nil {
		return nil, false, err
	}

	// Под тем же ID события пришло другое тело: это уже не повтор доставки,
	// а аномалия на стороне провайдера. Фиксируем и не трогаем состояние.
	// Запись, дошедшую до Processed или Ignored, не разжалуем: иначе повтор
	// оригинального тела пройдет через ветку Failed и применится второй раз.
	if existing.PayloadDigest != digest {
		s.log.Errorw("Payload digest mismatch for known event",
			"externalEventID", envelope.ExternalID, "knownDigest", existing.PayloadDigest, "receivedDigest", digest)
		mismatchErr := fmt.Errorf("%w: event %s", domain.ErrPayloadMismatch, envelope.ExternalID)
		if existing.Status == domain.ProcessingStatusPending || existing.Status == domain.ProcessingStatusFailed {
			if markErr := s.store.MarkEventFailed(ctx, envelope.ExternalID, mismatchErr.Error()); markErr != nil {
				s.log.Errorw("Failed to mark mismatched event", "error", markErr, "externalEventID", envelope.ExternalID)
			}
		}
		return nil, false, mismatchErr
	}

	switch existing.Status {
	case domain.ProcessingStatusProcessed, domain.ProcessingStatusIgnored:
		s.log.Debugw("Duplicate delivery of processed event", "externalEventID", envelope.ExternalID)
		return existing, false, nil

	case domain.ProcessingStatusFailed:
		s.log.Infow("Retrying previously failed event", "externalEventID", envelope.ExternalID)
		return existing, true, nil

	case domain.ProcessingStatusPending:
		// Либо событие обрабатывается параллельной доставкой, либо прошлый
		// обработчик упал между вставкой и коммитом. Свежую запись не трогаем.
		if time.Since(existing.ReceivedAt) < s.cfg.StuckEventAge {
			s.log.Debugw("Event is already being processed", "externalEventID", envelope.ExternalID)
			return existing, false, nil
		}
		s.log.Warnw("Retrying stuck pending event", "externalEventID", envelope.ExternalID, "receivedAt", existing.ReceivedAt)
		return existing, true, nil
	}

	return existing, false, nil
}

// reconcile классифицирует событие и доводит переход до коммита,
// перечитывая снимок при конфликте версий
func (s *WebhookService) reconcile(ctx context.Context, event *domain.WebhookEvent, envelope domain.EventEnvelope, payload []byte) error {
	intent, data, err := s.classifier.Classify(envelope, payload)
	if err != nil {
		if markErr := s.store.MarkEventFailed(ctx, envelope.ExternalID, err.Error()); markErr != nil {
			s.log.Errorw("Failed to mark malformed event", "error", markErr, "externalEventID", envelope.ExternalID)
		}
		return err
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		current, err := s.resolveSnapshot(ctx, intent, data)
		if err != nil {
			return err
		}

		result := s.machine.Transition(current, intent, data, time.Now())

		commit := repository.TransitionCommit{
			Event:   event,
			Outcome: result.Outcome,
		}
		if result.Changed {
			next := result.Next
			commit.Subscription = &next
			commit.Created = result.Created
			if current != nil {
				commit.ExpectedVersion = current.Version
			}
			commit.Effects = materializeEffects(next.ID, result.Effects, time.Now())
		}

		err = s.store.CommitTransition(ctx, commit)
		if err == nil {
			s.afterCommit(ctx, current, result, envelope, intent)
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}

		if s.metrics != nil {
			s.metrics.IncVersionConflict()
		}
		s.log.Warnw("Version conflict on commit, rereading snapshot",
			"externalEventID", envelope.ExternalID, "attempt", attempt+1)
		lastErr = err
	}

	return domain.NewReconcileError(envelope.ExternalID, intent, "commit retries exhausted", lastErr)
}

// resolveSnapshot находит текущий снимок подписки для события.
// Отсутствие снимка - законное состояние (события приходят наперегонки),
// поэтому ErrNotFound превращается в nil.
func (s *WebhookService) resolveSnapshot(ctx context.Context, intent domain.Intent, data domain.EventData) (*domain.Subscription, error) {
	if intent == domain.IntentUnrecognized {
		return nil, nil
	}

	if intent == domain.IntentCheckoutCompleted {
		sub, err := s.store.GetSubscription(ctx, lifecycle.SubscriptionIDFromSession(data.CheckoutSessionID))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return sub, nil
	}

	if data.ExternalSubscriptionID != "" {
		sub, err := s.store.GetSubscriptionByExternalID(ctx, data.ExternalSubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	// ID провайдера еще ни к чему не привязан: checkout-сессия могла прийти
	// без поля subscription. Активацию тогда находит ожидающая Pending-подписка
	// пользователя из метаданных подписки провайдера.
	if intent == domain.IntentSubscriptionCreated {
		return s.findAwaitingPending(ctx, data)
	}
	return nil, nil
}

// findAwaitingPending ищет Pending-подписку пользователя, не привязанную
// к подписке провайдера
func (s *WebhookService) findAwaitingPending(ctx context.Context, data domain.EventData) (*domain.Subscription, error) {
	if data.UserID == "" {
		return nil, nil
	}
	subs, err := s.store.GetSubscriptionsByUserID(ctx, data.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range subs {
		sub := &subs[i]
		if sub.Status != domain.SubscriptionStatusPending || sub.ExternalID != "" {
			continue
		}
		if data.PlanID != "" && sub.PlanID != data.PlanID {
			continue
		}
		return sub, nil
	}
	return nil, nil
}

// afterCommit метрики, логи и сброс кэша после успешного коммита
func (s *WebhookService) afterCommit(ctx context.Context, current *domain.Subscription, result lifecycle.Result, envelope domain.EventEnvelope, intent domain.Intent) {
	if s.metrics != nil {
		s.metrics.IncEventOutcome(envelope.Type, string(result.Outcome))
		if result.Changed {
			from := "none"
			if current != nil {
				from = string(current.Status)
			}
			s.metrics.IncTransition(from, string(result.Next.Status))
		}
	}

	if result.Changed {
		s.log.Infow("Subscription transition committed",
			"externalEventID", envelope.ExternalID,
			"intent", string(intent),
			"subscriptionID", result.Next.ID,
			"status", string(result.Next.Status),
			"version", result.Next.Version,
			"effects", len(result.Effects))
		if s.cache != nil {
			s.cache.InvalidateUser(ctx, result.Next.UserID)
		}
	} else {
		s.log.Debugw("Event accepted without state change",
			"externalEventID", envelope.ExternalID, "intent", string(intent), "note", result.Note)
	}
}

// ListEvents возвращает страницу журнала вебхук-событий
func (s *WebhookService) ListEvents(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListEvents(ctx, limit, offset)
}

// GetEvent возвращает запись журнала по ID события провайдера
func (s *WebhookService) GetEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	return s.store.GetEvent(ctx, externalEventID)
}

// RetryEvent заново прогоняет событие из журнала через сверку.
// Допускается только для записей, обработка которых завершилась ошибкой.
func (s *WebhookService) RetryEvent(ctx context.Context, externalEventID string) error {
	event, err := s.store.GetEvent(ctx, externalEventID)
	if err != nil {
		return err
	}
	if event.Status != domain.ProcessingStatusFailed {
		return fmt.Errorf("%w: event %s is %s, only failed events can be retried",
			domain.ErrInvalidInput, externalEventID, event.Status)
	}
	if len(event.Payload) == 0 {
		return fmt.Errorf("%w: event %s has no stored payload", domain.ErrInvalidInput, externalEventID)
	}

	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	s.log.Infow("Manual retry of webhook event", "externalEventID", externalEventID)
	return s.reconcile(ctx, event, envelope, event.Payload)
}

// materializeEffects превращает спецификации эффектов машины состояний
// в строки очереди, готовые к вставке в коммите
func materializeEffects(subscriptionID uuid.UUID, specs []domain.EffectSpec, now time.Time) []domain.PendingEffect {
	effects := make([]domain.PendingEffect, 0, len(specs))
	for _, spec := range specs {
		payload, err := json.Marshal(spec.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		effects = append(effects, domain.PendingEffect{
			ID:             uuid.New(),
			SubscriptionID: subscriptionID,
			Kind:           spec.Kind,
			Payload:        payload,
			NextAttemptAt:  now,
			Status:         domain.EffectStatusQueued,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return effects
}

// payloadDigest SHA-256 сырого тела в hex
func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
