package lifecycle

import (
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/google/uuid"
)

// DefaultDunningMaxAttempts лимит неудачных попыток оплаты по умолчанию.
// Политика dunning принадлежит платежной системе, поэтому лимит конфигурируем.
const DefaultDunningMaxAttempts = 3

// subscriptionNamespace пространство имен для детерминированных ID подписок
var subscriptionNamespace = uuid.MustParse("9f2c1c0a-5b7e-4d21-9a43-8b3e6f1d0c55")

// SubscriptionIDFromSession детерминированно выводит внутренний ID подписки
// из ID checkout-сессии. Повторная доставка того же события под другим
// ID провайдера придет к той же подписке, а не создаст вторую.
func SubscriptionIDFromSession(sessionID string) uuid.UUID {
	return uuid.NewSHA1(subscriptionNamespace, []byte("checkout_session:"+sessionID))
}

// Result результат одного перехода машины состояний.
// Next осмыслен только при Changed == true.
type Result struct {
	Next    domain.Subscription
	Changed bool
	Created bool
	Outcome domain.ProcessingStatus
	Effects []domain.EffectSpec
	// Note причина, по которой событие не изменило состояние; пустая при принятом переходе
	Note string
}

// Machine чистая машина состояний жизненного цикла подписки.
// Никакого I/O: результат полностью определяется аргументами Transition.
type Machine struct {
	dunningMaxAttempts int
}

// NewMachine создает машину состояний с заданным лимитом попыток оплаты
func NewMachine(dunningMaxAttempts int) *Machine {
	if dunningMaxAttempts <= 0 {
		dunningMaxAttempts = DefaultDunningMaxAttempts
	}
	return &Machine{dunningMaxAttempts: dunningMaxAttempts}
}

// Transition вычисляет следующий снимок подписки и список эффектов для
// (текущий снимок, намерение, данные события, текущее время).
// Намерения без подходящего ребра из текущего состояния не являются ошибкой:
// вебхуки доставляются наперегонки, и устаревшее событие корректно принять
// как no-op (журнал событий уже отсеял настоящие повторы).
func (m *Machine) Transition(current *domain.Subscription, intent domain.Intent, data domain.EventData, now time.Time) Result {
	if intent == domain.IntentUnrecognized {
		return ignored("unrecognized event type")
	}

	if intent == domain.IntentCheckoutCompleted {
		return m.applyCheckoutCompleted(current, data, now)
	}

	if current == nil {
		return noop("no subscription bound to event")
	}
	if current.Status.IsTerminal() {
		return noop("subscription is in terminal state")
	}

	switch {
	case current.Status == domain.SubscriptionStatusPending && intent == domain.IntentSubscriptionCreated:
		return m.applySubscriptionCreated(current, data, now)

	case current.Status == domain.SubscriptionStatusActive && intent == domain.IntentSubscriptionUpdated:
		return m.applySubscriptionUpdated(current, data, now)

	case current.Status == domain.SubscriptionStatusPastDue && intent == domain.IntentPaymentSucceeded:
		return m.applyPaymentSucceeded(current, data, now)

	case (current.Status == domain.SubscriptionStatusActive || current.Status == domain.SubscriptionStatusPastDue) &&
		intent == domain.IntentPaymentFailed:
		return m.applyPaymentFailed(current, data, now)

	case (current.Status == domain.SubscriptionStatusActive || current.Status == domain.SubscriptionStatusPastDue) &&
		intent == domain.IntentSubscriptionCanceled:
		return m.applyCanceled(current, data, now)
	}

	return noop("no transition from " + string(current.Status) + " on " + string(intent))
}

// applyCheckoutCompleted создает подписку в статусе Pending.
// Если подписка для этой сессии уже существует, событие принимается как no-op:
// свежая идентичность подписки рождается только из свежей checkout-сессии.
func (m *Machine) applyCheckoutCompleted(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	if current != nil {
		return noop("subscription already exists for checkout session")
	}

	next := domain.Subscription{
		ID:         SubscriptionIDFromSession(data.CheckoutSessionID),
		ExternalID: data.ExternalSubscriptionID,
		UserID:     data.UserID,
		PlanID:     data.PlanID,
		Status:     domain.SubscriptionStatusPending,
		AutoRenew:  data.AutoRenew,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	effects := []domain.EffectSpec{notifyEffect(next, "checkout_completed")}
	if data.Amount > 0 {
		effects = append(effects, paymentEffect(next, data, "succeeded"))
	}

	return Result{
		Next:    next,
		Changed: true,
		Created: true,
		Outcome: domain.ProcessingStatusProcessed,
		Effects: effects,
	}
}

// applySubscriptionCreated переводит Pending -> Active и привязывает
// ID подписки провайдера с границами периода из события
func (m *Machine) applySubscriptionCreated(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	next := advance(current, now)
	next.Status = domain.SubscriptionStatusActive
	if next.ExternalID == "" {
		next.ExternalID = data.ExternalSubscriptionID
	}
	next.CurrentPeriodStart = data.PeriodStart
	next.CurrentPeriodEnd = data.PeriodEnd
	next.AutoRenew = data.AutoRenew

	effects := []domain.EffectSpec{
		grantEffect(next),
		notifyEffect(next, "subscription_activated"),
	}
	if data.Amount > 0 {
		effects = append(effects, paymentEffect(next, data, "succeeded"))
	}

	return accepted(next, effects)
}

// applySubscriptionUpdated обновляет активную подписку по статусу провайдера
func (m *Machine) applySubscriptionUpdated(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	switch data.ProviderStatus {
	case "active":
		next := advance(current, now)
		next.CurrentPeriodStart = data.PeriodStart
		next.CurrentPeriodEnd = data.PeriodEnd
		next.AutoRenew = data.AutoRenew
		return accepted(next, []domain.EffectSpec{notifyEffect(next, "subscription_updated")})

	case "past_due":
		next := advance(current, now)
		next.Status = domain.SubscriptionStatusPastDue
		return accepted(next, []domain.EffectSpec{notifyEffect(next, "subscription_past_due")})
	}

	return noop("unsupported provider status " + data.ProviderStatus)
}

// applyPaymentSucceeded возвращает просроченную подписку в Active
func (m *Machine) applyPaymentSucceeded(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	next := advance(current, now)
	next.Status = domain.SubscriptionStatusActive
	if !data.PeriodEnd.IsZero() {
		next.CurrentPeriodEnd = data.PeriodEnd
	}

	effects := []domain.EffectSpec{
		notifyEffect(next, "payment_recovered"),
		paymentEffect(next, data, "succeeded"),
	}
	return accepted(next, effects)
}

// applyPaymentFailed фиксирует неудачную попытку оплаты.
// Счетчик попыток несет само событие (политика dunning у провайдера);
// по достижении лимита подписка отменяется с отзывом доступа.
func (m *Machine) applyPaymentFailed(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	if data.Attempt >= m.dunningMaxAttempts {
		return m.applyCanceled(current, data, now)
	}

	next := advance(current, now)
	next.Status = domain.SubscriptionStatusPastDue

	effects := []domain.EffectSpec{
		notifyEffect(next, "payment_failed"),
		paymentEffect(next, data, "failed"),
	}
	return accepted(next, effects)
}

// applyCanceled терминальный переход в Canceled с отзывом доступа
func (m *Machine) applyCanceled(current *domain.Subscription, data domain.EventData, now time.Time) Result {
	next := advance(current, now)
	next.Status = domain.SubscriptionStatusCanceled
	next.AutoRenew = false
	canceledAt := now
	next.CanceledAt = &canceledAt

	effects := []domain.EffectSpec{
		revokeEffect(next),
		notifyEffect(next, "subscription_canceled"),
	}
	return accepted(next, effects)
}

// advance копирует снимок с инкрементом версии
func advance(current *domain.Subscription, now time.Time) domain.Subscription {
	next := *current
	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next
}

func accepted(next domain.Subscription, effects []domain.EffectSpec) Result {
	return Result{
		Next:    next,
		Changed: true,
		Outcome: domain.ProcessingStatusProcessed,
		Effects: effects,
	}
}

// noop принятое событие без изменения состояния
func noop(note string) Result {
	return Result{Outcome: domain.ProcessingStatusProcessed, Note: note}
}

// ignored событие за пределами известного множества типов
func ignored(note string) Result {
	return Result{Outcome: domain.ProcessingStatusIgnored, Note: note}
}

func grantEffect(sub domain.Subscription) domain.EffectSpec {
	return domain.EffectSpec{
		Kind: domain.EffectKindGrantAccess,
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID,
			"plan_id":         sub.PlanID,
		},
	}
}

func revokeEffect(sub domain.Subscription) domain.EffectSpec {
	return domain.EffectSpec{
		Kind: domain.EffectKindRevokeAccess,
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID,
			"plan_id":         sub.PlanID,
		},
	}
}

func notifyEffect(sub domain.Subscription, event string) domain.EffectSpec {
	return domain.EffectSpec{
		Kind: domain.EffectKindNotifyUser,
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID,
			"event":           event,
			"status":          string(sub.Status),
		},
	}
}

func paymentEffect(sub domain.Subscription, data domain.EventData, outcome string) domain.EffectSpec {
	return domain.EffectSpec{
		Kind: domain.EffectKindRecordPayment,
		Payload: map[string]any{
			"subscription_id": sub.ID.String(),
			"user_id":         sub.UserID,
			"amount":          data.Amount,
			"currency":        data.Currency,
			"outcome":         outcome,
		},
	}
}
