package lifecycle

import (
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func pendingSub() *domain.Subscription {
	return &domain.Subscription{
		ID:        SubscriptionIDFromSession("cs_test_1"),
		UserID:    "user-1",
		PlanID:    "pro",
		Status:    domain.SubscriptionStatusPending,
		AutoRenew: true,
		Version:   1,
		CreatedAt: now.Add(-time.Hour),
	}
}

func activeSub() *domain.Subscription {
	sub := pendingSub()
	sub.Status = domain.SubscriptionStatusActive
	sub.ExternalID = "sub_ext_1"
	sub.Version = 2
	return sub
}

func pastDueSub() *domain.Subscription {
	sub := activeSub()
	sub.Status = domain.SubscriptionStatusPastDue
	sub.Version = 3
	return sub
}

func TestSubscriptionIDFromSessionIsDeterministic(t *testing.T) {
	first := SubscriptionIDFromSession("cs_test_abc")
	second := SubscriptionIDFromSession("cs_test_abc")
	other := SubscriptionIDFromSession("cs_test_xyz")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestCheckoutCompletedCreatesPendingSubscription(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{
		CheckoutSessionID: "cs_test_1",
		UserID:            "user-1",
		PlanID:            "pro",
		AutoRenew:         true,
		Amount:            9.99,
		Currency:          "usd",
	}

	result := m.Transition(nil, domain.IntentCheckoutCompleted, data, now)

	require.True(t, result.Changed)
	require.True(t, result.Created)
	assert.Equal(t, domain.ProcessingStatusProcessed, result.Outcome)
	assert.Equal(t, domain.SubscriptionStatusPending, result.Next.Status)
	assert.Equal(t, SubscriptionIDFromSession("cs_test_1"), result.Next.ID)
	assert.Equal(t, int64(1), result.Next.Version)
	assert.Equal(t, "user-1", result.Next.UserID)

	kinds := effectKinds(result)
	assert.Contains(t, kinds, domain.EffectKindNotifyUser)
	assert.Contains(t, kinds, domain.EffectKindRecordPayment)
}

func TestCheckoutCompletedIsNoopWhenSubscriptionExists(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{CheckoutSessionID: "cs_test_1", UserID: "user-1", PlanID: "pro"}

	result := m.Transition(pendingSub(), domain.IntentCheckoutCompleted, data, now)

	assert.False(t, result.Changed)
	assert.Equal(t, domain.ProcessingStatusProcessed, result.Outcome)
	assert.Empty(t, result.Effects)
}

func TestSubscriptionCreatedActivatesPending(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{
		ExternalSubscriptionID: "sub_ext_1",
		PeriodStart:            now,
		PeriodEnd:              now.AddDate(0, 1, 0),
		AutoRenew:              true,
		Amount:                 9.99,
		Currency:               "usd",
	}

	result := m.Transition(pendingSub(), domain.IntentSubscriptionCreated, data, now)

	require.True(t, result.Changed)
	assert.False(t, result.Created)
	assert.Equal(t, domain.SubscriptionStatusActive, result.Next.Status)
	assert.Equal(t, "sub_ext_1", result.Next.ExternalID)
	assert.Equal(t, int64(2), result.Next.Version)
	assert.Equal(t, data.PeriodEnd, result.Next.CurrentPeriodEnd)

	kinds := effectKinds(result)
	assert.Contains(t, kinds, domain.EffectKindGrantAccess)
	assert.Contains(t, kinds, domain.EffectKindNotifyUser)
	assert.Contains(t, kinds, domain.EffectKindRecordPayment)
}

func TestSubscriptionUpdatedRefreshesPeriod(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{
		ExternalSubscriptionID: "sub_ext_1",
		ProviderStatus:         "active",
		PeriodStart:            now,
		PeriodEnd:              now.AddDate(0, 1, 0),
		AutoRenew:              true,
	}

	result := m.Transition(activeSub(), domain.IntentSubscriptionUpdated, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusActive, result.Next.Status)
	assert.Equal(t, data.PeriodEnd, result.Next.CurrentPeriodEnd)
	assert.Equal(t, int64(3), result.Next.Version)
}

func TestSubscriptionUpdatedMovesToPastDue(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{ExternalSubscriptionID: "sub_ext_1", ProviderStatus: "past_due"}

	result := m.Transition(activeSub(), domain.IntentSubscriptionUpdated, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusPastDue, result.Next.Status)
}

func TestPaymentSucceededRecoversPastDue(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{
		ExternalSubscriptionID: "sub_ext_1",
		Amount:                 9.99,
		Currency:               "usd",
		PeriodEnd:              now.AddDate(0, 1, 0),
	}

	result := m.Transition(pastDueSub(), domain.IntentPaymentSucceeded, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusActive, result.Next.Status)
	assert.Equal(t, data.PeriodEnd, result.Next.CurrentPeriodEnd)
}

func TestPaymentFailedBelowLimitMovesToPastDue(t *testing.T) {
	m := NewMachine(3)
	data := domain.EventData{ExternalSubscriptionID: "sub_ext_1", Attempt: 1, Amount: 9.99, Currency: "usd"}

	result := m.Transition(activeSub(), domain.IntentPaymentFailed, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusPastDue, result.Next.Status)
	assert.NotContains(t, effectKinds(result), domain.EffectKindRevokeAccess)
}

func TestPaymentFailedAtLimitCancelsWithRevoke(t *testing.T) {
	m := NewMachine(3)
	data := domain.EventData{ExternalSubscriptionID: "sub_ext_1", Attempt: 3}

	result := m.Transition(pastDueSub(), domain.IntentPaymentFailed, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusCanceled, result.Next.Status)
	assert.False(t, result.Next.AutoRenew)
	require.NotNil(t, result.Next.CanceledAt)

	revokes := 0
	for _, effect := range result.Effects {
		if effect.Kind == domain.EffectKindRevokeAccess {
			revokes++
		}
	}
	assert.Equal(t, 1, revokes)
}

func TestSubscriptionCanceledFromActive(t *testing.T) {
	m := NewMachine(0)
	data := domain.EventData{ExternalSubscriptionID: "sub_ext_1"}

	result := m.Transition(activeSub(), domain.IntentSubscriptionCanceled, data, now)

	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusCanceled, result.Next.Status)
	assert.Contains(t, effectKinds(result), domain.EffectKindRevokeAccess)
}

func TestTerminalStateAcceptsEventsAsNoop(t *testing.T) {
	m := NewMachine(0)
	canceled := activeSub()
	canceled.Status = domain.SubscriptionStatusCanceled

	for _, intent := range []domain.Intent{
		domain.IntentSubscriptionCreated,
		domain.IntentSubscriptionUpdated,
		domain.IntentSubscriptionCanceled,
		domain.IntentPaymentSucceeded,
		domain.IntentPaymentFailed,
	} {
		result := m.Transition(canceled, intent, domain.EventData{}, now)
		assert.False(t, result.Changed, "intent %s must not change terminal state", intent)
		assert.Equal(t, domain.ProcessingStatusProcessed, result.Outcome)
	}
}

func TestStaleEventWithoutEdgeIsAcceptedNoop(t *testing.T) {
	m := NewMachine(0)

	// payment_succeeded для активной подписки: ребра нет, событие принимается
	result := m.Transition(activeSub(), domain.IntentPaymentSucceeded, domain.EventData{}, now)

	assert.False(t, result.Changed)
	assert.Equal(t, domain.ProcessingStatusProcessed, result.Outcome)
	assert.NotEmpty(t, result.Note)
}

func TestEventWithoutSubscriptionIsAcceptedNoop(t *testing.T) {
	m := NewMachine(0)

	result := m.Transition(nil, domain.IntentPaymentFailed, domain.EventData{}, now)

	assert.False(t, result.Changed)
	assert.Equal(t, domain.ProcessingStatusProcessed, result.Outcome)
}

func TestUnrecognizedIntentIsIgnored(t *testing.T) {
	m := NewMachine(0)

	result := m.Transition(activeSub(), domain.IntentUnrecognized, domain.EventData{}, now)

	assert.False(t, result.Changed)
	assert.Equal(t, domain.ProcessingStatusIgnored, result.Outcome)
}

func TestOutOfOrderDeliveryConverges(t *testing.T) {
	m := NewMachine(3)

	// subscription.created пришел раньше checkout.session.completed:
	// без снимка created принимается как no-op
	created := domain.EventData{ExternalSubscriptionID: "sub_ext_1", PeriodEnd: now.AddDate(0, 1, 0), AutoRenew: true}
	result := m.Transition(nil, domain.IntentSubscriptionCreated, created, now)
	assert.False(t, result.Changed)

	// checkout создает Pending
	checkout := domain.EventData{CheckoutSessionID: "cs_test_1", UserID: "user-1", PlanID: "pro", AutoRenew: true}
	result = m.Transition(nil, domain.IntentCheckoutCompleted, checkout, now)
	require.True(t, result.Changed)
	pending := result.Next

	// повторная доставка created теперь активирует подписку
	result = m.Transition(&pending, domain.IntentSubscriptionCreated, created, now)
	require.True(t, result.Changed)
	assert.Equal(t, domain.SubscriptionStatusActive, result.Next.Status)
}

func effectKinds(result Result) []domain.EffectKind {
	kinds := make([]domain.EffectKind, 0, len(result.Effects))
	for _, effect := range result.Effects {
		kinds = append(kinds, effect.Kind)
	}
	return kinds
}
