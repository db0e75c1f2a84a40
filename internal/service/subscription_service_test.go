package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubscription(t *testing.T, store *repository.InMemoryStore, status domain.SubscriptionStatus, createdAt time.Time) domain.Subscription {
	t.Helper()
	sub := domain.Subscription{
		ID:        uuid.New(),
		UserID:    "user-1",
		PlanID:    "pro",
		Status:    status,
		Version:   1,
		CreatedAt: createdAt,
	}
	event := &domain.WebhookEvent{
		ID:         uuid.New(),
		ExternalID: "evt_" + uuid.NewString(),
		Type:       "checkout.session.completed",
		Status:     domain.ProcessingStatusPending,
		ReceivedAt: createdAt,
	}
	require.NoError(t, store.InsertEvent(context.Background(), event))
	require.NoError(t, store.CommitTransition(context.Background(), repository.TransitionCommit{
		Event:        event,
		Outcome:      domain.ProcessingStatusProcessed,
		Subscription: &sub,
		Created:      true,
	}))
	return sub
}

func TestGetUserSubscriptionsPicksCurrentFromHistory(t *testing.T) {
	store := repository.NewInMemoryStore()
	now := time.Now()

	seedSubscription(t, store, domain.SubscriptionStatusCanceled, now.Add(-48*time.Hour))
	active := seedSubscription(t, store, domain.SubscriptionStatusActive, now.Add(-time.Hour))

	svc := NewSubscriptionService(store, nil, testLogger())
	result, err := svc.GetUserSubscriptions(context.Background(), "user-1")

	require.NoError(t, err)
	require.NotNil(t, result.Current)
	assert.Equal(t, active.ID, result.Current.ID)
	assert.Len(t, result.History, 2)
	// история отсортирована: новые первыми
	assert.Equal(t, active.ID, result.History[0].ID)
}

func TestGetUserSubscriptionsWithoutCurrent(t *testing.T) {
	store := repository.NewInMemoryStore()
	seedSubscription(t, store, domain.SubscriptionStatusExpired, time.Now())

	svc := NewSubscriptionService(store, nil, testLogger())
	result, err := svc.GetUserSubscriptions(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Nil(t, result.Current)
	assert.Len(t, result.History, 1)
}

func TestGetUserSubscriptionsEmpty(t *testing.T) {
	store := repository.NewInMemoryStore()

	svc := NewSubscriptionService(store, nil, testLogger())
	result, err := svc.GetUserSubscriptions(context.Background(), "user-2")

	require.NoError(t, err)
	assert.Nil(t, result.Current)
	assert.Empty(t, result.History)
}
