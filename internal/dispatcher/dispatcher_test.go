package dispatcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(os.Stderr)
	return log
}

// recordingDeliverer собирает доставленные эффекты и может имитировать сбои
type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []uuid.UUID
	failures  int
}

func (d *recordingDeliverer) PublishEffect(ctx context.Context, effect domain.PendingEffect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("broker unavailable")
	}
	d.delivered = append(d.delivered, effect.ID)
	return nil
}

func (d *recordingDeliverer) deliveredCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func seedEffect(t *testing.T, store *repository.InMemoryStore, kind domain.EffectKind) domain.PendingEffect {
	t.Helper()
	now := time.Now()
	event := &domain.WebhookEvent{
		ID:         uuid.New(),
		ExternalID: "evt_" + uuid.NewString(),
		Type:       "invoice.paid",
		Status:     domain.ProcessingStatusPending,
		ReceivedAt: now,
	}
	require.NoError(t, store.InsertEvent(context.Background(), event))

	effect := domain.PendingEffect{
		ID:            uuid.New(),
		Kind:          kind,
		Payload:       []byte(`{}`),
		NextAttemptAt: now.Add(-time.Second),
		Status:        domain.EffectStatusQueued,
		CreatedAt:     now,
	}
	require.NoError(t, store.CommitTransition(context.Background(), repository.TransitionCommit{
		Event:   event,
		Outcome: domain.ProcessingStatusProcessed,
		Effects: []domain.PendingEffect{effect},
	}))
	return effect
}

func TestDispatcherDeliversQueuedEffects(t *testing.T) {
	store := repository.NewInMemoryStore()
	deliverer := &recordingDeliverer{}
	seedEffect(t, store, domain.EffectKindGrantAccess)
	seedEffect(t, store, domain.EffectKindNotifyUser)

	d := New(store, deliverer, nil, Config{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  3,
		Lease:        time.Minute,
	}, testLogger())

	d.Start(context.Background())
	defer d.Stop()

	assert.Eventually(t, func() bool {
		return deliverer.deliveredCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// доставленные эффекты выведены из ротации
	due, err := store.DequeueDueEffects(context.Background(), time.Now().Add(time.Hour), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHandleEffectReschedulesOnFailure(t *testing.T) {
	store := repository.NewInMemoryStore()
	deliverer := &recordingDeliverer{failures: 1}
	effect := seedEffect(t, store, domain.EffectKindRecordPayment)

	d := New(store, deliverer, nil, Config{MaxAttempts: 3}, testLogger())
	d.handleEffect(context.Background(), effect)

	// эффект остался в очереди с увеличенным счетчиком попыток
	due, err := store.DequeueDueEffects(context.Background(), time.Now().Add(time.Hour), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, effect.ID, due[0].ID)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Equal(t, domain.EffectStatusQueued, due[0].Status)
}

func TestHandleEffectAbandonsAfterMaxAttempts(t *testing.T) {
	store := repository.NewInMemoryStore()
	deliverer := &recordingDeliverer{failures: 10}
	effect := seedEffect(t, store, domain.EffectKindNotifyUser)

	d := New(store, deliverer, nil, Config{MaxAttempts: 2}, testLogger())

	// первая неудача переносит попытку, вторая исчерпывает лимит
	d.handleEffect(context.Background(), effect)
	effect.Attempts = 1
	d.handleEffect(context.Background(), effect)

	due, err := store.DequeueDueEffects(context.Background(), time.Now().Add(time.Hour), 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, due, "abandoned effect must leave the rotation")
}

func TestRetryDelayGrowsWithAttempts(t *testing.T) {
	first := retryDelay(1)
	fifth := retryDelay(5)

	assert.Greater(t, fifth, first)
	assert.LessOrEqual(t, fifth, 10*time.Minute+time.Minute)
}
