package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// deliverTimeout таймаут на одну попытку доставки эффекта
const deliverTimeout = 15 * time.Second

// Deliverer доставляет эффект во внешнюю систему.
// Доставка должна быть идемпотентной на принимающей стороне:
// диспетчер гарантирует at-least-once, а не exactly-once.
type Deliverer interface {
	PublishEffect(ctx context.Context, effect domain.PendingEffect) error
}

// Config параметры фонового диспетчера эффектов
type Config struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Lease        time.Duration
}

// Dispatcher фоновый диспетчер отложенных эффектов.
// Выбирает готовые эффекты из очереди, доставляет их пулом воркеров
// и переносит неудачные попытки с экспоненциальной задержкой.
// Эффект, исчерпавший попытки, помечается Abandoned, но не удаляется.
type Dispatcher struct {
	queue   repository.EffectQueue
	deliver Deliverer
	metrics metrics.ReconcileMetrics
	log     *logger.Logger
	cfg     Config

	tasks  chan domain.PendingEffect
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New создает новый диспетчер эффектов
func New(queue repository.EffectQueue, deliver Deliverer, m metrics.ReconcileMetrics, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}

	return &Dispatcher{
		queue:   queue,
		deliver: deliver,
		metrics: m,
		log:     log,
		cfg:     cfg,
		tasks:   make(chan domain.PendingEffect, cfg.BatchSize),
		stopCh:  make(chan struct{}),
	}
}

// Start запускает цикл опроса очереди и пул воркеров
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.pollLoop(ctx)

	d.log.Infow("Effect dispatcher started", "workers", d.cfg.Workers, "pollInterval", d.cfg.PollInterval.String())
}

// Stop останавливает диспетчер и дожидается завершения воркеров
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.log.Infow("Effect dispatcher stopped")
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.tasks)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

// pollOnce выбирает пачку готовых эффектов и раздает их воркерам
func (d *Dispatcher) pollOnce(ctx context.Context) {
	effects, err := d.queue.DequeueDueEffects(ctx, time.Now(), d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		d.log.Errorw("Failed to dequeue pending effects", "error", err)
		return
	}

	for _, effect := range effects {
		select {
		case d.tasks <- effect:
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for effect := range d.tasks {
		d.handleEffect(ctx, effect)
	}
	d.log.Debugw("Dispatcher worker exited", "worker", id)
}

// handleEffect выполняет одну попытку доставки и фиксирует ее исход
func (d *Dispatcher) handleEffect(ctx context.Context, effect domain.PendingEffect) {
	deliverCtx, cancel := context.WithTimeout(ctx, deliverTimeout)
	err := d.deliver.PublishEffect(deliverCtx, effect)
	cancel()

	if err == nil {
		if markErr := d.queue.MarkEffectDelivered(ctx, effect.ID); markErr != nil {
			d.log.Errorw("Failed to mark effect as delivered", "error", markErr, "effectID", effect.ID)
			return
		}
		if d.metrics != nil {
			d.metrics.IncEffectDelivered(string(effect.Kind))
		}
		d.log.Debugw("Effect delivered", "effectID", effect.ID, "kind", string(effect.Kind))
		return
	}

	attempts := effect.Attempts + 1
	d.log.Warnw("Effect delivery failed", "error", err, "effectID", effect.ID, "kind", string(effect.Kind), "attempt", attempts)

	if attempts >= d.cfg.MaxAttempts {
		if markErr := d.queue.MarkEffectAbandoned(ctx, effect.ID, attempts); markErr != nil {
			d.log.Errorw("Failed to mark effect as abandoned", "error", markErr, "effectID", effect.ID)
			return
		}
		if d.metrics != nil {
			d.metrics.IncEffectAbandoned(string(effect.Kind))
		}
		d.log.Errorw("Effect abandoned after max delivery attempts", "effectID", effect.ID, "kind", string(effect.Kind), "attempts", attempts)
		return
	}

	nextAttemptAt := time.Now().Add(retryDelay(attempts))
	if reschedErr := d.queue.RescheduleEffect(ctx, effect.ID, attempts, nextAttemptAt); reschedErr != nil {
		d.log.Errorw("Failed to reschedule effect", "error", reschedErr, "effectID", effect.ID)
	}
}

// retryDelay экспоненциальная задержка перед следующей попыткой
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 10 * time.Minute
	b.RandomizationFactor = 0.2
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	if delay == backoff.Stop {
		delay = b.MaxInterval
	}
	return delay
}
