package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx как database/sql драйвер
	"github.com/jmoiron/sqlx"
)

// pgUniqueViolation код ошибки Postgres для нарушения уникального индекса
const pgUniqueViolation = "23505"

// PostgresStore реализация Store поверх PostgreSQL через sqlx
type PostgresStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewConnection открывает пул соединений к базе данных и проверяет его
func NewConnection(ctx context.Context, dsn string, log *logger.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("repository: failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Infow("Connected to database successfully")
	return db, nil
}

// NewPostgresStore создает новый экземпляр хранилища для PostgreSQL
func NewPostgresStore(db *sqlx.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// GetSubscription возвращает подписку по внутреннему ID
func (s *PostgresStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, external_id, user_id, plan_id, status, current_period_start,
               current_period_end, auto_renew, version, canceled_at, created_at, updated_at
        FROM subscriptions
        WHERE id = $1`

	err := s.db.GetContext(ctx, &sub, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		s.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("repository: failed to get subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionByExternalID возвращает подписку по ID в платежной системе
func (s *PostgresStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, external_id, user_id, plan_id, status, current_period_start,
               current_period_end, auto_renew, version, canceled_at, created_at, updated_at
        FROM subscriptions
        WHERE external_id = $1`

	err := s.db.GetContext(ctx, &sub, query, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		s.log.Errorw("Failed to get subscription by external ID from DB", "error", err, "externalID", externalID)
		return nil, fmt.Errorf("repository: failed to get subscription by external ID: %w", err)
	}
	return &sub, nil
}

// GetSubscriptionsByUserID возвращает все подписки пользователя, новые первыми
func (s *PostgresStore) GetSubscriptionsByUserID(ctx context.Context, userID string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	query := `
        SELECT id, external_id, user_id, plan_id, status, current_period_start,
               current_period_end, auto_renew, version, canceled_at, created_at, updated_at
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC`

	err := s.db.SelectContext(ctx, &subs, query, userID)
	if err != nil {
		s.log.Errorw("Failed to get subscriptions by user ID from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get subscriptions by user ID: %w", err)
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

// GetEvent возвращает запись журнала по ID события провайдера
func (s *PostgresStore) GetEvent(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	query := `
        SELECT id, external_id, type, status, payload_digest, payload, attempt_count,
               error_message, received_at, processed_at, updated_at
        FROM webhook_events
        WHERE external_id = $1`

	err := s.db.GetContext(ctx, &event, query, externalEventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		s.log.Errorw("Failed to get webhook event from DB", "error", err, "externalEventID", externalEventID)
		return nil, fmt.Errorf("repository: failed to get webhook event: %w", err)
	}
	return &event, nil
}

// InsertEvent вставляет новую запись журнала.
// Уникальный индекс по external_id превращает гонку двух одновременных
// доставок одного события во вторую ветку дедупликации.
func (s *PostgresStore) InsertEvent(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
        INSERT INTO webhook_events (
            id, external_id, type, status, payload_digest, payload, attempt_count,
            error_message, received_at, updated_at
        ) VALUES (
            :id, :external_id, :type, :status, :payload_digest, :payload, :attempt_count,
            :error_message, :received_at, :updated_at
        )`

	_, err := s.db.NamedExecContext(ctx, query, event)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.NewDuplicateError("webhook event", "external_id", event.ExternalID)
		}
		s.log.Errorw("Failed to insert webhook event into DB", "error", err, "externalEventID", event.ExternalID)
		return fmt.Errorf("repository: failed to insert webhook event: %w", err)
	}
	return nil
}

// MarkEventFailed помечает запись журнала как Failed с текстом ошибки
func (s *PostgresStore) MarkEventFailed(ctx context.Context, externalEventID string, errMsg string) error {
	query := `
        UPDATE webhook_events
        SET status = $1, error_message = $2, attempt_count = attempt_count + 1, updated_at = $3
        WHERE external_id = $4`

	result, err := s.db.ExecContext(ctx, query, domain.ProcessingStatusFailed, errMsg, time.Now(), externalEventID)
	if err != nil {
		s.log.Errorw("Failed to mark webhook event as failed", "error", err, "externalEventID", externalEventID)
		return fmt.Errorf("repository: failed to mark webhook event as failed: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListEvents возвращает страницу журнала, новые первыми
func (s *PostgresStore) ListEvents(ctx context.Context, limit, offset int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	query := `
        SELECT id, external_id, type, status, payload_digest, payload, attempt_count,
               error_message, received_at, processed_at, updated_at
        FROM webhook_events
        ORDER BY received_at DESC
        LIMIT $1 OFFSET $2`

	err := s.db.SelectContext(ctx, &events, query, limit, offset)
	if err != nil {
		s.log.Errorw("Failed to list webhook events from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to list webhook events: %w", err)
	}
	if events == nil {
		events = []domain.WebhookEvent{}
	}
	return events, nil
}

// DequeueDueEffects выбирает готовые к доставке эффекты под FOR UPDATE SKIP LOCKED
// и сдвигает их next_attempt_at на lease вперед. Упавший воркер ничего не теряет:
// по истечении lease эффект снова станет видимым для выборки.
func (s *PostgresStore) DequeueDueEffects(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.PendingEffect, error) {
	var effects []domain.PendingEffect
	query := `
        UPDATE pending_effects
        SET next_attempt_at = $1, updated_at = $2
        WHERE id IN (
            SELECT id FROM pending_effects
            WHERE status = $3 AND next_attempt_at <= $2
            ORDER BY next_attempt_at
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, subscription_id, kind, payload, attempts, next_attempt_at, status, created_at, updated_at`

	err := s.db.SelectContext(ctx, &effects, query, now.Add(lease), now, domain.EffectStatusQueued, limit)
	if err != nil {
		s.log.Errorw("Failed to dequeue pending effects from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to dequeue pending effects: %w", err)
	}
	return effects, nil
}

// MarkEffectDelivered помечает эффект доставленным
func (s *PostgresStore) MarkEffectDelivered(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE pending_effects
        SET status = $1, attempts = attempts + 1, updated_at = $2
        WHERE id = $3`
	return s.execEffectUpdate(ctx, query, domain.EffectStatusDelivered, time.Now(), id)
}

// RescheduleEffect сохраняет счетчик попыток и время следующей попытки
func (s *PostgresStore) RescheduleEffect(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	query := `
        UPDATE pending_effects
        SET attempts = $1, next_attempt_at = $2, updated_at = $3
        WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, attempts, nextAttemptAt, time.Now(), id)
	if err != nil {
		s.log.Errorw("Failed to reschedule pending effect", "error", err, "effectID", id)
		return fmt.Errorf("repository: failed to reschedule pending effect: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkEffectAbandoned выводит эффект из ротации после исчерпания попыток
func (s *PostgresStore) MarkEffectAbandoned(ctx context.Context, id uuid.UUID, attempts int) error {
	query := `
        UPDATE pending_effects
        SET status = $1, attempts = $2, updated_at = $3
        WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, domain.EffectStatusAbandoned, attempts, time.Now(), id)
	if err != nil {
		s.log.Errorw("Failed to mark pending effect as abandoned", "error", err, "effectID", id)
		return fmt.Errorf("repository: failed to mark pending effect as abandoned: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) execEffectUpdate(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.log.Errorw("Failed to update pending effect", "error", err)
		return fmt.Errorf("repository: failed to update pending effect: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CommitTransition атомарно фиксирует снимок подписки, исход события и эффекты.
// Снимок защищен условием по version: если конкурентная доставка уже применила
// переход, UPDATE не заденет ни одной строки и транзакция откатится
// с domain.ErrVersionConflict, а вызывающая сторона перечитает снимок.
func (s *PostgresStore) CommitTransition(ctx context.Context, commit TransitionCommit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.log.Errorw("Failed to begin transaction", "error", err)
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()

	if commit.Subscription != nil {
		if commit.Created {
			insert := `
                INSERT INTO subscriptions (
                    id, external_id, user_id, plan_id, status, current_period_start,
                    current_period_end, auto_renew, version, canceled_at, created_at, updated_at
                ) VALUES (
                    :id, :external_id, :user_id, :plan_id, :status, :current_period_start,
                    :current_period_end, :auto_renew, :version, :canceled_at, :created_at, :updated_at
                )`
			if _, err := tx.NamedExecContext(ctx, insert, commit.Subscription); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
					return domain.ErrVersionConflict
				}
				s.log.Errorw("Failed to insert subscription in commit", "error", err, "subscriptionID", commit.Subscription.ID)
				return fmt.Errorf("repository: failed to insert subscription: %w", err)
			}
		} else {
			update := `
                UPDATE subscriptions
                SET external_id = $1, status = $2, current_period_start = $3, current_period_end = $4,
                    auto_renew = $5, version = $6, canceled_at = $7, updated_at = $8
                WHERE id = $9 AND version = $10`
			result, err := tx.ExecContext(ctx, update,
				commit.Subscription.ExternalID, commit.Subscription.Status,
				commit.Subscription.CurrentPeriodStart, commit.Subscription.CurrentPeriodEnd,
				commit.Subscription.AutoRenew, commit.Subscription.Version,
				commit.Subscription.CanceledAt, now,
				commit.Subscription.ID, commit.ExpectedVersion,
			)
			if err != nil {
				s.log.Errorw("Failed to update subscription in commit", "error", err, "subscriptionID", commit.Subscription.ID)
				return fmt.Errorf("repository: failed to update subscription: %w", err)
			}
			if affected, _ := result.RowsAffected(); affected == 0 {
				return domain.ErrVersionConflict
			}
		}
	}

	eventUpdate := `
        UPDATE webhook_events
        SET status = $1, error_message = '', attempt_count = attempt_count + 1,
            processed_at = $2, updated_at = $2
        WHERE external_id = $3`
	if _, err := tx.ExecContext(ctx, eventUpdate, commit.Outcome, now, commit.Event.ExternalID); err != nil {
		s.log.Errorw("Failed to advance webhook event in commit", "error", err, "externalEventID", commit.Event.ExternalID)
		return fmt.Errorf("repository: failed to advance webhook event: %w", err)
	}

	if len(commit.Effects) > 0 {
		effectInsert := `
            INSERT INTO pending_effects (
                id, subscription_id, kind, payload, attempts, next_attempt_at, status, created_at, updated_at
            ) VALUES (
                :id, :subscription_id, :kind, :payload, :attempts, :next_attempt_at, :status, :created_at, :updated_at
            )`
		for i := range commit.Effects {
			if _, err := tx.NamedExecContext(ctx, effectInsert, &commit.Effects[i]); err != nil {
				s.log.Errorw("Failed to enqueue pending effect in commit", "error", err, "effectID", commit.Effects[i].ID)
				return fmt.Errorf("repository: failed to enqueue pending effect: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Errorw("Failed to commit transition transaction", "error", err)
		return fmt.Errorf("repository: failed to commit transition: %w", err)
	}
	return nil
}

// PostgresPlanCatalog справочник планов поверх таблицы plans
type PostgresPlanCatalog struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPlanCatalog создает новый каталог планов для PostgreSQL
func NewPostgresPlanCatalog(db *sqlx.DB, log *logger.Logger) *PostgresPlanCatalog {
	return &PostgresPlanCatalog{db: db, log: log}
}

// GetPlan возвращает план по ID
func (c *PostgresPlanCatalog) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var plan domain.Plan
	query := `
        SELECT id, name, price, currency, billing_cycle, usage_quota, provider_price_id, active
        FROM plans
        WHERE id = $1`

	err := c.db.GetContext(ctx, &plan, query, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("plan", planID)
		}
		c.log.Errorw("Failed to get plan from DB", "error", err, "planID", planID)
		return nil, fmt.Errorf("repository: failed to get plan: %w", err)
	}
	return &plan, nil
}
