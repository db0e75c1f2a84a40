package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Ключи кэша
const (
	userSubscriptionsKeyPrefix = "subscriptions:user:"
	subscriptionsCacheTTL      = 15 * time.Minute
)

// NewRedisClient создает клиент Redis и проверяет соединение
func NewRedisClient(ctx context.Context, addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err, "addr", addr)
		return nil, fmt.Errorf("repository: failed to connect to redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

// SubscriptionCache кэш списков подписок пользователя в Redis.
// Ошибки кэша не фатальны: при любой проблеме чтение уходит в хранилище.
type SubscriptionCache struct {
	client *redis.Client
	log    *logger.Logger
}

// NewSubscriptionCache создает новый кэш подписок
func NewSubscriptionCache(client *redis.Client, log *logger.Logger) *SubscriptionCache {
	return &SubscriptionCache{client: client, log: log}
}

// GetUserSubscriptions возвращает закэшированный список подписок пользователя.
// domain.ErrNotFound означает промах кэша.
func (c *SubscriptionCache) GetUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	data, err := c.client.Get(ctx, userSubscriptionsKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		c.log.Warnw("Failed to read subscriptions from cache", "error", err, "userID", userID)
		return nil, domain.ErrNotFound
	}

	var subs []domain.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		c.log.Warnw("Failed to unmarshal cached subscriptions, dropping entry", "error", err, "userID", userID)
		c.client.Del(ctx, userSubscriptionsKeyPrefix+userID)
		return nil, domain.ErrNotFound
	}
	return subs, nil
}

// SetUserSubscriptions сохраняет список подписок пользователя в кэш
func (c *SubscriptionCache) SetUserSubscriptions(ctx context.Context, userID string, subs []domain.Subscription) {
	data, err := json.Marshal(subs)
	if err != nil {
		c.log.Warnw("Failed to marshal subscriptions for cache", "error", err, "userID", userID)
		return
	}

	if err := c.client.Set(ctx, userSubscriptionsKeyPrefix+userID, data, subscriptionsCacheTTL).Err(); err != nil {
		c.log.Warnw("Failed to write subscriptions to cache", "error", err, "userID", userID)
	}
}

// InvalidateUser сбрасывает кэш пользователя после зафиксированного перехода
func (c *SubscriptionCache) InvalidateUser(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := c.client.Del(ctx, userSubscriptionsKeyPrefix+userID).Err(); err != nil {
		c.log.Warnw("Failed to invalidate subscriptions cache", "error", err, "userID", userID)
	}
}
