package service

import (
	"context"
	"errors"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/pkg/logger"
)

// UserSubscriptions текущая подписка пользователя и история
type UserSubscriptions struct {
	Current *domain.Subscription  `json:"current"`
	History []domain.Subscription `json:"history"`
}

// SubscriptionService запросы к состоянию подписок.
// Состояние меняет только сверка вебхуков; здесь только чтение.
type SubscriptionService struct {
	store repository.SubscriptionReader
	cache *repository.SubscriptionCache
	log   *logger.Logger
}

// NewSubscriptionService создает новый сервис запросов подписок
func NewSubscriptionService(store repository.SubscriptionReader, cache *repository.SubscriptionCache, log *logger.Logger) *SubscriptionService {
	return &SubscriptionService{
		store: store,
		cache: cache,
		log:   log,
	}
}

// GetUserSubscriptions возвращает текущую подписку пользователя и историю.
// Текущая - самая свежая подписка в нетерминальном статусе.
func (s *SubscriptionService) GetUserSubscriptions(ctx context.Context, userID string) (*UserSubscriptions, error) {
	subs, err := s.loadSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &UserSubscriptions{History: subs}
	for i := range subs {
		if !subs[i].Status.IsTerminal() {
			result.Current = &subs[i]
			break
		}
	}
	return result, nil
}

// loadSubscriptions читает список подписок через кэш
func (s *SubscriptionService) loadSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetUserSubscriptions(ctx, userID); err == nil {
			return cached, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warnw("Subscription cache read failed", "error", err, "userID", userID)
		}
	}

	subs, err := s.store.GetSubscriptionsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetUserSubscriptions(ctx, userID, subs)
	}
	return subs, nil
}
