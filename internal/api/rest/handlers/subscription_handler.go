package handlers

import (
	"net/http"

	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// SubscriptionHandler обработчик запросов состояния подписок
type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
	log                 *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(subscriptionService *service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		log:                 log,
	}
}

// GetMySubscriptions возвращает текущую подписку пользователя и историю
func (h *SubscriptionHandler) GetMySubscriptions(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	subs, err := h.subscriptionService.GetUserSubscriptions(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to get user subscriptions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subscriptions"})
		return
	}

	c.JSON(http.StatusOK, subs)
}
