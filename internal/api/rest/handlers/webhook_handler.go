package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// WebhookHandler обработчик вебхуков платежной системы
type WebhookHandler struct {
	webhookService *service.WebhookService
	log            *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(webhookService *service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		log:            log,
	}
}

// HandleStripeWebhook обрабатывает вебхуки от Stripe.
// 400 - подпись или тело невалидны, провайдер повторять не будет;
// 200 - событие принято (включая повторы и зафиксированные аномалии);
// 500 - временная ошибка, провайдер повторит доставку.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Error("Failed to read webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read webhook body"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	err = h.webhookService.ProcessWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		case errors.Is(err, domain.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		case errors.Is(err, domain.ErrPayloadMismatch):
			// Аномалия зафиксирована в журнале; повторная доставка того же
			// события провайдером ничего не исправит
			c.JSON(http.StatusOK, gin.H{"received": true})
		default:
			h.log.Error("Failed to process webhook event: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook event"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
