package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// EventHandler операционные эндпоинты журнала вебхук-событий
type EventHandler struct {
	webhookService *service.WebhookService
	log            *logger.Logger
}

// NewEventHandler создает новый обработчик журнала событий
func NewEventHandler(webhookService *service.WebhookService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		webhookService: webhookService,
		log:            log,
	}
}

// ListEvents возвращает страницу журнала событий
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.webhookService.ListEvents(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("Failed to list webhook events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list webhook events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "limit": limit, "offset": offset})
}

// GetEvent возвращает запись журнала по ID события провайдера
func (h *EventHandler) GetEvent(c *gin.Context) {
	externalEventID := c.Param("id")

	event, err := h.webhookService.GetEvent(c.Request.Context(), externalEventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
			return
		}
		h.log.Error("Failed to get webhook event: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get webhook event"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// RetryEvent заново прогоняет событие из журнала через сверку
func (h *EventHandler) RetryEvent(c *gin.Context) {
	externalEventID := c.Param("id")

	err := h.webhookService.RetryEvent(c.Request.Context(), externalEventID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.Error("Failed to retry webhook event: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry webhook event"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": true})
}
