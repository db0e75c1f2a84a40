package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// CheckoutRequest запрос на инициацию оплаты
type CheckoutRequest struct {
	PlanID    string `json:"plan_id" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	AutoRenew *bool  `json:"auto_renew"`
}

// CheckoutHandler обработчик инициации оплаты
type CheckoutHandler struct {
	checkoutService *service.CheckoutService
	log             *logger.Logger
}

// NewCheckoutHandler создает новый обработчик инициации оплаты
func NewCheckoutHandler(checkoutService *service.CheckoutService, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		log:             log,
	}
}

// InitiateCheckout создает checkout-сессию для аутентифицированного пользователя
func (h *CheckoutHandler) InitiateCheckout(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "reason": "InvalidInput"})
		return
	}

	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	intent, err := h.checkoutService.InitiateCheckout(c.Request.Context(), userID, req.PlanID, req.Nonce, autoRenew)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPlan):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unknown or inactive plan", "reason": "InvalidPlan"})
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "InvalidInput"})
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment provider unavailable", "reason": "UpstreamUnavailable"})
		default:
			h.log.Error("Failed to initiate checkout: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to initiate checkout"})
		}
		return
	}

	c.JSON(http.StatusCreated, intent)
}
