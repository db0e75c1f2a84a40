package rest

import (
	"github.com/Dhoini/Subscription-service/internal/api/rest/handlers"
	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	webhookService *service.WebhookService,
	checkoutService *service.CheckoutService,
	subscriptionService *service.SubscriptionService,
	auth *middleware.JWTMiddleware,
	registry *prometheus.Registry,
	log *logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Инициализация обработчиков
	webhookHandler := handlers.NewWebhookHandler(webhookService, log)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, log)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService, log)
	eventHandler := handlers.NewEventHandler(webhookService, log)

	v1 := r.Group("/api/v1")
	{
		// Инициация оплаты
		v1.POST("/checkout", auth.RequireAuth(), checkoutHandler.InitiateCheckout)

		// Подписки
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("/me", auth.RequireAuth(), subscriptionHandler.GetMySubscriptions)
		}

		// Операционный доступ к журналу вебхук-событий
		events := v1.Group("/webhook-events", auth.RequireAuth(middleware.ScopeAdmin))
		{
			events.GET("", eventHandler.ListEvents)
			events.GET("/:id", eventHandler.GetEvent)
			events.POST("/:id/retry", eventHandler.RetryEvent)
		}
	}

	// Вебхуки на корневом уровне роутера: их аутентифицирует подпись, не JWT
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", webhookHandler.HandleStripeWebhook)
	}

	return r
}
