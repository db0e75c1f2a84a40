package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Subscription-service/config"
	"github.com/Dhoini/Subscription-service/internal/api/rest"
	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/internal/dispatcher"
	"github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/internal/kafka/producer"
	"github.com/Dhoini/Subscription-service/internal/lifecycle"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/repository"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var log *logger.Logger

func init() {
	// Загружаем переменные окружения
	if err := godotenv.Load(); err != nil {
		// Пропускаем ошибку, если .env файл не найден
	}

	// Временный логгер до загрузки конфигурации
	log = logger.New(logger.INFO)
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log = logger.New(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Stripe.WebhookSecret == "" {
		log.Warnw("Stripe webhook secret is not set, signature verification will reject all events")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	reconcileMetrics := metrics.NewReconcileMetrics(promRegistry, log)
	systemMetrics := metrics.NewSystemMetrics(promRegistry, log)

	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	// Подключение к базе данных
	dbPool, err := repository.NewConnection(ctx, cfg.Database.GetDSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	store := repository.NewPostgresStore(dbPool, log)
	planCatalog := repository.NewPostgresPlanCatalog(dbPool, log)

	// Инициализация Redis кэша; сервис работает и без него
	var cache *repository.SubscriptionCache
	if cfg.Redis.Enabled {
		redisClient, err := repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		} else {
			cache = repository.NewSubscriptionCache(redisClient, log)
			defer redisClient.Close()
		}
	}

	// Инициализация Kafka; при недоступности эффекты доставляются в лог
	var deliverer dispatcher.Deliverer = dispatcher.NewLogDeliverer(log)
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics, continuing with log delivery", "error", err)
		} else {
			kafkaProducer, err := kafka.NewSyncProducer(kafka.NewConfig(cfg.Kafka.Brokers), log)
			if err != nil {
				log.Warnw("Failed to create Kafka producer, continuing with log delivery", "error", err)
			} else {
				effectProducer := producer.NewKafkaEffectProducer(kafkaProducer, log)
				deliverer = effectProducer
				defer effectProducer.Close()
			}
		}
	}

	// Сборка движка сверки
	machine := lifecycle.NewMachine(cfg.Reconcile.DunningMaxAttempts)
	verifier := stripe.NewSignatureVerifier(cfg.Stripe.WebhookSecret, log)
	classifier := stripe.NewEventClassifier(log)
	stripeClient := stripe.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, log)

	webhookService := service.NewWebhookService(verifier, classifier, store, machine, cache, reconcileMetrics,
		service.WebhookConfig{
			CommitRetries: cfg.Reconcile.CommitRetries,
			StuckEventAge: cfg.Reconcile.StuckEventAge,
		}, log)
	checkoutService := service.NewCheckoutService(stripeClient, planCatalog, log)
	subscriptionService := service.NewSubscriptionService(store, cache, log)

	// Фоновый диспетчер эффектов
	effectDispatcher := dispatcher.New(store, deliverer, reconcileMetrics, dispatcher.Config{
		Workers:      cfg.Dispatcher.Workers,
		PollInterval: cfg.Dispatcher.PollInterval,
		BatchSize:    cfg.Dispatcher.BatchSize,
		MaxAttempts:  cfg.Dispatcher.MaxAttempts,
	}, log)
	effectDispatcher.Start(ctx)
	defer effectDispatcher.Stop()

	// Установка режима Gin
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Настройка маршрутизатора и сервера
	auth := middleware.NewJWTMiddleware(middleware.NewHMACTokenValidator(cfg.Auth.JWTSecret), log)
	router := rest.SetupRouter(webhookService, checkoutService, subscriptionService, auth, promRegistry, log)
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}
