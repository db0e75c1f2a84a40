package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config структура конфигурации приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Stripe     StripeConfig
	Auth       AuthConfig
	Reconcile  ReconcileConfig
	Dispatcher DispatcherConfig
	Logging    LoggingConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig конфигурация Redis кэша
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig конфигурация Kafka
type KafkaConfig struct {
	Brokers []string
	Enabled bool
}

// StripeConfig конфигурация Stripe
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	IsTest        bool
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	JWTSecret string
}

// ReconcileConfig параметры движка сверки вебхуков
type ReconcileConfig struct {
	// DunningMaxAttempts максимум неудачных попыток оплаты до отмены подписки
	DunningMaxAttempts int
	// CommitRetries максимум повторов коммита при конфликте версий
	CommitRetries int
	// StuckEventAge возраст Pending-события, после которого оно считается зависшим
	StuckEventAge time.Duration
}

// DispatcherConfig параметры фонового диспетчера эффектов
type DispatcherConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level string
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:    getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			ShutdownTimeout: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "subscription_service"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Enabled: getEnvAsBool("KAFKA_ENABLED", true),
		},
		Stripe: StripeConfig{
			APIKey:        getEnv("STRIPE_API_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/billing/cancel"),
			IsTest:        getEnvAsBool("STRIPE_IS_TEST", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Reconcile: ReconcileConfig{
			DunningMaxAttempts: getEnvAsInt("DUNNING_MAX_ATTEMPTS", 3),
			CommitRetries:      getEnvAsInt("RECONCILE_COMMIT_RETRIES", 5),
			StuckEventAge:      time.Duration(getEnvAsInt("RECONCILE_STUCK_EVENT_AGE_SEC", 300)) * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Workers:      getEnvAsInt("DISPATCHER_WORKERS", 4),
			PollInterval: time.Duration(getEnvAsInt("DISPATCHER_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
			BatchSize:    getEnvAsInt("DISPATCHER_BATCH_SIZE", 32),
			MaxAttempts:  getEnvAsInt("DISPATCHER_MAX_ATTEMPTS", 8),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int или возвращает значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool или возвращает значение по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsSlice получает значение переменной окружения как список строк через запятую
func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
