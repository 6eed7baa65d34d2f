package app

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config описывает настройки запуска сервиса. Значения читаются из
// окружения с префиксом RECON_.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// PostgresDSN пустой — сервис работает на in-memory хранилище
	// (локальная разработка и тесты).
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// KafkaBrokers пустой — события outbox не публикуются наружу.
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC"`
	KafkaDLQTopic string   `envconfig:"KAFKA_DLQ_TOPIC"`

	// MPAccessToken пустой — вместо реального провайдера используется
	// встроенная заглушка.
	MPAccessToken string `envconfig:"MP_ACCESS_TOKEN"`
	MPBaseURL     string `envconfig:"MP_BASE_URL"`

	// PaymentRetryBackoff — пауза перед повтором запроса платежа.
	PaymentRetryBackoff time.Duration `envconfig:"PAYMENT_RETRY_BACKOFF" default:"5s"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`

	// OperatorEmail получает внутренние письма об оплаченных заказах.
	OperatorEmail string `envconfig:"OPERATOR_EMAIL"`

	// PublicBaseURL — внешний адрес магазина для notification/back URL.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	CarrierBaseURL       string        `envconfig:"CARRIER_BASE_URL"`
	CarrierAPIKey        string        `envconfig:"CARRIER_API_KEY"`
	TrackingPollInterval time.Duration `envconfig:"TRACKING_POLL_INTERVAL" default:"30m"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
}

// LoadConfig читает конфигурацию из переменных окружения.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("recon", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
