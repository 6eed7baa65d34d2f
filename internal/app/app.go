package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/checkout"
	"github.com/vladislavdragonenkov/recon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/recon/internal/health"
	"github.com/vladislavdragonenkov/recon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/recon/internal/notify"
	"github.com/vladislavdragonenkov/recon/internal/provider/mercadopago"
	"github.com/vladislavdragonenkov/recon/internal/recon"
	outboxsvc "github.com/vladislavdragonenkov/recon/internal/service/outbox"
	"github.com/vladislavdragonenkov/recon/internal/shipping"
	"github.com/vladislavdragonenkov/recon/internal/storage/memory"
	"github.com/vladislavdragonenkov/recon/internal/storage/postgres"
	"github.com/vladislavdragonenkov/recon/internal/version"
)

// checkoutProvider — провайдер платежей, умеющий заводить checkout-преференции.
type checkoutProvider interface {
	domain.PaymentProvider
	domain.PreferenceService
}

// Run собирает зависимости и держит сервис до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	applyLogLevel(cfg.LogLevel)
	logger := log.WithField("component", "app")
	logger.WithField("version", version.String()).Info("starting recon service")

	healthHandler := healthcheck.NewHandler(versionOnly())

	// Хранилище: PostgreSQL при заданном DSN, иначе in-memory.
	var (
		orders     domain.OrderStore
		catalog    domain.ProductCatalog
		products   productWriter
		outboxRepo domain.OutboxRepository
	)
	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("failed to close postgres connection")
			}
		}()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		orders = postgres.NewOrderStore(store)
		pgCatalog := postgres.NewProductCatalog(store)
		catalog = pgCatalog
		products = pgCatalog
		outboxRepo = postgres.NewOutboxRepository(store)
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return store.Ping(context.Background())
		}))
		logger.Info("using postgres storage")
	} else {
		memCatalog := memory.NewProductCatalog()
		memOutbox := memory.NewOutboxRepository()
		orders = memory.NewOrderStore(memCatalog, memOutbox)
		catalog = memCatalog
		products = memCatalog
		outboxRepo = memOutbox
		logger.Warn("POSTGRES_DSN is empty, using in-memory storage")
	}

	// Провайдер платежей: реальный клиент при заданном токене, иначе заглушка.
	var provider checkoutProvider
	if cfg.MPAccessToken != "" {
		provider = mercadopago.NewClient(cfg.MPBaseURL, cfg.MPAccessToken, nil)
	} else {
		provider = mercadopago.NewMockProvider()
		logger.Warn("MP_ACCESS_TOKEN is empty, using mock payment provider")
	}

	var notifier domain.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, nil)
	} else {
		logger.Warn("SMTP_HOST is empty, email notifications are disabled")
	}

	resolver := recon.NewResolver(provider, cfg.PaymentRetryBackoff, nil)
	engine := recon.NewEngine(orders, resolver, notifier, cfg.OperatorEmail, nil)

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	checkoutSvc := checkout.NewService(orders, catalog, provider, outboxRepo, checkout.URLs{
		Notification: base + "/payment/webhook",
		Success:      base + "/checkout/success",
		Failure:      base + "/checkout/failure",
		Pending:      base + "/checkout/pending",
	}, nil)

	// Kafka producer и публикация outbox (опционально).
	var kafkaProducer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			kafkaProducer = producer
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

			dlqTopic := cfg.KafkaDLQTopic
			if dlqTopic == "" {
				dlqTopic = kafka.TopicDeadLetterQueue
			}
			worker := outboxsvc.NewWorker(
				outboxRepo,
				kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
				outboxsvc.WithDLQPublisher(kafka.NewOutboxPublisher(producer, dlqTopic)),
				outboxsvc.WithPollInterval(cfg.OutboxPollInterval),
				outboxsvc.WithBatchSize(cfg.OutboxBatchSize),
			)
			go worker.Run(ctx)
		}
	}
	if kafkaProducer == nil {
		logger.Info("outbox worker is disabled, staged events remain pending")
	}

	// Трекинг доставки (опционально).
	if cfg.CarrierBaseURL != "" {
		carrier := shipping.NewCarrierClient(cfg.CarrierBaseURL, cfg.CarrierAPIKey, nil)
		tracker := shipping.NewTracker(orders, carrier, notifier, cfg.TrackingPollInterval, nil)
		go tracker.Run(ctx)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	httpServer := NewHTTPServer(engine, checkoutSvc, orders, products, notifier, nil)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(srv, logger)
		shutdownHTTP(metricsSrv, logger)
		closeProducer(kafkaProducer, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		closeProducer(kafkaProducer, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func applyLogLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, falling back to info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func versionOnly() string {
	v, _, _ := version.Info()
	return v
}

func closeProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// вместе с health-эндпоинтами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
