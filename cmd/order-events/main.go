package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/messaging/kafka"
)

const defaultGroupID = "recon-order-events-audit"

type config struct {
	brokers    []string
	groupID    string
	topic      string
	withDLQ    bool
	maxRetries int
}

// order-events — аудиторский хвост topic'а событий заказов: читает конверты,
// пишет их в лог и отправляет нечитаемые сообщения в DLQ.
func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("order events consumer failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: RECON_KAFKA_BROKERS)")
	flag.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group id")
	flag.StringVar(&cfg.topic, "topic", kafka.TopicOrderEvents, "topic to consume")
	flag.BoolVar(&cfg.withDLQ, "dlq", false, "send undecodable messages to the DLQ topic")
	flag.IntVar(&cfg.maxRetries, "max-retries", 3, "retries before a message goes to DLQ")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("RECON_KAFKA_BROKERS")
	}
	for _, chunk := range strings.Split(brokersRaw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or RECON_KAFKA_BROKERS)")
	}
	if cfg.groupID == "" {
		return config{}, fmt.Errorf("consumer group id is required")
	}
	if cfg.maxRetries < 0 {
		return config{}, fmt.Errorf("max-retries must be >= 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "order-events")

	var dlqProducer *kafka.Producer
	if cfg.withDLQ {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return fmt.Errorf("create dlq producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
		dlqProducer = producer
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.brokers,
		cfg.groupID,
		[]string{cfg.topic},
		logOrderEvent(logger),
		dlqProducer,
		cfg.maxRetries,
	)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	<-ctx.Done()
	return consumer.Stop()
}

// logOrderEvent возвращает handler, печатающий каждый конверт события.
func logOrderEvent(logger *log.Entry) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseOrderEvent(message)
		if err != nil {
			return err
		}

		logger.WithFields(log.Fields{
			"event_id":     event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
			"published_at": event.PublishedAt,
			"offset":       message.Offset,
			"payload":      string(event.Payload),
		}).Info("order event")
		return nil
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
