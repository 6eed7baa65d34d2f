package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/recon/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// consumerDLQPayload — формат, который пишет kafka consumer.
type consumerDLQPayload struct {
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

type replayMessage struct {
	key   string
	value []byte
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: RECON_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "target topic for replay")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
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
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(cfg.brokers, consumerConfig)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	var producer *kafka.Producer
	if cfg.execute {
		producer, err = kafka.NewProducer(cfg.brokers)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
	}

	partitions, err := consumer.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var scanned, replayed, skipped int
	for _, partition := range partitions {
		if scanned >= cfg.limit {
			break
		}
		pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume partition %d: %w", partition, err)
		}

		s, r, sk := drainPartition(ctx, cfg, pc, producer, cfg.limit-scanned)
		scanned += s
		replayed += r
		skipped += sk
		_ = pc.Close()
	}

	log.WithFields(log.Fields{
		"scanned":  scanned,
		"replayed": replayed,
		"skipped":  skipped,
		"execute":  cfg.execute,
	}).Info("dlq replay finished")
	return nil
}

func drainPartition(ctx context.Context, cfg config, pc sarama.PartitionConsumer, producer *kafka.Producer, budget int) (scanned, replayed, skipped int) {
	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for scanned < budget {
		select {
		case msg := <-pc.Messages():
			if msg == nil {
				return
			}
			scanned++

			replay, err := decodeDLQMessage(msg)
			if err != nil {
				log.WithError(err).WithField("offset", msg.Offset).Warn("skipping undecodable dlq message")
				skipped++
			} else if cfg.execute {
				if err := producer.PublishRaw(cfg.targetTopic, replay.key, replay.value); err != nil {
					log.WithError(err).WithField("offset", msg.Offset).Warn("replay failed")
					skipped++
				} else {
					replayed++
				}
			} else {
				log.WithFields(log.Fields{
					"offset": msg.Offset,
					"key":    replay.key,
				}).Info("would replay (dry-run)")
				replayed++
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(cfg.idleTimeout)
		case err := <-pc.Errors():
			if err != nil {
				log.WithError(err).Warn("partition consumer error")
			}
		case <-idle.C:
			return
		case <-ctx.Done():
			return
		}
	}
	return
}

// decodeDLQMessage восстанавливает исходное сообщение из любого из двух
// форматов DLQ: записи outbox worker (конверт OrderEvent, внутри которого
// лежит outbox.DLQRecord) и плоской записи consumer.
func decodeDLQMessage(msg *sarama.ConsumerMessage) (replayMessage, error) {
	var dlqEnvelope kafka.OrderEvent
	if err := json.Unmarshal(msg.Value, &dlqEnvelope); err == nil && len(dlqEnvelope.Payload) > 0 {
		var record outbox.DLQRecord
		if err := json.Unmarshal(dlqEnvelope.Payload, &record); err == nil && record.OutboxID != "" {
			envelope, err := json.Marshal(kafka.OrderEvent{
				ID:            record.OutboxID,
				AggregateType: record.AggregateType,
				AggregateID:   record.AggregateID,
				EventType:     record.EventType,
				Payload:       record.Payload,
				PublishedAt:   time.Now().UTC(),
			})
			if err != nil {
				return replayMessage{}, fmt.Errorf("rebuild envelope: %w", err)
			}
			key := record.AggregateID
			if key == "" {
				key = record.OutboxID
			}
			return replayMessage{key: key, value: envelope}, nil
		}
	}

	var consumer consumerDLQPayload
	if err := json.Unmarshal(msg.Value, &consumer); err == nil && consumer.OriginalValue != "" {
		return replayMessage{key: consumer.OriginalKey, value: []byte(consumer.OriginalValue)}, nil
	}

	return replayMessage{}, fmt.Errorf("unknown dlq payload shape")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
