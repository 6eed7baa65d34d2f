package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/storage/memory"
)

type publisherStub struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
	err    error
}

func (p *publisherStub) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *publisherStub) published() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.events...)
}

func enqueue(t *testing.T, repo domain.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func TestWorker_PublishesPendingAndMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &publisherStub{}
	enqueue(t, repo, "OrderPaid")

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	if got := publisher.published(); len(got) != 1 || got[0].EventType != "OrderPaid" {
		t.Fatalf("unexpected published events: %+v", got)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}
}

func TestWorker_FailedPublishGoesToDLQ(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &publisherStub{err: errors.New("broker down")}
	dlq := &publisherStub{}
	msg := enqueue(t, repo, "OrderPaid")

	worker := NewWorker(repo, publisher,
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
		WithDLQPublisher(dlq),
	)
	worker.ProcessOnce(context.Background())

	got := dlq.published()
	if len(got) != 1 || got[0].ID != msg.ID {
		t.Fatalf("expected event in DLQ, got %+v", got)
	}

	var record DLQRecord
	if err := json.Unmarshal(got[0].Payload, &record); err != nil {
		t.Fatalf("dlq payload must decode as DLQRecord: %v", err)
	}
	if record.OutboxID != msg.ID || record.EventType != "OrderPaid" {
		t.Fatalf("unexpected dlq record: %+v", record)
	}
	if string(record.Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("original payload must be preserved: %s", record.Payload)
	}
	if record.PublishError == "" {
		t.Fatalf("dlq record must carry publish error")
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("failed event must leave pending state, got %d", stats.PendingCount)
	}
}

func TestWorker_RecoversAfterTransientError(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &publisherStub{err: errors.New("broker down")}
	enqueue(t, repo, "OrderPaid")

	worker := NewWorker(repo, publisher, WithMaxAttempts(1), WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	// Брокер ожил: событие уже помечено failed и повторно не публикуется,
	// но новые события уходят.
	publisher.err = nil
	enqueue(t, repo, "OrderShipped")
	worker.ProcessOnce(context.Background())

	got := publisher.published()
	if len(got) != 1 || got[0].EventType != "OrderShipped" {
		t.Fatalf("unexpected published events: %+v", got)
	}
}
