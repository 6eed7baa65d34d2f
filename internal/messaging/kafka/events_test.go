package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

func TestParseOrderEvent(t *testing.T) {
	value, err := json.Marshal(OrderEvent{
		ID:            "msg-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.EventTypeOrderPaid,
		Payload:       json.RawMessage(`{"order_id":"order-1"}`),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	event, err := ParseOrderEvent(&sarama.ConsumerMessage{Topic: TopicOrderEvents, Value: value})
	if err != nil {
		t.Fatalf("ParseOrderEvent: %v", err)
	}
	if event.ID != "msg-1" || event.EventType != domain.EventTypeOrderPaid {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.AggregateID != "order-1" {
		t.Fatalf("unexpected aggregate id: %q", event.AggregateID)
	}
	if string(event.Payload) != `{"order_id":"order-1"}` {
		t.Fatalf("payload must pass through untouched: %s", event.Payload)
	}
}

func TestParseOrderEvent_RejectsInvalid(t *testing.T) {
	cases := map[string][]byte{
		"not json":           []byte("not-json"),
		"missing event_type": []byte(`{"id":"msg-1","aggregate_id":"order-1"}`),
	}
	for name, value := range cases {
		if _, err := ParseOrderEvent(&sarama.ConsumerMessage{Value: value}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
