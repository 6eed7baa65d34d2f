package recon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/provider/mercadopago"
	"github.com/vladislavdragonenkov/recon/internal/storage/memory"
)

type notifierStub struct {
	recipients []string
	subjects   []string
	err        error
}

func (n *notifierStub) Send(recipient, subject, htmlBody string) error {
	if n.err != nil {
		return n.err
	}
	n.recipients = append(n.recipients, recipient)
	n.subjects = append(n.subjects, subject)
	return nil
}

type engineFixture struct {
	engine   *Engine
	provider *mercadopago.MockProvider
	store    domain.OrderStore
	products interface {
		Put(domain.Product) error
		Get(string) (domain.Product, error)
	}
	outbox   domain.OutboxRepository
	notifier *notifierStub
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	products := memory.NewProductCatalog()
	outbox := memory.NewOutboxRepository()
	store := memory.NewOrderStore(products, outbox)
	provider := mercadopago.NewMockProvider()
	notifier := &notifierStub{}

	resolver := NewResolver(provider, testBackoff, nil)
	engine := NewEngineWithoutMetrics(store, resolver, notifier, "loja@example.com", nil)

	products.Put(domain.Product{ID: "prod-1", Name: "Pulseira de Prata", PriceMinor: 15900, Stock: 5})

	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-1",
		CustomerName:  "Clara",
		CustomerEmail: "clara@example.com",
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Pulseira de Prata", UnitPriceMinor: 15900, Qty: 2},
		},
		SubtotalMinor:     31800,
		ShippingMinor:     2000,
		TotalMinor:        33800,
		ExternalReference: "order-1",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	return &engineFixture{
		engine:   engine,
		provider: provider,
		store:    store,
		products: products,
		outbox:   outbox,
		notifier: notifier,
	}
}

func approvedWebhook(f *engineFixture, paymentID string) map[string]any {
	f.provider.Payments[paymentID] = domain.PaymentRecord{
		ID:       paymentID,
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"order_id": "order-1"},
	}
	return map[string]any{"data": map[string]any{"id": paymentID}}
}

func TestEngine_AppliesApprovedPayment(t *testing.T) {
	f := newEngineFixture(t)
	payload := approvedWebhook(f, "pay-1")

	outcome := f.engine.Process(context.Background(), payload)
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	order, _ := f.store.FindByID("order-1")
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}
	if order.OrderStatus != domain.OrderStatusPaid {
		t.Fatalf("expected order status paid, got %s", order.OrderStatus)
	}
	if order.LastAppliedPaymentID != "pay-1" {
		t.Fatalf("expected idempotency marker pay-1, got %q", order.LastAppliedPaymentID)
	}

	product, _ := f.products.Get("prod-1")
	if product.Stock != 3 {
		t.Fatalf("expected stock 3, got %d", product.Stock)
	}

	pending, _ := f.outbox.PullPending(10)
	if len(pending) != 1 || pending[0].EventType != "OrderPaid" {
		t.Fatalf("unexpected outbox: %+v", pending)
	}

	if len(f.notifier.recipients) != 2 {
		t.Fatalf("expected customer and operator emails, got %v", f.notifier.recipients)
	}
	if f.notifier.recipients[0] != "clara@example.com" || f.notifier.recipients[1] != "loja@example.com" {
		t.Fatalf("unexpected recipients: %v", f.notifier.recipients)
	}
}

func TestEngine_DuplicateDeliverySkipped(t *testing.T) {
	f := newEngineFixture(t)
	payload := approvedWebhook(f, "pay-1")

	if outcome := f.engine.Process(context.Background(), payload); outcome != OutcomeApplied {
		t.Fatalf("first delivery: expected applied, got %s", outcome)
	}
	if outcome := f.engine.Process(context.Background(), payload); outcome != OutcomeDuplicate {
		t.Fatalf("second delivery: expected duplicate, got %s", outcome)
	}

	product, _ := f.products.Get("prod-1")
	if product.Stock != 3 {
		t.Fatalf("stock decremented twice: %d", product.Stock)
	}
	pending, _ := f.outbox.PullPending(10)
	if len(pending) != 1 {
		t.Fatalf("expected single staged event, got %d", len(pending))
	}
	if len(f.notifier.recipients) != 2 {
		t.Fatalf("expected no repeated emails, got %v", f.notifier.recipients)
	}
}

func TestEngine_RejectedPayment(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.Payments["pay-2"] = domain.PaymentRecord{
		ID:       "pay-2",
		Status:   domain.ProviderStatusRejected,
		Metadata: map[string]any{"order_id": "order-1"},
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-2"}})
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	order, _ := f.store.FindByID("order-1")
	if order.PaymentStatus != domain.PaymentStatusRejected {
		t.Fatalf("expected rejected, got %s", order.PaymentStatus)
	}
	if order.OrderStatus != domain.OrderStatusPending {
		t.Fatalf("order status must stay pending, got %s", order.OrderStatus)
	}

	product, _ := f.products.Get("prod-1")
	if product.Stock != 5 {
		t.Fatalf("stock must not change on rejection: %d", product.Stock)
	}
	if len(f.notifier.recipients) != 0 {
		t.Fatalf("no emails expected on rejection, got %v", f.notifier.recipients)
	}
}

func TestEngine_UnknownPayloadShape(t *testing.T) {
	f := newEngineFixture(t)

	outcome := f.engine.Process(context.Background(), map[string]any{"hello": "world"})
	if outcome != OutcomeUnresolvable {
		t.Fatalf("expected unresolvable, got %s", outcome)
	}
	if f.provider.GetCalls != 0 {
		t.Fatalf("provider must not be called, got %d", f.provider.GetCalls)
	}
}

func TestEngine_ResolutionFailure(t *testing.T) {
	f := newEngineFixture(t)

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "ghost"}})
	if outcome != OutcomeResolutionFailed {
		t.Fatalf("expected resolution_failed, got %s", outcome)
	}

	order, _ := f.store.FindByID("order-1")
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("order must be untouched, got %s", order.PaymentStatus)
	}
}

func TestEngine_OrderNotFound(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.Payments["pay-3"] = domain.PaymentRecord{
		ID:       "pay-3",
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"order_id": "missing-order"},
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-3"}})
	if outcome != OutcomeOrderNotFound {
		t.Fatalf("expected order_not_found, got %s", outcome)
	}
}

func TestEngine_OrderFoundByExternalReference(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.Payments["pay-4"] = domain.PaymentRecord{
		ID:                "pay-4",
		Status:            domain.ProviderStatusApproved,
		ExternalReference: "order-1",
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-4"}})
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
}

func TestEngine_CamelCaseMetadataKey(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.Payments["pay-5"] = domain.PaymentRecord{
		ID:       "pay-5",
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"orderId": "order-1"},
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-5"}})
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
}

func TestEngine_NotificationFailureDoesNotAffectOutcome(t *testing.T) {
	f := newEngineFixture(t)
	f.notifier.err = errors.New("smtp down")
	payload := approvedWebhook(f, "pay-1")

	outcome := f.engine.Process(context.Background(), payload)
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied despite smtp failure, got %s", outcome)
	}

	order, _ := f.store.FindByID("order-1")
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("commit must survive smtp failure, got %s", order.PaymentStatus)
	}
}

func TestEngine_PendingProviderStatusMapsToPending(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.Payments["pay-6"] = domain.PaymentRecord{
		ID:       "pay-6",
		Status:   domain.ProviderStatusInProcess,
		Metadata: map[string]any{"order_id": "order-1"},
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-6"}})
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	order, _ := f.store.FindByID("order-1")
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", order.PaymentStatus)
	}
	if order.LastAppliedPaymentID != "pay-6" {
		t.Fatalf("marker must be updated, got %q", order.LastAppliedPaymentID)
	}
}

type metricsStub struct {
	outcomes        []string
	notifications   []string
	stockDecrements int
}

func (m *metricsStub) RecordOutcome(outcome string) { m.outcomes = append(m.outcomes, outcome) }
func (m *metricsStub) RecordReconcileDuration(time.Duration) {}
func (m *metricsStub) RecordNotification(result string) {
	m.notifications = append(m.notifications, result)
}
func (m *metricsStub) RecordStockDecrements(count int) { m.stockDecrements += count }

func TestEngine_StockDecrementsRecordedAfterCommit(t *testing.T) {
	f := newEngineFixture(t)
	stub := &metricsStub{}
	f.engine.metrics = stub
	payload := approvedWebhook(f, "pay-1")

	if outcome := f.engine.Process(context.Background(), payload); outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if stub.stockDecrements != 1 {
		t.Fatalf("expected one recorded decrement, got %d", stub.stockDecrements)
	}
	if len(stub.outcomes) != 1 || stub.outcomes[0] != string(OutcomeApplied) {
		t.Fatalf("unexpected outcomes: %v", stub.outcomes)
	}
}

func TestEngine_AbortedReconcileRecordsNoStockDecrements(t *testing.T) {
	f := newEngineFixture(t)
	stub := &metricsStub{}
	f.engine.metrics = stub

	// Вторая позиция ссылается на несуществующий товар: транзакция
	// откатывается после успешного списания по первой позиции.
	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-2",
		CustomerName:  "Clara",
		CustomerEmail: "clara@example.com",
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Pulseira de Prata", UnitPriceMinor: 15900, Qty: 1},
			{ProductID: "ghost", Name: "Anel Fantasma", UnitPriceMinor: 100, Qty: 1},
		},
		SubtotalMinor: 16000,
		TotalMinor:    16000,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.store.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	f.provider.Payments["pay-8"] = domain.PaymentRecord{
		ID:       "pay-8",
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"order_id": "order-2"},
	}

	outcome := f.engine.Process(context.Background(), map[string]any{"data": map[string]any{"id": "pay-8"}})
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if stub.stockDecrements != 0 {
		t.Fatalf("aborted transaction must not record decrements, got %d", stub.stockDecrements)
	}

	product, _ := f.products.Get("prod-1")
	if product.Stock != 5 {
		t.Fatalf("stock must be untouched after rollback: %d", product.Stock)
	}
}

func TestEngine_PaidEmailMentionsOrder(t *testing.T) {
	f := newEngineFixture(t)
	payload := approvedWebhook(f, "pay-1")

	if outcome := f.engine.Process(context.Background(), payload); outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if len(f.notifier.subjects) == 0 || !strings.Contains(f.notifier.subjects[0], "order-1") {
		t.Fatalf("customer subject must mention order id: %v", f.notifier.subjects)
	}
}
