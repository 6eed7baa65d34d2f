package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/recon/internal/checkout"
	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/provider/mercadopago"
	"github.com/vladislavdragonenkov/recon/internal/recon"
	outboxsvc "github.com/vladislavdragonenkov/recon/internal/service/outbox"
	"github.com/vladislavdragonenkov/recon/internal/shipping"
	"github.com/vladislavdragonenkov/recon/internal/storage/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Send(recipient, subject, htmlBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type stubCarrier struct {
	events map[string][]domain.TrackingEvent
}

func (c *stubCarrier) Track(ctx context.Context, code string) ([]domain.TrackingEvent, error) {
	return c.events[code], nil
}

// OrderLifecycleTestSuite прогоняет полный жизненный цикл заказа на
// in-memory зависимостях: оформление, сверка платежа, публикация outbox,
// отправка и подтверждение доставки.
type OrderLifecycleTestSuite struct {
	suite.Suite
	orders   domain.OrderStore
	products interface {
		Put(domain.Product) error
		Get(string) (domain.Product, error)
	}
	outbox    domain.OutboxRepository
	provider  *mercadopago.MockProvider
	notifier  *recordingNotifier
	publisher *recordingPublisher
	carrier   *stubCarrier
	checkout  *checkout.Service
	engine    *recon.Engine
	worker    *outboxsvc.Worker
	tracker   *shipping.Tracker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	catalog := memory.NewProductCatalog()
	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderStore(catalog, outbox)

	suite.orders = orders
	suite.products = catalog
	suite.outbox = outbox
	suite.provider = mercadopago.NewMockProvider()
	suite.notifier = &recordingNotifier{}
	suite.publisher = &recordingPublisher{}
	suite.carrier = &stubCarrier{events: make(map[string][]domain.TrackingEvent)}

	suite.checkout = checkout.NewService(orders, catalog, suite.provider, outbox, checkout.URLs{
		Notification: "https://shop.example/payment/webhook",
	}, logger)

	resolver := recon.NewResolver(suite.provider, time.Millisecond, logger)
	suite.engine = recon.NewEngineWithoutMetrics(orders, resolver, suite.notifier, "loja@example.com", logger)

	suite.worker = outboxsvc.NewWorker(outbox, suite.publisher, outboxsvc.WithLogger(logger))
	suite.tracker = shipping.NewTracker(orders, suite.carrier, suite.notifier, time.Minute, logger)

	suite.Require().NoError(catalog.Put(domain.Product{
		ID:         "prod-1",
		Name:       "Pingente de Esmeralda",
		PriceMinor: 74900,
		Stock:      4,
	}))
}

func (suite *OrderLifecycleTestSuite) createOrder() domain.Order {
	result, err := suite.checkout.CreateOrder(context.Background(), checkout.Request{
		CustomerName:  "Marina",
		CustomerEmail: "marina@example.com",
		Items:         []checkout.ItemRequest{{ProductID: "prod-1", Qty: 2}},
		ShippingMinor: 2300,
	})
	suite.Require().NoError(err)
	return result.Order
}

func (suite *OrderLifecycleTestSuite) deliverApproved(paymentID, orderID string) recon.Outcome {
	suite.provider.Payments[paymentID] = domain.PaymentRecord{
		ID:       paymentID,
		Status:   domain.ProviderStatusApproved,
		Metadata: map[string]any{"order_id": orderID},
	}
	return suite.engine.Process(context.Background(), map[string]any{
		"data": map[string]any{"id": paymentID},
	})
}

func (suite *OrderLifecycleTestSuite) TestFullLifecycle() {
	order := suite.createOrder()

	outcome := suite.deliverApproved("pay-1", order.ID)
	suite.Require().Equal(recon.OutcomeApplied, outcome)

	paid, err := suite.orders.FindByID(order.ID)
	suite.Require().NoError(err)
	suite.Require().Equal(domain.PaymentStatusPaid, paid.PaymentStatus)
	suite.Require().Equal(domain.OrderStatusPaid, paid.OrderStatus)

	product, err := suite.products.Get("prod-1")
	suite.Require().NoError(err)
	suite.Require().Equal(int32(2), product.Stock)

	// Клиент и оператор получили письма об оплате.
	suite.Require().Equal(2, suite.notifier.count())

	// Outbox содержит OrderCreated и OrderPaid; worker публикует оба.
	suite.worker.ProcessOnce(context.Background())
	suite.Require().Len(suite.publisher.events, 2)
	types := []string{suite.publisher.events[0].EventType, suite.publisher.events[1].EventType}
	suite.Require().Contains(types, "OrderCreated")
	suite.Require().Contains(types, "OrderPaid")

	pending, err := suite.outbox.PullPending(10)
	suite.Require().NoError(err)
	suite.Require().Empty(pending)

	// Отправка и доставка.
	suite.Require().NoError(suite.orders.MarkShipped(order.ID, "BR987654321"))
	suite.carrier.events["BR987654321"] = []domain.TrackingEvent{
		{Description: "Objeto entregue ao destinatário", At: time.Now()},
	}
	suite.tracker.ProcessOnce(context.Background())

	delivered, err := suite.orders.FindByID(order.ID)
	suite.Require().NoError(err)
	suite.Require().Equal(domain.OrderStatusDelivered, delivered.OrderStatus)
	suite.Require().Equal(3, suite.notifier.count())
}

func (suite *OrderLifecycleTestSuite) TestDuplicateWebhookDelivery() {
	order := suite.createOrder()

	suite.Require().Equal(recon.OutcomeApplied, suite.deliverApproved("pay-1", order.ID))
	suite.Require().Equal(recon.OutcomeDuplicate, suite.deliverApproved("pay-1", order.ID))

	product, err := suite.products.Get("prod-1")
	suite.Require().NoError(err)
	suite.Require().Equal(int32(2), product.Stock)
	suite.Require().Equal(2, suite.notifier.count())
}

func (suite *OrderLifecycleTestSuite) TestRejectedThenApprovedPayment() {
	order := suite.createOrder()

	suite.provider.Payments["pay-rejected"] = domain.PaymentRecord{
		ID:       "pay-rejected",
		Status:   domain.ProviderStatusRejected,
		Metadata: map[string]any{"order_id": order.ID},
	}
	outcome := suite.engine.Process(context.Background(), map[string]any{
		"data": map[string]any{"id": "pay-rejected"},
	})
	suite.Require().Equal(recon.OutcomeApplied, outcome)

	current, err := suite.orders.FindByID(order.ID)
	suite.Require().NoError(err)
	suite.Require().Equal(domain.PaymentStatusRejected, current.PaymentStatus)
	suite.Require().Equal(domain.OrderStatusPending, current.OrderStatus)

	// Клиент оплатил повторно другим платежом.
	suite.Require().Equal(recon.OutcomeApplied, suite.deliverApproved("pay-retry", order.ID))

	current, err = suite.orders.FindByID(order.ID)
	suite.Require().NoError(err)
	suite.Require().Equal(domain.PaymentStatusPaid, current.PaymentStatus)
	suite.Require().Equal(domain.OrderStatusPaid, current.OrderStatus)
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
