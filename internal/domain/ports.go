package domain

import (
	"context"
	"time"
)

// OrderStore описывает требования к хранилищу заказов.
type OrderStore interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderExists, если ID занят.
	Create(order Order) error
	// FindByID возвращает заказ или ErrOrderNotFound, если его нет.
	FindByID(id string) (Order, error)
	// FindByExternalReference ищет заказ по внешней ссылке провайдера.
	FindByExternalReference(ref string) (Order, error)
	// SetPreference привязывает к заказу идентификатор checkout-преференции.
	SetPreference(orderID, preferenceID string) error
	// AdvanceOrderStatus переводит статус from -> to; при несовпадении
	// текущего статуса возвращает ErrOrderStatusConflict.
	AdvanceOrderStatus(id string, from, to OrderStatus) error
	// MarkShipped переводит оплаченный заказ в shipped и сохраняет трек-код.
	MarkShipped(id, trackingCode string) error
	// ListByOrderStatus возвращает заказы в заданном статусе (limit > 0 ограничивает выборку).
	ListByOrderStatus(status OrderStatus, limit int) ([]Order, error)
	// Reconcile выполняет fn внутри одной транзакции над заблокированной
	// строкой заказа. Две конкурентные сверки одного заказа сериализуются
	// на этом шаге. Ошибка из fn откатывает все изменения транзакции.
	Reconcile(orderID string, fn func(tx ReconTx, order *Order) error) error
}

// ReconTx — unit of work одной сверки: все мутации применяются атомарно
// при коммите либо не применяются вовсе.
type ReconTx interface {
	// SaveOrderPayment записывает платёжные поля заказа
	// (paymentStatus, orderStatus, lastAppliedPaymentId).
	SaveOrderPayment(order Order) error
	// DecrementStock уменьшает остаток товара на qty с нижней границей ноль.
	DecrementStock(productID string, qty int32) error
	// StageEvent ставит событие в transactional outbox в рамках той же транзакции.
	StageEvent(msg OutboxMessage) error
}

// ProductCatalog описывает доступ к каталогу товаров на чтение.
type ProductCatalog interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
}

// PaymentProvider описывает чтение платёжных данных у провайдера.
type PaymentProvider interface {
	// GetPayment возвращает запись платежа; пустое тело ответа провайдера
	// отдаётся как нулевая запись без ошибки.
	GetPayment(ctx context.Context, id string) (PaymentRecord, error)
	// SearchPaymentsByReference ищет платежи по external_reference.
	SearchPaymentsByReference(ctx context.Context, ref string) ([]PaymentRecord, error)
	// GetMerchantOrder возвращает группировку платежей checkout-сессии.
	GetMerchantOrder(ctx context.Context, id string) (MerchantOrder, error)
}

// PreferenceItem — позиция checkout-преференции.
type PreferenceItem struct {
	Title          string
	Qty            int32
	UnitPriceMinor int64
}

// PreferenceRequest — запрос на создание checkout-преференции у провайдера.
type PreferenceRequest struct {
	OrderID           string
	ExternalReference string
	Items             []PreferenceItem
	Metadata          map[string]any
	NotificationURL   string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
}

// Preference — созданная преференция: идентификатор и ссылка для оплаты.
type Preference struct {
	ID        string
	InitPoint string
}

// PreferenceService описывает создание checkout-преференций у провайдера.
type PreferenceService interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
}

// Notifier отправляет письмо получателю. Вызывается вне транзакции сверки;
// ошибка отправки логируется и никогда не эскалируется.
type Notifier interface {
	Send(recipient, subject, htmlBody string) error
}

// TrackingEvent — событие трекинга перевозчика.
type TrackingEvent struct {
	Description string
	At          time.Time
}

// CarrierTracker возвращает события трекинга по коду отправления,
// последние события первыми.
type CarrierTracker interface {
	Track(ctx context.Context, code string) ([]TrackingEvent, error)
}

// Типы событий, проходящих через transactional outbox.
const (
	EventTypeOrderCreated = "OrderCreated"
	EventTypeOrderPaid    = "OrderPaid"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}
