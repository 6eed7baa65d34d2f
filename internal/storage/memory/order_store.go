package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

// orderStoreInMemory — in-memory реализация OrderStore. Reconcile сериализуется
// общим мьютексом: две конкурентные сверки одного заказа выполняются строго
// по очереди, как и в postgres-реализации с row lock.
type orderStoreInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byRef    map[string]string
	products *productCatalogInMemory
	outbox   *outboxRepositoryInMemory
}

// NewOrderStore возвращает in-memory хранилище заказов. Каталог и outbox
// участвуют в транзакции сверки, поэтому передаются сюда же.
func NewOrderStore(products *productCatalogInMemory, outbox *outboxRepositoryInMemory) *orderStoreInMemory {
	return &orderStoreInMemory{
		items:    make(map[string]domain.Order),
		byRef:    make(map[string]string),
		products: products,
		outbox:   outbox,
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (s *orderStoreInMemory) Create(order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	s.items[order.ID] = order
	if order.ExternalReference != "" {
		s.byRef[order.ExternalReference] = order.ID
	}
	return nil
}

// FindByID возвращает заказ или ErrOrderNotFound, если его нет.
func (s *orderStoreInMemory) FindByID(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// FindByExternalReference ищет заказ по внешней ссылке провайдера.
func (s *orderStoreInMemory) FindByExternalReference(ref string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[ref]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.items[id], nil
}

// SetPreference привязывает к заказу идентификатор checkout-преференции.
func (s *orderStoreInMemory) SetPreference(orderID, preferenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.PreferenceID = preferenceID
	order.UpdatedAt = time.Now().UTC()
	s.items[orderID] = order
	return nil
}

// AdvanceOrderStatus переводит статус заказа from -> to по принципу
// compare-and-swap: несовпадение текущего статуса — ErrOrderStatusConflict.
func (s *orderStoreInMemory) AdvanceOrderStatus(id string, from, to domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.OrderStatus != from {
		return domain.ErrOrderStatusConflict
	}
	order.OrderStatus = to
	if to == domain.OrderStatusShipped && order.ShippedAt.IsZero() {
		order.ShippedAt = time.Now().UTC()
	}
	order.UpdatedAt = time.Now().UTC()
	s.items[id] = order
	return nil
}

// MarkShipped переводит оплаченный заказ в shipped и сохраняет трек-код.
func (s *orderStoreInMemory) MarkShipped(id, trackingCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.OrderStatus != domain.OrderStatusPaid {
		return domain.ErrOrderStatusConflict
	}
	order.OrderStatus = domain.OrderStatusShipped
	order.TrackingCode = trackingCode
	order.ShippedAt = time.Now().UTC()
	order.UpdatedAt = order.ShippedAt
	s.items[id] = order
	return nil
}

// ListByOrderStatus возвращает заказы в заданном статусе, старые первыми.
func (s *orderStoreInMemory) ListByOrderStatus(status domain.OrderStatus, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.items))
	for _, order := range s.items {
		if order.OrderStatus == status {
			result = append(result, order)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Reconcile выполняет fn над копией заказа под общим мьютексом. Мутации
// копятся в транзакции и применяются одним коммитом только при nil-ошибке fn.
func (s *orderStoreInMemory) Reconcile(orderID string, fn func(tx domain.ReconTx, order *domain.Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	tx := &reconTxInMemory{store: s}
	order := current
	if err := fn(tx, &order); err != nil {
		return err
	}
	return tx.commit()
}

// stockDecrement — отложенное списание остатка в рамках транзакции.
type stockDecrement struct {
	productID string
	qty       int32
}

// reconTxInMemory копит мутации сверки до коммита.
type reconTxInMemory struct {
	store      *orderStoreInMemory
	saved      *domain.Order
	decrements []stockDecrement
	staged     []domain.OutboxMessage
}

// SaveOrderPayment запоминает платёжные поля заказа для коммита.
func (tx *reconTxInMemory) SaveOrderPayment(order domain.Order) error {
	saved := order
	tx.saved = &saved
	return nil
}

// DecrementStock откладывает списание остатка; несуществующий товар
// обнаруживается сразу и откатывает транзакцию.
func (tx *reconTxInMemory) DecrementStock(productID string, qty int32) error {
	if tx.store.products == nil || !tx.store.products.exists(productID) {
		return domain.ErrProductNotFound
	}
	tx.decrements = append(tx.decrements, stockDecrement{productID: productID, qty: qty})
	return nil
}

// StageEvent откладывает событие для постановки в outbox при коммите.
func (tx *reconTxInMemory) StageEvent(msg domain.OutboxMessage) error {
	tx.staged = append(tx.staged, msg)
	return nil
}

func (tx *reconTxInMemory) commit() error {
	if tx.saved != nil {
		tx.store.items[tx.saved.ID] = *tx.saved
		if tx.saved.ExternalReference != "" {
			tx.store.byRef[tx.saved.ExternalReference] = tx.saved.ID
		}
	}
	for _, dec := range tx.decrements {
		if err := tx.store.products.decrement(dec.productID, dec.qty); err != nil {
			return err
		}
	}
	for _, msg := range tx.staged {
		if _, err := tx.store.outbox.Enqueue(msg); err != nil {
			return err
		}
	}
	return nil
}

var _ domain.OrderStore = (*orderStoreInMemory)(nil)
var _ domain.ReconTx = (*reconTxInMemory)(nil)
