package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

// ItemRequest — позиция корзины при оформлении заказа.
type ItemRequest struct {
	ProductID string
	Qty       int32
}

// Request — запрос на оформление заказа.
type Request struct {
	CustomerName  string
	CustomerEmail string
	Items         []ItemRequest
	ShippingMinor int64
	Address       domain.ShippingAddress
}

// Result — созданный заказ и ссылка на оплату у провайдера.
type Result struct {
	Order       domain.Order
	CheckoutURL string
}

// URLs — адреса возврата и уведомлений, передаваемые провайдеру.
type URLs struct {
	Notification string
	Success      string
	Failure      string
	Pending      string
}

// Service оформляет заказ: валидирует корзину по каталогу, создаёт заказ
// в статусе pending/pending и заводит checkout-преференцию у провайдера.
// Цены всегда берутся из каталога, клиентским ценам сервис не доверяет.
type Service struct {
	orders  domain.OrderStore
	catalog domain.ProductCatalog
	prefs   domain.PreferenceService
	outbox  domain.OutboxRepository
	urls    URLs
	logger  *log.Entry
}

// NewService создаёт сервис оформления заказов. outbox опционален.
func NewService(
	orders domain.OrderStore,
	catalog domain.ProductCatalog,
	prefs domain.PreferenceService,
	outbox domain.OutboxRepository,
	urls URLs,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &Service{
		orders:  orders,
		catalog: catalog,
		prefs:   prefs,
		outbox:  outbox,
		urls:    urls,
		logger:  logger,
	}
}

// CreateOrder оформляет заказ и возвращает ссылку на оплату.
func (s *Service) CreateOrder(ctx context.Context, req Request) (Result, error) {
	if req.CustomerEmail == "" {
		return Result{}, domain.ErrCustomerEmailRequired
	}
	if len(req.Items) == 0 {
		return Result{}, domain.ErrItemsRequired
	}
	if req.ShippingMinor < 0 {
		return Result{}, domain.ErrAmountNegative
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		ShippingMinor: req.ShippingMinor,
		Address:       req.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.ExternalReference = order.ID

	for _, item := range req.Items {
		if item.Qty <= 0 {
			return Result{}, domain.ErrItemQtyInvalid
		}
		product, err := s.catalog.Get(item.ProductID)
		if err != nil {
			return Result{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceMinor: product.PriceMinor,
			Qty:            item.Qty,
		})
		order.SubtotalMinor += int64(item.Qty) * product.PriceMinor
	}
	order.TotalMinor = order.SubtotalMinor + order.ShippingMinor

	if errs := order.ValidateInvariants(); len(errs) != 0 {
		return Result{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	logger := s.logger.WithField("order_id", order.ID)

	pref, err := s.createPreference(ctx, order)
	if err != nil {
		// Заказ остаётся pending без преференции; клиент может повторить оплату.
		logger.WithError(err).Error("failed to create checkout preference")
		return Result{}, fmt.Errorf("create preference: %w", err)
	}
	order.PreferenceID = pref.ID

	if err := s.orders.SetPreference(order.ID, pref.ID); err != nil {
		logger.WithError(err).Error("failed to attach preference to order")
		return Result{}, fmt.Errorf("attach preference: %w", err)
	}

	s.enqueueCreatedEvent(order)

	logger.WithField("preference_id", pref.ID).Info("order created")
	return Result{Order: order, CheckoutURL: pref.InitPoint}, nil
}

func (s *Service) createPreference(ctx context.Context, order domain.Order) (domain.Preference, error) {
	items := make([]domain.PreferenceItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, domain.PreferenceItem{
			Title:          item.Name,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	if order.ShippingMinor > 0 {
		items = append(items, domain.PreferenceItem{
			Title:          "Frete",
			Qty:            1,
			UnitPriceMinor: order.ShippingMinor,
		})
	}

	return s.prefs.CreatePreference(ctx, domain.PreferenceRequest{
		OrderID:           order.ID,
		ExternalReference: order.ExternalReference,
		Items:             items,
		Metadata:          map[string]any{"order_id": order.ID},
		NotificationURL:   s.urls.Notification,
		SuccessURL:        s.urls.Success,
		FailureURL:        s.urls.Failure,
		PendingURL:        s.urls.Pending,
	})
}

func (s *Service) enqueueCreatedEvent(order domain.Order) {
	if s.outbox == nil {
		return
	}
	payload := fmt.Sprintf(`{"order_id":%q,"total_minor":%d}`, order.ID, order.TotalMinor)
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(payload),
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue created event")
	}
}
