package shipping

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/notify"
)

const (
	defaultPollInterval = 30 * time.Minute
	defaultBatchSize    = 50
)

// Маркеры вручения в описании события перевозчика.
var deliveredMarkers = []string{"entregue", "delivered"}

// Tracker периодически опрашивает перевозчика по отправленным заказам
// и переводит их в delivered, когда трекинг подтверждает вручение.
type Tracker struct {
	orders       domain.OrderStore
	carrier      domain.CarrierTracker
	notifier     domain.Notifier
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
}

// NewTracker создаёт трекинг-воркер. pollInterval <= 0 заменяется значением
// по умолчанию.
func NewTracker(
	orders domain.OrderStore,
	carrier domain.CarrierTracker,
	notifier domain.Notifier,
	pollInterval time.Duration,
	logger *log.Entry,
) *Tracker {
	if logger == nil {
		logger = log.WithField("component", "shipping-tracker")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Tracker{
		orders:       orders,
		carrier:      carrier,
		notifier:     notifier,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Run запускает периодический опрос до отмены ctx.
func (t *Tracker) Run(ctx context.Context) {
	if t.orders == nil || t.carrier == nil {
		t.logger.Warn("shipping tracker is disabled: store or carrier is nil")
		return
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл опроса отправленных заказов.
func (t *Tracker) ProcessOnce(ctx context.Context) {
	batch := t.batchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	orders, err := t.orders.ListByOrderStatus(domain.OrderStatusShipped, batch)
	if err != nil {
		t.logger.WithError(err).Warn("failed to list shipped orders")
		return
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		t.checkOrder(ctx, order)
	}
}

func (t *Tracker) checkOrder(ctx context.Context, order domain.Order) {
	logger := t.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"tracking_code": order.TrackingCode,
	})

	if order.TrackingCode == "" {
		logger.Warn("shipped order without tracking code")
		return
	}

	events, err := t.carrier.Track(ctx, order.TrackingCode)
	if err != nil {
		logger.WithError(err).Warn("failed to fetch tracking events")
		return
	}
	if !isDelivered(events) {
		return
	}

	err = t.orders.AdvanceOrderStatus(order.ID, domain.OrderStatusShipped, domain.OrderStatusDelivered)
	if err != nil {
		// Конфликт статуса означает, что заказ уже продвинут конкурентным циклом.
		if !errors.Is(err, domain.ErrOrderStatusConflict) {
			logger.WithError(err).Error("failed to mark order delivered")
		}
		return
	}

	logger.Info("order delivered")

	if t.notifier != nil && order.CustomerEmail != "" {
		subject, body := notify.CustomerOrderDelivered(order)
		if err := t.notifier.Send(order.CustomerEmail, subject, body); err != nil {
			logger.WithError(err).Warn("failed to send delivery notification")
		}
	}
}

// isDelivered ищет маркер вручения в последнем событии трекинга.
// События приходят последними первыми.
func isDelivered(events []domain.TrackingEvent) bool {
	if len(events) == 0 {
		return false
	}
	latest := strings.ToLower(events[0].Description)
	for _, marker := range deliveredMarkers {
		if strings.Contains(latest, marker) {
			return true
		}
	}
	return false
}
