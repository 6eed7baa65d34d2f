package recon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
	"github.com/vladislavdragonenkov/recon/internal/metrics"
	"github.com/vladislavdragonenkov/recon/internal/notify"
)

// Outcome — терминальное состояние обработки одного уведомления.
// Каждый исход подтверждается провайдеру успешным приёмом.
type Outcome string

const (
	// OutcomeApplied — сверка закоммичена, побочные эффекты применены.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate — платёж уже применялся, мутаций нет.
	OutcomeDuplicate Outcome = "skipped_duplicate"
	// OutcomeUnresolvable — из payload не извлечь ссылку на платёж.
	OutcomeUnresolvable Outcome = "unresolvable"
	// OutcomeResolutionFailed — провайдер не отдал запись платежа.
	OutcomeResolutionFailed Outcome = "resolution_failed"
	// OutcomeOrderNotFound — платёж не привязался ни к одному заказу.
	OutcomeOrderNotFound Outcome = "order_not_found"
	// OutcomeFailed — транзакция сверки прервана внутренней ошибкой.
	// Провайдеру всё равно отвечаем приёмом: восстановление — через
	// алёрт оператору, а не через повторную доставку.
	OutcomeFailed Outcome = "failed"
)

// Metrics — счётчики, которые механизм сверки обновляет после обработки
// уведомления. Списания остатков фиксируются только после коммита.
type Metrics interface {
	RecordOutcome(outcome string)
	RecordReconcileDuration(d time.Duration)
	RecordNotification(result string)
	RecordStockDecrements(count int)
}

var _ Metrics = (*metrics.ReconMetrics)(nil)

// Engine применяет уведомление провайдера к локальному заказу ровно один раз:
// нормализация, получение платежа, guard идемпотентности и транзакционное
// применение побочных эффектов.
type Engine struct {
	orders        domain.OrderStore
	resolver      *Resolver
	notifier      domain.Notifier
	operatorEmail string
	logger        *log.Entry
	metrics       Metrics
}

// NewEngine создаёт рабочий экземпляр механизма сверки.
func NewEngine(
	orders domain.OrderStore,
	resolver *Resolver,
	notifier domain.Notifier,
	operatorEmail string,
	logger *log.Entry,
) *Engine {
	engine := newEngine(orders, resolver, notifier, operatorEmail, logger)
	engine.metrics = metrics.NewReconMetrics()
	return engine
}

// NewEngineWithoutMetrics создаёт механизм сверки без метрик (для тестов).
func NewEngineWithoutMetrics(
	orders domain.OrderStore,
	resolver *Resolver,
	notifier domain.Notifier,
	operatorEmail string,
	logger *log.Entry,
) *Engine {
	return newEngine(orders, resolver, notifier, operatorEmail, logger)
}

func newEngine(
	orders domain.OrderStore,
	resolver *Resolver,
	notifier domain.Notifier,
	operatorEmail string,
	logger *log.Entry,
) *Engine {
	if logger == nil {
		logger = log.WithField("component", "recon-engine")
	}
	return &Engine{
		orders:        orders,
		resolver:      resolver,
		notifier:      notifier,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// Process прогоняет уведомление через конвейер сверки и возвращает
// терминальный исход. Ошибки уровней нормализации и резолва деградируют
// до пропуска; наружу метод не паникует и не возвращает ошибок.
func (e *Engine) Process(ctx context.Context, payload map[string]any) Outcome {
	start := time.Now()
	outcome := e.process(ctx, payload)
	if e.metrics != nil {
		e.metrics.RecordOutcome(string(outcome))
		e.metrics.RecordReconcileDuration(time.Since(start))
	}
	return outcome
}

func (e *Engine) process(ctx context.Context, payload map[string]any) Outcome {
	ref, ok := Normalize(payload)
	if !ok {
		e.logger.Warn("notification without usable payment reference")
		return OutcomeUnresolvable
	}

	rec, err := e.resolver.Resolve(ctx, ref)
	if err != nil {
		return OutcomeResolutionFailed
	}

	logger := e.logger.WithField("payment_id", rec.ID)

	order, err := e.lookupOrder(rec)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.WithField("order_ref", rec.OrderRef()).Warn("payment has no matching order")
			return OutcomeOrderNotFound
		}
		logger.WithError(err).Error("order lookup failed")
		return OutcomeFailed
	}

	newStatus := domain.MapProviderStatus(rec.Status)
	logger = logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"payment_status": newStatus,
	})

	var applied domain.Order
	err = e.orders.Reconcile(order.ID, func(tx domain.ReconTx, current *domain.Order) error {
		// Guard идемпотентности: проверка и обновление маркера происходят
		// под блокировкой строки, в той же транзакции, что и запись статуса.
		if current.LastAppliedPaymentID == rec.ID && current.PaymentStatus == domain.PaymentStatusPaid {
			return domain.ErrAlreadyApplied
		}

		current.PaymentStatus = newStatus
		if newStatus == domain.PaymentStatusPaid && current.OrderStatus.CanAdvanceTo(domain.OrderStatusPaid) {
			current.OrderStatus = domain.OrderStatusPaid
		}
		current.LastAppliedPaymentID = rec.ID
		current.UpdatedAt = time.Now().UTC()

		if err := tx.SaveOrderPayment(*current); err != nil {
			return err
		}

		if newStatus != domain.PaymentStatusPaid {
			applied = *current
			return nil
		}

		for _, item := range current.Items {
			if err := tx.DecrementStock(item.ProductID, item.Qty); err != nil {
				return err
			}
		}

		if err := e.stageOrderPaidEvent(tx, *current, rec.ID); err != nil {
			return err
		}

		applied = *current
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyApplied) {
			logger.Info("payment already applied, skipping")
			return OutcomeDuplicate
		}
		logger.WithError(err).Error("reconciliation transaction aborted")
		return OutcomeFailed
	}

	logger.Info("order reconciled")

	// Побочные эффекты после коммита: счётчики и уведомления не должны
	// фиксироваться для откаченной транзакции.
	if newStatus == domain.PaymentStatusPaid {
		if e.metrics != nil {
			e.metrics.RecordStockDecrements(len(applied.Items))
		}
		e.dispatchPaidNotifications(applied)
	}

	return OutcomeApplied
}

// lookupOrder привязывает запись платежа к заказу: первая непустая ссылка
// ищется по идентификатору, а значение из external_reference дополнительно
// проверяется по одноимённому индексу (провайдер может вернуть ссылку
// другой схемы). Повторный заход со вторым источником ссылки не выполняется.
func (e *Engine) lookupOrder(rec domain.PaymentRecord) (domain.Order, error) {
	ref := rec.OrderRef()
	if ref == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	order, err := e.orders.FindByID(ref)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, err
	}

	if ref == rec.ExternalReference {
		return e.orders.FindByExternalReference(ref)
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// stageOrderPaidEvent ставит событие об оплате в outbox в рамках транзакции
// сверки: событие публикуется только если коммит состоялся.
func (e *Engine) stageOrderPaidEvent(tx domain.ReconTx, order domain.Order, paymentID string) error {
	data, err := json.Marshal(map[string]any{
		"order_id":    order.ID,
		"payment_id":  paymentID,
		"total_minor": order.TotalMinor,
		"ts":          order.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return tx.StageEvent(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderPaid,
		Payload:       data,
	})
}

// dispatchPaidNotifications отправляет письма клиенту и оператору независимо:
// сбой одного не подавляет другое, оба — best effort.
func (e *Engine) dispatchPaidNotifications(order domain.Order) {
	if e.notifier == nil {
		return
	}

	subject, body := notify.CustomerOrderPaid(order)
	e.send(order.CustomerEmail, subject, body, "customer")

	if e.operatorEmail != "" {
		subject, body = notify.OperatorOrderPaid(order)
		e.send(e.operatorEmail, subject, body, "operator")
	}
}

func (e *Engine) send(recipient, subject, body, kind string) {
	if recipient == "" {
		return
	}
	if err := e.notifier.Send(recipient, subject, body); err != nil {
		e.logger.WithError(err).WithField("recipient_kind", kind).Warn("failed to send notification")
		if e.metrics != nil {
			e.metrics.RecordNotification("failed")
		}
		return
	}
	if e.metrics != nil {
		e.metrics.RecordNotification("sent")
	}
}
