package recon

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/recon/internal/domain"
)

// DefaultRetryBackoff — пауза перед единственным повтором запроса платежа.
// Провайдер публикует уведомление раньше, чем запись становится читаемой,
// поэтому первый запрос нередко возвращает пустое тело.
const DefaultRetryBackoff = 5 * time.Second

// Resolver получает авторитетную запись платежа у провайдера:
// по прямому идентификатору или через группировку merchant order.
type Resolver struct {
	provider domain.PaymentProvider
	backoff  time.Duration
	logger   *log.Entry
}

// NewResolver создаёт Resolver. backoff <= 0 заменяется значением по умолчанию.
func NewResolver(provider domain.PaymentProvider, backoff time.Duration, logger *log.Entry) *Resolver {
	if logger == nil {
		logger = log.WithField("component", "payment-resolver")
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Resolver{
		provider: provider,
		backoff:  backoff,
		logger:   logger,
	}
}

// Resolve возвращает запись платежа либо ErrPaymentUnresolved, если ни один
// из путей не дал результата. Неуспех — ожидаемый пропуск: событие может
// прийти снова, когда данные провайдера станут консистентными.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (domain.PaymentRecord, error) {
	paymentID := ref.PaymentID

	if ref.MerchantOrderID != "" {
		id, err := r.resolveMerchantOrder(ctx, ref.MerchantOrderID)
		if err != nil {
			return domain.PaymentRecord{}, err
		}
		paymentID = id
	}

	if paymentID == "" {
		return domain.PaymentRecord{}, domain.ErrPaymentUnresolved
	}

	return r.fetchPayment(ctx, paymentID)
}

// resolveMerchantOrder выбирает платёж из группировки: approved выигрывает,
// иначе берётся первый в списке.
func (r *Resolver) resolveMerchantOrder(ctx context.Context, merchantOrderID string) (string, error) {
	mo, err := r.provider.GetMerchantOrder(ctx, merchantOrderID)
	if err != nil {
		r.logger.WithError(err).WithField("merchant_order_id", merchantOrderID).
			Warn("failed to fetch merchant order")
		return "", domain.ErrPaymentUnresolved
	}

	picked, ok := mo.PickPayment()
	if !ok || picked.ID == "" {
		r.logger.WithField("merchant_order_id", merchantOrderID).
			Warn("merchant order has no linked payments")
		return "", domain.ErrPaymentUnresolved
	}

	return picked.ID, nil
}

// fetchPayment запрашивает платёж напрямую; пустой ответ повторяется один раз
// после backoff, затем включается последний запасной путь — поиск платежа по
// external_reference, равному идентификатору (провайдер иногда присылает
// идентификатор другой схемы).
func (r *Resolver) fetchPayment(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	logger := r.logger.WithField("payment_id", paymentID)

	rec, err := r.provider.GetPayment(ctx, paymentID)
	if err != nil {
		logger.WithError(err).Warn("failed to fetch payment")
	}

	if err != nil || rec.IsZero() {
		logger.WithField("backoff", r.backoff).Warn("empty payment response, retrying once")
		if waitErr := sleepCtx(ctx, r.backoff); waitErr != nil {
			return domain.PaymentRecord{}, domain.ErrPaymentUnresolved
		}
		rec, err = r.provider.GetPayment(ctx, paymentID)
		if err != nil {
			logger.WithError(err).Warn("payment still unavailable after retry")
		}
	}

	if err != nil || rec.IsZero() {
		found, ok := r.searchByReference(ctx, paymentID)
		if !ok {
			logger.Warn("no payment data found, likely provider delay")
			return domain.PaymentRecord{}, domain.ErrPaymentUnresolved
		}
		rec = found
	}

	if rec.ID == "" {
		rec.ID = paymentID
	}
	return rec, nil
}

func (r *Resolver) searchByReference(ctx context.Context, paymentID string) (domain.PaymentRecord, bool) {
	recs, err := r.provider.SearchPaymentsByReference(ctx, paymentID)
	if err != nil {
		r.logger.WithError(err).WithField("payment_id", paymentID).
			Warn("fallback search by external reference failed")
		return domain.PaymentRecord{}, false
	}
	if len(recs) == 0 || recs[0].IsZero() {
		return domain.PaymentRecord{}, false
	}
	r.logger.WithField("payment_id", paymentID).Info("payment resolved via external reference fallback")
	return recs[0], true
}

// sleepCtx ждёт d, но прерывается при отмене контекста. Пауза блокирует
// обработку только текущего уведомления, глобальных блокировок нет.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
