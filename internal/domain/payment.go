package domain

// Статусы платежа на стороне провайдера. Список не исчерпывающий:
// маппинг обязан быть тотальным и для незнакомых значений.
const (
	ProviderStatusApproved  = "approved"
	ProviderStatusRejected  = "rejected"
	ProviderStatusPending   = "pending"
	ProviderStatusInProcess = "in_process"
)

// PaymentRecord — авторитетная запись о платеже, полученная от провайдера.
type PaymentRecord struct {
	// ID — идентификатор платежа в системе провайдера.
	ID string
	// Status — сырой статус провайдера (approved, rejected, pending, ...).
	Status string
	// ExternalReference — ссылка, которую мы передали при создании преференции.
	ExternalReference string
	// Metadata — произвольные поля, заданные при создании преференции.
	Metadata map[string]any
}

// IsZero сообщает, что провайдер вернул пустое тело вместо платежа.
func (p PaymentRecord) IsZero() bool {
	return p.ID == "" && p.Status == "" && p.ExternalReference == "" && len(p.Metadata) == 0
}

// OrderRef возвращает первую непустую ссылку на заказ: metadata order_id,
// затем исторический вариант orderId, затем external_reference. Повторный
// поиск по другому источнику после первого совпадения не выполняется.
func (p PaymentRecord) OrderRef() string {
	for _, key := range []string{"order_id", "orderId"} {
		if raw, ok := p.Metadata[key]; ok {
			if s, ok := raw.(string); ok && s != "" {
				return s
			}
		}
	}
	return p.ExternalReference
}

// MerchantOrder — группировка платежей провайдера для одной checkout-сессии.
type MerchantOrder struct {
	ID       string
	Payments []PaymentRecord
}

// PickPayment выбирает платёж из группировки: approved выигрывает у любого
// другого статуса, иначе берётся первый в списке. Пустая группировка — ok=false.
func (m MerchantOrder) PickPayment() (PaymentRecord, bool) {
	if len(m.Payments) == 0 {
		return PaymentRecord{}, false
	}
	for _, p := range m.Payments {
		if p.Status == ProviderStatusApproved {
			return p, true
		}
	}
	return m.Payments[0], true
}

// MapProviderStatus переводит статус провайдера в локальный PaymentStatus.
// Функция тотальна: любое незнакомое значение трактуется как pending.
func MapProviderStatus(providerStatus string) PaymentStatus {
	switch providerStatus {
	case ProviderStatusApproved:
		return PaymentStatusPaid
	case ProviderStatusRejected:
		return PaymentStatusRejected
	default:
		return PaymentStatusPending
	}
}
