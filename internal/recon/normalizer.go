package recon

import (
	"strconv"
	"strings"
)

// Ref — канонический результат нормализации входящего уведомления.
// Заполнено ровно одно из полей: либо прямой идентификатор платежа, либо
// идентификатор группировки (merchant order), требующий дорезолва.
type Ref struct {
	PaymentID       string
	MerchantOrderID string
}

// IsZero сообщает, что из уведомления не удалось извлечь ни одной ссылки.
func (r Ref) IsZero() bool {
	return r.PaymentID == "" && r.MerchantOrderID == ""
}

// extractStrategy — одна стратегия извлечения ссылки из сырого payload.
type extractStrategy func(payload map[string]any) (Ref, bool)

// Стратегии пробуются по порядку; исторически провайдер присылал уведомления
// нескольких форм, и каждая форма разбирается отдельной стратегией.
var extractStrategies = []extractStrategy{
	extractDataID,
	extractPaymentResource,
	extractMerchantOrderResource,
}

// Normalize приводит уведомление произвольной формы к каноническому Ref.
// Неразрешимый payload — не ошибка: вызывающий обязан подтвердить приём
// без дальнейшей обработки, чтобы не провоцировать повторные доставки.
func Normalize(payload map[string]any) (Ref, bool) {
	for _, strategy := range extractStrategies {
		if ref, ok := strategy(payload); ok {
			return ref, true
		}
	}
	return Ref{}, false
}

// extractDataID разбирает форму {"data": {"id": "..."}}.
func extractDataID(payload map[string]any) (Ref, bool) {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return Ref{}, false
	}
	id := stringifyID(data["id"])
	if id == "" {
		return Ref{}, false
	}
	return Ref{PaymentID: id}, true
}

// extractPaymentResource разбирает форму {"resource": ".../payments/<id>"}.
func extractPaymentResource(payload map[string]any) (Ref, bool) {
	resource, ok := payload["resource"].(string)
	if !ok || !strings.Contains(resource, "payments") {
		return Ref{}, false
	}
	id := lastPathSegment(resource)
	if id == "" {
		return Ref{}, false
	}
	return Ref{PaymentID: id}, true
}

// extractMerchantOrderResource разбирает форму
// {"resource": ".../merchant_orders/<id>"}; результат — идентификатор
// группировки, платёж по нему ещё предстоит выбрать.
func extractMerchantOrderResource(payload map[string]any) (Ref, bool) {
	resource, ok := payload["resource"].(string)
	if !ok || !strings.Contains(resource, "merchant_order") {
		return Ref{}, false
	}
	id := lastPathSegment(resource)
	if id == "" {
		return Ref{}, false
	}
	return Ref{MerchantOrderID: id}, true
}

func lastPathSegment(resource string) string {
	parts := strings.Split(strings.TrimRight(resource, "/"), "/")
	return parts[len(parts)-1]
}

// stringifyID нормализует идентификатор: провайдер присылает его то строкой,
// то числом (JSON number декодируется в float64).
func stringifyID(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
