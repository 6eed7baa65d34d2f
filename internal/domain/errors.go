package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при попытке создать заказ с занятым ID.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderStatusConflict сигнализирует о недопустимом переходе статуса заказа.
	ErrOrderStatusConflict = errors.New("order status conflict")
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")

	// ErrAlreadyApplied — платёж уже применён к заказу; повторная доставка
	// уведомления не должна иметь побочных эффектов.
	ErrAlreadyApplied = errors.New("payment already applied")
	// ErrPaymentUnresolved — платёж не удалось получить ни одним из путей.
	// Ожидаемое операционное состояние, а не сбой: событие может прийти позже.
	ErrPaymentUnresolved = errors.New("payment record unresolved")

	// Ошибка отсутствия e-mail клиента в заказе.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsBenignSkip проверяет, относится ли ошибка к ожидаемым пропускам сверки:
// такие исходы подтверждаются провайдеру без эскалации.
func IsBenignSkip(err error) bool {
	return errors.Is(err, ErrPaymentUnresolved) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrAlreadyApplied)
}
