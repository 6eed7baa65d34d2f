package domain

import "time"

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не подтверждена провайдером.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — провайдер подтвердил оплату.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRejected — провайдер отклонил оплату.
	PaymentStatusRejected PaymentStatus = "rejected"
)

// OrderStatus описывает жизненный цикл заказа магазина.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан при оформлении, оплата не завершена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата применена механизмом сверки.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку, назначен трек-код.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — перевозчик подтвердил вручение.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до исполнения.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// statusRank задаёт порядок продвижения статусов: начиная с paid статус
// монотонно растёт и через путь сверки никогда не откатывается назад.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPaid:      1,
	OrderStatusShipped:   2,
	OrderStatusDelivered: 3,
}

// CanAdvanceTo сообщает, допустим ли переход текущего статуса в next.
// Отмена разрешена только из pending; остальные переходы идут строго вперёд.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		return s == OrderStatusPending
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	target, ok := statusRank[next]
	if !ok {
		return false
	}
	return target == cur+1
}

// OrderItem представляет одну позицию заказа. Позиции неизменяемы после создания.
type OrderItem struct {
	// ProductID ссылается на товар каталога.
	ProductID string
	// Name — название товара на момент оформления.
	Name string
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах (сентаво).
	UnitPriceMinor int64
	// Qty — количество единиц товара.
	Qty int32
}

// ShippingAddress — адрес доставки, заполняется при оформлении.
type ShippingAddress struct {
	Recipient  string
	Phone      string
	PostalCode string
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	State      string
}

// Order агрегирует состояние заказа, его позиции и платёжные поля.
// Платёжные поля мутирует только механизм сверки, поля доставки — трекинг-воркер.
type Order struct {
	ID            string
	CustomerName  string
	CustomerEmail string

	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus

	Items         []OrderItem
	SubtotalMinor int64
	ShippingMinor int64
	TotalMinor    int64

	// LastAppliedPaymentID — идентификатор последнего платежа провайдера,
	// успешно применённого к заказу. Ключ идемпотентности сверки.
	LastAppliedPaymentID string
	// ExternalReference связывает заказ с платежом/преференцией на стороне провайдера.
	ExternalReference string
	// PreferenceID — идентификатор checkout-преференции провайдера.
	PreferenceID string

	Address      ShippingAddress
	TrackingCode string
	ShippedAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerEmail == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.ShippingMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций и доставкой.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.UnitPriceMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.SubtotalMinor+o.ShippingMinor != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
