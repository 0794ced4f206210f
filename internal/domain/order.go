package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан и ждёт оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid: оплата принята наличными или подтверждена шлюзом.
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusCompleted терминальный: заказ выдан клиенту.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCanceled терминальный.
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// allowedTransitions: from -> допустимые to.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:  {OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPaid:     {OrderStatusShipping, OrderStatusCompleted, OrderStatusCanceled},
	OrderStatusShipping: {OrderStatusCompleted, OrderStatusCanceled},
}

// ParseOrderStatus принимает статус в любом регистре ("paid", "PAID").
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ErrStatusInvalid
	}
	return status, nil
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipping, OrderStatusCompleted, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

// Processing сообщает, входит ли заказ в живой счётчик для персонала.
func (s OrderStatus) Processing() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

// CanTransition проверяет переход from -> to по таблице статусов.
// Переход в тот же статус не считается переходом и здесь запрещён.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ProcessingStatuses возвращает статусы живого счётчика.
func ProcessingStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusPaid}
}

// OrderType: канал продажи.
type OrderType string

const (
	OrderTypePOS    OrderType = "POS"
	OrderTypeOnline OrderType = "ONLINE"
)

// ParseOrderType нормализует тип заказа; пустое значение означает POS.
func ParseOrderType(raw string) (OrderType, error) {
	switch OrderType(strings.ToUpper(strings.TrimSpace(raw))) {
	case "", OrderTypePOS:
		return OrderTypePOS, nil
	case OrderTypeOnline:
		return OrderTypeOnline, nil
	default:
		return "", ErrOrderTypeInvalid
	}
}

// ToppingLine: топпинг внутри позиции; цена зафиксирована при создании.
type ToppingLine struct {
	ToppingID int64
	Name      string
	Quantity  int32
	UnitPrice int64
}

// OrderLineItem представляет одну позицию заказа.
type OrderLineItem struct {
	ID          string
	ProductID   int64
	ProductName string
	// SizeID равен 0, если размер не выбран.
	SizeID   int64
	Quantity int32
	// UnitPrice учитывает акцию и фиксируется при создании заказа.
	UnitPrice int64
	// OriginalUnitPrice: цена размера или продукта без акции.
	OriginalUnitPrice int64
	// ToppingTotal считается на одну единицу позиции.
	ToppingTotal int64
	Toppings     []ToppingLine
	OptionIDs    []int64
}

// LineTotal = (unit_price + topping_total) × quantity.
func (l OrderLineItem) LineTotal() int64 {
	return (l.UnitPrice + l.ToppingTotal) * int64(l.Quantity)
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	Status        OrderStatus
	OriginalPrice int64
	FinalPrice    int64
	CustomerPhone string
	// CustomerAccountID находится по телефону; пустой для гостя.
	CustomerAccountID string
	StaffID           string
	OrderType         OrderType
	Note              string
	ShippingAddress   string
	InvoiceKey        string
	PaymentDetailID   string
	VoucherCode       string
	Items             []OrderLineItem
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.OrderType != OrderTypePOS && o.OrderType != OrderTypeOnline {
		errs = append(errs, ErrOrderTypeInvalid)
	}
	if o.OriginalPrice < 0 || o.FinalPrice < 0 {
		errs = append(errs, ErrPriceNegative)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if item.UnitPrice < 0 || item.ToppingTotal < 0 {
			errs = append(errs, ErrPriceNegative)
		}
		calc += item.LineTotal()
	}
	if calc != o.OriginalPrice {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	if o.Items != nil {
		dst.Items = make([]OrderLineItem, len(o.Items))
		for i, item := range o.Items {
			item.Toppings = append([]ToppingLine(nil), item.Toppings...)
			item.OptionIDs = append([]int64(nil), item.OptionIDs...)
			dst.Items[i] = item
		}
	}
	return dst
}
