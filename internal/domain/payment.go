package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// PaymentDetail фиксирует принятый платёж; связан с заказом один к одному.
type PaymentDetail struct {
	ID      string
	OrderID string
	Method  PaymentMethod
	Amount  int64
	Change  int64
	// TxnRef заполняется только для онлайн-платежей.
	TxnRef    string
	CreatedAt time.Time
}

// Validate проверяет поля платежа перед записью; репозитории объединяют ошибки через errors.Join.
func (p *PaymentDetail) Validate() []error {
	var errs []error

	if p.Amount < 0 || p.Change < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if p.Method != PaymentMethodCash && p.Method != PaymentMethodOnline {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	return errs
}

// PaymentAttempt — инициированная онлайн-оплата; по TxnRef IPN находит заказ.
type PaymentAttempt struct {
	TxnRef    string
	OrderID   string
	Amount    int64
	CreatedAt time.Time
}

// Voucher — одноразовый код скидки.
type Voucher struct {
	ID                 int64
	Code               string
	DiscountPercentage decimal.Decimal
	IsActive           bool
	MinAmountOrder     int64
}

var hundred = decimal.NewFromInt(100)

// Apply считает итоговую цену: original × (1 − pct/100), округление до целых донгов.
// Результат не бывает отрицательным и не превышает original.
func (v Voucher) Apply(original int64) int64 {
	pct := v.DiscountPercentage
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}

	final := decimal.NewFromInt(original).
		Mul(hundred.Sub(pct)).
		Div(hundred).
		Round(0).
		IntPart()
	if final < 0 {
		return 0
	}
	if final > original {
		return original
	}
	return final
}

// CheckRedeemable проверяет флаг и минимальную сумму заказа.
func (v Voucher) CheckRedeemable(original int64) error {
	if !v.IsActive {
		return ErrVoucherInactive
	}
	if original < v.MinAmountOrder {
		return ErrVoucherMinAmount
	}
	return nil
}
