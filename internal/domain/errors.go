package domain

import "errors"

var (
	ErrLinesRequired    = errors.New("order must contain at least one line")
	ErrLineQtyInvalid   = errors.New("line quantity must be greater than zero")
	ErrOrderTypeInvalid = errors.New("order type must be POS or ONLINE")
	ErrProductInactive  = errors.New("product is not active")
	// ErrRecipeIncomplete: у продукта нет ни одного рецепта с материалами.
	ErrRecipeIncomplete = errors.New("product has no complete recipe")
	ErrNotTopping       = errors.New("product is not a topping")
	ErrPriceNegative    = errors.New("price must be non-negative")
	// ErrAmountMismatch: сумма заказа не совпадает с суммой позиций.
	ErrAmountMismatch       = errors.New("order original price does not match lines sum")
	ErrStatusInvalid        = errors.New("unknown order status")
	ErrTransitionNotAllowed = errors.New("order status transition is not allowed")

	ErrInsufficientAmount = errors.New("tendered amount is less than final price")
	// ErrVoucherInactive: ваучер уже использован или отключён.
	ErrVoucherInactive       = errors.New("voucher is not active")
	ErrVoucherMinAmount      = errors.New("order amount is below voucher minimum")
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	ErrPaymentMethodInvalid  = errors.New("payment method must be CASH or ONLINE")
	ErrGatewayNotConfigured  = errors.New("payment gateway is not configured")

	ErrOrderNotFound    = errors.New("order not found")
	ErrProductNotFound  = errors.New("product not found")
	ErrSizeNotFound     = errors.New("product size not found")
	ErrToppingNotFound  = errors.New("topping not found")
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrMaterialNotFound = errors.New("material not found")
	// ErrPaymentAttemptNotFound: шлюз прислал неизвестную ссылку транзакции.
	ErrPaymentAttemptNotFound = errors.New("payment attempt not found")
	// ErrInvoiceNotFound: для заказа ещё не сформирован чек.
	ErrInvoiceNotFound = errors.New("invoice not found")

	ErrOrderNotPending = errors.New("order is not pending")
	// ErrVoucherAlreadyRedeemed: CAS по is_active проиграл конкурирующей оплате.
	ErrVoucherAlreadyRedeemed = errors.New("voucher already redeemed")
	ErrVoucherAlreadyApplied  = errors.New("order already has a voucher applied")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrDuplicateAdjustment: расход по этой строке и материалу уже записан.
	ErrDuplicateAdjustment = errors.New("inventory adjustment already recorded")
	ErrOrderNotOwned       = errors.New("order does not belong to customer")

	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxUndeliverable: повтор доставки бесполезен (неизвестный тип, битый payload).
	ErrOutboxUndeliverable = errors.New("outbox message is undeliverable")

	ErrReceiptKeyRequired         = errors.New("idempotency key is required")
	ErrReceiptFingerprintRequired = errors.New("request fingerprint is required")
	ErrReceiptNotFound            = errors.New("command receipt not found")
	// ErrReceiptInUse: ключ занят тем же запросом, который ещё выполняется или уже завершён.
	ErrReceiptInUse = errors.New("idempotency key already in use")
	// ErrReceiptFingerprintMismatch: ключ переиспользован для другого запроса.
	ErrReceiptFingerprintMismatch = errors.New("idempotency key reused with different request")
)

var validationErrors = []error{
	ErrLinesRequired,
	ErrLineQtyInvalid,
	ErrOrderTypeInvalid,
	ErrProductInactive,
	ErrRecipeIncomplete,
	ErrNotTopping,
	ErrPriceNegative,
	ErrAmountMismatch,
	ErrStatusInvalid,
	ErrTransitionNotAllowed,
	ErrInsufficientAmount,
	ErrVoucherInactive,
	ErrVoucherMinAmount,
	ErrPaymentAmountNegative,
	ErrPaymentMethodInvalid,
}

var notFoundErrors = []error{
	ErrOrderNotFound,
	ErrProductNotFound,
	ErrSizeNotFound,
	ErrToppingNotFound,
	ErrVoucherNotFound,
	ErrMaterialNotFound,
	ErrPaymentAttemptNotFound,
	ErrInvoiceNotFound,
}

var conflictErrors = []error{
	ErrOrderNotPending,
	ErrVoucherAlreadyRedeemed,
	ErrVoucherAlreadyApplied,
	ErrOrderVersionConflict,
	ErrDuplicateAdjustment,
	ErrOrderNotOwned,
}

// IsValidation сообщает, что ошибка вызвана некорректными входными данными.
func IsValidation(err error) bool {
	return isAny(err, validationErrors)
}

// IsNotFound сообщает, что запрошенная сущность отсутствует.
func IsNotFound(err error) bool {
	return isAny(err, notFoundErrors)
}

// IsConflict сообщает о конфликте с текущим состоянием данных.
func IsConflict(err error) bool {
	return isAny(err, conflictErrors)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsReceiptConflict сообщает, что Idempotency-Key уже занят.
func IsReceiptConflict(err error) bool {
	return errors.Is(err, ErrReceiptInUse) || errors.Is(err, ErrReceiptFingerprintMismatch)
}

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
