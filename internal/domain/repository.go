package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CatalogReader читает каталог батчами: продукты и топпинги одним запросом каждый.
type CatalogReader interface {
	// LoadProducts возвращает продукты с размерами, рецептами и акциями; отсутствующие id пропускаются.
	LoadProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	// LoadToppings возвращает продукты по id без рецептов и акций; флаг IsTopping проверяет вызывающий.
	LoadToppings(ctx context.Context, ids []int64) (map[int64]Product, error)
	// Material возвращает материал или ErrMaterialNotFound.
	Material(ctx context.Context, id int64) (Material, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// CountByStatus считает заказы в перечисленных статусах.
	CountByStatus(ctx context.Context, statuses []OrderStatus) (int, error)
}

// VoucherRepository — доступ к одноразовым ваучерам.
type VoucherRepository interface {
	// GetByCode возвращает ваучер или ErrVoucherNotFound.
	GetByCode(ctx context.Context, code string) (Voucher, error)
	// Redeem выполняет CAS is_active true -> false; проигравший получает ErrVoucherAlreadyRedeemed.
	Redeem(ctx context.Context, id int64) error
}

// PaymentRepository хранит принятые платежи и онлайн-попытки.
type PaymentRepository interface {
	CreateDetail(ctx context.Context, detail PaymentDetail) error
	ListDetails(ctx context.Context, orderID string) ([]PaymentDetail, error)
	CreateAttempt(ctx context.Context, attempt PaymentAttempt) error
	// GetAttempt возвращает попытку или ErrPaymentAttemptNotFound.
	GetAttempt(ctx context.Context, txnRef string) (PaymentAttempt, error)
}

// InventoryRepository — append-only журнал расхода материалов.
type InventoryRepository interface {
	// Append добавляет запись; повтор (order, line, material) даёт ErrDuplicateAdjustment.
	Append(ctx context.Context, adj InventoryAdjustment) error
	ListByOrder(ctx context.Context, orderID string) ([]InventoryAdjustment, error)
	// SumConsumed суммирует расход материала по записям, созданным после since.
	SumConsumed(ctx context.Context, materialID int64, since time.Time) (decimal.Decimal, error)
	// LatestSnapshot возвращает последнюю инвентаризацию; ok=false, если её не было.
	LatestSnapshot(ctx context.Context, materialID int64) (InventorySnapshot, bool, error)
}

// CustomerRepository — справочник клиентов и бонусные баллы.
type CustomerRepository interface {
	// AccountIDByPhone возвращает id учётной записи или пустую строку.
	AccountIDByPhone(ctx context.Context, phone string) (string, error)
	// AddPoints увеличивает баланс (создаёт запись при отсутствии) и возвращает новый баланс.
	AddPoints(ctx context.Context, phone string, points int64) (CustomerPoint, error)
	Points(ctx context.Context, phone string) (CustomerPoint, error)
}

// OutboxWriter пишет намерения уведомлений в той же транзакции, что и изменение заказа.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// ReceiptRepository хранит квитанции HTTP-команд с Idempotency-Key.
type ReceiptRepository interface {
	// Reserve занимает ключ квитанцией в состоянии in_flight. Просроченная квитанция
	// заменяется. Если ключ жив, возвращается сохранённая квитанция и ErrReceiptInUse
	// либо ErrReceiptFingerprintMismatch.
	Reserve(ctx context.Context, receipt CommandReceipt) (CommandReceipt, error)
	// Complete записывает ответ и переводит квитанцию в state.
	Complete(ctx context.Context, key string, state ReceiptState, statusCode int, body []byte) error
	// Release удаляет квитанцию in_flight, чтобы клиент мог повторить команду.
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (CommandReceipt, error)
	// PurgeExpired удаляет до limit квитанций с ExpiresAt <= before.
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Tx — набор репозиториев, работающих внутри одной транзакции.
type Tx interface {
	Catalog() CatalogReader
	Orders() OrderRepository
	Vouchers() VoucherRepository
	Payments() PaymentRepository
	Inventory() InventoryRepository
	Customers() CustomerRepository
	Outbox() OutboxWriter
	Timeline() TimelineRepository
}

// UnitOfWork выполняет fn атомарно: при ошибке ни одна запись не сохраняется.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
