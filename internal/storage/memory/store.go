package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// state: данные, которые меняются транзакциями. Каталог только читается и живёт отдельно.
type state struct {
	orders      map[string]domain.Order
	vouchers    map[string]domain.Voucher
	details     map[string]domain.PaymentDetail
	attempts    map[string]domain.PaymentAttempt
	adjustments []domain.InventoryAdjustment
	points      map[string]int64
	outbox      map[string]outboxRecord
	outboxSeq   int64
	timeline    map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		orders:   make(map[string]domain.Order),
		vouchers: make(map[string]domain.Voucher),
		details:  make(map[string]domain.PaymentDetail),
		attempts: make(map[string]domain.PaymentAttempt),
		points:   make(map[string]int64),
		outbox:   make(map[string]outboxRecord),
		timeline: make(map[string][]domain.TimelineEvent),
	}
}

// clone делает рабочую копию для транзакции; записи копируются по значению.
func (s *state) clone() *state {
	dst := &state{
		orders:      make(map[string]domain.Order, len(s.orders)),
		vouchers:    make(map[string]domain.Voucher, len(s.vouchers)),
		details:     make(map[string]domain.PaymentDetail, len(s.details)),
		attempts:    make(map[string]domain.PaymentAttempt, len(s.attempts)),
		adjustments: append([]domain.InventoryAdjustment(nil), s.adjustments...),
		points:      make(map[string]int64, len(s.points)),
		outbox:      make(map[string]outboxRecord, len(s.outbox)),
		outboxSeq:   s.outboxSeq,
		timeline:    make(map[string][]domain.TimelineEvent, len(s.timeline)),
	}
	for k, v := range s.orders {
		dst.orders[k] = v.Clone()
	}
	for k, v := range s.vouchers {
		dst.vouchers[k] = v
	}
	for k, v := range s.details {
		dst.details[k] = v
	}
	for k, v := range s.attempts {
		dst.attempts[k] = v
	}
	for k, v := range s.points {
		dst.points[k] = v
	}
	for k, v := range s.outbox {
		v.msg.Payload = append([]byte(nil), v.msg.Payload...)
		dst.outbox[k] = v
	}
	for k, v := range s.timeline {
		dst.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	return dst
}

// Store: in-memory реализация UnitOfWork для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом и применяются целиком или не применяются вовсе.
type Store struct {
	mu        sync.Mutex
	st        *state
	products  map[int64]domain.Product
	materials map[int64]domain.Material
	accounts  map[string]string
	snapshots map[int64][]domain.InventorySnapshot
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		st:        newState(),
		products:  make(map[int64]domain.Product),
		materials: make(map[int64]domain.Material),
		accounts:  make(map[string]string),
		snapshots: make(map[int64][]domain.InventorySnapshot),
	}
}

// WithinTx выполняет fn над рабочей копией состояния и публикует её только при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &txView{store: s, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// PutProduct добавляет или заменяет продукт каталога.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutMaterial добавляет материал склада.
func (s *Store) PutMaterial(m domain.Material) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials[m.ID] = m
}

// PutVoucher добавляет или заменяет ваучер.
func (s *Store) PutVoucher(v domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.vouchers[v.Code] = v
}

// PutAccount связывает номер телефона с учётной записью клиента.
func (s *Store) PutAccount(phone, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[phone] = accountID
}

// PutSnapshot фиксирует инвентаризацию материала.
func (s *Store) PutSnapshot(snap domain.InventorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.MaterialID] = append(s.snapshots[snap.MaterialID], snap)
}

// Outbox возвращает репозиторий outbox для воркера публикации.
func (s *Store) Outbox() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{store: s}
}

// Timeline возвращает репозиторий событий жизненного цикла вне транзакций.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineReader{store: s}
}

// Ping всегда успешен; нужен для health checks.
func (s *Store) Ping(context.Context) error {
	return nil
}

// txView отдаёт репозитории, работающие над рабочей копией транзакции.
type txView struct {
	store *Store
	st    *state
}

func (t *txView) Catalog() domain.CatalogReader         { return catalogRepository{store: t.store} }
func (t *txView) Orders() domain.OrderRepository        { return orderRepository{st: t.st} }
func (t *txView) Vouchers() domain.VoucherRepository    { return voucherRepository{st: t.st} }
func (t *txView) Payments() domain.PaymentRepository    { return paymentRepository{st: t.st} }
func (t *txView) Inventory() domain.InventoryRepository { return inventoryRepository{store: t.store, st: t.st} }
func (t *txView) Customers() domain.CustomerRepository  { return customerRepository{store: t.store, st: t.st} }
func (t *txView) Outbox() domain.OutboxWriter           { return outboxWriter{st: t.st} }
func (t *txView) Timeline() domain.TimelineRepository   { return timelineRepository{st: t.st} }

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*txView)(nil)
)
