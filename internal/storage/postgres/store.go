// Package postgres реализует порт хранения поверх PostgreSQL (database/sql + pgx).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// querier: общий набор методов *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pool: лимиты database/sql поверх pgx.
type pool struct {
	maxConns    int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// Option настраивает пул соединений.
type Option func(*pool)

// WithMaxConns ограничивает число открытых соединений; простаивающих держится столько же.
func WithMaxConns(n int) Option {
	return func(p *pool) {
		if n > 0 {
			p.maxConns = n
		}
	}
}

// Store: подключение к PostgreSQL; реализует domain.UnitOfWork.
type Store struct {
	db *sql.DB
}

// Open разбирает DSN, открывает пул через pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	p := pool{maxConns: 25, maxLifetime: 30 * time.Minute, maxIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&p)
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(p.maxConns)
	db.SetMaxIdleConns(p.maxConns)
	db.SetConnMaxLifetime(p.maxLifetime)
	db.SetConnMaxIdleTime(p.maxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", connCfg.Host, err)
	}
	return store, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithinTx выполняет fn в одной READ COMMITTED транзакции.
// Сериализация конкурирующих команд над одним заказом достигается через GetForUpdate (SELECT ... FOR UPDATE).
// Вложенные вызовы не поддерживаются.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &txView{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Outbox возвращает репозиторий outbox для воркера доставки.
func (s *Store) Outbox() domain.OutboxRepository {
	return newOutboxRepository(s.db)
}

// Timeline возвращает репозиторий событий жизненного цикла вне транзакций.
func (s *Store) Timeline() domain.TimelineRepository {
	return timelineRepository{q: s.db}
}

// txView отдаёт репозитории, работающие в рамках одной *sql.Tx.
type txView struct {
	q querier
}

func (t *txView) Catalog() domain.CatalogReader         { return catalogRepository{q: t.q} }
func (t *txView) Orders() domain.OrderRepository        { return orderRepository{q: t.q} }
func (t *txView) Vouchers() domain.VoucherRepository    { return voucherRepository{q: t.q} }
func (t *txView) Payments() domain.PaymentRepository    { return paymentRepository{q: t.q} }
func (t *txView) Inventory() domain.InventoryRepository { return inventoryRepository{q: t.q} }
func (t *txView) Customers() domain.CustomerRepository  { return customerRepository{q: t.q} }
func (t *txView) Outbox() domain.OutboxWriter           { return outboxWriter{q: t.q} }
func (t *txView) Timeline() domain.TimelineRepository   { return timelineRepository{q: t.q} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*txView)(nil)
)
