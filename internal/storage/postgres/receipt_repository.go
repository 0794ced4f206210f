package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type receiptRepository struct {
	db *sql.DB
}

// NewReceiptRepository создаёт хранилище квитанций HTTP-команд поверх command_receipts.
func NewReceiptRepository(store *Store) domain.ReceiptRepository {
	return &receiptRepository{db: store.DB()}
}

// Reserve занимает ключ одним запросом: просроченная квитанция перезаписывается
// через ON CONFLICT ... WHERE, живая остаётся нетронутой и возвращается вызывающему.
func (r *receiptRepository) Reserve(ctx context.Context, receipt domain.CommandReceipt) (domain.CommandReceipt, error) {
	receipt.Key = strings.TrimSpace(receipt.Key)
	receipt.Fingerprint = strings.TrimSpace(receipt.Fingerprint)
	if receipt.Key == "" {
		return domain.CommandReceipt{}, domain.ErrReceiptKeyRequired
	}
	if receipt.Fingerprint == "" {
		return domain.CommandReceipt{}, domain.ErrReceiptFingerprintRequired
	}

	now := receipt.CreatedAt.UTC()
	if receipt.CreatedAt.IsZero() {
		now = time.Now().UTC()
	}
	if receipt.ExpiresAt.IsZero() {
		receipt.ExpiresAt = now.Add(24 * time.Hour)
	}
	receipt.State = domain.ReceiptInFlight
	receipt.StatusCode = 0
	receipt.Body = nil
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var reservedKey string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO command_receipts (
			key, fingerprint, route, state, status_code, body, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, NULL, $5, $6, $6)
		ON CONFLICT (key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    route = EXCLUDED.route,
		    state = EXCLUDED.state,
		    status_code = 0,
		    body = NULL,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE command_receipts.expires_at <= EXCLUDED.created_at
		RETURNING key
	`,
		receipt.Key,
		receipt.Fingerprint,
		receipt.Route,
		string(domain.ReceiptInFlight),
		receipt.ExpiresAt.UTC(),
		now,
	).Scan(&reservedKey)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.CommandReceipt{}, fmt.Errorf("reserve receipt: %w", err)
	}

	existing, err := r.Get(ctx, receipt.Key)
	if err != nil {
		return domain.CommandReceipt{}, fmt.Errorf("load conflicting receipt: %w", err)
	}
	if existing.Fingerprint != receipt.Fingerprint {
		return existing, domain.ErrReceiptFingerprintMismatch
	}
	return existing, domain.ErrReceiptInUse
}

func (r *receiptRepository) Complete(ctx context.Context, key string, state domain.ReceiptState, statusCode int, body []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrReceiptKeyRequired
	}
	if !state.Valid() || state == domain.ReceiptInFlight {
		return fmt.Errorf("complete receipt %s: unsupported state %q", key, state)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE command_receipts
		SET state = $2, status_code = $3, body = $4, updated_at = $5
		WHERE key = $1
	`, key, string(state), statusCode, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete receipt: %w", err)
	}
	return expectAffected(res, domain.ErrReceiptNotFound)
}

// Release удаляет только незавершённую квитанцию: записанный ответ переживает повторный Release.
func (r *receiptRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrReceiptKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var state string
	err := r.db.QueryRowContext(ctx, `
		WITH released AS (
			DELETE FROM command_receipts
			WHERE key = $1 AND state = $2
			RETURNING state
		)
		SELECT state FROM released
		UNION ALL
		SELECT state FROM command_receipts WHERE key = $1 AND state <> $2
		LIMIT 1
	`, key, string(domain.ReceiptInFlight)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrReceiptNotFound
	}
	if err != nil {
		return fmt.Errorf("release receipt: %w", err)
	}
	return nil
}

func (r *receiptRepository) Get(ctx context.Context, key string) (domain.CommandReceipt, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CommandReceipt{}, domain.ErrReceiptKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		receipt domain.CommandReceipt
		state   string
		body    []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT key, fingerprint, route, state, status_code, body, expires_at, created_at, updated_at
		FROM command_receipts
		WHERE key = $1
	`, key).Scan(
		&receipt.Key,
		&receipt.Fingerprint,
		&receipt.Route,
		&state,
		&receipt.StatusCode,
		&body,
		&receipt.ExpiresAt,
		&receipt.CreatedAt,
		&receipt.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CommandReceipt{}, domain.ErrReceiptNotFound
	}
	if err != nil {
		return domain.CommandReceipt{}, fmt.Errorf("get receipt: %w", err)
	}

	receipt.State = domain.ReceiptState(state)
	if !receipt.State.Valid() {
		return domain.CommandReceipt{}, fmt.Errorf("receipt %s has unknown state %q", key, state)
	}
	if body != nil {
		receipt.Body = append([]byte(nil), body...)
	}
	return receipt, nil
}

func (r *receiptRepository) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `DELETE FROM command_receipts WHERE expires_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM command_receipts
			WHERE key IN (
				SELECT key FROM command_receipts
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge expired receipts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired receipts: rows affected: %w", err)
	}
	return int(affected), nil
}

// expectAffected превращает UPDATE без затронутых строк в notFound.
func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.ReceiptRepository = (*receiptRepository)(nil)
