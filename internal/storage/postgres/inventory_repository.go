package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type inventoryRepository struct {
	q querier
}

// Append: повтор (order, line, material) отклоняется уникальным индексом.
func (r inventoryRepository) Append(ctx context.Context, adj domain.InventoryAdjustment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_adjustments (id, material_id, order_id, order_line_id, consume, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, adj.ID, adj.MaterialID, adj.OrderID, adj.OrderLineID, adj.Consume, adj.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAdjustment
		}
		return fmt.Errorf("insert inventory adjustment: %w", err)
	}
	return nil
}

func (r inventoryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.InventoryAdjustment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, material_id, order_id, order_line_id, consume, created_at
		FROM inventory_adjustments
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list inventory adjustments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.InventoryAdjustment, 0)
	for rows.Next() {
		var adj domain.InventoryAdjustment
		if err := rows.Scan(&adj.ID, &adj.MaterialID, &adj.OrderID, &adj.OrderLineID, &adj.Consume, &adj.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory adjustment: %w", err)
		}
		adj.CreatedAt = adj.CreatedAt.UTC()
		result = append(result, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory adjustments: %w", err)
	}
	return result, nil
}

func (r inventoryRepository) SumConsumed(ctx context.Context, materialID int64, since time.Time) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total decimal.Decimal
	if err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(consume), 0)
		FROM inventory_adjustments
		WHERE material_id = $1
		  AND created_at > $2
	`, materialID, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum consumed material: %w", err)
	}
	return total, nil
}

func (r inventoryRepository) LatestSnapshot(ctx context.Context, materialID int64) (domain.InventorySnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	snap := domain.InventorySnapshot{MaterialID: materialID}
	err := r.q.QueryRowContext(ctx, `
		SELECT quantity, taken_at
		FROM inventory_snapshots
		WHERE material_id = $1
		ORDER BY taken_at DESC
		LIMIT 1
	`, materialID).Scan(&snap.Quantity, &snap.TakenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventorySnapshot{}, false, nil
		}
		return domain.InventorySnapshot{}, false, fmt.Errorf("select inventory snapshot: %w", err)
	}
	snap.TakenAt = snap.TakenAt.UTC()
	return snap, true, nil
}

type customerRepository struct {
	q querier
}

func (r customerRepository) AccountIDByPhone(ctx context.Context, phone string) (string, error) {
	if phone == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var accountID string
	err := r.q.QueryRowContext(ctx, `SELECT account_id FROM customers WHERE phone = $1`, phone).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select customer account: %w", err)
	}
	return accountID, nil
}

// AddPoints: upsert баланса; конкурирующие начисления суммируются на стороне БД.
func (r customerRepository) AddPoints(ctx context.Context, phone string, points int64) (domain.CustomerPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result := domain.CustomerPoint{Phone: phone}
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO customer_points (phone, points)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE SET points = customer_points.points + EXCLUDED.points
		RETURNING points
	`, phone, points).Scan(&result.Points); err != nil {
		return domain.CustomerPoint{}, fmt.Errorf("add customer points: %w", err)
	}
	return result, nil
}

func (r customerRepository) Points(ctx context.Context, phone string) (domain.CustomerPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result := domain.CustomerPoint{Phone: phone}
	err := r.q.QueryRowContext(ctx, `SELECT points FROM customer_points WHERE phone = $1`, phone).Scan(&result.Points)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.CustomerPoint{}, fmt.Errorf("select customer points: %w", err)
	}
	return result, nil
}

var (
	_ domain.InventoryRepository = inventoryRepository{}
	_ domain.CustomerRepository  = customerRepository{}
)
