package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const orderColumns = `
	id, status, original_price, final_price, customer_phone, customer_account_id, staff_id,
	order_type, note, shipping_address, invoice_key, payment_detail_id, voucher_code,
	version, created_at, updated_at`

type orderRepository struct {
	q querier
}

// toppingRow: сериализованный вид топпинга в jsonb-колонке order_lines.toppings.
type toppingRow struct {
	ToppingID int64  `json:"topping_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, string(order.Status), order.OriginalPrice, order.FinalPrice,
		order.CustomerPhone, order.CustomerAccountID, order.StaffID, string(order.OrderType),
		order.Note, order.ShippingAddress, order.InvoiceKey, order.PaymentDetailID, order.VoucherCode,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		toppings := make([]toppingRow, 0, len(item.Toppings))
		for _, t := range item.Toppings {
			toppings = append(toppings, toppingRow(t))
		}
		toppingsJSON, err := json.Marshal(toppings)
		if err != nil {
			return fmt.Errorf("marshal line toppings: %w", err)
		}
		optionIDs := item.OptionIDs
		if optionIDs == nil {
			optionIDs = []int64{}
		}
		optionsJSON, err := json.Marshal(optionIDs)
		if err != nil {
			return fmt.Errorf("marshal line options: %w", err)
		}

		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, position, product_id, product_name, size_id, quantity,
				unit_price, original_unit_price, topping_total, toppings, option_ids
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			item.ID, order.ID, i, item.ProductID, item.ProductName, item.SizeID, item.Quantity,
			item.UnitPrice, item.OriginalUnitPrice, item.ToppingTotal,
			string(toppingsJSON), string(optionsJSON),
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate блокирует строку заказа до конца транзакции.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r orderRepository) get(ctx context.Context, id, lockClause string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order     domain.Order
		status    string
		orderType string
	)
	err := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lockClause, id).Scan(
		&order.ID, &status, &order.OriginalPrice, &order.FinalPrice,
		&order.CustomerPhone, &order.CustomerAccountID, &order.StaffID, &orderType,
		&order.Note, &order.ShippingAddress, &order.InvoiceKey, &order.PaymentDetailID, &order.VoucherCode,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.OrderType = domain.OrderType(orderType)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := r.loadLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// Save обновляет изменяемые поля заказа; позиции после создания не меняются.
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    final_price = $2,
		    staff_id = $3,
		    invoice_key = $4,
		    payment_detail_id = $5,
		    voucher_code = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $8
		  AND version = $9
	`,
		string(order.Status),
		order.FinalPrice,
		order.StaffID,
		order.InvoiceKey,
		order.PaymentDetailID,
		order.VoucherCode,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r orderRepository) CountByStatus(ctx context.Context, statuses []domain.OrderStatus) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw := make([]string, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, string(s))
	}

	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE status = ANY($1)`, raw).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders by status: %w", err)
	}
	return count, nil
}

func (r orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, product_name, size_id, quantity,
		       unit_price, original_unit_price, topping_total, toppings, option_ids
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderLineItem, 0)
	for rows.Next() {
		var (
			item                      domain.OrderLineItem
			toppingsJSON, optionsJSON []byte
		)
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.SizeID, &item.Quantity,
			&item.UnitPrice, &item.OriginalUnitPrice, &item.ToppingTotal, &toppingsJSON, &optionsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}

		var toppings []toppingRow
		if err := json.Unmarshal(toppingsJSON, &toppings); err != nil {
			return nil, fmt.Errorf("decode line toppings: %w", err)
		}
		for _, t := range toppings {
			item.Toppings = append(item.Toppings, domain.ToppingLine(t))
		}
		if err := json.Unmarshal(optionsJSON, &item.OptionIDs); err != nil {
			return nil, fmt.Errorf("decode line options: %w", err)
		}
		if len(item.OptionIDs) == 0 {
			item.OptionIDs = nil
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return items, nil
}

func (r orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = orderRepository{}
