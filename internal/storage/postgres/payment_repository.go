package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type voucherRepository struct {
	q querier
}

func (r voucherRepository) GetByCode(ctx context.Context, code string) (domain.Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var v domain.Voucher
	err := r.q.QueryRowContext(ctx, `
		SELECT id, code, discount_percentage, is_active, min_amount_order
		FROM vouchers
		WHERE code = $1
	`, code).Scan(&v.ID, &v.Code, &v.DiscountPercentage, &v.IsActive, &v.MinAmountOrder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, domain.ErrVoucherNotFound
		}
		return domain.Voucher{}, fmt.Errorf("select voucher: %w", err)
	}
	return v, nil
}

// Redeem выполняет условный UPDATE: из двух конкурирующих транзакций строку обновит только одна.
func (r voucherRepository) Redeem(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE vouchers
		SET is_active = FALSE
		WHERE id = $1
		  AND is_active
	`, id)
	if err != nil {
		return fmt.Errorf("redeem voucher: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM vouchers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check voucher exists: %w", err)
	}
	if !exists {
		return domain.ErrVoucherNotFound
	}
	return domain.ErrVoucherAlreadyRedeemed
}

type paymentRepository struct {
	q querier
}

// CreateDetail: второй платёж по заказу отклоняется уникальным индексом по order_id.
func (r paymentRepository) CreateDetail(ctx context.Context, detail domain.PaymentDetail) error {
	if err := errors.Join(detail.Validate()...); err != nil {
		return fmt.Errorf("payment detail %s: %w", detail.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_details (id, order_id, method, amount, change_amount, txn_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, detail.ID, detail.OrderID, string(detail.Method), detail.Amount, detail.Change, detail.TxnRef, detail.CreatedAt)
	if err != nil {
		switch uniqueConstraint(err) {
		case "":
			return fmt.Errorf("insert payment detail: %w", err)
		case "payment_details_order_id_key":
			return domain.ErrOrderNotPending
		default:
			return domain.ErrOrderVersionConflict
		}
	}
	return nil
}

func (r paymentRepository) ListDetails(ctx context.Context, orderID string) ([]domain.PaymentDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, method, amount, change_amount, txn_ref, created_at
		FROM payment_details
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payment details: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentDetail, 0, 1)
	for rows.Next() {
		var (
			d      domain.PaymentDetail
			method string
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &method, &d.Amount, &d.Change, &d.TxnRef, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment detail: %w", err)
		}
		d.Method = domain.PaymentMethod(method)
		d.CreatedAt = d.CreatedAt.UTC()
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment details: %w", err)
	}
	return result, nil
}

func (r paymentRepository) CreateAttempt(ctx context.Context, attempt domain.PaymentAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_attempts (txn_ref, order_id, amount, created_at)
		VALUES ($1,$2,$3,$4)
	`, attempt.TxnRef, attempt.OrderID, attempt.Amount, attempt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

func (r paymentRepository) GetAttempt(ctx context.Context, txnRef string) (domain.PaymentAttempt, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var a domain.PaymentAttempt
	err := r.q.QueryRowContext(ctx, `
		SELECT txn_ref, order_id, amount, created_at
		FROM payment_attempts
		WHERE txn_ref = $1
	`, txnRef).Scan(&a.TxnRef, &a.OrderID, &a.Amount, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentAttempt{}, domain.ErrPaymentAttemptNotFound
		}
		return domain.PaymentAttempt{}, fmt.Errorf("select payment attempt: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

var (
	_ domain.VoucherRepository = voucherRepository{}
	_ domain.PaymentRepository = paymentRepository{}
)
