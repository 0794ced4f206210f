package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type voucherRepository struct {
	st *state
}

func (r voucherRepository) GetByCode(_ context.Context, code string) (domain.Voucher, error) {
	v, ok := r.st.vouchers[code]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherNotFound
	}
	return v, nil
}

// Redeem делает compare-and-set is_active с true на false.
func (r voucherRepository) Redeem(_ context.Context, id int64) error {
	for code, v := range r.st.vouchers {
		if v.ID != id {
			continue
		}
		if !v.IsActive {
			return domain.ErrVoucherAlreadyRedeemed
		}
		v.IsActive = false
		r.st.vouchers[code] = v
		return nil
	}
	return domain.ErrVoucherNotFound
}

type paymentRepository struct {
	st *state
}

func (r paymentRepository) CreateDetail(_ context.Context, detail domain.PaymentDetail) error {
	if err := errors.Join(detail.Validate()...); err != nil {
		return fmt.Errorf("payment detail %s: %w", detail.ID, err)
	}
	if _, exists := r.st.details[detail.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	for _, existing := range r.st.details {
		if existing.OrderID == detail.OrderID {
			return domain.ErrOrderNotPending
		}
	}
	r.st.details[detail.ID] = detail
	return nil
}

func (r paymentRepository) ListDetails(_ context.Context, orderID string) ([]domain.PaymentDetail, error) {
	result := make([]domain.PaymentDetail, 0, 1)
	for _, d := range r.st.details {
		if d.OrderID == orderID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r paymentRepository) CreateAttempt(_ context.Context, attempt domain.PaymentAttempt) error {
	if _, exists := r.st.attempts[attempt.TxnRef]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.st.attempts[attempt.TxnRef] = attempt
	return nil
}

func (r paymentRepository) GetAttempt(_ context.Context, txnRef string) (domain.PaymentAttempt, error) {
	a, ok := r.st.attempts[txnRef]
	if !ok {
		return domain.PaymentAttempt{}, domain.ErrPaymentAttemptNotFound
	}
	return a, nil
}

var (
	_ domain.VoucherRepository = voucherRepository{}
	_ domain.PaymentRepository = paymentRepository{}
)
