package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPaymentDetail_Validate(t *testing.T) {
	tests := []struct {
		name     string
		detail   PaymentDetail
		errCount int
	}{
		{
			name:   "valid cash payment",
			detail: PaymentDetail{OrderID: "order-1", Method: PaymentMethodCash, Amount: 120_000, Change: 10_000, CreatedAt: time.Now()},
		},
		{
			name:     "negative change",
			detail:   PaymentDetail{OrderID: "order-1", Method: PaymentMethodCash, Amount: 100, Change: -1},
			errCount: 1,
		},
		{
			name:     "unknown method",
			detail:   PaymentDetail{OrderID: "order-1", Method: "BARTER", Amount: 100},
			errCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := tt.detail.Validate(); len(errs) != tt.errCount {
				t.Fatalf("expected %d errors, got %v", tt.errCount, errs)
			}
		})
	}
}

func TestVoucher_Apply(t *testing.T) {
	tests := []struct {
		name     string
		pct      string
		original int64
		want     int64
	}{
		{name: "ten percent", pct: "10", original: 110_000, want: 99_000},
		{name: "fractional percent rounds half up", pct: "12.5", original: 1_001, want: 876},
		{name: "zero", pct: "0", original: 50_000, want: 50_000},
		{name: "full", pct: "100", original: 50_000, want: 0},
		{name: "above hundred clamps to zero", pct: "150", original: 50_000, want: 0},
		{name: "negative ignored", pct: "-20", original: 50_000, want: 50_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Voucher{DiscountPercentage: decimal.RequireFromString(tt.pct), IsActive: true}
			if got := v.Apply(tt.original); got != tt.want {
				t.Fatalf("Apply(%d) = %d, want %d", tt.original, got, tt.want)
			}
		})
	}
}

func TestVoucher_CheckRedeemable(t *testing.T) {
	v := Voucher{IsActive: true, MinAmountOrder: 100_000}
	if err := v.CheckRedeemable(100_000); err != nil {
		t.Fatalf("expected redeemable, got %v", err)
	}
	if err := v.CheckRedeemable(99_999); err != ErrVoucherMinAmount {
		t.Fatalf("expected ErrVoucherMinAmount, got %v", err)
	}
	v.IsActive = false
	if err := v.CheckRedeemable(500_000); err != ErrVoucherInactive {
		t.Fatalf("expected ErrVoucherInactive, got %v", err)
	}
}
