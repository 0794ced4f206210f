package domain

import (
	"errors"
	"fmt"
	"testing"
)

type errorClass uint8

const (
	classValidation errorClass = 1 << iota
	classNotFound
	classConflict
	classVersion
	classReceipt
)

func classify(err error) errorClass {
	var c errorClass
	for flag, is := range map[errorClass]func(error) bool{
		classValidation: IsValidation,
		classNotFound:   IsNotFound,
		classConflict:   IsConflict,
		classVersion:    IsVersionConflict,
		classReceipt:    IsReceiptConflict,
	} {
		if is(err) {
			c |= flag
		}
	}
	return c
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		want errorClass
	}{
		{err: ErrProductInactive, want: classValidation},
		{err: fmt.Errorf("pay cash: %w", ErrInsufficientAmount), want: classValidation},
		{err: ErrTransitionNotAllowed, want: classValidation},
		{err: ErrMaterialNotFound, want: classNotFound},
		{err: fmt.Errorf("line 1: %w", ErrSizeNotFound), want: classNotFound},
		{err: ErrInvoiceNotFound, want: classNotFound},
		{err: ErrVoucherAlreadyRedeemed, want: classConflict},
		{err: ErrOrderNotPending, want: classConflict},
		{err: errors.Join(ErrOrderVersionConflict, errors.New("save")), want: classConflict | classVersion},
		{err: ErrReceiptInUse, want: classReceipt},
		{err: fmt.Errorf("reserve: %w", ErrReceiptFingerprintMismatch), want: classReceipt},
		{err: ErrReceiptNotFound},
		{err: ErrOutboxUndeliverable},
		{err: errors.New("boom")},
		{err: nil},
	}

	for _, tc := range cases {
		name := "nil"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %05b, want %05b", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorGroupsDisjoint(t *testing.T) {
	seen := make(map[error]string)
	for group, errs := range map[string][]error{
		"validation": validationErrors,
		"not found":  notFoundErrors,
		"conflict":   conflictErrors,
	} {
		for _, err := range errs {
			if prev, ok := seen[err]; ok {
				t.Errorf("%v is in both %s and %s", err, prev, group)
			}
			seen[err] = group
		}
	}
}
