package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
)

func payCashReceipt(key, fingerprint string, now time.Time) domain.CommandReceipt {
	return domain.CommandReceipt{
		Key:         key,
		Fingerprint: fingerprint,
		Route:       "POST /api/v1/orders/:id/pay/cash",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
}

func TestReceiptRepository_ReserveAndReplay(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReceiptRepository()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	reserved, err := repo.Reserve(ctx, payCashReceipt(" pay-1 ", "fp-1", now))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if reserved.Key != "pay-1" || reserved.State != domain.ReceiptInFlight {
		t.Fatalf("unexpected reserved receipt: %+v", reserved)
	}

	if _, err := repo.Reserve(ctx, payCashReceipt("pay-1", "fp-1", now)); !errors.Is(err, domain.ErrReceiptInUse) {
		t.Fatalf("expected ErrReceiptInUse, got %v", err)
	}
	if _, err := repo.Reserve(ctx, payCashReceipt("pay-1", "fp-2", now)); !errors.Is(err, domain.ErrReceiptFingerprintMismatch) {
		t.Fatalf("expected ErrReceiptFingerprintMismatch, got %v", err)
	}

	body := []byte(`{"status":"PAID"}`)
	if err := repo.Complete(ctx, "pay-1", domain.ReceiptSucceeded, 200, body); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	body[0] = 'X'

	existing, err := repo.Reserve(ctx, payCashReceipt("pay-1", "fp-1", now.Add(time.Minute)))
	if !errors.Is(err, domain.ErrReceiptInUse) {
		t.Fatalf("expected ErrReceiptInUse, got %v", err)
	}
	if !existing.Replayable() || existing.StatusCode != 200 || string(existing.Body) != `{"status":"PAID"}` {
		t.Fatalf("unexpected stored receipt: %+v", existing)
	}
}

func TestReceiptRepository_ExpiredKeyIsReusable(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReceiptRepository()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if _, err := repo.Reserve(ctx, payCashReceipt("k", "fp-1", now)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Complete(ctx, "k", domain.ReceiptRejected, 409, []byte(`{}`)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	later := now.Add(2 * time.Hour)
	reserved, err := repo.Reserve(ctx, payCashReceipt("k", "fp-other", later))
	if err != nil {
		t.Fatalf("expired key must be reusable, got %v", err)
	}
	if reserved.Fingerprint != "fp-other" || reserved.State != domain.ReceiptInFlight || reserved.Body != nil {
		t.Fatalf("unexpected receipt after reuse: %+v", reserved)
	}
}

func TestReceiptRepository_Release(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReceiptRepository()
	now := time.Now().UTC()

	if _, err := repo.Reserve(ctx, payCashReceipt("k", "fp", now)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Release(ctx, "k"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := repo.Get(ctx, "k"); !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("expected released receipt to be gone, got %v", err)
	}
	if err := repo.Release(ctx, "k"); !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}

	if _, err := repo.Reserve(ctx, payCashReceipt("done", "fp", now)); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := repo.Complete(ctx, "done", domain.ReceiptSucceeded, 201, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := repo.Release(ctx, "done"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := repo.Get(ctx, "done"); err != nil {
		t.Fatalf("completed receipt must survive Release, got %v", err)
	}
}

func TestReceiptRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReceiptRepository()

	if _, err := repo.Reserve(ctx, domain.CommandReceipt{Fingerprint: "fp"}); !errors.Is(err, domain.ErrReceiptKeyRequired) {
		t.Fatalf("expected ErrReceiptKeyRequired, got %v", err)
	}
	if _, err := repo.Reserve(ctx, domain.CommandReceipt{Key: "k"}); !errors.Is(err, domain.ErrReceiptFingerprintRequired) {
		t.Fatalf("expected ErrReceiptFingerprintRequired, got %v", err)
	}
	if err := repo.Complete(ctx, "missing", domain.ReceiptSucceeded, 200, nil); !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}
	if err := repo.Complete(ctx, "missing", domain.ReceiptInFlight, 200, nil); err == nil {
		t.Fatal("expected error for in_flight completion")
	}
	if _, err := repo.Get(ctx, " "); !errors.Is(err, domain.ErrReceiptKeyRequired) {
		t.Fatalf("expected ErrReceiptKeyRequired, got %v", err)
	}
}

func TestReceiptRepository_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewReceiptRepository()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, key := range []string{"a", "b", "c"} {
		receipt := payCashReceipt(key, "fp", now)
		receipt.ExpiresAt = now.Add(time.Duration(i) * time.Minute)
		if _, err := repo.Reserve(ctx, receipt); err != nil {
			t.Fatalf("Reserve %s failed: %v", key, err)
		}
	}

	purged, err := repo.PurgeExpired(ctx, now.Add(90*time.Second), 1)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpired = %d, %v; want 1", purged, err)
	}
	if _, err := repo.Get(ctx, "a"); !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("oldest receipt must be purged first, got %v", err)
	}

	purged, err = repo.PurgeExpired(ctx, now.Add(90*time.Second), 0)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeExpired = %d, %v; want 1", purged, err)
	}
	if _, err := repo.Get(ctx, "c"); err != nil {
		t.Fatalf("live receipt must survive, got %v", err)
	}
}
