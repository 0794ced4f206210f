package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

func reserveRequest(key, fingerprint string, now, expiresAt time.Time) domain.CommandReceipt {
	return domain.CommandReceipt{
		Key:         key,
		Fingerprint: fingerprint,
		Route:       "POST /api/v1/orders",
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
}

func TestReceiptRepository_PostgresReserveCompleteReplay(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewReceiptRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Second)
	expires := now.Add(2 * time.Hour)

	reserved, err := repo.Reserve(ctx, reserveRequest("create-1", "fp-a", now, expires))
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptInFlight, reserved.State)

	existing, err := repo.Reserve(ctx, reserveRequest("create-1", "fp-a", now, expires))
	require.ErrorIs(t, err, domain.ErrReceiptInUse)
	require.Equal(t, domain.ReceiptInFlight, existing.State)

	_, err = repo.Reserve(ctx, reserveRequest("create-1", "fp-b", now, expires))
	require.ErrorIs(t, err, domain.ErrReceiptFingerprintMismatch)

	require.NoError(t, repo.Complete(ctx, "create-1", domain.ReceiptSucceeded, 201, []byte(`{"id":7}`)))

	got, err := repo.Get(ctx, "create-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptSucceeded, got.State)
	require.Equal(t, 201, got.StatusCode)
	require.Equal(t, "POST /api/v1/orders", got.Route)
	require.JSONEq(t, `{"id":7}`, string(got.Body))
	require.True(t, got.ExpiresAt.Equal(expires), "expires_at mismatch: %s vs %s", expires, got.ExpiresAt)

	existing, err = repo.Reserve(ctx, reserveRequest("create-1", "fp-a", now.Add(time.Minute), expires))
	require.ErrorIs(t, err, domain.ErrReceiptInUse)
	require.True(t, existing.Replayable())

	require.ErrorIs(t, repo.Complete(ctx, "missing", domain.ReceiptRejected, 409, nil), domain.ErrReceiptNotFound)
	require.Error(t, repo.Complete(ctx, "create-1", domain.ReceiptInFlight, 200, nil))
}

func TestReceiptRepository_PostgresExpiredKeyIsTakenOver(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewReceiptRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := repo.Reserve(ctx, reserveRequest("pay-1", "fp-old", now.Add(-2*time.Hour), now.Add(-time.Hour)))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, "pay-1", domain.ReceiptRejected, 409, []byte(`{"error":"x"}`)))

	reserved, err := repo.Reserve(ctx, reserveRequest("pay-1", "fp-new", now, now.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "fp-new", reserved.Fingerprint)

	got, err := repo.Get(ctx, "pay-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReceiptInFlight, got.State)
	require.Zero(t, got.StatusCode)
	require.Nil(t, got.Body)
}

func TestReceiptRepository_PostgresRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewReceiptRepository(store)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Reserve(ctx, reserveRequest("k-flight", "fp", now, now.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "k-flight"))
	_, err = repo.Get(ctx, "k-flight")
	require.ErrorIs(t, err, domain.ErrReceiptNotFound)
	require.ErrorIs(t, repo.Release(ctx, "k-flight"), domain.ErrReceiptNotFound)

	_, err = repo.Reserve(ctx, reserveRequest("k-done", "fp", now, now.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, "k-done", domain.ReceiptSucceeded, 200, nil))
	require.NoError(t, repo.Release(ctx, "k-done"))
	_, err = repo.Get(ctx, "k-done")
	require.NoError(t, err)
}

func TestReceiptRepository_PostgresPurgeExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewReceiptRepository(store)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, key := range []string{"old-1", "old-2", "old-3"} {
		expires := now.Add(time.Duration(i-5) * time.Minute)
		_, err := repo.Reserve(ctx, reserveRequest(key, "fp", expires.Add(-time.Hour), expires))
		require.NoError(t, err)
	}
	_, err := repo.Reserve(ctx, reserveRequest("live", "fp", now, now.Add(time.Hour)))
	require.NoError(t, err)

	purged, err := repo.PurgeExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, purged)

	_, err = repo.Get(ctx, "old-3")
	require.NoError(t, err, "newest expired receipt survives the limited batch")

	purged, err = repo.PurgeExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = repo.Get(ctx, "live")
	require.NoError(t, err)
}
