package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// receiptRepository хранит квитанции отдельно от Store: они не участвуют в транзакциях заказа.
type receiptRepository struct {
	mu    sync.Mutex
	items map[string]domain.CommandReceipt
}

// NewReceiptRepository создаёт in-memory хранилище квитанций HTTP-команд.
func NewReceiptRepository() domain.ReceiptRepository {
	return &receiptRepository{items: make(map[string]domain.CommandReceipt)}
}

// Reserve берёт «сейчас» из receipt.CreatedAt, если он задан.
func (r *receiptRepository) Reserve(_ context.Context, receipt domain.CommandReceipt) (domain.CommandReceipt, error) {
	receipt.Key = strings.TrimSpace(receipt.Key)
	switch {
	case receipt.Key == "":
		return domain.CommandReceipt{}, domain.ErrReceiptKeyRequired
	case receipt.Fingerprint == "":
		return domain.CommandReceipt{}, domain.ErrReceiptFingerprintRequired
	}

	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	receipt.UpdatedAt = receipt.CreatedAt
	receipt.State = domain.ReceiptInFlight
	receipt.StatusCode = 0
	receipt.Body = nil

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[receipt.Key]; ok && !existing.Expired(receipt.CreatedAt) {
		if existing.Fingerprint != receipt.Fingerprint {
			return cloneReceipt(existing), domain.ErrReceiptFingerprintMismatch
		}
		return cloneReceipt(existing), domain.ErrReceiptInUse
	}

	r.items[receipt.Key] = receipt
	return cloneReceipt(receipt), nil
}

func (r *receiptRepository) Complete(_ context.Context, key string, state domain.ReceiptState, statusCode int, body []byte) error {
	if !state.Valid() || state == domain.ReceiptInFlight {
		return fmt.Errorf("complete receipt %s: unexpected state %q", key, state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.items[strings.TrimSpace(key)]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	receipt.State = state
	receipt.StatusCode = statusCode
	receipt.Body = append([]byte(nil), body...)
	receipt.UpdatedAt = time.Now().UTC()
	r.items[receipt.Key] = receipt
	return nil
}

// Release не трогает уже завершённые квитанции.
func (r *receiptRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key = strings.TrimSpace(key)
	receipt, ok := r.items[key]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	if receipt.State == domain.ReceiptInFlight {
		delete(r.items, key)
	}
	return nil
}

func (r *receiptRepository) Get(_ context.Context, key string) (domain.CommandReceipt, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.CommandReceipt{}, domain.ErrReceiptKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	receipt, ok := r.items[key]
	if !ok {
		return domain.CommandReceipt{}, domain.ErrReceiptNotFound
	}
	return cloneReceipt(receipt), nil
}

// PurgeExpired удаляет самые старые просроченные квитанции первыми.
func (r *receiptRepository) PurgeExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.CommandReceipt, 0)
	for _, receipt := range r.items {
		if receipt.Expired(before) {
			expired = append(expired, receipt)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, receipt := range expired {
		delete(r.items, receipt.Key)
	}
	return len(expired), nil
}

func cloneReceipt(src domain.CommandReceipt) domain.CommandReceipt {
	dst := src
	dst.Body = append([]byte(nil), src.Body...)
	return dst
}

var _ domain.ReceiptRepository = (*receiptRepository)(nil)
