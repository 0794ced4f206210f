package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// Object: сохранённый объект in-memory хранилища.
type Object struct {
	ContentType string
	Body        []byte
}

// MemoryStore: хранилище объектов для разработки и тестов.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
	puts    int
}

// NewMemoryStore создаёт пустое хранилище; baseURL используется в ссылках.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://invoices"
	}
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{ContentType: contentType, Body: append([]byte(nil), body...)}
	s.puts++
	return key, nil
}

func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("object %s: %w", key, domain.ErrInvoiceNotFound)
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", s.baseURL, url.PathEscape(key), expires), nil
}

// Get возвращает объект по ключу.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Puts: число выполненных загрузок (включая перезаписи).
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

var _ domain.ObjectStore = (*MemoryStore)(nil)
