package receipts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
)

type scriptedPurger struct {
	mu      sync.Mutex
	results []int
	errs    []error
	limits  []int
}

func (p *scriptedPurger) PurgeExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.limits = append(p.limits, limit)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	n := 0
	if len(p.results) > 0 {
		n, p.results = p.results[0], p.results[1:]
	}
	return n, err
}

func (p *scriptedPurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limits)
}

type recordedSweep struct {
	result string
	purged int
}

type sweepLog struct {
	mu     sync.Mutex
	sweeps []recordedSweep
}

func (l *sweepLog) RecordReceiptSweep(result string, purged int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweeps = append(l.sweeps, recordedSweep{result: result, purged: purged})
}

func (l *sweepLog) snapshot() []recordedSweep {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedSweep(nil), l.sweeps...)
}

func TestSweep_DrainsInBatches(t *testing.T) {
	t.Parallel()

	repo := &scriptedPurger{results: []int{3, 3, 1}}
	sweeper := NewSweeper(repo, WithBatchSize(3))

	purged, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if purged != 7 {
		t.Fatalf("purged = %d, want 7", purged)
	}
	if repo.calls() != 3 {
		t.Fatalf("calls = %d, want 3", repo.calls())
	}
	for _, limit := range repo.limits {
		if limit != 3 {
			t.Fatalf("unexpected batch limit %d", limit)
		}
	}
}

func TestSweep_ReturnsPartialCountOnError(t *testing.T) {
	t.Parallel()

	repo := &scriptedPurger{results: []int{2, 0}, errs: []error{nil, errors.New("connection reset")}}
	sweeper := NewSweeper(repo, WithBatchSize(2))

	purged, err := sweeper.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}
}

func TestSweep_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &scriptedPurger{}
	purged, err := NewSweeper(repo).Sweep(ctx)
	if !errors.Is(err, context.Canceled) || purged != 0 {
		t.Fatalf("Sweep = %d, %v; want 0, context.Canceled", purged, err)
	}
	if repo.calls() != 0 {
		t.Fatal("canceled sweep must not touch the repository")
	}
}

func TestRun_RecordsSweepsUntilCanceled(t *testing.T) {
	t.Parallel()

	repo := &scriptedPurger{results: []int{1}, errs: []error{nil, errors.New("boom")}}
	recorder := &sweepLog{}
	sweeper := NewSweeper(repo, WithInterval(5*time.Millisecond), WithBatchSize(10), WithMetrics(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	deadline := time.After(time.Second)
	for len(recorder.snapshot()) < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not run twice")
		case <-time.After(2 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}

	sweeps := recorder.snapshot()
	if sweeps[0] != (recordedSweep{result: "ok", purged: 1}) {
		t.Fatalf("unexpected first sweep: %+v", sweeps[0])
	}
	if sweeps[1].result != "error" {
		t.Fatalf("unexpected second sweep: %+v", sweeps[1])
	}
}

func TestRun_NilRepositoryReturns(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(nil).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper without repository must return immediately")
	}
}

func TestSweep_MemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewReceiptRepository()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, expires := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Minute), now.Add(time.Hour)} {
		key := fmt.Sprintf("pay-cash-%d", i)
		_, err := repo.Reserve(ctx, domain.CommandReceipt{
			Key:         key,
			Fingerprint: "fp",
			ExpiresAt:   expires,
			CreatedAt:   expires.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}

	sweeper := NewSweeper(repo, WithBatchSize(1), WithClock(func() time.Time { return now }))
	purged, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged = %d, want 2", purged)
	}
	if _, err := repo.Get(ctx, "pay-cash-2"); err != nil {
		t.Fatalf("live receipt must survive: %v", err)
	}
	if _, err := repo.Get(ctx, "pay-cash-0"); !errors.Is(err, domain.ErrReceiptNotFound) {
		t.Fatalf("expected expired receipt removed, got %v", err)
	}
}
