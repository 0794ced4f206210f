package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "ledger-test")
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.PutMaterial(domain.Material{ID: 10, Name: "espresso beans", Unit: "g"})
	store.PutMaterial(domain.Material{ID: 11, Name: "milk", Unit: "ml"})
	store.PutProduct(domain.Product{
		ID: 1, Name: "Latte", Price: 50_000, IsActive: true,
		Sizes: []domain.ProductSize{{SizeID: 2, SizeName: "M", Price: 55_000}},
		Recipes: []domain.Recipe{{ID: 1, Materials: []domain.MaterialRecipe{
			{MaterialID: 10, SizeID: 2, Consume: decimal.NewFromInt(18)},
			{MaterialID: 11, SizeID: 2, Consume: decimal.RequireFromString("150.5")},
			{MaterialID: 10, SizeID: 0, Consume: decimal.NewFromInt(14)},
		}}},
	})
	return store
}

func completedOrder() domain.Order {
	return domain.Order{
		ID:     "order-1",
		Status: domain.OrderStatusPaid,
		Items: []domain.OrderLineItem{
			{ID: "line-1", ProductID: 1, SizeID: 2, Quantity: 2},
			{ID: "line-2", ProductID: 1, Quantity: 1},
		},
	}
}

func TestLedger_RecordOrderConsumption(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	ledger := NewLedger(testLogger())

	var recorded []domain.InventoryAdjustment
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		recorded, err = ledger.RecordOrderConsumption(ctx, tx, completedOrder())
		return err
	})
	if err != nil {
		t.Fatalf("record consumption: %v", err)
	}

	if len(recorded) != 3 {
		t.Fatalf("expected 3 entries (2 for sized line, 1 for size-less line), got %d", len(recorded))
	}

	want := map[string]string{
		"line-1/10": "36",
		"line-1/11": "301",
		"line-2/10": "14",
	}
	for _, adj := range recorded {
		key := adj.OrderLineID + "/" + decimal.NewFromInt(adj.MaterialID).String()
		expected, ok := want[key]
		if !ok {
			t.Fatalf("unexpected entry %s", key)
		}
		if !adj.Consume.Equal(decimal.RequireFromString(expected)) {
			t.Errorf("entry %s: expected consume %s, got %s", key, expected, adj.Consume)
		}
	}
}

func TestLedger_MissingMaterialRollsBackWholeOrder(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	store.PutProduct(domain.Product{
		ID: 2, Name: "Mocha", Price: 60_000, IsActive: true,
		Recipes: []domain.Recipe{{ID: 2, Materials: []domain.MaterialRecipe{
			{MaterialID: 404, Consume: decimal.NewFromInt(1)},
		}}},
	})
	ledger := NewLedger(testLogger())

	order := completedOrder()
	order.Items = append(order.Items, domain.OrderLineItem{ID: "line-3", ProductID: 2, Quantity: 1})

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := ledger.RecordOrderConsumption(ctx, tx, order)
		return err
	})
	if !errors.Is(err, domain.ErrMaterialNotFound) {
		t.Fatalf("expected ErrMaterialNotFound, got %v", err)
	}

	_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		entries, err := tx.Inventory().ListByOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected no partial entries, got %d", len(entries))
		}
		return nil
	})
}

func TestLedger_RejectsSecondRecording(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	ledger := NewLedger(testLogger())

	record := func() error {
		return store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, err := ledger.RecordOrderConsumption(ctx, tx, completedOrder())
			return err
		})
	}
	if err := record(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := record(); !errors.Is(err, domain.ErrDuplicateAdjustment) {
		t.Fatalf("expected ErrDuplicateAdjustment, got %v", err)
	}
}

func TestLedger_BalanceFromSnapshot(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	store.PutSnapshot(domain.InventorySnapshot{MaterialID: 10, Quantity: decimal.NewFromInt(1000), TakenAt: base})

	ledger := NewLedger(testLogger(), WithClock(func() time.Time { return base.Add(time.Hour) }))

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := ledger.RecordOrderConsumption(ctx, tx, completedOrder()); err != nil {
			return err
		}
		balance, err := ledger.Balance(ctx, tx, 10)
		if err != nil {
			return err
		}
		if !balance.Equal(decimal.NewFromInt(950)) {
			t.Errorf("expected 1000-36-14=950, got %s", balance)
		}
		if _, err := ledger.Balance(ctx, tx, 999); !errors.Is(err, domain.ErrMaterialNotFound) {
			t.Errorf("expected ErrMaterialNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
