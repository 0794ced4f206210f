package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryAdjustment — неизменяемая запись журнала расхода материала.
type InventoryAdjustment struct {
	ID          string
	MaterialID  int64
	OrderID     string
	OrderLineID string
	// Consume — израсходованное количество; положительное значение уменьшает остаток.
	Consume   decimal.Decimal
	CreatedAt time.Time
}

// InventorySnapshot — зафиксированный остаток материала на момент инвентаризации.
type InventorySnapshot struct {
	MaterialID int64
	Quantity   decimal.Decimal
	TakenAt    time.Time
}
