package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductSize задаёт цену продукта для размера.
type ProductSize struct {
	SizeID   int64
	SizeName string
	Price    int64
}

// MaterialRecipe: расход материала на единицу продукта.
type MaterialRecipe struct {
	MaterialID int64
	// SizeID равен 0 для строк рецепта без размера.
	SizeID  int64
	Consume decimal.Decimal
}

// Recipe: один вариант технологической карты.
type Recipe struct {
	ID        int64
	Materials []MaterialRecipe
}

// Promotion действует в окне [StartDate, EndDate].
type Promotion struct {
	ID        int64
	Name      string
	IsActive  bool
	StartDate time.Time
	EndDate   time.Time
}

// ActiveAt: is_active && start_date <= now <= end_date.
func (p Promotion) ActiveAt(now time.Time) bool {
	return p.IsActive && !now.Before(p.StartDate) && !now.After(p.EndDate)
}

// ProductPromotion привязывает акционную цену к продукту и, опционально, к размеру.
type ProductPromotion struct {
	Promotion Promotion
	ProductID int64
	// SizeID равен 0 для акции без размера.
	SizeID   int64
	NewPrice int64
}

// Product — позиция каталога вместе с размерами, рецептами и акциями.
type Product struct {
	ID         int64
	Name       string
	Price      int64
	IsActive   bool
	IsTopping  bool
	Sizes      []ProductSize
	Recipes    []Recipe
	Promotions []ProductPromotion
}

// Size ищет размер продукта.
func (p Product) Size(sizeID int64) (ProductSize, bool) {
	for _, size := range p.Sizes {
		if size.SizeID == sizeID {
			return size, true
		}
	}
	return ProductSize{}, false
}

// HasCompleteRecipe сообщает, есть ли рецепт хотя бы с одним материалом.
func (p Product) HasCompleteRecipe() bool {
	for _, recipe := range p.Recipes {
		if len(recipe.Materials) > 0 {
			return true
		}
	}
	return false
}

// MaterialsFor возвращает строки рецептов, совпадающие по размеру позиции.
func (p Product) MaterialsFor(sizeID int64) []MaterialRecipe {
	var out []MaterialRecipe
	for _, recipe := range p.Recipes {
		for _, material := range recipe.Materials {
			if material.SizeID == sizeID {
				out = append(out, material)
			}
		}
	}
	return out
}

// Material: складской материал. Остаток не хранится, он выводится из журнала.
type Material struct {
	ID   int64
	Name string
	Unit string
}
