// Package pricing вычисляет цену позиции заказа на заданный момент времени.
package pricing

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// ToppingSelection: выбранный топпинг и его количество на единицу позиции.
type ToppingSelection struct {
	ToppingID int64
	Quantity  int32
}

// Query: вход резолвера для одной позиции.
type Query struct {
	ProductID int64
	// SizeID равен 0, если размер не выбран.
	SizeID   int64
	Toppings []ToppingSelection
}

// Catalog: заранее загруженные батчем продукты и топпинги.
type Catalog struct {
	Products map[int64]domain.Product
	Toppings map[int64]domain.Product
}

// Quote: результат расчёта цены позиции.
type Quote struct {
	UnitPrice         int64
	OriginalUnitPrice int64
	ToppingTotal      int64
	// PromotionID равен 0, если акция не применилась.
	PromotionID int64
	Toppings    []domain.ToppingLine
}

// LineTotal = (unit_price + topping_total) × quantity.
func (q Quote) LineTotal(quantity int32) int64 {
	return (q.UnitPrice + q.ToppingTotal) * int64(quantity)
}

// Resolver считает цены в памяти, без обращений к хранилищу.
type Resolver struct{}

// NewResolver создаёт резолвер цен.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve рассчитывает цену позиции на момент now.
func (r *Resolver) Resolve(catalog Catalog, q Query, now time.Time) (Quote, error) {
	product, ok := catalog.Products[q.ProductID]
	if !ok {
		return Quote{}, fmt.Errorf("product %d: %w", q.ProductID, domain.ErrProductNotFound)
	}

	basePrice := product.Price
	if q.SizeID != 0 {
		size, ok := product.Size(q.SizeID)
		if !ok {
			return Quote{}, fmt.Errorf("product %d size %d: %w", q.ProductID, q.SizeID, domain.ErrSizeNotFound)
		}
		basePrice = size.Price
	}
	if basePrice < 0 {
		return Quote{}, fmt.Errorf("product %d: %w", q.ProductID, domain.ErrPriceNegative)
	}

	quote := Quote{
		UnitPrice:         basePrice,
		OriginalUnitPrice: basePrice,
	}
	if promo, ok := bestPromotion(product, q.SizeID, now); ok {
		quote.UnitPrice = promo.NewPrice
		quote.PromotionID = promo.Promotion.ID
	}

	for _, sel := range q.Toppings {
		if sel.Quantity <= 0 {
			return Quote{}, fmt.Errorf("topping %d: %w", sel.ToppingID, domain.ErrLineQtyInvalid)
		}
		topping, ok := catalog.Toppings[sel.ToppingID]
		if !ok {
			return Quote{}, fmt.Errorf("topping %d: %w", sel.ToppingID, domain.ErrToppingNotFound)
		}
		if topping.Price < 0 {
			return Quote{}, fmt.Errorf("topping %d: %w", sel.ToppingID, domain.ErrPriceNegative)
		}
		quote.ToppingTotal += topping.Price * int64(sel.Quantity)
		quote.Toppings = append(quote.Toppings, domain.ToppingLine{
			ToppingID: topping.ID,
			Name:      topping.Name,
			Quantity:  sel.Quantity,
			UnitPrice: topping.Price,
		})
	}

	return quote, nil
}

// bestPromotion выбирает минимальную new_price среди активных акций продукта,
// при равенстве побеждает меньший id акции.
func bestPromotion(product domain.Product, sizeID int64, now time.Time) (domain.ProductPromotion, bool) {
	var (
		best  domain.ProductPromotion
		found bool
	)
	for _, pp := range product.Promotions {
		if pp.ProductID != product.ID || pp.SizeID != sizeID {
			continue
		}
		if !pp.Promotion.ActiveAt(now) || pp.NewPrice < 0 {
			continue
		}
		if !found ||
			pp.NewPrice < best.NewPrice ||
			(pp.NewPrice == best.NewPrice && pp.Promotion.ID < best.Promotion.ID) {
			best = pp
			found = true
		}
	}
	return best, found
}
