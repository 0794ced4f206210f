package memory

import (
	"context"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// catalogRepository читает каталог; вызывается только под мьютексом Store.
type catalogRepository struct {
	store *Store
}

func (r catalogRepository) LoadProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.store.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (r catalogRepository) LoadToppings(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.store.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (r catalogRepository) Material(_ context.Context, id int64) (domain.Material, error) {
	m, ok := r.store.materials[id]
	if !ok {
		return domain.Material{}, domain.ErrMaterialNotFound
	}
	return m, nil
}

var _ domain.CatalogReader = catalogRepository{}
