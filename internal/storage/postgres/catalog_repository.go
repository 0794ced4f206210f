package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type catalogRepository struct {
	q querier
}

// productQuery собирает продукт с размерами, рецептами и акциями одной строкой; вложенные
// коллекции приходят как json_agg. $2 = false отдаёт только размеры (для топпингов).
const productQuery = `
	SELECT p.id, p.name, p.price, p.is_active, p.is_topping,
	       COALESCE((
	           SELECT json_agg(json_build_object('size_id', s.size_id, 'size_name', s.size_name, 'price', s.price)
	                           ORDER BY s.size_id)
	           FROM product_sizes s
	           WHERE s.product_id = p.id
	       ), '[]'),
	       CASE WHEN $2 THEN COALESCE((
	           SELECT json_agg(json_build_object('id', rc.id, 'materials', COALESCE((
	                      SELECT json_agg(json_build_object('material_id', mr.material_id, 'size_id', mr.size_id,
	                                                        'consume', mr.consume::text)
	                                      ORDER BY mr.material_id, mr.size_id)
	                      FROM material_recipes mr
	                      WHERE mr.recipe_id = rc.id
	                  ), '[]'::json)) ORDER BY rc.id)
	           FROM recipes rc
	           WHERE rc.product_id = p.id
	       ), '[]') ELSE '[]' END,
	       CASE WHEN $2 THEN COALESCE((
	           SELECT json_agg(json_build_object('size_id', pp.size_id, 'new_price', pp.new_price,
	                                             'id', pr.id, 'name', pr.name, 'is_active', pr.is_active,
	                                             'start_date', pr.start_date, 'end_date', pr.end_date)
	                           ORDER BY pr.id, pp.size_id)
	           FROM product_promotions pp
	           JOIN promotions pr ON pr.id = pp.promotion_id
	           WHERE pp.product_id = p.id
	       ), '[]') ELSE '[]' END
	FROM products p
	WHERE p.id = ANY($1)`

type sizeRow struct {
	SizeID   int64  `json:"size_id"`
	SizeName string `json:"size_name"`
	Price    int64  `json:"price"`
}

// recipeRow: рецепт без строк материалов тоже возвращается, чтобы отличать «нет рецепта» от «пустого рецепта».
type recipeRow struct {
	ID        int64 `json:"id"`
	Materials []struct {
		MaterialID int64           `json:"material_id"`
		SizeID     int64           `json:"size_id"`
		Consume    decimal.Decimal `json:"consume"`
	} `json:"materials"`
}

type promotionRow struct {
	SizeID    int64     `json:"size_id"`
	NewPrice  int64     `json:"new_price"`
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// LoadProducts грузит продукты вместе с размерами, рецептами и акциями одним запросом.
func (r catalogRepository) LoadProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return r.load(ctx, ids, true)
}

// LoadToppings возвращает продукты с размерами, но без рецептов и акций.
func (r catalogRepository) LoadToppings(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return r.load(ctx, ids, false)
}

func (r catalogRepository) Material(ctx context.Context, id int64) (domain.Material, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m domain.Material
	err := r.q.QueryRowContext(ctx, `SELECT id, name, unit FROM materials WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Unit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Material{}, domain.ErrMaterialNotFound
		}
		return domain.Material{}, fmt.Errorf("select material: %w", err)
	}
	return m, nil
}

func (r catalogRepository) load(ctx context.Context, ids []int64, full bool) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, productQuery, ids, full)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p                        domain.Product
			sizes, recipes, promos []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.IsActive, &p.IsTopping, &sizes, &recipes, &promos); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if err := decodeProduct(&p, sizes, recipes, promos); err != nil {
			return nil, fmt.Errorf("decode product %d: %w", p.ID, err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func decodeProduct(p *domain.Product, sizes, recipes, promotions []byte) error {
	var (
		sizeRows   []sizeRow
		recipeRows []recipeRow
		promoRows  []promotionRow
	)
	if err := json.Unmarshal(sizes, &sizeRows); err != nil {
		return fmt.Errorf("sizes: %w", err)
	}
	if err := json.Unmarshal(recipes, &recipeRows); err != nil {
		return fmt.Errorf("recipes: %w", err)
	}
	if err := json.Unmarshal(promotions, &promoRows); err != nil {
		return fmt.Errorf("promotions: %w", err)
	}

	for _, s := range sizeRows {
		p.Sizes = append(p.Sizes, domain.ProductSize{SizeID: s.SizeID, SizeName: s.SizeName, Price: s.Price})
	}
	for _, rc := range recipeRows {
		recipe := domain.Recipe{ID: rc.ID}
		for _, m := range rc.Materials {
			recipe.Materials = append(recipe.Materials, domain.MaterialRecipe{
				MaterialID: m.MaterialID,
				SizeID:     m.SizeID,
				Consume:    m.Consume,
			})
		}
		p.Recipes = append(p.Recipes, recipe)
	}
	for _, pr := range promoRows {
		p.Promotions = append(p.Promotions, domain.ProductPromotion{
			Promotion: domain.Promotion{
				ID:        pr.ID,
				Name:      pr.Name,
				IsActive:  pr.IsActive,
				StartDate: pr.StartDate,
				EndDate:   pr.EndDate,
			},
			ProductID: p.ID,
			SizeID:    pr.SizeID,
			NewPrice:  pr.NewPrice,
		})
	}
	return nil
}

var _ domain.CatalogReader = catalogRepository{}
