package repo

import (
	"context"
	"fmt"
)

// LoadMenu returns the restaurant's sellable catalog: available categories
// with their available products and addons, nested and ordered. It is loaded
// fresh per message so availability is never stale mid-order.
func (r *PostgresRepository) LoadMenu(ctx context.Context, restaurantID string) ([]MenuCategory, error) {
	const categoriesQ = `
SELECT id, name, position
FROM menu_categories
WHERE restaurant_id = $1 AND is_available = TRUE
ORDER BY position ASC, name ASC;
`
	rows, err := r.pool.Query(ctx, categoriesQ, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var categories []MenuCategory
	index := map[string]int{}
	for rows.Next() {
		var c MenuCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category: %w", err)
		}
		index[c.ID] = len(categories)
		categories = append(categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, nil
	}

	const productsQ = `
SELECT p.id, p.category_id, p.name, p.description, p.price_cents
FROM products p
JOIN menu_categories c ON c.id = p.category_id
WHERE p.restaurant_id = $1 AND p.is_available = TRUE AND c.is_available = TRUE
ORDER BY p.name ASC;
`
	prows, err := r.pool.Query(ctx, productsQ, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	productIndex := map[string]*Product{}
	var productIDs []string
	for prows.Next() {
		var p Product
		if err := prows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PriceCents); err != nil {
			prows.Close()
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if pos, ok := index[p.CategoryID]; ok {
			categories[pos].Products = append(categories[pos].Products, p)
			productIndex[p.ID] = &categories[pos].Products[len(categories[pos].Products)-1]
			productIDs = append(productIDs, p.ID)
		}
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(productIDs) == 0 {
		return categories, nil
	}

	const addonsQ = `
SELECT a.id, a.product_id, a.name, a.price_cents
FROM addons a
JOIN products p ON p.id = a.product_id
WHERE p.restaurant_id = $1 AND a.is_available = TRUE AND p.is_available = TRUE
ORDER BY a.name ASC;
`
	arows, err := r.pool.Query(ctx, addonsQ, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list addons: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var a Addon
		if err := arows.Scan(&a.ID, &a.ProductID, &a.Name, &a.PriceCents); err != nil {
			return nil, fmt.Errorf("scan addon: %w", err)
		}
		if p, ok := productIndex[a.ProductID]; ok {
			p.Addons = append(p.Addons, a)
		}
	}
	if err := arows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addons: %w", err)
	}
	return categories, nil
}

// GetSellableProduct returns an available product with its available addons.
// Unavailable or foreign products yield ErrNotFound.
func (r *PostgresRepository) GetSellableProduct(ctx context.Context, restaurantID, productID string) (*Product, error) {
	const q = `
SELECT id, category_id, name, description, price_cents
FROM products
WHERE id = $1 AND restaurant_id = $2 AND is_available = TRUE
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, productID, restaurantID)
	var p Product
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PriceCents); err != nil {
		return nil, mapNoRows(err, "get sellable product")
	}

	const addonsQ = `
SELECT id, product_id, name, price_cents
FROM addons
WHERE product_id = $1 AND is_available = TRUE
ORDER BY name ASC;
`
	rows, err := r.pool.Query(ctx, addonsQ, productID)
	if err != nil {
		return nil, fmt.Errorf("list product addons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Addon
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Name, &a.PriceCents); err != nil {
			return nil, fmt.Errorf("scan product addon: %w", err)
		}
		p.Addons = append(p.Addons, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product addons: %w", err)
	}
	return &p, nil
}
