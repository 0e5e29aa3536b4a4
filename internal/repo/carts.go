package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateCart opens a new active cart for the customer/restaurant pair.
func (r *PostgresRepository) CreateCart(ctx context.Context, restaurantID, phone string) (*Cart, error) {
	const q = `
INSERT INTO carts (restaurant_id, customer_phone, status)
VALUES ($1, $2, 'active')
RETURNING id, restaurant_id, customer_phone, status, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, restaurantID, phone)
	var c Cart
	if err := row.Scan(&c.ID, &c.RestaurantID, &c.CustomerPhone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &c, nil
}

// GetCart loads the cart with its line items, addons and running subtotal.
func (r *PostgresRepository) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	const q = `
SELECT id, restaurant_id, customer_phone, status, created_at, updated_at
FROM carts
WHERE id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, cartID)
	var c Cart
	if err := row.Scan(&c.ID, &c.RestaurantID, &c.CustomerPhone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapNoRows(err, "get cart")
	}

	const itemsQ = `
SELECT ci.id, ci.product_id, p.name, p.price_cents, ci.quantity, ci.notes, ci.created_at
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
WHERE ci.cart_id = $1
ORDER BY ci.created_at ASC;
`
	rows, err := r.pool.Query(ctx, itemsQ, cartID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	itemIndex := map[string]int{}
	for rows.Next() {
		item := CartItem{CartID: cartID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.ProductName, &item.UnitPriceCents, &item.Quantity, &item.Notes, &item.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		itemIndex[item.ID] = len(c.Items)
		c.Items = append(c.Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	if len(c.Items) > 0 {
		const addonsQ = `
SELECT cia.cart_item_id, a.id, a.name, a.price_cents
FROM cart_item_addons cia
JOIN cart_items ci ON ci.id = cia.cart_item_id
JOIN addons a ON a.id = cia.addon_id
WHERE ci.cart_id = $1;
`
		arows, err := r.pool.Query(ctx, addonsQ, cartID)
		if err != nil {
			return nil, fmt.Errorf("list cart item addons: %w", err)
		}
		for arows.Next() {
			var itemID string
			var addon CartItemAddon
			if err := arows.Scan(&itemID, &addon.AddonID, &addon.Name, &addon.PriceCents); err != nil {
				arows.Close()
				return nil, fmt.Errorf("scan cart item addon: %w", err)
			}
			if pos, ok := itemIndex[itemID]; ok {
				c.Items[pos].Addons = append(c.Items[pos].Addons, addon)
			}
		}
		arows.Close()
		if err := arows.Err(); err != nil {
			return nil, fmt.Errorf("iterate cart item addons: %w", err)
		}
	}

	c.SubtotalCents = cartSubtotal(c.Items)
	return &c, nil
}

func cartSubtotal(items []CartItem) int64 {
	var subtotal int64
	for _, item := range items {
		unit := item.UnitPriceCents
		for _, addon := range item.Addons {
			unit += addon.PriceCents
		}
		subtotal += unit * int64(item.Quantity)
	}
	return subtotal
}

// AddCartItem inserts a line item and its addon links in one transaction.
// The cart must still be active.
func (r *PostgresRepository) AddCartItem(ctx context.Context, cartID string, item NewCartItem) (*CartItem, error) {
	var inserted CartItem
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&status); err != nil {
			return mapNoRows(err, "lock cart")
		}
		if status != CartStatusActive {
			return ErrCartNotActive
		}

		const q = `
INSERT INTO cart_items (cart_id, product_id, quantity, notes)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at;
`
		if err := tx.QueryRow(ctx, q, cartID, item.ProductID, item.Quantity, item.Notes).Scan(&inserted.ID, &inserted.CreatedAt); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
		for _, addonID := range item.AddonIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO cart_item_addons (cart_item_id, addon_id) VALUES ($1, $2)`, inserted.ID, addonID); err != nil {
				return fmt.Errorf("insert cart item addon: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	inserted.CartID = cartID
	inserted.ProductID = item.ProductID
	inserted.Quantity = item.Quantity
	inserted.Notes = item.Notes
	return &inserted, nil
}

// RemoveCartItems deletes matching line items and their addon links. Removing
// a product that is not in the cart is a no-op, not an error.
func (r *PostgresRepository) RemoveCartItems(ctx context.Context, cartID, productID string) (int64, error) {
	var removed int64
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
DELETE FROM cart_item_addons
WHERE cart_item_id IN (SELECT id FROM cart_items WHERE cart_id = $1 AND product_id = $2);
`, cartID, productID); err != nil {
			return fmt.Errorf("delete cart item addons: %w", err)
		}
		ct, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
		if err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		removed = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
