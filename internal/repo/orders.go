package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const cartTotalsQuery = `
SELECT COUNT(ci.id),
       COALESCE(SUM(ci.quantity * (p.price_cents + COALESCE(a.addon_total, 0))), 0)
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
LEFT JOIN (
    SELECT cia.cart_item_id, SUM(ad.price_cents) AS addon_total
    FROM cart_item_addons cia
    JOIN addons ad ON ad.id = cia.addon_id
    GROUP BY cia.cart_item_id
) a ON a.cart_item_id = ci.id
WHERE ci.cart_id = $1;
`

// FinalizeOrder converts an active cart into an order as one atomic unit:
// the order insert, the cart completion and the conversation state change
// either all commit or none do. The total is computed from persisted cart
// rows plus the delivery fee; a caller-proposed total is never accepted.
func (r *PostgresRepository) FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*Order, error) {
	var order Order
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, `SELECT status FROM carts WHERE id = $1 FOR UPDATE`, params.CartID).Scan(&status); err != nil {
			return mapNoRows(err, "lock cart")
		}
		if status != CartStatusActive {
			return ErrCartNotActive
		}

		var itemCount int64
		var subtotal int64
		if err := tx.QueryRow(ctx, cartTotalsQuery, params.CartID).Scan(&itemCount, &subtotal); err != nil {
			return fmt.Errorf("compute cart totals: %w", err)
		}
		if itemCount == 0 {
			return ErrEmptyCart
		}
		total := subtotal + params.DeliveryFeeCents

		const insertQ = `
INSERT INTO orders (cart_id, restaurant_id, customer_phone, delivery_address, payment_method, total_cents, status)
VALUES ($1, $2, $3, $4, $5, $6, 'new')
RETURNING id, cart_id, restaurant_id, customer_phone, delivery_address, payment_method, total_cents, status, created_at, updated_at;
`
		row := tx.QueryRow(ctx, insertQ,
			params.CartID,
			params.RestaurantID,
			params.CustomerPhone,
			params.DeliveryAddress,
			params.PaymentMethod,
			total,
		)
		if err := row.Scan(&order.ID, &order.CartID, &order.RestaurantID, &order.CustomerPhone,
			&order.DeliveryAddress, &order.PaymentMethod, &order.TotalCents, &order.Status,
			&order.CreatedAt, &order.UpdatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		ct, err := tx.Exec(ctx, `UPDATE carts SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status = 'active'`, params.CartID)
		if err != nil {
			return fmt.Errorf("complete cart: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrCartNotActive
		}

		const convQ = `
UPDATE conversations
SET state = 'order_completed',
    cart_id = NULL,
    metadata = '{}'::jsonb,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2;
`
		cct, err := tx.Exec(ctx, convQ, params.ConversationID, params.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("advance conversation: %w", err)
		}
		if cct.RowsAffected() == 0 {
			return fmt.Errorf("advance conversation %s: %w", params.ConversationID, ErrStateConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}
