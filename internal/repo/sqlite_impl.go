package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func mapSQLNoRows(err error, wrap string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", wrap, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", wrap, err)
}

// -- Restaurants --

func (r *SQLiteRepository) GetRestaurant(ctx context.Context, id string) (*Restaurant, error) {
	const q = `
SELECT id, name, delivery_fee_cents, ai_settings, created_at, updated_at
FROM restaurants
WHERE id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)
	var rest Restaurant
	var settingsJSON []byte
	if err := row.Scan(&rest.ID, &rest.Name, &rest.DeliveryFeeCents, &settingsJSON, &rest.CreatedAt, &rest.UpdatedAt); err != nil {
		return nil, mapSQLNoRows(err, "get restaurant")
	}
	rest.AISettings = parseAISettings(settingsJSON)
	return &rest, nil
}

// -- Customers --

func (r *SQLiteRepository) UpsertCustomerByPhone(ctx context.Context, phone string, name *string) (*Customer, error) {
	const q = `
INSERT INTO customers (phone, name, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (phone) DO UPDATE SET
    name = COALESCE(excluded.name, customers.name),
    updated_at = CURRENT_TIMESTAMP
RETURNING phone, name, metadata, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, phone, name)
	var c Customer
	var metaJSON []byte
	if err := row.Scan(&c.Phone, &c.Name, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapSQLNoRows(err, "upsert customer")
	}
	c.Metadata = fromJSONMap(metaJSON)
	return &c, nil
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	const q = `
INSERT INTO messages (id, restaurant_id, customer_phone, direction, content)
VALUES (?, ?, ?, ?, ?);
`
	_, err := r.db.ExecContext(ctx, q, randomUUID(), msg.RestaurantID, msg.CustomerPhone, msg.Direction, msg.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentMessages(ctx context.Context, restaurantID, phone string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT direction, content, created_at
FROM (
    SELECT direction, content, created_at
    FROM messages
    WHERE restaurant_id = ? AND customer_phone = ?
    ORDER BY created_at DESC
    LIMIT ?
) latest
ORDER BY created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, restaurantID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		msg := MessageRecord{RestaurantID: restaurantID, CustomerPhone: phone}
		if err := rows.Scan(&msg.Direction, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		records = append(records, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}
	return records, nil
}

// -- Menu --

func (r *SQLiteRepository) LoadMenu(ctx context.Context, restaurantID string) ([]MenuCategory, error) {
	const categoriesQ = `
SELECT id, name, position
FROM menu_categories
WHERE restaurant_id = ? AND is_available = 1
ORDER BY position ASC, name ASC;
`
	rows, err := r.db.QueryContext(ctx, categoriesQ, restaurantID)
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
WHERE p.restaurant_id = ? AND p.is_available = 1 AND c.is_available = 1
ORDER BY p.name ASC;
`
	prows, err := r.db.QueryContext(ctx, productsQ, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	productIndex := map[string]*Product{}
	for prows.Next() {
		var p Product
		if err := prows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PriceCents); err != nil {
			prows.Close()
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if pos, ok := index[p.CategoryID]; ok {
			categories[pos].Products = append(categories[pos].Products, p)
			productIndex[p.ID] = &categories[pos].Products[len(categories[pos].Products)-1]
		}
	}
	prows.Close()
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if len(productIndex) == 0 {
		return categories, nil
	}

	const addonsQ = `
SELECT a.id, a.product_id, a.name, a.price_cents
FROM addons a
JOIN products p ON p.id = a.product_id
WHERE p.restaurant_id = ? AND a.is_available = 1 AND p.is_available = 1
ORDER BY a.name ASC;
`
	arows, err := r.db.QueryContext(ctx, addonsQ, restaurantID)
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

func (r *SQLiteRepository) GetSellableProduct(ctx context.Context, restaurantID, productID string) (*Product, error) {
	const q = `
SELECT id, category_id, name, description, price_cents
FROM products
WHERE id = ? AND restaurant_id = ? AND is_available = 1
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, productID, restaurantID)
	var p Product
	if err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.PriceCents); err != nil {
		return nil, mapSQLNoRows(err, "get sellable product")
	}

	const addonsQ = `
SELECT id, product_id, name, price_cents
FROM addons
WHERE product_id = ? AND is_available = 1
ORDER BY name ASC;
`
	rows, err := r.db.QueryContext(ctx, addonsQ, productID)
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

// -- Conversations --

func (r *SQLiteRepository) GetOrCreateConversation(ctx context.Context, restaurantID, phone string) (*Conversation, error) {
	const q = `
INSERT INTO conversations (id, restaurant_id, customer_phone)
VALUES (?, ?, ?)
ON CONFLICT (restaurant_id, customer_phone) DO UPDATE SET
    updated_at = CURRENT_TIMESTAMP
RETURNING id, restaurant_id, customer_phone, state, mode, cart_id,
          last_shown_products, metadata, version, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, randomUUID(), restaurantID, phone)
	var c Conversation
	var shownJSON, metaJSON []byte
	if err := row.Scan(&c.ID, &c.RestaurantID, &c.CustomerPhone, &c.State, &c.Mode, &c.CartID,
		&shownJSON, &metaJSON, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	c.LastShownProducts = fromJSONShown(shownJSON)
	c.Metadata = fromJSONMap(metaJSON)
	return &c, nil
}

func (r *SQLiteRepository) UpdateConversation(ctx context.Context, upd ConversationUpdate) error {
	shown, err := toJSON(upd.LastShownProducts)
	if err != nil {
		return err
	}
	if shown == nil {
		shown = []byte("[]")
	}
	meta, err := toJSON(upd.Metadata)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = []byte("{}")
	}

	const q = `
UPDATE conversations
SET state = ?,
    cart_id = ?,
    last_shown_products = ?,
    metadata = ?,
    version = version + 1,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND version = ?;
`
	res, err := r.db.ExecContext(ctx, q, upd.State, upd.CartID, string(shown), string(meta), upd.ID, upd.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update conversation %s: %w", upd.ID, ErrStateConflict)
	}
	return nil
}

func (r *SQLiteRepository) SetConversationMode(ctx context.Context, restaurantID, phone, mode string) error {
	const q = `
UPDATE conversations
SET mode = ?, updated_at = CURRENT_TIMESTAMP
WHERE restaurant_id = ? AND customer_phone = ?;
`
	res, err := r.db.ExecContext(ctx, q, mode, restaurantID, phone)
	if err != nil {
		return fmt.Errorf("set conversation mode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set conversation mode rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set conversation mode: %w", ErrNotFound)
	}
	return nil
}

// -- Carts --

func (r *SQLiteRepository) CreateCart(ctx context.Context, restaurantID, phone string) (*Cart, error) {
	const q = `
INSERT INTO carts (id, restaurant_id, customer_phone, status)
VALUES (?, ?, ?, 'active')
RETURNING id, restaurant_id, customer_phone, status, created_at, updated_at;
`
	row := r.db.QueryRowContext(ctx, q, randomUUID(), restaurantID, phone)
	var c Cart
	if err := row.Scan(&c.ID, &c.RestaurantID, &c.CustomerPhone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &c, nil
}

func (r *SQLiteRepository) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	const q = `
SELECT id, restaurant_id, customer_phone, status, created_at, updated_at
FROM carts
WHERE id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, cartID)
	var c Cart
	if err := row.Scan(&c.ID, &c.RestaurantID, &c.CustomerPhone, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapSQLNoRows(err, "get cart")
	}

	const itemsQ = `
SELECT ci.id, ci.product_id, p.name, p.price_cents, ci.quantity, ci.notes, ci.created_at
FROM cart_items ci
JOIN products p ON p.id = ci.product_id
WHERE ci.cart_id = ?
ORDER BY ci.created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, itemsQ, cartID)
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
WHERE ci.cart_id = ?;
`
		arows, err := r.db.QueryContext(ctx, addonsQ, cartID)
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

func (r *SQLiteRepository) AddCartItem(ctx context.Context, cartID string, item NewCartItem) (*CartItem, error) {
	var inserted CartItem
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM carts WHERE id = ?`, cartID).Scan(&status); err != nil {
			return mapSQLNoRows(err, "load cart")
		}
		if status != CartStatusActive {
			return ErrCartNotActive
		}

		const q = `
INSERT INTO cart_items (id, cart_id, product_id, quantity, notes)
VALUES (?, ?, ?, ?, ?)
RETURNING id, created_at;
`
		if err := tx.QueryRowContext(ctx, q, randomUUID(), cartID, item.ProductID, item.Quantity, item.Notes).Scan(&inserted.ID, &inserted.CreatedAt); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
		for _, addonID := range item.AddonIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO cart_item_addons (cart_item_id, addon_id) VALUES (?, ?)`, inserted.ID, addonID); err != nil {
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

func (r *SQLiteRepository) RemoveCartItems(ctx context.Context, cartID, productID string) (int64, error) {
	var removed int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM cart_item_addons
WHERE cart_item_id IN (SELECT id FROM cart_items WHERE cart_id = ? AND product_id = ?);
`, cartID, productID); err != nil {
			return fmt.Errorf("delete cart item addons: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
		if err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete cart items rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// -- Orders --

func (r *SQLiteRepository) FinalizeOrder(ctx context.Context, params FinalizeOrderParams) (*Order, error) {
	var order Order
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM carts WHERE id = ?`, params.CartID).Scan(&status); err != nil {
			return mapSQLNoRows(err, "load cart")
		}
		if status != CartStatusActive {
			return ErrCartNotActive
		}

		const totalsQ = `
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
WHERE ci.cart_id = ?;
`
		var itemCount, subtotal int64
		if err := tx.QueryRowContext(ctx, totalsQ, params.CartID).Scan(&itemCount, &subtotal); err != nil {
			return fmt.Errorf("compute cart totals: %w", err)
		}
		if itemCount == 0 {
			return ErrEmptyCart
		}
		total := subtotal + params.DeliveryFeeCents

		const insertQ = `
INSERT INTO orders (id, cart_id, restaurant_id, customer_phone, delivery_address, payment_method, total_cents, status)
VALUES (?, ?, ?, ?, ?, ?, ?, 'new')
RETURNING id, cart_id, restaurant_id, customer_phone, delivery_address, payment_method, total_cents, status, created_at, updated_at;
`
		row := tx.QueryRowContext(ctx, insertQ,
			randomUUID(),
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

		res, err := tx.ExecContext(ctx, `UPDATE carts SET status = 'completed', updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'active'`, params.CartID)
		if err != nil {
			return fmt.Errorf("complete cart: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete cart rows: %w", err)
		}
		if affected == 0 {
			return ErrCartNotActive
		}

		const convQ = `
UPDATE conversations
SET state = 'order_completed',
    cart_id = NULL,
    metadata = '{}',
    version = version + 1,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND version = ?;
`
		cres, err := tx.ExecContext(ctx, convQ, params.ConversationID, params.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("advance conversation: %w", err)
		}
		caffected, err := cres.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance conversation rows: %w", err)
		}
		if caffected == 0 {
			return fmt.Errorf("advance conversation %s: %w", params.ConversationID, ErrStateConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// -- Insights --

func (r *SQLiteRepository) GetCustomerInsights(ctx context.Context, phone string) (*CustomerInsights, error) {
	const q = `
SELECT phone, order_count, average_ticket_cents, preferred_items, preferred_addons,
       order_frequency_days, last_order_id, last_interaction_at, updated_at
FROM customer_insights
WHERE phone = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, phone)
	var ins CustomerInsights
	var itemsJSON, addonsJSON []byte
	if err := row.Scan(&ins.Phone, &ins.OrderCount, &ins.AverageTicketCents, &itemsJSON, &addonsJSON,
		&ins.OrderFrequencyDays, &ins.LastOrderID, &ins.LastInteractionAt, &ins.UpdatedAt); err != nil {
		return nil, mapSQLNoRows(err, "get customer insights")
	}
	ins.PreferredItems = fromJSONCounts(itemsJSON)
	ins.PreferredAddons = fromJSONCounts(addonsJSON)
	return &ins, nil
}

func (r *SQLiteRepository) RecordOrderInsights(ctx context.Context, phone string, order *Order, cart *Cart) error {
	existing, err := r.GetCustomerInsights(ctx, phone)
	if err != nil && !isNotFound(err) {
		return err
	}
	next := FoldOrderIntoInsights(existing, phone, order, cart, time.Now())

	itemsJSON, err := toJSON(next.PreferredItems)
	if err != nil {
		return err
	}
	if itemsJSON == nil {
		itemsJSON = []byte("{}")
	}
	addonsJSON, err := toJSON(next.PreferredAddons)
	if err != nil {
		return err
	}
	if addonsJSON == nil {
		addonsJSON = []byte("{}")
	}

	const q = `
INSERT INTO customer_insights (phone, order_count, average_ticket_cents, preferred_items, preferred_addons,
                               order_frequency_days, last_order_id, last_interaction_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (phone) DO UPDATE SET
    order_count = excluded.order_count,
    average_ticket_cents = excluded.average_ticket_cents,
    preferred_items = excluded.preferred_items,
    preferred_addons = excluded.preferred_addons,
    order_frequency_days = excluded.order_frequency_days,
    last_order_id = excluded.last_order_id,
    last_interaction_at = excluded.last_interaction_at,
    updated_at = CURRENT_TIMESTAMP;
`
	_, err = r.db.ExecContext(ctx, q,
		next.Phone,
		next.OrderCount,
		next.AverageTicketCents,
		string(itemsJSON),
		string(addonsJSON),
		next.OrderFrequencyDays,
		next.LastOrderID,
		next.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("upsert customer insights: %w", err)
	}
	return nil
}

// -- API Keys --

func (r *SQLiteRepository) SyncProviderKeys(ctx context.Context, provider string, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no %s keys provided", provider)
	}
	for idx, key := range keys {
		const q = `
INSERT INTO api_keys (id, provider, value, priority)
VALUES (?, ?, ?, ?)
ON CONFLICT (provider, value) DO UPDATE
SET priority = excluded.priority,
    updated_at = CURRENT_TIMESTAMP;`
		if _, err := r.db.ExecContext(ctx, q, randomUUID(), provider, key, idx); err != nil {
			return fmt.Errorf("upsert api key: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) ListActiveProviderKeys(ctx context.Context, provider string) ([]APIKey, error) {
	const q = `
SELECT id, provider, value, priority, cooldown_until, created_at, updated_at
FROM api_keys
WHERE provider = ?
ORDER BY priority ASC;
`
	rows, err := r.db.QueryContext(ctx, q, provider)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var res []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Provider, &k.Value, &k.Priority, &k.CooldownUntil, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		res = append(res, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys rows: %w", err)
	}
	return res, nil
}

func (r *SQLiteRepository) SetCooldownUntil(ctx context.Context, id string, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET cooldown_until = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, until, id)
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set cooldown rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("api key not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) ClearCooldown(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET cooldown_until = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear cooldown: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear cooldown rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("api key not found: %s", id)
	}
	return nil
}
