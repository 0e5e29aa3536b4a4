package repo

import (
	"context"
	"fmt"
)

// GetOrCreateConversation loads the conversation row for the pair, creating a
// lazily-initialised idle record on first contact.
func (r *PostgresRepository) GetOrCreateConversation(ctx context.Context, restaurantID, phone string) (*Conversation, error) {
	const q = `
INSERT INTO conversations (restaurant_id, customer_phone)
VALUES ($1, $2)
ON CONFLICT (restaurant_id, customer_phone) DO UPDATE SET
    updated_at = NOW()
RETURNING id, restaurant_id, customer_phone, state, mode, cart_id,
          last_shown_products, metadata, version, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, restaurantID, phone)
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

// UpdateConversation applies a conditional state write. The version column
// guards against concurrent processors: the losing writer gets
// ErrStateConflict and must re-read before retrying.
func (r *PostgresRepository) UpdateConversation(ctx context.Context, upd ConversationUpdate) error {
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
SET state = $2,
    cart_id = $3,
    last_shown_products = $4,
    metadata = $5,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $6;
`
	ct, err := r.pool.Exec(ctx, q, upd.ID, upd.State, upd.CartID, string(shown), string(meta), upd.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("update conversation %s: %w", upd.ID, ErrStateConflict)
	}
	return nil
}

// SetConversationMode flips the ai/manual gate. Takes effect on the next
// inbound message.
func (r *PostgresRepository) SetConversationMode(ctx context.Context, restaurantID, phone, mode string) error {
	const q = `
UPDATE conversations
SET mode = $3, updated_at = NOW()
WHERE restaurant_id = $1 AND customer_phone = $2;
`
	ct, err := r.pool.Exec(ctx, q, restaurantID, phone, mode)
	if err != nil {
		return fmt.Errorf("set conversation mode: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("set conversation mode: %w", ErrNotFound)
	}
	return nil
}
