package repo

import (
	"context"
	"encoding/json"
)

// GetRestaurant returns the restaurant row by identifier.
func (r *PostgresRepository) GetRestaurant(ctx context.Context, id string) (*Restaurant, error) {
	const q = `
SELECT id, name, delivery_fee_cents, ai_settings, created_at, updated_at
FROM restaurants
WHERE id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, id)
	var rest Restaurant
	var settingsJSON []byte
	if err := row.Scan(&rest.ID, &rest.Name, &rest.DeliveryFeeCents, &settingsJSON, &rest.CreatedAt, &rest.UpdatedAt); err != nil {
		return nil, mapNoRows(err, "get restaurant")
	}
	rest.AISettings = parseAISettings(settingsJSON)
	return &rest, nil
}

func parseAISettings(data []byte) AISettings {
	var s AISettings
	if len(data) > 0 {
		_ = json.Unmarshal(data, &s)
	}
	return s
}

// UpsertCustomerByPhone stores or refreshes the customer profile. First-contact
// customers get a minimal row so downstream writes never hit a missing row.
func (r *PostgresRepository) UpsertCustomerByPhone(ctx context.Context, phone string, name *string) (*Customer, error) {
	const q = `
INSERT INTO customers (phone, name, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (phone) DO UPDATE SET
    name = COALESCE(EXCLUDED.name, customers.name),
    updated_at = NOW()
RETURNING phone, name, metadata, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q, phone, name)
	var c Customer
	var metaJSON []byte
	if err := row.Scan(&c.Phone, &c.Name, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapNoRows(err, "upsert customer")
	}
	c.Metadata = fromJSONMap(metaJSON)
	return &c, nil
}
