package repo

import (
	"context"
	"fmt"
)

// InsertMessage stores a message record for the conversation log.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	const q = `
INSERT INTO messages (restaurant_id, customer_phone, direction, content)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, q,
		msg.RestaurantID,
		msg.CustomerPhone,
		msg.Direction,
		msg.Content,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecentMessages returns the latest messages exchanged with the customer,
// oldest first.
func (r *PostgresRepository) ListRecentMessages(ctx context.Context, restaurantID, phone string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT direction, content, created_at
FROM (
    SELECT direction, content, created_at
    FROM messages
    WHERE restaurant_id = $1 AND customer_phone = $2
    ORDER BY created_at DESC
    LIMIT $3
) latest
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, restaurantID, phone, limit)
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
