package repo

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GetCustomerInsights loads the rolling aggregate for the phone number.
// Insights are keyed by phone alone, matching the platform-wide customer
// graph; scoping per restaurant is an open product question.
func (r *PostgresRepository) GetCustomerInsights(ctx context.Context, phone string) (*CustomerInsights, error) {
	const q = `
SELECT phone, order_count, average_ticket_cents, preferred_items, preferred_addons,
       order_frequency_days, last_order_id, last_interaction_at, updated_at
FROM customer_insights
WHERE phone = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, phone)
	var ins CustomerInsights
	var itemsJSON, addonsJSON []byte
	if err := row.Scan(&ins.Phone, &ins.OrderCount, &ins.AverageTicketCents, &itemsJSON, &addonsJSON,
		&ins.OrderFrequencyDays, &ins.LastOrderID, &ins.LastInteractionAt, &ins.UpdatedAt); err != nil {
		return nil, mapNoRows(err, "get customer insights")
	}
	ins.PreferredItems = fromJSONCounts(itemsJSON)
	ins.PreferredAddons = fromJSONCounts(addonsJSON)
	return &ins, nil
}

// RecordOrderInsights folds a completed order into the aggregate. Plain
// read-modify-write: this only runs at order boundaries, where last-write-wins
// on an analytics row is acceptable.
func (r *PostgresRepository) RecordOrderInsights(ctx context.Context, phone string, order *Order, cart *Cart) error {
	existing, err := r.GetCustomerInsights(ctx, phone)
	if err != nil && !isNotFound(err) {
		return err
	}
	next := FoldOrderIntoInsights(existing, phone, order, cart, time.Now())

	itemsJSON, err := toJSON(next.PreferredItems)
	if err != nil {
		return err
	}
	addonsJSON, err := toJSON(next.PreferredAddons)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO customer_insights (phone, order_count, average_ticket_cents, preferred_items, preferred_addons,
                               order_frequency_days, last_order_id, last_interaction_at, updated_at)
VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), COALESCE($5, '{}'::jsonb), $6, $7, $8, NOW())
ON CONFLICT (phone) DO UPDATE SET
    order_count = EXCLUDED.order_count,
    average_ticket_cents = EXCLUDED.average_ticket_cents,
    preferred_items = EXCLUDED.preferred_items,
    preferred_addons = EXCLUDED.preferred_addons,
    order_frequency_days = EXCLUDED.order_frequency_days,
    last_order_id = EXCLUDED.last_order_id,
    last_interaction_at = EXCLUDED.last_interaction_at,
    updated_at = NOW();
`
	_, err = r.pool.Exec(ctx, q,
		next.Phone,
		next.OrderCount,
		next.AverageTicketCents,
		jsonParam(itemsJSON),
		jsonParam(addonsJSON),
		next.OrderFrequencyDays,
		next.LastOrderID,
		next.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("upsert customer insights: %w", err)
	}
	return nil
}

// FoldOrderIntoInsights computes the next aggregate from the previous one and
// a completed order. Exposed so both storage backends share the arithmetic.
func FoldOrderIntoInsights(prev *CustomerInsights, phone string, order *Order, cart *Cart, now time.Time) CustomerInsights {
	next := CustomerInsights{Phone: phone}
	if prev != nil {
		next = *prev
	}

	// Incremental running mean keeps the aggregate cheap to maintain.
	next.AverageTicketCents = (next.AverageTicketCents*next.OrderCount + order.TotalCents) / (next.OrderCount + 1)

	if prev != nil && prev.LastInteractionAt != nil && next.OrderCount > 0 {
		gapDays := now.Sub(*prev.LastInteractionAt).Hours() / 24
		if gapDays > 0 {
			// Rolling average of days between orders over the gap count.
			next.OrderFrequencyDays = (next.OrderFrequencyDays*float64(next.OrderCount-1) + gapDays) / float64(next.OrderCount)
		}
	}
	next.OrderCount++

	if next.PreferredItems == nil {
		next.PreferredItems = map[string]int64{}
	}
	if next.PreferredAddons == nil {
		next.PreferredAddons = map[string]int64{}
	}
	if cart != nil {
		for _, item := range cart.Items {
			next.PreferredItems[item.ProductName] += int64(item.Quantity)
			for _, addon := range item.Addons {
				next.PreferredAddons[addon.Name]++
			}
		}
	}

	orderID := order.ID
	next.LastOrderID = &orderID
	interaction := now
	next.LastInteractionAt = &interaction
	return next
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
