package repository

import (
	"context"
	"fmt"
	"time"
)

func (r *Repository) HasDelivery(ctx context.Context, deliveryID string) (bool, error) {
	var exists bool
	if err := r.db(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE delivery_id = $1)
	`, deliveryID).Scan(&exists); err != nil {
		return false, fmt.Errorf("select webhook delivery: %w", err)
	}
	return exists, nil
}

func (r *Repository) RecordDelivery(ctx context.Context, deliveryID, event string, at time.Time) error {
	if _, err := r.db(ctx).Exec(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, event, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (delivery_id) DO NOTHING
	`, deliveryID, event, at); err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}
