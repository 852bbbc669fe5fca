package repository

import (
	"context"
	"fmt"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// GetEvents returns a user's full interaction history, oldest first.
func (r *Repository) GetEvents(ctx context.Context, userID string) ([]domain.InteractionEvent, error) {
	return guard(r.db, func() ([]domain.InteractionEvent, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT user_id, material_id, event_type, payload, occurred_at
			FROM interaction_events
			WHERE user_id = $1
			ORDER BY occurred_at, id`,
			userID,
		)
		if err != nil {
			return nil, fmt.Errorf("get events for user %s: %w", userID, err)
		}
		defer rows.Close()

		var items []domain.InteractionEvent
		for rows.Next() {
			var (
				e         domain.InteractionEvent
				eventType string
			)
			if err := rows.Scan(&e.UserID, &e.MaterialID, &eventType, &e.Payload, &e.Timestamp); err != nil {
				return nil, fmt.Errorf("scan event: %w", err)
			}
			e.EventType = domain.ParseEventType(eventType)
			items = append(items, e)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate over events: %w", err)
		}
		return items, nil
	})
}

func (r *Repository) AppendEvent(ctx context.Context, e domain.InteractionEvent) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	_, err := guard(r.db, func() (struct{}, error) {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO interaction_events (user_id, material_id, event_type, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.UserID, e.MaterialID, string(e.EventType), payload, e.Timestamp,
		)
		if err != nil {
			return struct{}{}, fmt.Errorf("append event for user %s: %w", e.UserID, err)
		}
		return struct{}{}, nil
	})
	return err
}

// UserIDs lists every user with at least one recorded event.
func (r *Repository) UserIDs(ctx context.Context) ([]string, error) {
	return guard(r.db, func() ([]string, error) {
		rows, err := r.pool.Query(ctx,
			`SELECT DISTINCT user_id FROM interaction_events ORDER BY user_id`,
		)
		if err != nil {
			return nil, fmt.Errorf("query user ids: %w", err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan user id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate user ids: %w", err)
		}
		return ids, nil
	})
}
