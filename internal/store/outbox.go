package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PendingEvents returns undelivered, live events oldest first.
func (s *SQLStore) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, s.db, `
		SELECT id, topic, aggregate_id, payload, attempts, last_error, created_at
		FROM outbox_events
		WHERE delivered_at IS NULL AND dead = 0
		ORDER BY created_at, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("query pending events: %w", err))
	}
	defer rows.Close()

	events := make([]OutboxEvent, 0)
	for rows.Next() {
		var (
			event     OutboxEvent
			payload   string
			lastError sql.NullString
			created   string
		)
		if err := rows.Scan(&event.ID, &event.Topic, &event.AggregateID, &payload, &event.Attempts, &lastError, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Payload = []byte(payload)
		event.LastError = lastError.String
		event.CreatedAt = parseTime(created)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate events: %w", err))
	}
	return events, nil
}

func (s *SQLStore) MarkEventDelivered(ctx context.Context, eventID string, at time.Time) error {
	_, err := s.exec(ctx, s.db, `UPDATE outbox_events SET delivered_at = ? WHERE id = ?`, formatTime(at), eventID)
	if err != nil {
		return classify(fmt.Errorf("mark event delivered: %w", err))
	}
	return nil
}

// MarkEventFailed records a failed delivery; after maxAttempts the event is
// parked as dead and no longer returned by PendingEvents.
func (s *SQLStore) MarkEventFailed(ctx context.Context, eventID, reason string, maxAttempts int) error {
	_, err := s.exec(ctx, s.db, `
		UPDATE outbox_events
		SET dead = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END,
			attempts = attempts + 1,
			last_error = ?
		WHERE id = ?
	`, maxAttempts, reason, eventID)
	if err != nil {
		return classify(fmt.Errorf("mark event failed: %w", err))
	}
	return nil
}
