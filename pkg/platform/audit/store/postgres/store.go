package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "faceauth/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table. Metadata is kept as JSONB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, ts, event_type, category, username, ip, request_id, device, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Type),
		string(event.Category),
		nullString(event.Username),
		nullString(event.Origin),
		nullString(event.RequestID),
		nullString(event.Device),
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, ts, event_type, category, username, ip, request_id, device, meta
		FROM audit_events
		ORDER BY ts DESC, seq DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event                           audit.Event
			eventType, category             string
			username, ip, requestID, device sql.NullString
			meta                            []byte
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &eventType, &category,
			&username, &ip, &requestID, &device, &meta); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Type = audit.EventType(eventType)
		event.Category = audit.EventCategory(category)
		event.Username = username.String
		event.Origin = ip.String
		event.RequestID = requestID.String
		event.Device = device.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
