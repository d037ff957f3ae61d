package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store persists audit events. The audit_log table carries no RLS
// predicate: events are written by the platform, queried by operators.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes one event.
func (s *Store) Insert(ctx context.Context, e *Event) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			timestamp, event_type, status, tenant_id, user_id, roles,
			action, resource_type, resource_id,
			request_id, method, path, message, error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		e.Timestamp, e.EventType, e.Status, e.TenantID, e.UserID, pq.Array(e.Roles),
		e.Action, e.ResourceType, e.ResourceID,
		e.RequestID, e.Method, e.Path, e.Message, e.ErrorMessage, metadata,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// PurgeOlderThan removes events past the retention window and returns
// the number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Search returns events for a tenant within a time range, newest first.
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT id, timestamp, event_type, status, tenant_id, user_id, roles,
		       action, resource_type, resource_id,
		       request_id, method, path, message, error_message, metadata
		FROM audit_log
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp <= $3)
		ORDER BY timestamp DESC
		LIMIT $4 OFFSET $5
	`
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.TenantID, filter.StartTime, filter.EndTime, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.Status, &e.TenantID, &e.UserID, pq.Array(&e.Roles),
			&e.Action, &e.ResourceType, &e.ResourceID,
			&e.RequestID, &e.Method, &e.Path, &e.Message, &e.ErrorMessage, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				e.Metadata = nil
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SearchFilter narrows a Search call.
type SearchFilter struct {
	TenantID  interface{} // *uuid.UUID or nil
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
