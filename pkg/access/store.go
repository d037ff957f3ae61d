package access

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store reads membership and global-role data. Absence is reported as
// (nil, nil), never as an error: the resolver must be able to tell a
// definite "no row" apart from a failed lookup.
type Store interface {
	// GetGlobalRole returns the user's global role, or nil when none exists.
	GetGlobalRole(ctx context.Context, userID uuid.UUID) (*GlobalRole, error)

	// GetActiveMembership returns the active membership for (user, tenant),
	// or nil when none exists.
	GetActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error)
}

// PostgresStore implements Store on the primary database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetGlobalRole returns the user's global role, or nil when none exists.
func (s *PostgresStore) GetGlobalRole(ctx context.Context, userID uuid.UUID) (*GlobalRole, error) {
	query := `
		SELECT user_id, roles, unrestricted_access, created_at
		FROM global_roles
		WHERE user_id = $1
	`
	gr := &GlobalRole{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&gr.UserID, pq.Array(&gr.Roles), &gr.UnrestrictedAccess, &gr.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global role: %w", err)
	}
	return gr, nil
}

// GetActiveMembership returns the active membership for (user, tenant),
// or nil when none exists. Inactive rows are filtered here, not by the
// caller.
func (s *PostgresStore) GetActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (*Membership, error) {
	query := `
		SELECT tenant_id, user_id, roles, active, created_at, updated_at
		FROM tenant_memberships
		WHERE user_id = $1 AND tenant_id = $2 AND active = TRUE
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, userID, tenantID).Scan(
		&m.TenantID, &m.UserID, pq.Array(&m.Roles), &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// UpsertMembership creates or replaces a membership row.
func (s *PostgresStore) UpsertMembership(ctx context.Context, m *Membership) error {
	query := `
		INSERT INTO tenant_memberships (tenant_id, user_id, roles, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET roles = EXCLUDED.roles, active = EXCLUDED.active, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, m.TenantID, m.UserID, pq.Array(m.Roles), m.Active); err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// DeactivateMembership marks a membership inactive. Callers must also
// invalidate the decision cache for the pair.
func (s *PostgresStore) DeactivateMembership(ctx context.Context, userID, tenantID uuid.UUID) error {
	query := `
		UPDATE tenant_memberships SET active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND tenant_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("membership not found")
	}
	return nil
}

// UpsertGlobalRole creates or replaces a user's global role.
func (s *PostgresStore) UpsertGlobalRole(ctx context.Context, gr *GlobalRole) error {
	query := `
		INSERT INTO global_roles (user_id, roles, unrestricted_access, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET roles = EXCLUDED.roles, unrestricted_access = EXCLUDED.unrestricted_access
	`
	if _, err := s.db.ExecContext(ctx, query, gr.UserID, pq.Array(gr.Roles), gr.UnrestrictedAccess); err != nil {
		return fmt.Errorf("failed to upsert global role: %w", err)
	}
	return nil
}

// DeleteGlobalRole removes a user's global role.
func (s *PostgresStore) DeleteGlobalRole(ctx context.Context, userID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM global_roles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete global role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("global role not found")
	}
	return nil
}

// ListMemberships returns all memberships for a tenant, active or not.
func (s *PostgresStore) ListMemberships(ctx context.Context, tenantID uuid.UUID) ([]*Membership, error) {
	query := `
		SELECT tenant_id, user_id, roles, active, created_at, updated_at
		FROM tenant_memberships
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.TenantID, &m.UserID, pq.Array(&m.Roles), &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
