package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GrantStore = (*GrantRepo)(nil)

// GrantRepo is the SQLite implementation of the GrantStore port interface.
type GrantRepo struct {
	db *DB
}

// NewGrantRepo creates a new GrantRepo backed by the given DB.
func NewGrantRepo(db *DB) *GrantRepo {
	return &GrantRepo{db: db}
}

// Add grants the identity access to the application. Granting twice is a
// no-op, not an error.
func (r *GrantRepo) Add(ctx context.Context, identityID int64, appID string) error {
	const query = `INSERT OR IGNORE INTO grants (identity_id, app_id, created_at) VALUES (?, ?, ?)`

	if _, err := r.db.Writer.ExecContext(ctx, query, identityID, appID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add grant %d/%s: %w", identityID, appID, err)
	}
	return nil
}

// Has reports whether the identity holds a grant for the application.
func (r *GrantRepo) Has(ctx context.Context, identityID int64, appID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM grants WHERE identity_id = ? AND app_id = ?`

	var count int
	if err := r.db.Reader.QueryRowContext(ctx, query, identityID, appID).Scan(&count); err != nil {
		return false, fmt.Errorf("check grant %d/%s: %w", identityID, appID, err)
	}
	return count > 0, nil
}

// ListAppIDs returns the app ids the identity is granted, ordered by app id.
func (r *GrantRepo) ListAppIDs(ctx context.Context, identityID int64) ([]string, error) {
	const query = `SELECT app_id FROM grants WHERE identity_id = ? ORDER BY app_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("list grants for identity %d: %w", identityID, err)
	}
	defer rows.Close()

	var appIDs []string
	for rows.Next() {
		var appID string
		if err := rows.Scan(&appID); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		appIDs = append(appIDs, appID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}

	return appIDs, nil
}

// DeleteByIdentity removes every grant held by the identity.
func (r *GrantRepo) DeleteByIdentity(ctx context.Context, identityID int64) error {
	const query = `DELETE FROM grants WHERE identity_id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, identityID); err != nil {
		return fmt.Errorf("delete grants for identity %d: %w", identityID, err)
	}
	return nil
}
