package sqlite

import (
	"context"
	"fmt"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// AuditRepo is the SQLite read side of the audit log. Appends happen inside
// RecordRepo operations; this type only lists.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// ListByVault returns the newest audit entries for the vault id, most recent
// first, capped at limit.
func (r *AuditRepo) ListByVault(ctx context.Context, vaultID string, limit int) ([]model.AuditEntry, error) {
	const query = `
		SELECT id, vault_id, app_id, action, instance, created_at
		FROM audit_entries
		WHERE vault_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var entry model.AuditEntry
		var action string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.VaultID, &entry.AppID, &action, &entry.Instance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		entry.Action = model.AuditAction(action)
		entry.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}
