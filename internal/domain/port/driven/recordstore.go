package driven

import (
	"context"

	"github.com/formvault/formvault/internal/domain/model"
)

// RecordStore defines the driven port for credential record persistence.
// Every successful operation appends exactly one audit entry as part of the
// same unit of work; the adapter owns that coupling.
type RecordStore interface {
	// Read returns the stored fields for the key, or ErrNotFound.
	Read(ctx context.Context, vaultID, appID string) (model.Fields, error)

	// Write upserts the record, fully replacing its fields.
	Write(ctx context.Context, vaultID, appID string, fields model.Fields) error

	// UpdatePassword atomically replaces only the password field, preserving
	// everything else in the record. Returns ErrNotFound if no record exists.
	// The read-modify-write runs under the storage engine's write isolation;
	// concurrent updates serialize rather than corrupt.
	UpdatePassword(ctx context.Context, vaultID, appID, newPassword string) error

	// Delete removes the record, or returns ErrNotFound.
	Delete(ctx context.Context, vaultID, appID string) error

	// DeleteAll removes every record for the vault id and reports how many
	// went away. Used only when the owning identity is removed upstream.
	DeleteAll(ctx context.Context, vaultID string) (int64, error)
}

// AuditStore is the read side of the append-only audit log. Appending happens
// inside RecordStore operations; nothing exposes update or delete.
type AuditStore interface {
	// ListByVault returns the newest entries for a vault id, most recent
	// first, capped at limit.
	ListByVault(ctx context.Context, vaultID string, limit int) ([]model.AuditEntry, error)
}
