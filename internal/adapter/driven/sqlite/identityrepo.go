package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityStore = (*IdentityRepo)(nil)

// IdentityRepo is the SQLite implementation of the IdentityStore port
// interface.
type IdentityRepo struct {
	db *DB
}

// NewIdentityRepo creates a new IdentityRepo backed by the given DB.
func NewIdentityRepo(db *DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// Create stores a new identity and returns it with the assigned ID and
// creation time. A taken username maps to driven.ErrConflict.
func (r *IdentityRepo) Create(ctx context.Context, ident model.Identity) (model.Identity, error) {
	const query = `INSERT INTO identities (username, password_hash, vault_id, created_at) VALUES (?, ?, ?, ?)`

	now := time.Now().UTC()
	result, err := r.db.Writer.ExecContext(ctx, query, ident.Username, ident.PasswordHash, ident.VaultID, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.Identity{}, fmt.Errorf("create identity %q: %w", ident.Username, driven.ErrConflict)
		}
		return model.Identity{}, fmt.Errorf("create identity %q: %w", ident.Username, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity insert id: %w", err)
	}

	ident.ID = id
	ident.CreatedAt = now
	return ident, nil
}

// GetByUsername returns the identity, or driven.ErrNotFound.
func (r *IdentityRepo) GetByUsername(ctx context.Context, username string) (*model.Identity, error) {
	const query = `SELECT id, username, password_hash, vault_id, created_at FROM identities WHERE username = ?`

	ident, err := scanIdentity(r.db.Reader.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %q: %w", username, err)
	}

	return ident, nil
}

// GetByID returns the identity, or driven.ErrNotFound.
func (r *IdentityRepo) GetByID(ctx context.Context, id int64) (*model.Identity, error) {
	const query = `SELECT id, username, password_hash, vault_id, created_at FROM identities WHERE id = ?`

	ident, err := scanIdentity(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %d: %w", id, err)
	}

	return ident, nil
}

// Delete removes the identity row, or returns driven.ErrNotFound. Dependent
// grants, sessions, and tokens must be removed first; the schema enforces it.
func (r *IdentityRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM identities WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete identity %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return driven.ErrNotFound
	}

	return nil
}

func scanIdentity(s scanner) (*model.Identity, error) {
	var ident model.Identity
	var createdAt string

	err := s.Scan(&ident.ID, &ident.Username, &ident.PasswordHash, &ident.VaultID, &createdAt)
	if err != nil {
		return nil, err
	}

	ident.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &ident, nil
}
