package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*TokenRepo)(nil)

// TokenRepo is the SQLite implementation of the TokenStore port interface.
// Scopes are serialized as a JSON array in the TEXT column.
type TokenRepo struct {
	db *DB
}

// NewTokenRepo creates a new TokenRepo backed by the given DB.
func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

// Create stores a new plugin token.
func (r *TokenRepo) Create(ctx context.Context, t model.PluginToken) error {
	scopes := t.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	const query = `INSERT INTO plugin_tokens (token, identity_id, scopes, expires_at) VALUES (?, ?, ?, ?)`

	if _, err := r.db.Writer.ExecContext(ctx, query, t.Token, t.IdentityID, string(scopesJSON), t.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("create token for identity %d: %w", t.IdentityID, err)
	}
	return nil
}

// Get returns the token, or driven.ErrNotFound. Expiry is the caller's check.
func (r *TokenRepo) Get(ctx context.Context, token string) (*model.PluginToken, error) {
	const query = `SELECT token, identity_id, scopes, expires_at FROM plugin_tokens WHERE token = ?`

	var t model.PluginToken
	var scopesJSON string
	var expiresAt string
	err := r.db.Reader.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.IdentityID, &scopesJSON, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	if err := json.Unmarshal([]byte(scopesJSON), &t.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}

	t.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &t, nil
}

// DeleteByIdentity revokes every token held by the identity.
func (r *TokenRepo) DeleteByIdentity(ctx context.Context, identityID int64) error {
	const query = `DELETE FROM plugin_tokens WHERE identity_id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, identityID); err != nil {
		return fmt.Errorf("delete tokens for identity %d: %w", identityID, err)
	}
	return nil
}

// DeleteExpired removes tokens past their expiry and reports the count.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM plugin_tokens WHERE expires_at <= ?`

	result, err := r.db.Writer.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}
