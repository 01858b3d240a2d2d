package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port
// interface.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create stores a new session.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	const query = `INSERT INTO sessions (token, identity_id, expires_at) VALUES (?, ?, ?)`

	if _, err := r.db.Writer.ExecContext(ctx, query, s.Token, s.IdentityID, s.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("create session for identity %d: %w", s.IdentityID, err)
	}
	return nil
}

// Get returns the session, or driven.ErrNotFound. Expiry is the caller's
// check; expired rows linger until the sweeper or a logout removes them.
func (r *SessionRepo) Get(ctx context.Context, token string) (*model.Session, error) {
	const query = `SELECT token, identity_id, expires_at FROM sessions WHERE token = ?`

	var s model.Session
	var expiresAt string
	err := r.db.Reader.QueryRowContext(ctx, query, token).Scan(&s.Token, &s.IdentityID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &s, nil
}

// Delete removes the session. Deleting a missing token is a no-op so logout
// stays idempotent.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM sessions WHERE token = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByIdentity removes every session held by the identity.
func (r *SessionRepo) DeleteByIdentity(ctx context.Context, identityID int64) error {
	const query = `DELETE FROM sessions WHERE identity_id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, identityID); err != nil {
		return fmt.Errorf("delete sessions for identity %d: %w", identityID, err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and reports the count.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= ?`

	result, err := r.db.Writer.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return rows, nil
}
