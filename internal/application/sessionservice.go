// Package application contains use-case orchestration for the vault, the
// identity service, and the form-replay agent.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// SessionService owns end-user sessions with the identity service.
type SessionService struct {
	identities driven.IdentityStore
	sessions   driven.SessionStore
	tokens     driven.TokenStore
	sessionTTL time.Duration
}

// NewSessionService creates a SessionService with the required dependencies.
func NewSessionService(
	identities driven.IdentityStore,
	sessions driven.SessionStore,
	tokens driven.TokenStore,
	sessionTTL time.Duration,
) *SessionService {
	return &SessionService{
		identities: identities,
		sessions:   sessions,
		tokens:     tokens,
		sessionTTL: sessionTTL,
	}
}

// Login verifies the credentials and mints a session. Wrong username and
// wrong password both come back as the same ErrUnauthorized, so a caller
// cannot probe which usernames exist.
func (s *SessionService) Login(ctx context.Context, username, password string) (*model.Session, error) {
	ident, err := s.identities.GetByUsername(ctx, username)
	if errors.Is(err, driven.ErrNotFound) {
		// Equalize timing against the found-user path before rejecting.
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, driven.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)) != nil {
		return nil, driven.ErrUnauthorized
	}

	session := model.Session{
		Token:      uuid.NewString(),
		IdentityID: ident.ID,
		ExpiresAt:  time.Now().UTC().Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("session created", "username", username)
	return &session, nil
}

// Logout ends the session and revokes every plugin token its identity holds,
// so a logged-out browser cannot keep replaying credentials. Logging out an
// unknown or already-ended session succeeds.
func (s *SessionService) Logout(ctx context.Context, sessionToken string) error {
	session, err := s.sessions.Get(ctx, sessionToken)
	if errors.Is(err, driven.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up session: %w", err)
	}

	if err := s.tokens.DeleteByIdentity(ctx, session.IdentityID); err != nil {
		return fmt.Errorf("revoke plugin tokens: %w", err)
	}
	if err := s.sessions.Delete(ctx, sessionToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	slog.Info("session ended", "identity_id", session.IdentityID)
	return nil
}

// Authenticate resolves a session token to its identity, rejecting missing
// and expired sessions alike with ErrUnauthorized.
func (s *SessionService) Authenticate(ctx context.Context, sessionToken string) (*model.Identity, error) {
	if sessionToken == "" {
		return nil, driven.ErrUnauthorized
	}

	session, err := s.sessions.Get(ctx, sessionToken)
	if errors.Is(err, driven.ErrNotFound) {
		return nil, driven.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up session: %w", err)
	}
	if session.Expired(time.Now().UTC()) {
		return nil, driven.ErrUnauthorized
	}

	ident, err := s.identities.GetByID(ctx, session.IdentityID)
	if errors.Is(err, driven.ErrNotFound) {
		// Identity deleted while the session row lingered.
		return nil, driven.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	return ident, nil
}

// dummyHash is a bcrypt hash of an unguessable throwaway value, compared
// against when the username is unknown so both rejection paths cost the same.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
