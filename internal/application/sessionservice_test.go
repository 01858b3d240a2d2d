package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/formvault/formvault/internal/application"
	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// seedIdentity creates an identity with a real bcrypt hash so Login's
// password comparison exercises the production path.
func seedIdentity(t *testing.T, identities *fakeIdentityStore, username, password string) model.Identity {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	ident, err := identities.Create(context.Background(), model.Identity{
		Username:     username,
		PasswordHash: string(hash),
		VaultID:      "vault-" + username,
	})
	require.NoError(t, err)
	return ident
}

func TestSessionService_Login(t *testing.T) {
	identities := newFakeIdentityStore()
	sessions := newFakeSessionStore()
	tokens := newFakeTokenStore()
	seedIdentity(t, identities, "alice", "correct horse")

	svc := application.NewSessionService(identities, sessions, tokens, time.Hour)

	t.Run("valid credentials mint a session", func(t *testing.T) {
		session, err := svc.Login(context.Background(), "alice", "correct horse")
		require.NoError(t, err)
		assert.NotEmpty(t, session.Token)
		assert.True(t, time.Now().Before(session.ExpiresAt))

		stored, err := sessions.Get(context.Background(), session.Token)
		require.NoError(t, err)
		assert.Equal(t, session.IdentityID, stored.IdentityID)
	})

	t.Run("wrong password is unauthorized", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "alice", "wrong")
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})

	t.Run("unknown username is the same unauthorized", func(t *testing.T) {
		_, err := svc.Login(context.Background(), "nobody", "correct horse")
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})
}

func TestSessionService_Authenticate(t *testing.T) {
	identities := newFakeIdentityStore()
	sessions := newFakeSessionStore()
	tokens := newFakeTokenStore()
	ident := seedIdentity(t, identities, "alice", "correct horse")

	svc := application.NewSessionService(identities, sessions, tokens, time.Hour)

	session, err := svc.Login(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	t.Run("valid session resolves the identity", func(t *testing.T) {
		got, err := svc.Authenticate(context.Background(), session.Token)
		require.NoError(t, err)
		assert.Equal(t, ident.Username, got.Username)
		assert.Equal(t, ident.VaultID, got.VaultID)
	})

	t.Run("empty token is unauthorized", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "")
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})

	t.Run("unknown token is unauthorized", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), "no-such-session")
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})

	t.Run("expired session is unauthorized", func(t *testing.T) {
		expired := model.Session{
			Token:      "expired-session",
			IdentityID: ident.ID,
			ExpiresAt:  time.Now().UTC().Add(-time.Minute),
		}
		require.NoError(t, sessions.Create(context.Background(), expired))

		_, err := svc.Authenticate(context.Background(), expired.Token)
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})

	t.Run("session for a deleted identity is unauthorized", func(t *testing.T) {
		orphan := model.Session{
			Token:      "orphan-session",
			IdentityID: 9999,
			ExpiresAt:  time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, sessions.Create(context.Background(), orphan))

		_, err := svc.Authenticate(context.Background(), orphan.Token)
		assert.ErrorIs(t, err, driven.ErrUnauthorized)
	})
}

func TestSessionService_Logout(t *testing.T) {
	identities := newFakeIdentityStore()
	sessions := newFakeSessionStore()
	tokens := newFakeTokenStore()
	ident := seedIdentity(t, identities, "alice", "correct horse")

	svc := application.NewSessionService(identities, sessions, tokens, time.Hour)

	session, err := svc.Login(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	// A live plugin token the logout must revoke.
	require.NoError(t, tokens.Create(context.Background(), model.PluginToken{
		Token:      "plugin-token",
		IdentityID: ident.ID,
		Scopes:     []string{model.ScopeCredentialsRead},
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}))

	require.NoError(t, svc.Logout(context.Background(), session.Token))

	_, err = sessions.Get(context.Background(), session.Token)
	assert.True(t, errors.Is(err, driven.ErrNotFound), "session should be gone")

	_, err = tokens.Get(context.Background(), "plugin-token")
	assert.True(t, errors.Is(err, driven.ErrNotFound), "plugin tokens should be revoked")

	t.Run("logging out again succeeds", func(t *testing.T) {
		assert.NoError(t, svc.Logout(context.Background(), session.Token))
	})

	t.Run("logging out an unknown session succeeds", func(t *testing.T) {
		assert.NoError(t, svc.Logout(context.Background(), "never-existed"))
	})
}
