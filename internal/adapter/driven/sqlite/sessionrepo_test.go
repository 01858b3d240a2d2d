package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

func TestSessionRepo_CreateAndGet(t *testing.T) {
	db := setupIdentityDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()
	identityID := seedIdentity(t, db, "jdoe")

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := repo.Create(ctx, model.Session{Token: "sess-1", IdentityID: identityID, ExpiresAt: expiresAt})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, identityID, got.IdentityID)
	assert.WithinDuration(t, expiresAt, got.ExpiresAt, time.Second)
}

func TestSessionRepo_GetMissing(t *testing.T) {
	db := setupIdentityDB(t)
	repo := NewSessionRepo(db)

	_, err := repo.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, driven.ErrNotFound)
}

func TestSessionRepo_Delete(t *testing.T) {
	db := setupIdentityDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()
	identityID := seedIdentity(t, db, "jdoe")

	require.NoError(t, repo.Create(ctx, model.Session{Token: "sess-1", IdentityID: identityID, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.Delete(ctx, "sess-1"))

	_, err := repo.Get(ctx, "sess-1")
	require.ErrorIs(t, err, driven.ErrNotFound)

	assert.NoError(t, repo.Delete(ctx, "sess-1"), "deleting a missing session is a no-op")
}

func TestSessionRepo_DeleteByIdentity(t *testing.T) {
	db := setupIdentityDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()
	identityID := seedIdentity(t, db, "jdoe")
	otherID := seedIdentity(t, db, "asmith")

	require.NoError(t, repo.Create(ctx, model.Session{Token: "sess-1", IdentityID: identityID, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, model.Session{Token: "sess-2", IdentityID: identityID, ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, repo.Create(ctx, model.Session{Token: "sess-3", IdentityID: otherID, ExpiresAt: time.Now().Add(time.Hour)}))

	err := repo.DeleteByIdentity(ctx, identityID)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "sess-1")
	require.ErrorIs(t, err, driven.ErrNotFound)
	_, err = repo.Get(ctx, "sess-2")
	require.ErrorIs(t, err, driven.ErrNotFound)

	_, err = repo.Get(ctx, "sess-3")
	require.NoError(t, err, "other identities keep their sessions")
}

func TestSessionRepo_DeleteExpired(t *testing.T) {
	db := setupIdentityDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()
	identityID := seedIdentity(t, db, "jdoe")

	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, model.Session{Token: "stale-1", IdentityID: identityID, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.Create(ctx, model.Session{Token: "stale-2", IdentityID: identityID, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(ctx, model.Session{Token: "live", IdentityID: identityID, ExpiresAt: now.Add(time.Hour)}))

	count, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = repo.Get(ctx, "live")
	require.NoError(t, err)
}
