package driven

import (
	"context"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
)

// IdentityStore defines the driven port for identity persistence.
type IdentityStore interface {
	// Create stores a new identity and returns it with the assigned ID.
	Create(ctx context.Context, ident model.Identity) (model.Identity, error)

	// GetByUsername returns the identity, or ErrNotFound.
	GetByUsername(ctx context.Context, username string) (*model.Identity, error)

	// GetByID returns the identity, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.Identity, error)

	// Delete removes the identity row. Grants, sessions, and tokens are the
	// caller's responsibility; the cascade order matters (vault first).
	Delete(ctx context.Context, id int64) error
}

// GrantStore tracks which applications an identity is authorized for.
type GrantStore interface {
	Add(ctx context.Context, identityID int64, appID string) error
	Has(ctx context.Context, identityID int64, appID string) (bool, error)
	ListAppIDs(ctx context.Context, identityID int64) ([]string, error)
	DeleteByIdentity(ctx context.Context, identityID int64) error
}

// SessionStore persists end-user sessions.
type SessionStore interface {
	Create(ctx context.Context, s model.Session) error
	// Get returns the session, or ErrNotFound. Expiry is the caller's check.
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByIdentity(ctx context.Context, identityID int64) error
	// DeleteExpired removes sessions past their expiry and reports the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore persists plugin capability tokens.
type TokenStore interface {
	Create(ctx context.Context, t model.PluginToken) error
	// Get returns the token, or ErrNotFound. Expiry is the caller's check.
	Get(ctx context.Context, token string) (*model.PluginToken, error)
	DeleteByIdentity(ctx context.Context, identityID int64) error
	// DeleteExpired removes tokens past their expiry and reports the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
