package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// AdminService provisions and removes identities. It is the only place the
// username-to-vault-id mapping is ever created or destroyed.
type AdminService struct {
	identities driven.IdentityStore
	grants     driven.GrantStore
	sessions   driven.SessionStore
	tokens     driven.TokenStore
	registry   driven.AppRegistry
	vault      driven.VaultClient
}

// NewAdminService creates an AdminService with the required dependencies.
func NewAdminService(
	identities driven.IdentityStore,
	grants driven.GrantStore,
	sessions driven.SessionStore,
	tokens driven.TokenStore,
	registry driven.AppRegistry,
	vault driven.VaultClient,
) *AdminService {
	return &AdminService{
		identities: identities,
		grants:     grants,
		sessions:   sessions,
		tokens:     tokens,
		registry:   registry,
		vault:      vault,
	}
}

// CreateIdentity provisions a new identity with a freshly generated vault id
// and grants it the given applications. Unknown application ids are rejected
// before anything is written.
func (s *AdminService) CreateIdentity(ctx context.Context, username, password string, appIDs []string) (*model.Identity, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username must not be empty", driven.ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", driven.ErrValidation)
	}
	for _, appID := range appIDs {
		if _, ok := s.registry.ByAppID(appID); !ok {
			return nil, fmt.Errorf("%w: unknown application %q", driven.ErrValidation, appID)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	ident, err := s.identities.Create(ctx, model.Identity{
		Username:     username,
		PasswordHash: string(hash),
		VaultID:      uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	for _, appID := range appIDs {
		if err := s.grants.Add(ctx, ident.ID, appID); err != nil {
			return nil, fmt.Errorf("grant %q: %w", appID, err)
		}
	}

	slog.Info("identity created", "username", username, "grants", len(appIDs))
	return &ident, nil
}

// Grant authorizes an existing identity for an application. Granting an
// already-granted application succeeds.
func (s *AdminService) Grant(ctx context.Context, username, appID string) error {
	if _, ok := s.registry.ByAppID(appID); !ok {
		return fmt.Errorf("%w: unknown application %q", driven.ErrValidation, appID)
	}

	ident, err := s.identities.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up identity: %w", err)
	}

	if err := s.grants.Add(ctx, ident.ID, appID); err != nil {
		return fmt.Errorf("grant %q: %w", appID, err)
	}

	slog.Info("grant added", "username", username, "app_id", appID)
	return nil
}

// DeleteIdentity removes an identity and everything keyed by it. The vault
// purge runs first and the rest is aborted if it fails: a failed cascade must
// never leave orphaned credentials behind a dangling vault id.
func (s *AdminService) DeleteIdentity(ctx context.Context, username string) error {
	ident, err := s.identities.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up identity: %w", err)
	}

	deleted, err := s.vault.DeleteAll(ctx, ident.VaultID)
	if err != nil && !errors.Is(err, driven.ErrNotFound) {
		return fmt.Errorf("purge vault records: %w", err)
	}

	if err := s.tokens.DeleteByIdentity(ctx, ident.ID); err != nil {
		return fmt.Errorf("revoke plugin tokens: %w", err)
	}
	if err := s.sessions.DeleteByIdentity(ctx, ident.ID); err != nil {
		return fmt.Errorf("end sessions: %w", err)
	}
	if err := s.grants.DeleteByIdentity(ctx, ident.ID); err != nil {
		return fmt.Errorf("remove grants: %w", err)
	}
	if err := s.identities.Delete(ctx, ident.ID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}

	slog.Info("identity deleted", "username", username, "vault_records", deleted)
	return nil
}
