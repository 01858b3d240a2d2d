package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// DelegationService is the proxy between plugin tokens and the vault store.
// For every delegated call it validates the token, resolves the application,
// checks the grant, and only then forwards. The identity's opaque vault id
// crosses the boundary, never the identity itself.
type DelegationService struct {
	identities driven.IdentityStore
	grants     driven.GrantStore
	tokens     driven.TokenStore
	registry   driven.AppRegistry
	vault      driven.VaultClient
	tokenTTL   time.Duration
}

// NewDelegationService creates a DelegationService with the required
// dependencies.
func NewDelegationService(
	identities driven.IdentityStore,
	grants driven.GrantStore,
	tokens driven.TokenStore,
	registry driven.AppRegistry,
	vault driven.VaultClient,
	tokenTTL time.Duration,
) *DelegationService {
	return &DelegationService{
		identities: identities,
		grants:     grants,
		tokens:     tokens,
		registry:   registry,
		vault:      vault,
		tokenTTL:   tokenTTL,
	}
}

// Bootstrap mints a plugin token bound to the identity. The token is the
// only thing the browser side ever holds; sessions stay server-side.
func (s *DelegationService) Bootstrap(ctx context.Context, ident *model.Identity) (*model.PluginBootstrap, error) {
	token := model.PluginToken{
		Token:      uuid.NewString(),
		IdentityID: ident.ID,
		Scopes:     []string{model.ScopeCredentialsRead, model.ScopeCredentialsWrite},
		ExpiresAt:  time.Now().UTC().Add(s.tokenTTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("create plugin token: %w", err)
	}

	return &model.PluginBootstrap{
		Identity:  ident.Username,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Apps returns the descriptors for every application the token's identity is
// granted, in registry order.
func (s *DelegationService) Apps(ctx context.Context, token string) ([]model.AppDescriptor, error) {
	ident, err := s.resolveToken(ctx, token, model.ScopeCredentialsRead)
	if err != nil {
		return nil, err
	}

	appIDs, err := s.grants.ListAppIDs(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	granted := make(map[string]bool, len(appIDs))
	for _, id := range appIDs {
		granted[id] = true
	}

	apps := make([]model.AppDescriptor, 0, len(appIDs))
	for _, app := range s.registry.List() {
		if granted[app.AppID] {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

// FetchCredentials looks up the stored credential for an application. A
// vault miss is a clean Found=false: the caller's cue to enter learning,
// not an error.
func (s *DelegationService) FetchCredentials(ctx context.Context, token, appID string) (*model.CredentialLookup, error) {
	ident, app, err := s.authorize(ctx, token, appID, model.ScopeCredentialsRead)
	if err != nil {
		return nil, err
	}

	fields, err := s.vault.Read(ctx, ident.VaultID, app.AppID)
	if errors.Is(err, driven.ErrNotFound) {
		return &model.CredentialLookup{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.CredentialLookup{Found: true, Fields: fields}, nil
}

// SaveCredentials stores the full field set for an application.
func (s *DelegationService) SaveCredentials(ctx context.Context, token, appID string, fields model.Fields) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: fields must not be empty", driven.ErrValidation)
	}

	ident, app, err := s.authorize(ctx, token, appID, model.ScopeCredentialsWrite)
	if err != nil {
		return err
	}

	return s.vault.Write(ctx, ident.VaultID, app.AppID, fields)
}

// UpdatePassword replaces only the stored password for an application.
// ErrNotFound passes through: updating a credential that was never stored is
// the caller's cue that a full save is needed instead.
func (s *DelegationService) UpdatePassword(ctx context.Context, token, appID, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: newPassword must not be empty", driven.ErrValidation)
	}

	ident, app, err := s.authorize(ctx, token, appID, model.ScopeCredentialsWrite)
	if err != nil {
		return err
	}

	return s.vault.UpdatePassword(ctx, ident.VaultID, app.AppID, newPassword)
}

// authorize runs the fixed per-call order: token validity, application
// resolution, grant check, identity resolution. Only after all four does a
// call cross to the vault.
func (s *DelegationService) authorize(ctx context.Context, token, appID, scope string) (*model.Identity, *model.AppDescriptor, error) {
	ident, err := s.resolveToken(ctx, token, scope)
	if err != nil {
		return nil, nil, err
	}

	app, ok := s.registry.ByAppID(appID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown application %q", driven.ErrValidation, appID)
	}

	granted, err := s.grants.Has(ctx, ident.ID, app.AppID)
	if err != nil {
		return nil, nil, fmt.Errorf("check grant: %w", err)
	}
	if !granted {
		return nil, nil, fmt.Errorf("%w: application %q not granted", driven.ErrUnauthorized, app.AppID)
	}

	return ident, app, nil
}

// resolveToken validates the bearer token and returns its owning identity.
// Missing, expired, and under-scoped tokens are all the same ErrUnauthorized.
func (s *DelegationService) resolveToken(ctx context.Context, token, scope string) (*model.Identity, error) {
	if token == "" {
		return nil, driven.ErrUnauthorized
	}

	stored, err := s.tokens.Get(ctx, token)
	if errors.Is(err, driven.ErrNotFound) {
		return nil, driven.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up token: %w", err)
	}
	if stored.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: token expired", driven.ErrUnauthorized)
	}
	if !stored.HasScope(scope) {
		return nil, fmt.Errorf("%w: token lacks scope %q", driven.ErrUnauthorized, scope)
	}

	ident, err := s.identities.GetByID(ctx, stored.IdentityID)
	if errors.Is(err, driven.ErrNotFound) {
		return nil, driven.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	return ident, nil
}
