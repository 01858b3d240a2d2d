package driven

import (
	"context"

	"github.com/formvault/formvault/internal/domain/model"
)

// IdentityClient defines the driven port for the background coordinator's
// calls to the identity service. Session affinity (the fv_session cookie)
// lives inside the adapter's HTTP client; bearer tokens are passed per call
// because the coordinator owns their lifecycle.
type IdentityClient interface {
	// SessionStatus checks upstream session liveness without side effects.
	SessionStatus(ctx context.Context) (*model.SessionStatus, error)

	// Bootstrap mints a fresh plugin token bound to the session identity.
	// Fails with ErrUnauthorized when no live session exists.
	Bootstrap(ctx context.Context) (*model.PluginBootstrap, error)

	// Apps returns the descriptors for every application the token's
	// identity is granted.
	Apps(ctx context.Context, token string) ([]model.AppDescriptor, error)

	// FetchCredentials looks up the stored credential for an application.
	// A clean miss reports Found=false rather than an error.
	FetchCredentials(ctx context.Context, token, appID string) (*model.CredentialLookup, error)

	SaveCredentials(ctx context.Context, token, appID string, fields model.Fields) error
	UpdatePassword(ctx context.Context, token, appID, newPassword string) error
}
