package driven

import (
	"context"

	"github.com/formvault/formvault/internal/domain/model"
)

// VaultClient defines the driven port for the identity service's calls to
// the vault. Only opaque identifiers cross this boundary: never a username,
// session, or token. Adapters map vault 404s to ErrNotFound and transport or
// 5xx failures to ErrUpstreamUnavailable.
type VaultClient interface {
	Read(ctx context.Context, vaultID, appID string) (model.Fields, error)
	Write(ctx context.Context, vaultID, appID string, fields model.Fields) error
	UpdatePassword(ctx context.Context, vaultID, appID, newPassword string) error
	Delete(ctx context.Context, vaultID, appID string) error
	DeleteAll(ctx context.Context, vaultID string) (int64, error)
	Health(ctx context.Context) error
}
