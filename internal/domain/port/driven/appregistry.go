package driven

import "github.com/formvault/formvault/internal/domain/model"

// AppRegistry resolves application descriptors. The registry is loaded once
// at startup from configuration and immutable afterwards, so lookups carry
// no context or error.
type AppRegistry interface {
	ByAppID(appID string) (*model.AppDescriptor, bool)
	ByOrigin(origin string) (*model.AppDescriptor, bool)
	List() []model.AppDescriptor

	// ETag identifies the registry content, letting HTTP callers serve
	// descriptor lists with conditional-request revalidation.
	ETag() string
}
