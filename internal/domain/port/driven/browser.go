package driven

import (
	"context"

	"github.com/formvault/formvault/internal/domain/model"
)

// Browser abstracts page navigation and form submission against the legacy
// applications themselves. The adapter keeps per-origin cookie state so a
// replayed login establishes a real application session.
type Browser interface {
	// Fetch loads a URL and returns its parsed page.
	Fetch(ctx context.Context, url string) (*model.Page, error)

	// Submit posts the form with the given field values filled in and
	// returns the resulting page after redirects.
	Submit(ctx context.Context, page *model.Page, form *model.Form, values model.Fields) (*model.Page, error)

	// EndSession hits the application's logout path and drops its cookies.
	EndSession(ctx context.Context, app *model.AppDescriptor) error
}
