package driven

import (
	"context"

	"github.com/formvault/formvault/internal/domain/model"
)

// Prompter covers the page agent's user interactions. Implementations may
// block while the user decides; every call takes a context so a page
// teardown can abandon a pending prompt.
type Prompter interface {
	// ConfirmPresence asks whether the user already holds an account for
	// the application before learning mode engages.
	ConfirmPresence(ctx context.Context, app *model.AppDescriptor) (bool, error)

	// ConfirmSave shows captured field values and asks whether to store
	// them. Declining discards the capture for good.
	ConfirmSave(ctx context.Context, app *model.AppDescriptor, fields model.Fields) (bool, error)

	// ChooseRecovery runs after a replayed login bounced back to the login
	// page. The user picks between one retry, manual entry, or relearning.
	ChooseRecovery(ctx context.Context, app *model.AppDescriptor) (model.RecoveryChoice, error)

	// CollectFields asks the user to fill the named fields by hand.
	CollectFields(ctx context.Context, app *model.AppDescriptor, names []string) (model.Fields, error)
}
