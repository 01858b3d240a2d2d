package driven

import "github.com/formvault/formvault/internal/domain/model"

// MarkerStore persists the page agent's per-origin markers across page
// loads. Markers survive process restarts; Reset wipes everything when the
// active identity changes.
//
// Lookups return (nil, nil) on a clean miss.
type MarkerStore interface {
	LearningCapture(origin string) (*model.LearningCapture, error)
	PutLearningCapture(capture *model.LearningCapture) error
	ClearLearningCapture(origin string) error

	PasswordChangeCapture(origin string) (*model.PasswordChangeCapture, error)
	PutPasswordChangeCapture(capture *model.PasswordChangeCapture) error
	ClearPasswordChangeCapture(origin string) error

	AutoLoginAttempt(origin string) (*model.AutoLoginAttempt, error)
	PutAutoLoginAttempt(attempt *model.AutoLoginAttempt) error
	ClearAutoLoginAttempt(origin string) error

	// Owner reports which identity's captures the store holds, or "" when
	// none. The coordinator compares it at bootstrap so markers written
	// before a crash cannot leak into another identity's session.
	Owner() (string, error)
	SetOwner(identity string) error

	// Reset removes every marker for every origin, the owner included.
	Reset() error
}
