package model

import "time"

// Page-scoped markers are the page agent's only memory between navigations.
// Each is written before the step that destroys the agent's execution context
// and cleared by whoever consumes it, so a crash or duplicate message can
// never replay the same capture twice.

// LearningCapture preserves the form values captured at submission time while
// the navigation that follows plays out.
type LearningCapture struct {
	Origin     string    `json:"origin"`
	Fields     Fields    `json:"fields"`
	CapturedAt time.Time `json:"capturedAt"`
}

// PasswordChangeCapture preserves a newly chosen password between the
// change-form submission and the page that confirms it took effect.
// Remaining counts the page loads left before the capture is abandoned.
type PasswordChangeCapture struct {
	Origin      string    `json:"origin"`
	NewPassword string    `json:"newPassword"`
	Remaining   int       `json:"remaining"`
	CapturedAt  time.Time `json:"capturedAt"`
}

// AutoLoginAttempt marks that a silent replay was already submitted for an
// origin. Seeing a login form again while the marker is set means the replay
// failed, and the agent must stop retrying and ask instead.
type AutoLoginAttempt struct {
	Origin      string    `json:"origin"`
	AttemptedAt time.Time `json:"attemptedAt"`
}
