package driven

import "errors"

// Shared sentinel errors forming the error taxonomy every adapter maps into.
// Callers branch with errors.Is; adapters wrap with fmt.Errorf("...: %w", ...).
var (
	// ErrNotFound: no stored credential (or row) for the key. An expected
	// outcome (first-time login, already-deleted record), never an alarm.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized: missing/expired token or session, or an application
	// the identity has no grant for. Terminal for the current request.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUpstreamUnavailable: the vault (or identity service) is unreachable
	// or failing. Distinct from "wrong credentials" so callers can surface
	// actionable messaging.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrValidation: malformed request. Fixed by the caller, never retried.
	ErrValidation = errors.New("invalid request")

	// ErrConflict: a uniqueness rule was violated, e.g. creating an identity
	// whose username is already taken.
	ErrConflict = errors.New("already exists")
)
