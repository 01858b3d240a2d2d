package model

import "time"

// Scopes a plugin token may carry. Read covers credential fetches; write
// covers saves and password updates.
const (
	ScopeCredentialsRead  = "credentials:read"
	ScopeCredentialsWrite = "credentials:write"
)

// PluginToken is the short-lived bearer capability minted at plugin bootstrap
// and presented on every delegated call. It is held in memory by the
// background coordinator and never persisted on the page side.
type PluginToken struct {
	Token      string
	IdentityID int64
	Scopes     []string
	ExpiresAt  time.Time
}

// Expired reports whether the token is no longer valid at the given instant.
func (t PluginToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// HasScope reports whether the token carries the given scope.
func (t PluginToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Session is an end-user browser session with the identity service,
// referenced by the fv_session cookie.
type Session struct {
	Token      string
	IdentityID int64
	ExpiresAt  time.Time
}

// Expired reports whether the session is no longer valid at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
