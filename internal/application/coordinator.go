package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// cascadeLogoutTimeout bounds the background logout sweep after an identity
// switch. Best effort; the new identity never waits on it.
const cascadeLogoutTimeout = 30 * time.Second

// sessionSlot is everything the coordinator holds for one bootstrapped
// identity. There is exactly one slot because tokens are shared across
// pages by design; unbootstrapped is a nil slot.
//
// token, expiresAt, and the lookup maps are immutable once the slot is
// installed. verified and visited mutate under the coordinator's mutex.
type sessionSlot struct {
	identity  string
	token     string
	expiresAt time.Time
	apps      []model.AppDescriptor
	byOrigin  map[string]*model.AppDescriptor
	verified  map[string]bool
	visited   map[string]*model.AppDescriptor
}

// Coordinator owns the single session slot between the page agent and the
// identity service: it bootstraps tokens, caches app descriptors, forwards
// delegated calls, and enforces the hard reset on an identity switch. The
// mutex guards only slot access and is never held across a network call, so
// a session-status check stays responsive while a bootstrap is in flight.
type Coordinator struct {
	mu       sync.Mutex
	identity driven.IdentityClient
	markers  driven.MarkerStore
	browser  driven.Browser
	slot     *sessionSlot
}

// NewCoordinator creates a Coordinator with the required dependencies. It
// starts unbootstrapped; the first credential request triggers bootstrap.
func NewCoordinator(identity driven.IdentityClient, markers driven.MarkerStore, browser driven.Browser) *Coordinator {
	return &Coordinator{
		identity: identity,
		markers:  markers,
		browser:  browser,
	}
}

// CoordinatorStatus is a read-only snapshot for status displays.
type CoordinatorStatus struct {
	Bootstrapped bool
	Identity     string
	TokenExpires time.Time
	Apps         int
}

// Status reports the current slot without touching the network.
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return CoordinatorStatus{}
	}
	return CoordinatorStatus{
		Bootstrapped: true,
		Identity:     c.slot.identity,
		TokenExpires: c.slot.expiresAt,
		Apps:         len(c.slot.apps),
	}
}

// Apps returns the granted application descriptors, bootstrapping on first
// use. The slice is a copy; callers may range and hold it freely.
func (c *Coordinator) Apps(ctx context.Context) ([]model.AppDescriptor, error) {
	slot, err := c.ensureBootstrapped(ctx)
	if err != nil {
		return nil, err
	}
	apps := make([]model.AppDescriptor, len(slot.apps))
	copy(apps, slot.apps)
	return apps, nil
}

// App resolves a page origin to its application descriptor, bootstrapping on
// first use. ErrNotFound means the origin is not a granted application and
// the page agent should leave the page alone.
func (c *Coordinator) App(ctx context.Context, origin string) (*model.AppDescriptor, error) {
	slot, err := c.ensureBootstrapped(ctx)
	if err != nil {
		return nil, err
	}

	app, ok := slot.byOrigin[normalizeOrigin(origin)]
	if !ok {
		return nil, fmt.Errorf("%w: no application for origin %s", driven.ErrNotFound, origin)
	}
	return app, nil
}

// GetCredentials forwards a credential fetch for the origin's application.
// Found=false routes the agent into learning; it is not an error.
func (c *Coordinator) GetCredentials(ctx context.Context, origin string) (*model.CredentialLookup, error) {
	app, err := c.App(ctx, origin)
	if err != nil {
		return nil, err
	}

	var lookup *model.CredentialLookup
	err = c.withToken(ctx, func(token string) error {
		var err error
		lookup, err = c.identity.FetchCredentials(ctx, token, app.AppID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lookup, nil
}

// SaveCredentials forwards a full credential save for the origin's
// application.
func (c *Coordinator) SaveCredentials(ctx context.Context, origin string, fields model.Fields) error {
	app, err := c.App(ctx, origin)
	if err != nil {
		return err
	}
	return c.withToken(ctx, func(token string) error {
		return c.identity.SaveCredentials(ctx, token, app.AppID, fields)
	})
}

// UpdatePassword forwards a password-only update for the origin's
// application. ErrNotFound means nothing is stored yet and the caller should
// save the full field set instead.
func (c *Coordinator) UpdatePassword(ctx context.Context, origin, newPassword string) error {
	app, err := c.App(ctx, origin)
	if err != nil {
		return err
	}
	return c.withToken(ctx, func(token string) error {
		return c.identity.UpdatePassword(ctx, token, app.AppID, newPassword)
	})
}

// IsVerified reports whether the origin's application passed the local
// presence check during this session.
func (c *Coordinator) IsVerified(origin string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return false
	}
	app, ok := c.slot.byOrigin[normalizeOrigin(origin)]
	if !ok {
		return false
	}
	return c.slot.verified[app.AppID]
}

// MarkVerified records a passed presence check. The set dies with the slot,
// never outliving the session it was verified in.
func (c *Coordinator) MarkVerified(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return
	}
	if app, ok := c.slot.byOrigin[normalizeOrigin(origin)]; ok {
		c.slot.verified[app.AppID] = true
	}
}

// MarkVisited records that the agent engaged the origin's application, so an
// identity switch knows which application sessions to end.
func (c *Coordinator) MarkVisited(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot == nil {
		return
	}
	if app, ok := c.slot.byOrigin[normalizeOrigin(origin)]; ok {
		c.slot.visited[app.AppID] = app
	}
}

// CheckSession reports upstream session liveness and opportunistically
// detects a user switch: a live session under a different username gets the
// same hard reset a bootstrap would apply, before anything else is served.
func (c *Coordinator) CheckSession(ctx context.Context) (*model.SessionStatus, error) {
	status, err := c.identity.SessionStatus(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	held := c.slot
	switch {
	case held == nil:
	case !status.Authenticated:
		// Session gone upstream; fail closed until somebody logs in again.
		c.slot = nil
	case status.Username != held.identity:
		c.slot = nil
	default:
		held = nil
	}
	c.mu.Unlock()

	if held != nil {
		if err := c.resetForIdentityChange(held); err != nil {
			return nil, err
		}
	}
	return status, nil
}

// ensureBootstrapped returns the live slot, bootstrapping when there is none
// or the token expired. An absent upstream session fails closed with
// ErrUnauthorized before any bootstrap is attempted.
func (c *Coordinator) ensureBootstrapped(ctx context.Context) (*sessionSlot, error) {
	c.mu.Lock()
	slot := c.slot
	c.mu.Unlock()

	if slot != nil && time.Now().Before(slot.expiresAt) {
		return slot, nil
	}

	if slot == nil {
		status, err := c.identity.SessionStatus(ctx)
		if err != nil {
			return nil, err
		}
		if !status.Authenticated {
			return nil, fmt.Errorf("%w: no identity session", driven.ErrUnauthorized)
		}
	}

	return c.bootstrap(ctx)
}

// bootstrap mints a fresh token and app list. A response naming a different
// identity than held triggers the hard reset before the new slot is
// installed: token, app list, verified set, every page marker, and the old
// identity's application sessions are all discarded, and nothing is served
// for the new identity until the discard (markers included) has happened.
func (c *Coordinator) bootstrap(ctx context.Context) (*sessionSlot, error) {
	boot, err := c.identity.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	apps, err := c.identity.Apps(ctx, boot.Token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.slot
	c.slot = nil
	c.mu.Unlock()

	// Held identity, falling back to the marker file's owner so captures
	// written before a crash still count as "currently held".
	prevIdentity := ""
	if prev != nil {
		prevIdentity = prev.identity
	} else if owner, err := c.markers.Owner(); err != nil {
		return nil, fmt.Errorf("read marker owner: %w", err)
	} else {
		prevIdentity = owner
	}

	if prevIdentity != "" && prevIdentity != boot.Identity {
		slog.Info("identity switch detected", "from", prevIdentity, "to", boot.Identity)
		if err := c.resetForIdentityChange(prev); err != nil {
			return nil, err
		}
		prev = nil
	}

	slot := &sessionSlot{
		identity:  boot.Identity,
		token:     boot.Token,
		expiresAt: boot.ExpiresAt,
		apps:      apps,
		byOrigin:  make(map[string]*model.AppDescriptor, len(apps)),
		verified:  make(map[string]bool),
		visited:   make(map[string]*model.AppDescriptor),
	}
	for i := range apps {
		app := &slot.apps[i]
		slot.byOrigin[normalizeOrigin(app.Origin)] = app
	}
	if prev != nil {
		// Same identity re-bootstrapped (token expiry): verification and
		// visit history carry over.
		slot.verified = prev.verified
		slot.visited = prev.visited
	}

	if err := c.markers.SetOwner(boot.Identity); err != nil {
		return nil, fmt.Errorf("record marker owner: %w", err)
	}

	c.mu.Lock()
	c.slot = slot
	c.mu.Unlock()

	slog.Info("coordinator bootstrapped", "identity", boot.Identity, "apps", len(apps))
	return slot, nil
}

// resetForIdentityChange wipes every page marker, then fires the cascade
// logout for the old identity's visited applications. The marker wipe is
// synchronous and failing it aborts the caller: serving a new identity over
// another identity's captures is the one leak this type exists to prevent.
// The logout sweep is fire-and-forget. prev is nil when the old identity is
// known only from the marker file; no visited apps to log out then.
func (c *Coordinator) resetForIdentityChange(prev *sessionSlot) error {
	if err := c.markers.Reset(); err != nil {
		return fmt.Errorf("reset page markers: %w", err)
	}
	if prev == nil {
		return nil
	}

	apps := make([]*model.AppDescriptor, 0, len(prev.visited))
	for _, app := range prev.visited {
		apps = append(apps, app)
	}
	if len(apps) == 0 {
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeLogoutTimeout)
		defer cancel()

		for _, app := range apps {
			if err := c.browser.EndSession(ctx, app); err != nil {
				slog.Warn("cascade logout failed", "app_id", app.AppID, "error", err)
			}
		}
		slog.Info("cascade logout complete", "identity", prev.identity, "apps", len(apps))
	}()

	return nil
}

// Shutdown ends the run cleanly: every page marker is wiped and each visited
// application session is ended, synchronously, so a host can call this right
// before exiting. The identity session itself belongs to the identity client
// and is not touched. Safe to call unbootstrapped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	slot := c.slot
	c.slot = nil
	c.mu.Unlock()

	if err := c.markers.Reset(); err != nil {
		return fmt.Errorf("reset page markers: %w", err)
	}
	if slot == nil {
		return nil
	}

	for _, app := range slot.visited {
		if err := c.browser.EndSession(ctx, app); err != nil {
			slog.Warn("application logout failed", "app_id", app.AppID, "error", err)
		}
	}
	return nil
}

// withToken runs fn with the current token. ErrUnauthorized from fn means
// the token was revoked upstream; one silent re-bootstrap supplies a fresh
// token and the call is retried once. The new token is the changed
// precondition that makes the single retry safe.
func (c *Coordinator) withToken(ctx context.Context, fn func(token string) error) error {
	slot, err := c.ensureBootstrapped(ctx)
	if err != nil {
		return err
	}

	err = fn(slot.token)
	if !errors.Is(err, driven.ErrUnauthorized) {
		return err
	}

	slot, err = c.bootstrap(ctx)
	if err != nil {
		return err
	}
	return fn(slot.token)
}

// normalizeOrigin strips the trailing slash so page origins and registry
// origins compare equal.
func normalizeOrigin(origin string) string {
	return strings.TrimRight(origin, "/")
}
