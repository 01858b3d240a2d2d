// Package identityhttp is the HTTP driving adapter for the identity service:
// end-user sessions, the plugin delegation surface, and identity
// administration. It is the only process that ever sees both a username and
// that user's vault id.
package identityhttp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/formvault/formvault/internal/adapter/driving/middleware"
	"github.com/formvault/formvault/internal/application"
	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// sessionCookieName is the end-user session cookie.
const sessionCookieName = "fv_session"

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the identity service wire contract.
type Handler struct {
	sessions   *application.SessionService
	delegation *application.DelegationService
	admin      *application.AdminService
	registry   driven.AppRegistry
	vault      driven.VaultClient
	pinger     Pinger
	adminToken string
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	sessions *application.SessionService,
	delegation *application.DelegationService,
	admin *application.AdminService,
	registry driven.AppRegistry,
	vault driven.VaultClient,
	pinger Pinger,
	adminToken string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions:   sessions,
		delegation: delegation,
		admin:      admin,
		registry:   registry,
		vault:      vault,
		pinger:     pinger,
		adminToken: adminToken,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all identity routes registered
// and wrapped with logging and recovery middleware. Only the login route is
// rate limited; everything else is already gated by a session or token.
func NewServeMux(h *Handler, loginLimiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/session", loginLimiter.Wrap(http.HandlerFunc(h.Login)))
	mux.HandleFunc("DELETE /api/v1/session", h.Logout)
	mux.HandleFunc("GET /api/v1/session", h.SessionStatus)

	mux.HandleFunc("POST /api/v1/plugin/bootstrap", h.Bootstrap)
	mux.HandleFunc("GET /api/v1/plugin/apps", h.Apps)
	mux.HandleFunc("GET /api/v1/plugin/credentials", h.FetchCredentials)
	mux.HandleFunc("POST /api/v1/plugin/credentials", h.SaveCredentials)
	mux.HandleFunc("PUT /api/v1/plugin/password", h.UpdatePassword)

	mux.HandleFunc("POST /api/v1/identities", h.CreateIdentity)
	mux.HandleFunc("DELETE /api/v1/identities/{username}", h.DeleteIdentity)
	mux.HandleFunc("POST /api/v1/identities/{username}/grants", h.Grant)

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := middleware.Recovery(logger, mux)
	wrapped = middleware.Logging(logger, wrapped)

	return wrapped
}

// Login authenticates the end user and sets the session cookie. Wrong
// username and wrong password get the same response.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, driven.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Logout ends the session and expires the cookie. Logging out without a
// session succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := h.sessions.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// SessionStatus reports session liveness. Always 200; the body carries the
// answer, so callers can poll without treating "logged out" as a failure.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if errors.Is(err, driven.ErrUnauthorized) {
		writeJSON(w, http.StatusOK, sessionStatusResponse{Authenticated: false})
		return
	}
	if err != nil {
		h.logger.Error("session status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{Authenticated: true, Username: ident.Username})
}

// Bootstrap exchanges a live session for a fresh plugin token. The cookie
// stays on this surface; only the bearer token crosses to the plugin side.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if errors.Is(err, driven.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err != nil {
		h.logger.Error("bootstrap auth failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	boot, err := h.delegation.Bootstrap(r.Context(), ident)
	if err != nil {
		h.logger.Error("bootstrap failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		Identity:  boot.Identity,
		Token:     boot.Token,
		ExpiresAt: boot.ExpiresAt,
	})
}

// Apps returns the descriptors the token's identity is granted. The ETag
// covers both the registry content and the grant set, so a grant change
// invalidates cached lists even when the registry file is unchanged.
func (h *Handler) Apps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.delegation.Apps(r.Context(), bearerToken(r))
	if err != nil {
		h.writeServiceError(w, err, "list apps failed")
		return
	}

	etag := appsETag(h.registry.ETag(), apps)
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Authorization")
	if ifNoneMatchSatisfied(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeJSON(w, http.StatusOK, appsResponse{Apps: apps})
}

// FetchCredentials proxies a credential read. A vault miss is found=false,
// not an error status.
func (h *Handler) FetchCredentials(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("appId")
	if appID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}

	lookup, err := h.delegation.FetchCredentials(r.Context(), bearerToken(r), appID)
	if err != nil {
		h.writeServiceError(w, err, "credential fetch failed")
		return
	}

	writeJSON(w, http.StatusOK, credentialsResponse{Found: lookup.Found, Fields: lookup.Fields})
}

// SaveCredentials proxies a full credential save.
func (h *Handler) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req saveCredentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AppID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}

	if err := h.delegation.SaveCredentials(r.Context(), bearerToken(r), req.AppID, req.Fields); err != nil {
		h.writeServiceError(w, err, "credential save failed")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// UpdatePassword proxies a password-only update. 404 means nothing is stored
// yet and the caller should do a full save instead.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AppID == "" {
		writeError(w, http.StatusBadRequest, "appId is required")
		return
	}

	if err := h.delegation.UpdatePassword(r.Context(), bearerToken(r), req.AppID, req.NewPassword); err != nil {
		h.writeServiceError(w, err, "password update failed")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// CreateIdentity provisions an identity with optional initial grants.
func (h *Handler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req createIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ident, err := h.admin.CreateIdentity(r.Context(), req.Username, req.Password, req.Apps)
	if err != nil {
		h.writeServiceError(w, err, "identity create failed")
		return
	}

	writeJSON(w, http.StatusCreated, createIdentityResponse{Username: ident.Username, Apps: req.Apps})
}

// DeleteIdentity removes an identity and cascades through its vault records,
// grants, sessions, and tokens. A vault outage aborts with 502 and nothing
// local is touched.
func (h *Handler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	if err := h.admin.DeleteIdentity(r.Context(), r.PathValue("username")); err != nil {
		h.writeServiceError(w, err, "identity delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Grant authorizes an identity for an application.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.admin.Grant(r.Context(), r.PathValue("username"), req.AppID); err != nil {
		h.writeServiceError(w, err, "grant failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health reports backing-store reachability plus the vault's. A vault outage
// degrades delegated calls but not sessions, so it stays a 200 with the
// component called out.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}

	resp := healthResponse{Status: "ok", Vault: "ok"}
	if err := h.vault.Health(r.Context()); err != nil {
		resp.Vault = "unreachable"
	}
	writeJSON(w, http.StatusOK, resp)
}

// authenticate resolves the session cookie to its identity.
func (h *Handler) authenticate(r *http.Request) (*model.Identity, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, driven.ErrUnauthorized
	}
	return h.sessions.Authenticate(r.Context(), cookie.Value)
}

// requireAdmin gates the administrative endpoints on the shared admin token.
// The comparison is constant time.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("X-Admin-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// writeServiceError maps the shared error taxonomy onto response codes.
// Validation detail is safe to echo; everything else gets a fixed message.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, driven.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, driven.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, driven.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, driven.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, driven.ErrUpstreamUnavailable):
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusBadGateway, "vault unavailable")
	default:
		h.logger.Error(logMsg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// bearerToken extracts the token from an Authorization: Bearer header, or ""
// when absent. Empty tokens fail authorization downstream.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// appsETag derives the validator for one identity's app list.
func appsETag(registryTag string, apps []model.AppDescriptor) string {
	sum := sha256.New()
	io.WriteString(sum, registryTag)
	for _, app := range apps {
		sum.Write([]byte{0})
		io.WriteString(sum, app.AppID)
	}
	return `"` + hex.EncodeToString(sum.Sum(nil)[:8]) + `"`
}

// ifNoneMatchSatisfied reports whether any If-None-Match candidate matches
// the current ETag.
func ifNoneMatchSatisfied(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

// decodeBody decodes the JSON request body into v, writing a 400 and
// returning false on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
