package identityhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// loginRequest is the JSON body for the login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionStatusResponse is the body of the session status endpoint.
type sessionStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
}

// bootstrapResponse is the body of the plugin bootstrap endpoint.
type bootstrapResponse struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// appsResponse is the body of the plugin apps endpoint.
type appsResponse struct {
	Apps []model.AppDescriptor `json:"apps"`
}

// credentialsResponse is the body of the credential fetch endpoint.
type credentialsResponse struct {
	Found  bool         `json:"found"`
	Fields model.Fields `json:"fields,omitempty"`
}

// saveCredentialsRequest is the JSON body for the credential save endpoint.
type saveCredentialsRequest struct {
	AppID  string       `json:"appId"`
	Fields model.Fields `json:"fields"`
}

// updatePasswordRequest is the JSON body for the password update endpoint.
type updatePasswordRequest struct {
	AppID       string `json:"appId"`
	NewPassword string `json:"newPassword"`
}

// createIdentityRequest is the JSON body for the admin identity create
// endpoint. Apps are the initial grants.
type createIdentityRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Apps     []string `json:"apps"`
}

// createIdentityResponse is the body of a successful identity create. The
// vault id stays internal.
type createIdentityResponse struct {
	Username string   `json:"username"`
	Apps     []string `json:"apps,omitempty"`
}

// grantRequest is the JSON body for the admin grant endpoint.
type grantRequest struct {
	AppID string `json:"appId"`
}

// successResponse is the success body of the mutating plugin endpoints.
type successResponse struct {
	Success bool `json:"success"`
}

// healthResponse is the body of the health endpoint. Vault reports the
// upstream component separately from this service's own status.
type healthResponse struct {
	Status string `json:"status"`
	Vault  string `json:"vault,omitempty"`
}
