package vaulthttp

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

// keyRequest addresses one (vault id, app id) record.
type keyRequest struct {
	VaultID string `json:"vaultId"`
	AppID   string `json:"appId"`
}

// writeRequest is the JSON body for the write endpoint.
type writeRequest struct {
	VaultID string       `json:"vaultId"`
	AppID   string       `json:"appId"`
	Fields  model.Fields `json:"fields"`
}

// updatePasswordRequest is the JSON body for the update-password endpoint.
type updatePasswordRequest struct {
	VaultID     string `json:"vaultId"`
	AppID       string `json:"appId"`
	NewPassword string `json:"newPassword"`
}

// vaultRequest addresses every record under one vault id.
type vaultRequest struct {
	VaultID string `json:"vaultId"`
}

// readResponse is the success body of the read endpoint.
type readResponse struct {
	Fields model.Fields `json:"fields"`
}

// successResponse is the success body of the mutating endpoints.
// DeletedCount is present only on delete-vault.
type successResponse struct {
	Success      bool   `json:"success"`
	DeletedCount *int64 `json:"deletedCount,omitempty"`
}

// healthResponse is the body of the health endpoint.
type healthResponse struct {
	Status string `json:"status"`
}

// auditEntryResponse is the JSON representation of one audit entry.
type auditEntryResponse struct {
	ID        int64  `json:"id"`
	VaultID   string `json:"vaultId"`
	AppID     string `json:"appId"`
	Action    string `json:"action"`
	Instance  string `json:"instance"`
	CreatedAt string `json:"createdAt"`
}

// auditListResponse is the body of the audit list endpoint.
type auditListResponse struct {
	Entries []auditEntryResponse `json:"entries"`
}

// toAuditEntryResponse converts a domain AuditEntry to its JSON representation.
func toAuditEntryResponse(entry model.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:        entry.ID,
		VaultID:   entry.VaultID,
		AppID:     entry.AppID,
		Action:    string(entry.Action),
		Instance:  entry.Instance,
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}
