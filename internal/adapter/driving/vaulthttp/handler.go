// Package vaulthttp is the HTTP driving adapter serving the vault store's
// wire contract. The only caller is the identity service's delegation proxy;
// requests carry no authentication of their own because trust is established
// by network placement.
package vaulthttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/formvault/formvault/internal/adapter/driving/middleware"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the vault wire contract over a RecordStore.
type Handler struct {
	records driven.RecordStore
	audits  driven.AuditStore
	pinger  Pinger
	logger  *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(records driven.RecordStore, audits driven.AuditStore, pinger Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		records: records,
		audits:  audits,
		pinger:  pinger,
		logger:  logger,
	}
}

// NewServeMux creates an http.Handler with all vault routes registered and
// wrapped with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/read", h.Read)
	mux.HandleFunc("POST /api/v1/write", h.Write)
	mux.HandleFunc("POST /api/v1/update-password", h.UpdatePassword)
	mux.HandleFunc("POST /api/v1/delete", h.Delete)
	mux.HandleFunc("POST /api/v1/delete-vault", h.DeleteVault)
	mux.HandleFunc("GET /api/v1/audit", h.ListAudit)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := middleware.Recovery(logger, mux)
	wrapped = middleware.Logging(logger, wrapped)

	return wrapped
}

// Read returns the stored fields for a key. A miss is 404: expected on
// first-time logins, so it is not logged as an error.
func (h *Handler) Read(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VaultID == "" || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "vaultId and appId are required")
		return
	}

	fields, err := h.records.Read(r.Context(), req.VaultID, req.AppID)
	if errors.Is(err, driven.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger.Error("record read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, readResponse{Fields: fields})
}

// Write upserts the full field set for a key.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VaultID == "" || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "vaultId and appId are required")
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields must be a non-empty object")
		return
	}

	if err := h.records.Write(r.Context(), req.VaultID, req.AppID, req.Fields); err != nil {
		h.logger.Error("record write failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// UpdatePassword atomically replaces the password field of an existing
// record, or 404s when no record exists for the key.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VaultID == "" || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "vaultId and appId are required")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "newPassword is required")
		return
	}

	err := h.records.UpdatePassword(r.Context(), req.VaultID, req.AppID, req.NewPassword)
	if errors.Is(err, driven.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger.Error("password update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Delete removes a single record, or 404s when it was already gone.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VaultID == "" || req.AppID == "" {
		writeError(w, http.StatusBadRequest, "vaultId and appId are required")
		return
	}

	err := h.records.Delete(r.Context(), req.VaultID, req.AppID)
	if errors.Is(err, driven.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger.Error("record delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// DeleteVault removes every record for a vault id. Emptying an already-empty
// vault succeeds with a zero count so the upstream cascade stays idempotent.
func (h *Handler) DeleteVault(w http.ResponseWriter, r *http.Request) {
	var req vaultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VaultID == "" {
		writeError(w, http.StatusBadRequest, "vaultId is required")
		return
	}

	count, err := h.records.DeleteAll(r.Context(), req.VaultID)
	if err != nil {
		h.logger.Error("vault delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, DeletedCount: &count})
}

// ListAudit returns the newest audit entries for a vault id, an operator
// read-only view over the append-only log.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	vaultID := r.URL.Query().Get("vaultId")
	if vaultID == "" {
		writeError(w, http.StatusBadRequest, "vaultId is required")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	entries, err := h.audits.ListByVault(r.Context(), vaultID, limit)
	if err != nil {
		h.logger.Error("audit list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toAuditEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, auditListResponse{Entries: resp})
}

// Health reports backing-store reachability only; no business logic.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
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
