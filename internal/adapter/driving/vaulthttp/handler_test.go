package vaulthttp_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/internal/adapter/driving/vaulthttp"
	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockRecordStore struct {
	records map[string]model.Fields
	err     error
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{records: make(map[string]model.Fields)}
}

func key(vaultID, appID string) string { return vaultID + "/" + appID }

func (m *mockRecordStore) Read(_ context.Context, vaultID, appID string) (model.Fields, error) {
	if m.err != nil {
		return nil, m.err
	}
	fields, ok := m.records[key(vaultID, appID)]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return fields, nil
}

func (m *mockRecordStore) Write(_ context.Context, vaultID, appID string, fields model.Fields) error {
	if m.err != nil {
		return m.err
	}
	m.records[key(vaultID, appID)] = fields.Clone()
	return nil
}

func (m *mockRecordStore) UpdatePassword(_ context.Context, vaultID, appID, newPassword string) error {
	if m.err != nil {
		return m.err
	}
	fields, ok := m.records[key(vaultID, appID)]
	if !ok {
		return driven.ErrNotFound
	}
	fields[model.FieldPassword] = newPassword
	return nil
}

func (m *mockRecordStore) Delete(_ context.Context, vaultID, appID string) error {
	if m.err != nil {
		return m.err
	}
	if _, ok := m.records[key(vaultID, appID)]; !ok {
		return driven.ErrNotFound
	}
	delete(m.records, key(vaultID, appID))
	return nil
}

func (m *mockRecordStore) DeleteAll(_ context.Context, vaultID string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var count int64
	for k := range m.records {
		if strings.HasPrefix(k, vaultID+"/") {
			delete(m.records, k)
			count++
		}
	}
	return count, nil
}

type mockAuditStore struct {
	entries []model.AuditEntry
	err     error
}

func (m *mockAuditStore) ListByVault(_ context.Context, _ string, _ int) ([]model.AuditEntry, error) {
	return m.entries, m.err
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

// --- Test helpers ---

func setupMux(records driven.RecordStore, audits driven.AuditStore, pinger vaulthttp.Pinger) http.Handler {
	h := vaulthttp.NewHandler(records, audits, pinger, slog.Default())
	return vaulthttp.NewServeMux(h, slog.Default())
}

func postJSON(t *testing.T, mux http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

// --- Tests ---

func TestRead(t *testing.T) {
	store := newMockRecordStore()
	store.records["v1/app_a"] = model.Fields{"username": "a", "password": "p"}
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	t.Run("found", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/read", `{"vaultId":"v1","appId":"app_a"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Fields model.Fields `json:"fields"`
		}
		decodeJSON(t, rec, &resp)
		assert.Equal(t, model.Fields{"username": "a", "password": "p"}, resp.Fields)
	})

	t.Run("missing is 404", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/read", `{"vaultId":"v1","appId":"absent"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty key is 400", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/read", `{"vaultId":"","appId":"app_a"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/read", `{"vaultId":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRead_StorageErrorIsGeneric500(t *testing.T) {
	store := newMockRecordStore()
	store.err = errors.New("disk exploded: /var/lib/vault.db")
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	rec := postJSON(t, mux, "/api/v1/read", `{"vaultId":"v1","appId":"app_a"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	// Storage detail never leaks to the caller.
	assert.NotContains(t, rec.Body.String(), "disk exploded")
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestWrite(t *testing.T) {
	store := newMockRecordStore()
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	rec := postJSON(t, mux, "/api/v1/write", `{"vaultId":"v1","appId":"app_a","fields":{"username":"a","password":"p","role":"admin"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, model.Fields{"username": "a", "password": "p", "role": "admin"}, store.records["v1/app_a"])
}

func TestWrite_EmptyFieldsIs400(t *testing.T) {
	mux := setupMux(newMockRecordStore(), &mockAuditStore{}, &mockPinger{})

	rec := postJSON(t, mux, "/api/v1/write", `{"vaultId":"v1","appId":"app_a","fields":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePassword(t *testing.T) {
	store := newMockRecordStore()
	store.records["v1/app_a"] = model.Fields{"username": "a", "password": "old"}
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	t.Run("replaces only password", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/update-password", `{"vaultId":"v1","appId":"app_a","newPassword":"new"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "new", store.records["v1/app_a"][model.FieldPassword])
		assert.Equal(t, "a", store.records["v1/app_a"][model.FieldUsername])
	})

	t.Run("missing record is 404", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/update-password", `{"vaultId":"v1","appId":"absent","newPassword":"new"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty password is 400", func(t *testing.T) {
		rec := postJSON(t, mux, "/api/v1/update-password", `{"vaultId":"v1","appId":"app_a","newPassword":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDelete(t *testing.T) {
	store := newMockRecordStore()
	store.records["v1/app_a"] = model.Fields{"password": "p"}
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	rec := postJSON(t, mux, "/api/v1/delete", `{"vaultId":"v1","appId":"app_a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, mux, "/api/v1/delete", `{"vaultId":"v1","appId":"app_a"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "second delete finds nothing")
}

func TestDeleteVault(t *testing.T) {
	store := newMockRecordStore()
	store.records["v1/app_a"] = model.Fields{"password": "p"}
	store.records["v1/app_b"] = model.Fields{"password": "q"}
	store.records["v2/app_a"] = model.Fields{"password": "r"}
	mux := setupMux(store, &mockAuditStore{}, &mockPinger{})

	rec := postJSON(t, mux, "/api/v1/delete-vault", `{"vaultId":"v1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success      bool  `json:"success"`
		DeletedCount int64 `json:"deletedCount"`
	}
	decodeJSON(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(2), resp.DeletedCount)
	assert.Contains(t, store.records, "v2/app_a", "other vaults untouched")
}

func TestListAudit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	audits := &mockAuditStore{entries: []model.AuditEntry{
		{ID: 2, VaultID: "v1", AppID: "app_a", Action: model.AuditActionWrite, Instance: "vault-1", CreatedAt: now},
		{ID: 1, VaultID: "v1", AppID: model.AuditAppIDAll, Action: model.AuditActionDeleteVault, Instance: "vault-1", CreatedAt: now},
	}}
	mux := setupMux(newMockRecordStore(), audits, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?vaultId=v1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "write", resp.Entries[0]["action"])
	assert.Equal(t, "*", resp.Entries[1]["appId"])
	assert.Equal(t, "2026-03-01T10:00:00Z", resp.Entries[0]["createdAt"])
}

func TestListAudit_RequiresVaultID(t *testing.T) {
	mux := setupMux(newMockRecordStore(), &mockAuditStore{}, &mockPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		mux := setupMux(newMockRecordStore(), &mockAuditStore{}, &mockPinger{})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("degraded", func(t *testing.T) {
		mux := setupMux(newMockRecordStore(), &mockAuditStore{}, &mockPinger{err: errors.New("no db")})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
	})
}
