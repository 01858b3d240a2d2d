package identityapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClientWithHTTPClient(server.Client(), server.URL)
	require.NoError(t, err)
	return client
}

func TestClient_LoginStoresSessionCookie(t *testing.T) {
	var sawCookie bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jdoe", body["username"])
		assert.Equal(t, "hunter2", body["password"])

		http.SetCookie(w, &http.Cookie{Name: "fv_session", Value: "sess-token", Path: "/", HttpOnly: true})
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("fv_session"); err == nil && c.Value == "sess-token" {
			sawCookie = true
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authenticated":true,"username":"jdoe"}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	require.NoError(t, client.Login(ctx, "jdoe", "hunter2"))

	status, err := client.SessionStatus(ctx)
	require.NoError(t, err)
	assert.True(t, sawCookie, "session cookie rides along on later calls")
	assert.True(t, status.Authenticated)
	assert.Equal(t, "jdoe", status.Username)
}

func TestClient_LoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	err := client.Login(context.Background(), "jdoe", "wrong")
	require.ErrorIs(t, err, driven.ErrUnauthorized)
}

func TestClient_Bootstrap(t *testing.T) {
	expiresAt := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/plugin/bootstrap", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identity":  "jdoe",
			"token":     "tok-1",
			"expiresAt": expiresAt,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)

	boot, err := client.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jdoe", boot.Identity)
	assert.Equal(t, "tok-1", boot.Token)
	assert.Equal(t, expiresAt, boot.ExpiresAt.UTC())
}

func TestClient_BootstrapWithoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.Bootstrap(context.Background())
	require.ErrorIs(t, err, driven.ErrUnauthorized)
}

func TestClient_AppsSendsBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"apps":[{"appId":"timetrack","origin":"http://timetrack.local","loginPath":"/login","loginSchema":[{"field":"username","locator":"#user","kind":"text"},{"field":"password","locator":"#pass","kind":"password"}]}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	apps, err := client.Apps(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "timetrack", apps[0].AppID)
	assert.Equal(t, "http://timetrack.local", apps[0].Origin)
	require.Len(t, apps[0].LoginSchema, 2)
	assert.Equal(t, model.FieldKindPassword, apps[0].LoginSchema[1].Kind)
}

func TestClient_AppsRevalidatesWithETag(t *testing.T) {
	const etag = `"registry-v1"`
	fullResponses := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fullResponses++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(`{"apps":[{"appId":"timetrack","origin":"http://timetrack.local","loginPath":"/login","loginSchema":[]}]}`))
	}))
	defer server.Close()

	// The caching transport is the production default; wire it explicitly
	// around the test server's transport.
	httpClient := &http.Client{Transport: httpcache.NewMemoryCacheTransport()}
	client, err := NewClientWithHTTPClient(httpClient, server.URL)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := client.Apps(ctx, "tok-1")
	require.NoError(t, err)
	second, err := client.Apps(ctx, "tok-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fullResponses, "second fetch is served from cache via 304")
}

func TestClient_FetchCredentialsFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "timetrack", r.URL.Query().Get("appId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":true,"fields":{"username":"jdoe","password":"hunter2"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	lookup, err := client.FetchCredentials(context.Background(), "tok-1", "timetrack")
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.Equal(t, model.Fields{"username": "jdoe", "password": "hunter2"}, lookup.Fields)
}

func TestClient_FetchCredentialsMissIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	lookup, err := client.FetchCredentials(context.Background(), "tok-1", "timetrack")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
	assert.Nil(t, lookup.Fields)
}

func TestClient_SaveCredentials(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	err := client.SaveCredentials(context.Background(), "tok-1", "timetrack", model.Fields{"username": "jdoe", "password": "pw"})
	require.NoError(t, err)
	assert.Equal(t, "timetrack", gotBody["appId"])
}

func TestClient_UpdatePassword(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/plugin/password", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	err := client.UpdatePassword(context.Background(), "tok-1", "timetrack", "new-pw")
	require.NoError(t, err)
	assert.Equal(t, "new-pw", gotBody["newPassword"])
}

func TestClient_UpstreamDownMapsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)

	err := client.SaveCredentials(context.Background(), "tok-1", "timetrack", model.Fields{"password": "pw"})
	require.ErrorIs(t, err, driven.ErrUpstreamUnavailable)
}
