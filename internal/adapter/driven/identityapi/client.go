// Package identityapi implements the IdentityClient port over identityd's
// session and plugin APIs.
package identityapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityClient = (*Client)(nil)

// Client talks to identityd on behalf of the background coordinator. The
// transport stack is:
//  1. cookie jar (holds the fv_session cookie across calls)
//  2. httpcache (ETag-based conditional caching, so the app descriptor list
//     revalidates with 304s instead of re-downloading)
//
// Bearer tokens are passed per call because the coordinator owns their
// lifecycle; the client never stores one.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an identity client for the given base URL, e.g.
// "http://identityd:8470".
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	httpClient := &http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Jar:       jar,
		Timeout:   15 * time.Second,
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server. A cookie jar is attached if the client has none.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// Login authenticates the end user and stores the fv_session cookie in the
// jar. Wrong credentials map to driven.ErrUnauthorized without detail, by
// server design.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/session", "", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusNoContent)
}

// Logout ends the session. Idempotent: logging out twice succeeds.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/v1/session", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusNoContent)
}

// SessionStatus checks upstream session liveness without side effects.
func (c *Client) SessionStatus(ctx context.Context) (*model.SessionStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/session", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var payload struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode session status: %w", err)
	}

	return &model.SessionStatus{Authenticated: payload.Authenticated, Username: payload.Username}, nil
}

// Bootstrap mints a fresh plugin token bound to the session identity.
func (c *Client) Bootstrap(ctx context.Context) (*model.PluginBootstrap, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/plugin/bootstrap", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var payload struct {
		Identity  string    `json:"identity"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode bootstrap response: %w", err)
	}

	return &model.PluginBootstrap{
		Identity:  payload.Identity,
		Token:     payload.Token,
		ExpiresAt: payload.ExpiresAt,
	}, nil
}

// Apps returns the descriptors for every application the token's identity is
// granted. Served through the caching transport, so unchanged lists cost a
// conditional request.
func (c *Client) Apps(ctx context.Context, token string) ([]model.AppDescriptor, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/plugin/apps", token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var payload struct {
		Apps []model.AppDescriptor `json:"apps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode apps response: %w", err)
	}

	return payload.Apps, nil
}

// FetchCredentials looks up the stored credential for an application. A
// clean miss reports Found=false rather than an error.
func (c *Client) FetchCredentials(ctx context.Context, token, appID string) (*model.CredentialLookup, error) {
	path := "/api/v1/plugin/credentials?appId=" + url.QueryEscape(appID)
	resp, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}

	var payload struct {
		Found  bool         `json:"found"`
		Fields model.Fields `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode credentials response: %w", err)
	}

	return &model.CredentialLookup{Found: payload.Found, Fields: payload.Fields}, nil
}

// SaveCredentials stores the full field set for an application.
func (c *Client) SaveCredentials(ctx context.Context, token, appID string, fields model.Fields) error {
	body := map[string]any{"appId": appID, "fields": fields}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/plugin/credentials", token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusOK)
}

// UpdatePassword replaces only the stored password for an application.
func (c *Client) UpdatePassword(ctx context.Context, token, appID, newPassword string) error {
	body := map[string]string{"appId": appID, "newPassword": newPassword}
	resp, err := c.do(ctx, http.MethodPut, "/api/v1/plugin/password", token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkStatus(resp, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

// checkStatus maps response codes into the shared error taxonomy. The body
// is drained on the error path so the transport can reuse the connection.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := errorMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", driven.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", driven.ErrNotFound, msg)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", driven.ErrValidation, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: identity service returned %d: %s", driven.ErrUpstreamUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("identity service returned unexpected status %d: %s", resp.StatusCode, msg)
	}
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(body))
	}
	return payload.Error
}
