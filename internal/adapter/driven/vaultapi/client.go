// Package vaultapi implements the VaultClient port over the vault store's
// JSON RPC surface.
package vaultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VaultClient = (*Client)(nil)

// Client calls vaultd for the delegation proxy. A circuit breaker guards
// every credential call: five consecutive transport or 5xx failures open it
// for 30 seconds, during which calls fail fast as upstream-unavailable
// instead of stacking timeouts. Expected outcomes (404) never trip it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a vault client for the given base URL, e.g.
// "http://vaultd:8480".
func NewClient(baseURL string) *Client {
	return NewClientWithHTTPClient(&http.Client{Timeout: 10 * time.Second}, baseURL)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vault",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		breaker:    breaker,
	}
}

type keyRequest struct {
	VaultID string `json:"vaultId"`
	AppID   string `json:"appId"`
}

type writeRequest struct {
	VaultID string       `json:"vaultId"`
	AppID   string       `json:"appId"`
	Fields  model.Fields `json:"fields"`
}

type updatePasswordRequest struct {
	VaultID     string `json:"vaultId"`
	AppID       string `json:"appId"`
	NewPassword string `json:"newPassword"`
}

type vaultRequest struct {
	VaultID string `json:"vaultId"`
}

type readResponse struct {
	Fields model.Fields `json:"fields"`
}

type successResponse struct {
	Success      bool  `json:"success"`
	DeletedCount int64 `json:"deletedCount"`
}

// Read fetches the stored fields, or driven.ErrNotFound.
func (c *Client) Read(ctx context.Context, vaultID, appID string) (model.Fields, error) {
	var resp readResponse
	if err := c.post(ctx, "/api/v1/read", keyRequest{VaultID: vaultID, AppID: appID}, &resp); err != nil {
		return nil, err
	}
	return resp.Fields, nil
}

// Write upserts the record with the full field set.
func (c *Client) Write(ctx context.Context, vaultID, appID string, fields model.Fields) error {
	return c.post(ctx, "/api/v1/write", writeRequest{VaultID: vaultID, AppID: appID, Fields: fields}, nil)
}

// UpdatePassword replaces only the password field, or driven.ErrNotFound.
func (c *Client) UpdatePassword(ctx context.Context, vaultID, appID, newPassword string) error {
	req := updatePasswordRequest{VaultID: vaultID, AppID: appID, NewPassword: newPassword}
	return c.post(ctx, "/api/v1/update-password", req, nil)
}

// Delete removes the record, or driven.ErrNotFound.
func (c *Client) Delete(ctx context.Context, vaultID, appID string) error {
	return c.post(ctx, "/api/v1/delete", keyRequest{VaultID: vaultID, AppID: appID}, nil)
}

// DeleteAll removes every record for the vault id and reports the count.
func (c *Client) DeleteAll(ctx context.Context, vaultID string) (int64, error) {
	var resp successResponse
	if err := c.post(ctx, "/api/v1/delete-vault", vaultRequest{VaultID: vaultID}, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// Health pings the vault's health endpoint. It deliberately bypasses the
// circuit breaker so probes keep observing the upstream while it is open.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", driven.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: vault health returned %d", driven.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return nil
}

// rpcResult carries non-5xx responses out of the breaker so expected
// outcomes like 404 are mapped without counting as failures.
type rpcResult struct {
	status int
	body   []byte
}

func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", driven.ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", driven.ErrUpstreamUnavailable, err)
		}

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: vault returned %d", driven.ErrUpstreamUnavailable, resp.StatusCode)
		}

		return &rpcResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", driven.ErrUpstreamUnavailable)
		}
		return fmt.Errorf("vault %s: %w", path, err)
	}

	rpc := result.(*rpcResult)
	switch rpc.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return driven.ErrNotFound
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", driven.ErrValidation, errorMessage(rpc.body))
	default:
		return fmt.Errorf("vault %s: unexpected status %d", path, rpc.status)
	}

	if out != nil {
		if err := json.Unmarshal(rpc.body, out); err != nil {
			return fmt.Errorf("decode vault response: %w", err)
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return "vault rejected request"
	}
	return payload.Error
}
