// Package webpage implements the Browser port with a real HTTP client,
// parsed HTML forms, and per-origin cookie state, so a replayed login
// establishes an actual application session.
package webpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Browser = (*Browser)(nil)

// Legacy pages are small; anything past this is not a login page.
const maxPageBytes = 2 << 20

// Browser drives the legacy applications over HTTP. The cookie jar is the
// application session state; EndSession drops an origin's cookies so a
// different identity can never ride a predecessor's session.
type Browser struct {
	httpClient *http.Client
}

// New creates a Browser with its own cookie jar and a 15s request timeout.
func New() (*Browser, error) {
	return NewWithHTTPClient(&http.Client{Timeout: 15 * time.Second})
}

// NewWithHTTPClient creates a Browser over a custom http.Client. Intended
// for testing with httptest servers. A cookie jar is attached if the client
// has none.
func NewWithHTTPClient(httpClient *http.Client) (*Browser, error) {
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	return &Browser{httpClient: httpClient}, nil
}

// Fetch loads a URL and returns the parsed page. Redirects are followed; the
// page's URL and origin reflect where navigation ended up, not where it
// started, because login flows bounce through redirects routinely.
func (b *Browser) Fetch(ctx context.Context, pageURL string) (*model.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", pageURL, err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	return b.readPage(resp)
}

// Submit posts the form with the given field values filled in and returns
// the page navigation lands on. values are keyed by input name; named fields
// without an override keep their parsed value, which is what carries hidden
// CSRF tokens through.
func (b *Browser) Submit(ctx context.Context, page *model.Page, form *model.Form, values model.Fields) (*model.Page, error) {
	actionURL, err := resolveAction(page.URL, form.Action)
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	for _, field := range form.Fields {
		if field.Name == "" {
			continue
		}
		switch strings.ToLower(field.Type) {
		case "button", "reset", "image":
			continue
		}
		if v, ok := values[field.Name]; ok {
			data.Set(field.Name, v)
		} else {
			data.Set(field.Name, field.Value)
		}
	}

	var req *http.Request
	if strings.EqualFold(form.Method, http.MethodGet) {
		u := *actionURL
		u.RawQuery = data.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, actionURL.String(), strings.NewReader(data.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit form to %s: %w", actionURL, err)
	}
	defer resp.Body.Close()

	return b.readPage(resp)
}

// EndSession hits the application's logout path, then drops every cookie the
// jar holds for the origin. Logout failures are reported but the cookie
// purge happens regardless.
func (b *Browser) EndSession(ctx context.Context, app *model.AppDescriptor) error {
	var logoutErr error
	if app.LogoutPath != "" {
		logoutURL := strings.TrimRight(app.Origin, "/") + app.LogoutPath
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoutURL, nil)
		if err != nil {
			logoutErr = fmt.Errorf("build logout request for %s: %w", app.AppID, err)
		} else if resp, err := b.httpClient.Do(req); err != nil {
			logoutErr = fmt.Errorf("logout %s: %w", app.AppID, err)
		} else {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes)) //nolint:errcheck
			resp.Body.Close()
		}
	}

	if err := b.purgeCookies(app.Origin); err != nil && logoutErr == nil {
		logoutErr = err
	}
	return logoutErr
}

// purgeCookies expires every cookie stored for the origin. The jar drops
// cookies whose MaxAge is negative.
func (b *Browser) purgeCookies(origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("parse origin %q: %w", origin, err)
	}

	cookies := b.httpClient.Jar.Cookies(u)
	expired := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		expired = append(expired, &http.Cookie{
			Name:    c.Name,
			Value:   "",
			Path:    "/",
			MaxAge:  -1,
			Expires: time.Unix(1, 0),
		})
	}
	b.httpClient.Jar.SetCookies(u, expired)
	return nil
}

func (b *Browser) readPage(resp *http.Response) (*model.Page, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read page body: %w", err)
	}

	// resp.Request reflects the final request after redirects.
	return ParsePage(resp.Request.URL, body)
}

func resolveAction(pageURL, action string) (*url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	if action == "" {
		return base, nil
	}
	ref, err := url.Parse(action)
	if err != nil {
		return nil, fmt.Errorf("parse form action %q: %w", action, err)
	}
	return base.ResolveReference(ref), nil
}
