package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AppRegistry = (*AppRegistry)(nil)

// AppRegistry is the set of application descriptors loaded from the YAML
// registry file at startup. It is immutable afterwards, so lookups need no
// locking and the ETag is computed once.
type AppRegistry struct {
	apps     []model.AppDescriptor
	byAppID  map[string]*model.AppDescriptor
	byOrigin map[string]*model.AppDescriptor
	etag     string
}

// registryFile is the YAML shape of the registry file.
type registryFile struct {
	Apps []model.AppDescriptor `yaml:"apps"`
}

// LoadAppRegistry reads and validates the application registry. Every
// descriptor must carry a unique app id, a bare-origin URL, a rooted login
// path, and a login schema naming a password field.
func LoadAppRegistry(path string) (*AppRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse app registry %s: %w", path, err)
	}
	if len(file.Apps) == 0 {
		return nil, fmt.Errorf("app registry %s declares no apps", path)
	}

	reg := &AppRegistry{
		apps:     file.Apps,
		byAppID:  make(map[string]*model.AppDescriptor, len(file.Apps)),
		byOrigin: make(map[string]*model.AppDescriptor, len(file.Apps)),
	}

	for i := range reg.apps {
		app := &reg.apps[i]
		if err := validateApp(app); err != nil {
			return nil, fmt.Errorf("app registry %s: %w", path, err)
		}
		if _, dup := reg.byAppID[app.AppID]; dup {
			return nil, fmt.Errorf("app registry %s: duplicate app id %q", path, app.AppID)
		}
		if _, dup := reg.byOrigin[app.Origin]; dup {
			return nil, fmt.Errorf("app registry %s: duplicate origin %q", path, app.Origin)
		}
		reg.byAppID[app.AppID] = app
		reg.byOrigin[app.Origin] = app
	}

	sum := sha256.Sum256(data)
	reg.etag = `"` + hex.EncodeToString(sum[:8]) + `"`

	return reg, nil
}

// ByAppID returns the descriptor for the app id, if registered.
func (r *AppRegistry) ByAppID(appID string) (*model.AppDescriptor, bool) {
	app, ok := r.byAppID[appID]
	return app, ok
}

// ByOrigin returns the descriptor for the origin, if registered.
func (r *AppRegistry) ByOrigin(origin string) (*model.AppDescriptor, bool) {
	app, ok := r.byOrigin[strings.TrimRight(origin, "/")]
	return app, ok
}

// List returns every registered descriptor in file order.
func (r *AppRegistry) List() []model.AppDescriptor {
	return r.apps
}

// ETag identifies the registry content for conditional requests. It changes
// only when the file changes, which requires a restart.
func (r *AppRegistry) ETag() string {
	return r.etag
}

func validateApp(app *model.AppDescriptor) error {
	if app.AppID == "" {
		return fmt.Errorf("app with origin %q has no app_id", app.Origin)
	}

	origin, err := url.Parse(app.Origin)
	if err != nil {
		return fmt.Errorf("app %q: invalid origin: %w", app.AppID, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("app %q: origin must be http or https, got %q", app.AppID, app.Origin)
	}
	if origin.Host == "" {
		return fmt.Errorf("app %q: origin %q has no host", app.AppID, app.Origin)
	}
	if origin.Path != "" && origin.Path != "/" {
		return fmt.Errorf("app %q: origin %q must not carry a path, use login_path", app.AppID, app.Origin)
	}
	// Normalize so page origins (scheme://host) match exactly.
	app.Origin = origin.Scheme + "://" + origin.Host

	if !strings.HasPrefix(app.LoginPath, "/") {
		return fmt.Errorf("app %q: login_path %q must start with /", app.AppID, app.LoginPath)
	}
	if app.LogoutPath != "" && !strings.HasPrefix(app.LogoutPath, "/") {
		return fmt.Errorf("app %q: logout_path %q must start with /", app.AppID, app.LogoutPath)
	}

	if len(app.LoginSchema) == 0 {
		return fmt.Errorf("app %q: login_schema is empty", app.AppID)
	}

	seen := make(map[string]bool, len(app.LoginSchema))
	hasPassword := false
	for _, f := range app.LoginSchema {
		if f.Name == "" || f.Locator == "" {
			return fmt.Errorf("app %q: schema field needs both field and locator", app.AppID)
		}
		if seen[f.Name] {
			return fmt.Errorf("app %q: duplicate schema field %q", app.AppID, f.Name)
		}
		seen[f.Name] = true

		switch f.Kind {
		case model.FieldKindText, model.FieldKindPassword, model.FieldKindHidden:
		default:
			return fmt.Errorf("app %q: schema field %q has unknown kind %q", app.AppID, f.Name, f.Kind)
		}
		// Password sync replaces the stored "password" key, so the schema
		// must name its password field exactly that.
		if f.Kind == model.FieldKindPassword && f.Name == model.FieldPassword {
			hasPassword = true
		}
	}
	if !hasPassword {
		return fmt.Errorf("app %q: login_schema declares no password field named %q", app.AppID, model.FieldPassword)
	}

	return nil
}
