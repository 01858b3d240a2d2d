// Package config loads per-binary configuration from environment variables
// and the application registry from its YAML file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// VaultConfig holds the vault store daemon's configuration.
type VaultConfig struct {
	ListenAddr string
	DBPath     string
	// RecordKey is the 32-byte AES-256 key credential blobs are sealed with.
	RecordKey []byte
	// Instance names this process in audit entries. Any replica may serve
	// any request, so the entry records which one did.
	Instance string
}

// IdentityConfig holds the identity service daemon's configuration.
type IdentityConfig struct {
	ListenAddr    string
	DBPath        string
	VaultURL      string
	AppsPath      string
	AdminToken    string
	SessionTTL    time.Duration
	TokenTTL      time.Duration
	SweepInterval time.Duration
}

// AgentConfig holds the form-replay agent's configuration.
type AgentConfig struct {
	IdentityURL string
	Username    string
	Password    string
	// StatePath is the JSON file page markers persist in between page loads.
	StatePath string
}

// LoadVault reads vaultd configuration from environment variables.
// FORMVAULT_VAULT_KEY is required: 64 hex characters decoding to the 32-byte
// AES-256 key. Optional variables with defaults: FORMVAULT_VAULT_LISTEN_ADDR
// (127.0.0.1:8480), FORMVAULT_VAULT_DB_PATH (vault.db), FORMVAULT_INSTANCE
// (hostname).
func LoadVault() (*VaultConfig, error) {
	key, err := parseRecordKey(os.Getenv("FORMVAULT_VAULT_KEY"))
	if err != nil {
		return nil, err
	}

	instance := os.Getenv("FORMVAULT_INSTANCE")
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("FORMVAULT_INSTANCE unset and hostname lookup failed: %w", err)
		}
		instance = hostname
	}

	return &VaultConfig{
		ListenAddr: envOr("FORMVAULT_VAULT_LISTEN_ADDR", "127.0.0.1:8480"),
		DBPath:     envOr("FORMVAULT_VAULT_DB_PATH", "vault.db"),
		RecordKey:  key,
		Instance:   instance,
	}, nil
}

// LoadIdentity reads identityd configuration from environment variables.
// FORMVAULT_ADMIN_TOKEN is required. Optional variables with defaults:
// FORMVAULT_IDENTITY_LISTEN_ADDR (127.0.0.1:8470), FORMVAULT_IDENTITY_DB_PATH
// (identity.db), FORMVAULT_VAULT_URL (http://127.0.0.1:8480),
// FORMVAULT_APPS_PATH (apps.yaml), FORMVAULT_SESSION_TTL (12h),
// FORMVAULT_TOKEN_TTL (15m), FORMVAULT_SWEEP_INTERVAL (5m).
func LoadIdentity() (*IdentityConfig, error) {
	adminToken := os.Getenv("FORMVAULT_ADMIN_TOKEN")
	if adminToken == "" {
		return nil, fmt.Errorf("FORMVAULT_ADMIN_TOKEN is required")
	}

	sessionTTL, err := envDuration("FORMVAULT_SESSION_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	tokenTTL, err := envDuration("FORMVAULT_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envDuration("FORMVAULT_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return &IdentityConfig{
		ListenAddr:    envOr("FORMVAULT_IDENTITY_LISTEN_ADDR", "127.0.0.1:8470"),
		DBPath:        envOr("FORMVAULT_IDENTITY_DB_PATH", "identity.db"),
		VaultURL:      envOr("FORMVAULT_VAULT_URL", "http://127.0.0.1:8480"),
		AppsPath:      envOr("FORMVAULT_APPS_PATH", "apps.yaml"),
		AdminToken:    adminToken,
		SessionTTL:    sessionTTL,
		TokenTTL:      tokenTTL,
		SweepInterval: sweepInterval,
	}, nil
}

// LoadAgent reads agentctl configuration from environment variables.
// FORMVAULT_USERNAME and FORMVAULT_PASSWORD are required. Optional variables
// with defaults: FORMVAULT_IDENTITY_URL (http://127.0.0.1:8470),
// FORMVAULT_STATE_PATH (formvault-agent.json).
func LoadAgent() (*AgentConfig, error) {
	username := os.Getenv("FORMVAULT_USERNAME")
	if username == "" {
		return nil, fmt.Errorf("FORMVAULT_USERNAME is required")
	}
	password := os.Getenv("FORMVAULT_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("FORMVAULT_PASSWORD is required")
	}

	return &AgentConfig{
		IdentityURL: envOr("FORMVAULT_IDENTITY_URL", "http://127.0.0.1:8470"),
		Username:    username,
		Password:    password,
		StatePath:   envOr("FORMVAULT_STATE_PATH", "formvault-agent.json"),
	}, nil
}

// parseRecordKey decodes the hex-encoded AES-256 key and enforces its length.
// Absence is a fatal configuration error: the vault never runs unencrypted.
func parseRecordKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("FORMVAULT_VAULT_KEY is required")
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("FORMVAULT_VAULT_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("FORMVAULT_VAULT_KEY must be 64 hex characters (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	return parsed, nil
}
