package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupVaultDB creates a named shared in-memory SQLite database with the
// vault store schema applied.
func setupVaultDB(t *testing.T) *DB {
	t.Helper()
	db := setupTestDB(t, "vault")
	if err := RunVaultMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run vault migrations: %v", err)
	}
	return db
}

// setupIdentityDB creates a named shared in-memory SQLite database with the
// identity service schema applied.
func setupIdentityDB(t *testing.T) *DB {
	t.Helper()
	db := setupTestDB(t, "identity")
	if err := RunIdentityMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run identity migrations: %v", err)
	}
	return db
}

// setupTestDB opens writer and reader connections sharing one in-memory
// database via cache=shared. A unique name derived from t.Name() keeps
// parallel tests isolated.
func setupTestDB(t *testing.T, suffix string) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the "file:%s?..." DSN.
	safeName := url.PathEscape(t.Name() + "_" + suffix)
	// WAL mode is not applicable to in-memory databases; omit journal_mode pragma.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("create test db writer: %v", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(context.Background()); err != nil {
		_ = writer.Close()
		t.Fatalf("ping test db writer: %v", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		t.Fatalf("create test db reader: %v", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(context.Background()); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		t.Fatalf("ping test db reader: %v", err)
	}

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// testKey returns a fixed 32-byte AES-256 key for repo tests.
func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}
