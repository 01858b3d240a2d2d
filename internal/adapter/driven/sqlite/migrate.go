package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// The vault store and the identity service own separate databases with
// separate schemas, so each carries its own embedded migration set.
//
//go:embed migrations/vault/*.sql
var vaultMigrationsFS embed.FS

//go:embed migrations/identity/*.sql
var identityMigrationsFS embed.FS

// RunVaultMigrations applies all pending vault store migrations. Safe to
// call on every startup; already-applied migrations are skipped.
func RunVaultMigrations(db *sql.DB) error {
	return runMigrations(db, vaultMigrationsFS, "migrations/vault")
}

// RunIdentityMigrations applies all pending identity service migrations.
// Safe to call on every startup; already-applied migrations are skipped.
func RunIdentityMigrations(db *sql.DB) error {
	return runMigrations(db, identityMigrationsFS, "migrations/identity")
}

func runMigrations(db *sql.DB, fsys embed.FS, dir string) error {
	sourceDriver, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
