package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"golang.org/x/time/rate"

	sqliteadapter "github.com/formvault/formvault/internal/adapter/driven/sqlite"
	"github.com/formvault/formvault/internal/adapter/driven/vaultapi"
	"github.com/formvault/formvault/internal/adapter/driving/identityhttp"
	"github.com/formvault/formvault/internal/adapter/driving/middleware"
	"github.com/formvault/formvault/internal/application"
	"github.com/formvault/formvault/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (.env is optional; set env vars win).
	_ = godotenv.Load()
	cfg, err := config.LoadIdentity()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"vault_url", cfg.VaultURL,
		"apps_path", cfg.AppsPath,
		"session_ttl", cfg.SessionTTL,
		"token_ttl", cfg.TokenTTL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunIdentityMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	identities := sqliteadapter.NewIdentityRepo(db)
	grants := sqliteadapter.NewGrantRepo(db)
	sessions := sqliteadapter.NewSessionRepo(db)
	tokens := sqliteadapter.NewTokenRepo(db)

	registry, err := config.LoadAppRegistry(cfg.AppsPath)
	if err != nil {
		return err
	}
	slog.Info("application registry loaded", "path", cfg.AppsPath, "apps", len(registry.List()))

	vault := vaultapi.NewClient(cfg.VaultURL)

	// 6. Create application services.
	sessionSvc := application.NewSessionService(identities, sessions, tokens, cfg.SessionTTL)
	delegationSvc := application.NewDelegationService(identities, grants, tokens, registry, vault, cfg.TokenTTL)
	adminSvc := application.NewAdminService(identities, grants, sessions, tokens, registry, vault)

	// 7. Create and start the expiry sweeper.
	sweeper := application.NewSweepService(sessions, tokens, cfg.SweepInterval)
	go sweeper.Start(ctx)

	// 8. Create HTTP handler and register routes. Only login is rate
	// limited: per client IP, one attempt per second with a small burst.
	h := identityhttp.NewHandler(sessionSvc, delegationSvc, adminSvc, registry, vault, db, cfg.AdminToken, slog.Default())
	loginLimiter := middleware.NewRateLimiter(rate.Limit(1), 5)
	handler := identityhttp.NewServeMux(h, loginLimiter, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 9. Log startup complete.
	slog.Info("identityd started",
		"listen_addr", cfg.ListenAddr,
		"apps", len(registry.List()),
		"sweep_interval", cfg.SweepInterval,
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
