// Command agentctl drives the page agent from a terminal: it opens an
// identity session, walks every granted application's login page, and lets
// the agent replay, learn, or sync credentials, prompting on stdin where a
// browser plugin would pop a dialog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/formvault/formvault/internal/adapter/driven/console"
	"github.com/formvault/formvault/internal/adapter/driven/identityapi"
	"github.com/formvault/formvault/internal/adapter/driven/statefile"
	"github.com/formvault/formvault/internal/adapter/driven/webpage"
	"github.com/formvault/formvault/internal/application"
	"github.com/formvault/formvault/internal/config"
	"github.com/formvault/formvault/internal/domain/model"
)

// maxHops bounds one application's page walk: a login, maybe a forced
// password change, and a few landings. Anything longer is a redirect loop.
const maxHops = 8

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (.env is optional; set env vars win).
	_ = godotenv.Load()
	cfg, err := config.LoadAgent()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"identity_url", cfg.IdentityURL,
		"state_path", cfg.StatePath,
		"username", cfg.Username,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire adapters: identity client, page browser, marker file, prompts.
	client, err := identityapi.NewClient(cfg.IdentityURL)
	if err != nil {
		return err
	}
	browser, err := webpage.New()
	if err != nil {
		return err
	}
	markers := statefile.New(cfg.StatePath)
	prompter := console.New()

	coord := application.NewCoordinator(client, markers, browser)
	agent := application.NewAgent(coord, markers, browser, prompter)

	// 4. Open the identity session and bootstrap the app roster.
	if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("identity login: %w", err)
	}
	slog.Info("identity session opened", "username", cfg.Username)

	apps, err := coord.Apps(ctx)
	if err != nil {
		logout(client)
		return fmt.Errorf("bootstrap: %w", err)
	}
	slog.Info("applications granted", "apps", len(apps))

	// 5. Walk each granted application's login page.
	var failed, needsUser int
	for i := range apps {
		app := &apps[i]
		last, err := visitApp(ctx, agent, browser, app)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("run interrupted", "app_id", app.AppID)
				break
			}
			slog.Error("application visit failed", "app_id", app.AppID, "error", err)
			failed++
			continue
		}
		if last.Action == model.AgentActionManual || last.Action == model.AgentActionDecisionRequired {
			needsUser++
		}
	}

	// 6. End the run: application sessions ended, markers wiped, identity
	// session closed. The signal context may already be dead, so cleanup
	// gets its own deadline.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := coord.Shutdown(cleanupCtx); err != nil {
		slog.Error("session cleanup failed", "error", err)
	}
	logout(client)

	slog.Info("run complete", "apps", len(apps), "failed", failed, "needs_user", needsUser)
	if failed > 0 {
		return fmt.Errorf("%d of %d applications failed", failed, len(apps))
	}
	return nil
}

// visitApp fetches the application's login page and feeds page loads to the
// agent until it stops navigating. Returns the final page result.
func visitApp(ctx context.Context, agent *application.Agent, browser *webpage.Browser, app *model.AppDescriptor) (*model.PageResult, error) {
	loginURL := app.Origin + app.LoginPath
	page, err := browser.Fetch(ctx, loginURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", loginURL, err)
	}

	for hop := 0; hop < maxHops; hop++ {
		result, err := agent.HandlePageLoad(ctx, page)
		if err != nil {
			return nil, err
		}
		report(result)
		if result.NextPage == nil {
			return result, nil
		}
		page = result.NextPage
	}
	return nil, fmt.Errorf("still navigating after %d page loads at %s", maxHops, page.URL)
}

func report(result *model.PageResult) {
	switch result.Action {
	case model.AgentActionReplayed:
		slog.Info("credentials replayed", "app_id", result.AppID)
	case model.AgentActionLearning:
		slog.Info("credentials captured, waiting for the landing page", "app_id", result.AppID)
	case model.AgentActionSaved:
		slog.Info("credentials stored", "app_id", result.AppID)
	case model.AgentActionDiscarded:
		slog.Info("capture discarded", "app_id", result.AppID)
	case model.AgentActionPasswordCaptured:
		slog.Info("password change captured, waiting for confirmation", "app_id", result.AppID)
	case model.AgentActionPasswordSynced:
		slog.Info("new password synced to the vault", "app_id", result.AppID)
	case model.AgentActionManual:
		slog.Info("stepping aside, log in by hand", "app_id", result.AppID)
	case model.AgentActionDecisionRequired:
		slog.Info("stored credentials failed, decision needed", "app_id", result.AppID)
	}
}

// logout closes the identity session on a best-effort basis; the session
// would expire server-side anyway.
func logout(client *identityapi.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Logout(ctx); err != nil {
		slog.Warn("identity logout failed", "error", err)
	}
}
