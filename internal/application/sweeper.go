package application

import (
	"context"
	"log/slog"
	"time"
)

// expiryStore is the slice of SessionStore and TokenStore the sweeper needs.
type expiryStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SweepService periodically purges expired sessions and plugin tokens.
// Expiry checks at read time already reject stale rows; the sweeper just
// keeps the tables from accumulating them.
type SweepService struct {
	sessions expiryStore
	tokens   expiryStore
	interval time.Duration
}

// NewSweepService creates a SweepService with the required dependencies.
func NewSweepService(sessions, tokens expiryStore, interval time.Duration) *SweepService {
	return &SweepService{
		sessions: sessions,
		tokens:   tokens,
		interval: interval,
	}
}

// Start begins the sweep loop. It runs an immediate sweep, then sweeps on the
// configured interval. Start blocks until the context is canceled.
func (s *SweepService) Start(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep service stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SweepService) sweep(ctx context.Context) {
	now := time.Now().UTC()

	sessions, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
	}

	tokens, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("token sweep failed", "error", err)
	}

	if sessions > 0 || tokens > 0 {
		slog.Info("sweep cycle complete", "sessions", sessions, "tokens", tokens)
	}
}
