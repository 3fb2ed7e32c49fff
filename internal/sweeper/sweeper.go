// Package sweeper expires idle respondent sessions on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/pkg/schema"
)

// SessionExpirer is the interface the sweeper uses to expire sessions.
// Satisfied by runtime.Service (avoids an import cycle).
type SessionExpirer interface {
	ExpireSession(ctx context.Context, sessionID string) error
}

// Config controls when and how aggressively the sweeper runs.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// IdleAfter is how long a session may sit untouched before expiring.
	IdleAfter time.Duration
	// BatchLimit caps how many sessions one sweep expires.
	BatchLimit int
}

// Sweeper periodically expires sessions idle past the configured window.
type Sweeper struct {
	store   store.Store
	expirer SessionExpirer
	parser  cron.Parser
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time
}

// NewSweeper creates a Sweeper. The schedule is validated eagerly so a
// bad expression fails at startup, not at the first tick.
func NewSweeper(s store.Store, expirer SessionExpirer, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Schedule, err)
	}

	return &Sweeper{
		store:   s,
		expirer: expirer,
		parser:  parser,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Start launches the background sweep loop with a 60s ticker.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.calculateNextRun(time.Now().UTC())
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("sweeper started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("idle_after", s.cfg.IdleAfter))
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			s.mu.Lock()
			due := !s.nextRun.After(now)
			if due {
				s.nextRun = s.calculateNextRun(now)
			}
			s.mu.Unlock()
			if due {
				s.Sweep(ctx)
			}
		}
	}
}

// Sweep expires one batch of idle active sessions. Exposed so operators
// can trigger a sweep outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.cfg.IdleAfter)
	idle, err := s.store.ListIdleSessions(ctx, cutoff, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("failed to list idle sessions", slog.String("error", err.Error()))
		return 0
	}

	expired := 0
	for _, sess := range idle {
		if sess.Status != schema.SessionActive {
			continue
		}
		if err := s.expirer.ExpireSession(ctx, sess.ID); err != nil {
			s.logger.Error("failed to expire session",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired idle sessions", slog.Int("count", expired))
	}
	return expired
}

// calculateNextRun computes the next due time for the sweep schedule.
func (s *Sweeper) calculateNextRun(from time.Time) time.Time {
	schedule, err := s.parser.Parse(s.cfg.Schedule)
	if err != nil {
		// Validated in NewSweeper; fall back to a fixed interval anyway.
		return from.Add(5 * time.Minute)
	}
	return schedule.Next(from)
}
