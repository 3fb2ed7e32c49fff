package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/canvass/canvass/internal/authoring"
	"github.com/canvass/canvass/internal/dsl"
	"github.com/canvass/canvass/internal/logging"
	"github.com/canvass/canvass/internal/ordering"
	"github.com/canvass/canvass/internal/piping"
	"github.com/canvass/canvass/internal/runtime"
	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/internal/sweeper"
	"github.com/canvass/canvass/internal/validation"
)

func main() {
	cfg := loadConfig()

	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	validator, err := validation.NewSurveyValidator()
	if err != nil {
		return err
	}

	svc := runtime.NewService(
		st,
		dsl.NewEvaluator(logger),
		ordering.NewEngine(st, nil, logger),
		piping.NewInterpolator(),
		logger,
	)
	importer := authoring.NewImporter(st, validator, logger)

	sw, err := sweeper.NewSweeper(st, svc, sweeper.Config{
		Schedule:   cfg.SweepSchedule,
		IdleAfter:  time.Duration(cfg.SessionIdleMins) * time.Minute,
		BatchLimit: cfg.SweepBatchLimit,
	}, logger)
	if err != nil {
		return err
	}
	if err := sw.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sw.Stop() }()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewServer(svc, importer, st, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("canvass listening", slog.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
