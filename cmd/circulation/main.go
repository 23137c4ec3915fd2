// Package main runs the library circulation desk API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/calendar"
	"libracirc/internal/config"
	"libracirc/internal/server"
	"libracirc/internal/storage"
	"libracirc/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "circulation")
	if err != nil {
		sugar.Fatalw("telemetry initialization error", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("telemetry shutdown error", "error", err.Error())
		}
	}()

	db, err := storage.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer db.Close()

	app, err := server.Build(cfg, db, calendar.Clock(time.Now), logger)
	if err != nil {
		sugar.Fatalw("service assembly error", "error", err.Error())
	}

	if cfg.BootstrapOperatorLogin != "" {
		if err := app.Membership.EnsureOperator(ctx, cfg.BootstrapOperatorLogin, cfg.BootstrapOperatorPassword); err != nil {
			sugar.Fatalw("bootstrap operator error", "error", err.Error())
		}
	}
	if cfg.SessionSecret == "" {
		sugar.Warn("SESSION_SECRET is not set; operator sessions will not survive a restart")
	}

	srv := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           app.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting circulation server", "addr", cfg.RunAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
