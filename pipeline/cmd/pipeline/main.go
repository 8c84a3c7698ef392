package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/impactwatch/impactwatch/common/config"
	"github.com/impactwatch/impactwatch/common/logging"
	"github.com/impactwatch/impactwatch/pipeline/internal/handlers"
	"github.com/impactwatch/impactwatch/pipeline/internal/scheduler"
	"github.com/impactwatch/impactwatch/pipeline/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("pipeline exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	if n, err := app.svc.Restore(ctx); err != nil {
		logger.Warn("failed to restore canonical signals", logging.Error(err))
	} else if n > 0 {
		logger.Info("restored canonical signals", slog.Int("count", n))
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(app.svc, app.svc.RetryQueue(), scheduler.Options{
			Interval:    cfg.Scheduler.Interval,
			Concurrency: cfg.Scheduler.Concurrency,
		}, logger)
		go sched.Start(ctx)
	}

	handler := handlers.NewHandler(app.svc, app.deadLetters(), app.broker(), logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pipeline listening", slog.String("addr", srv.Addr), slog.Int("watches", len(cfg.Watches)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", logging.Error(err))
	}
	if err := app.svc.Close(shutdownCtx); err != nil {
		logger.Warn("in-flight work did not finish", logging.Error(err))
	}
	logger.Info("pipeline stopped")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return cfg.Server.WriteTimeout
}
