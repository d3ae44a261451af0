package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"faceauth/internal/platform/config"
	"faceauth/internal/platform/httpserver"
	"faceauth/internal/platform/logger"
)

// main loads configuration, wires the service graph and runs the HTTP server
// until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "faceauth: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("faceauth exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := httpserver.New(cfg.Server, app.router)
	g, gctx := errgroup.WithContext(ctx)

	// The worker outlives the request context so events emitted by in-flight
	// requests are persisted; it stops once the publisher closes its queue.
	if app.auditWorker != nil {
		g.Go(func() error {
			return app.auditWorker.Run(context.WithoutCancel(ctx))
		})
	}

	g.Go(func() error {
		log.Info("starting faceauth",
			"addr", cfg.Server.Addr,
			"env", cfg.Env,
			"storage", cfg.Storage.Backend,
			"lockout_backend", cfg.Lockout.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		log.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		app.publisher.Close()
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
