// Package app wires configuration, storage and HTTP into the mrkniai command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrkniai/backend/internal/config"
	"github.com/mrkniai/backend/internal/db"
	"github.com/mrkniai/backend/internal/handlers"
	"github.com/mrkniai/backend/internal/httpserver"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/middleware"
)

// Run bootstraps the MrkniAI backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Ping(ctx, pool, 5*time.Second); err != nil {
		logger.Warn("database unreachable at startup", "error", err)
	}

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)
	handler := middleware.RequestLogger(logger)(mux)

	srv := httpserver.New(cfg.AppPort, handler)
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr(), err)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting http server", "port", cfg.AppPort)
	serveErr := srv.Run(runCtx, ln)
	logger.Info("http server stopped")

	shutdownCtx, cancel := httpserver.ShutdownContext()
	defer cancel()
	if err := cleanup(shutdownCtx); err != nil {
		logger.Warn("background shutdown incomplete", "error", err)
	}

	return serveErr
}
