// Package server wires the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/config"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/gamedata-cache/internal/core/middleware"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/router"
)

type Deps struct {
	Service router.Service
	// MCP is mounted at /mcp when non-nil.
	MCP            http.Handler
	Ready          health.ReadinessReporter
	Info           health.Info
	APIKeys        []string
	MetricsEnabled bool
}

// NewHandler builds the router. /datasets and /mcp sit behind the API key gate.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	if d.Ready == nil {
		d.Ready = health.Always{}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Get("/health", health.InfoHandler(d.Info))
	if d.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(d.APIKeys))
		router.Mount(r, logger, d.Service)
		if d.MCP != nil {
			r.Handle("/mcp", d.MCP)
		}
	})
	return r
}

// Run serves h on cfg.Addr until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// dataset builds can walk many upstream pages
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
