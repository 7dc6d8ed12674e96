package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/health"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/server"
	"github.com/mohammed-shakir/gamedata-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/gamedata-cache/internal/mcpserver"
)

var (
	serveAddr     string
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the MCP endpoint and the invalidation consumer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides ADDR)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 5*time.Minute, "expired row sweep interval for the sqlite store")
	rootCmd.AddCommand(serveCmd)
}

// sweeper is implemented by stores that evict expired entries lazily.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, "server", os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	a.log.Info("starting gamedata-cache",
		"addr", cfg.Addr,
		"version", Version,
		"dataset_version", model.DatasetVersion,
		"store", cfg.StoreDriver,
		"mcp", cfg.MCPEnabled,
		"invalidation", cfg.Invalidation.Enabled)
	if cfg.Upstream.APIKey == "" {
		a.log.Warn("RAWG_API_KEY is not set; dataset fetches will fail")
	}

	deps := server.Deps{
		Service: a.engine,
		Ready:   health.Always{},
		Info: health.Info{
			Service:        serviceName,
			Version:        Version,
			DatasetVersion: model.DatasetVersion,
		},
		APIKeys:        cfg.APIKeys,
		MetricsEnabled: cfg.MetricsEnabled,
	}
	if cfg.MCPEnabled {
		deps.MCP = mcpserver.Handler(mcpserver.New(a.engine, Version, a.log))
	}

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), a.log, a.engine)
		deps.Ready = consumer
		go func() {
			if err := consumer.Start(ctx); err != nil {
				a.log.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if sw, ok := a.store.(sweeper); ok && sweepInterval > 0 {
		go sweepLoop(ctx, a, sw)
	}

	if err := server.Run(ctx, cfg, a.log, server.NewHandler(a.log, deps)); err != nil {
		a.log.Error("server exited with error", "err", err)
		return err
	}
	a.log.Info("server stopped")
	return nil
}

func sweepLoop(ctx context.Context, a *app, sw sweeper) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				a.log.Warn("store sweep failed", "err", err)
				continue
			}
			if n > 0 {
				a.log.Debug("store sweep", "removed", n)
			}
		}
	}
}
