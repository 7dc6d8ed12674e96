package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/record"
	_ "github.com/mohammed-shakir/gamedata-cache/internal/cache/redisstore"
	_ "github.com/mohammed-shakir/gamedata-cache/internal/cache/sqlitestore"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/config"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/dataset"
	"github.com/mohammed-shakir/gamedata-cache/internal/datasetevents"
	"github.com/mohammed-shakir/gamedata-cache/internal/directory"
	"github.com/mohammed-shakir/gamedata-cache/internal/fetcher"
	"github.com/mohammed-shakir/gamedata-cache/internal/logger"
	"github.com/mohammed-shakir/gamedata-cache/internal/rawg"
)

const serviceName = "gamedata-cache"

var (
	logLevel    string
	storeDriver string
)

var rootCmd = &cobra.Command{
	Use:          "gamedata",
	Short:        "Cached RAWG game datasets with queries and calculations",
	Long:         "gamedata fetches filtered RAWG game listings, caches the aggregated dataset and answers queries and calculations over it.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "store driver: redis or sqlite (overrides STORE_DRIVER)")
	rootCmd.Version = Version
}

// app holds the wiring shared by every subcommand.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  cache.Store
	engine *dataset.Engine
	events *datasetevents.Publisher
}

func loadConfig() config.Config {
	cfg := config.FromEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if storeDriver != "" {
		cfg.StoreDriver = storeDriver
	}
	return cfg
}

func newApp(ctx context.Context, component string, logOut io.Writer) (*app, error) {
	cfg := loadConfig()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   serviceName,
		Component: component,
	}, logOut)
	log := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version, model.DatasetVersion)

	store, err := cache.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rc, err := rawg.New(log, httpclient.NewOutbound(cfg.Upstream.Timeout), cfg.Upstream)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	dirs := record.New[model.PlatformDirectoryRecord](store, "platform_directory", model.PlatformDirectoryVersion, log)
	resolver := directory.NewResolver(log, rc, dirs, cfg.Upstream.PlatformTTL, cfg.Upstream.DirectoryPages)
	f := fetcher.New(log, rc, resolver, cfg.DatasetTTL, cfg.Upstream.HardLimit)

	a := &app{cfg: cfg, log: log, store: store}

	var opts []dataset.Option
	if cfg.Events.Enabled {
		pub, err := datasetevents.NewPublisher(log, config.SplitCSV(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.QueueSize)
		if err != nil {
			closeStore(store)
			return nil, fmt.Errorf("dataset events: %w", err)
		}
		a.events = pub
		opts = append(opts, dataset.WithEvents(pub))
	}
	a.engine = dataset.NewEngine(log, store, f, cfg.DatasetTTL, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("dataset events close", "err", err)
		}
	}
	closeStore(a.store)
}

func closeStore(s cache.Store) {
	if c, ok := s.(cache.Closer); ok {
		_ = c.Close()
	}
}
