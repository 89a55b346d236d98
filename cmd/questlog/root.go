package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/config"
	"github.com/questlog/questlog/internal/db"
	"github.com/questlog/questlog/internal/logging"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/provider/catalog"
	"github.com/questlog/questlog/internal/provider/epic"
	"github.com/questlog/questlog/internal/provider/psn"
	"github.com/questlog/questlog/internal/provider/riot"
	"github.com/questlog/questlog/internal/provider/steam"
	"github.com/questlog/questlog/internal/provider/xbox"
	"github.com/questlog/questlog/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "questlog",
	Short: "Gaming platform library and achievement sync service",
	Long: `Questlog links Steam, PlayStation, Xbox, Epic and Riot accounts and
keeps a unified local copy of each account's game library and achievements.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if l, logErr := logging.New("debug", "console"); logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

// bootstrap loads config, builds the logger, opens the database and wires
// the provider registry. Shared by the serve and sync commands.
func bootstrap() (*config.Config, *zap.Logger, *store.GormStore, *provider.Registry, *catalog.Catalog, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	database, err := db.Init(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("initialize database: %w", err)
	}

	st := store.NewGormStore(database)

	var adapters []provider.Adapter
	if cfg.Providers.Steam.Enabled {
		adapters = append(adapters, steam.New(cfg.Providers.Steam.APIKey, logger))
	}
	if cfg.Providers.PlayStation.Enabled {
		adapters = append(adapters, psn.New(logger))
	}
	if cfg.Providers.Xbox.Enabled {
		adapters = append(adapters, xbox.New(
			cfg.Providers.Xbox.ClientID,
			cfg.Providers.Xbox.ClientSecret,
			cfg.Providers.Xbox.RedirectURL,
			logger))
	}
	if cfg.Providers.Epic.Enabled {
		adapters = append(adapters, epic.New(
			cfg.Providers.Epic.ClientID,
			cfg.Providers.Epic.ClientSecret,
			logger))
	}
	if cfg.Providers.Riot.Enabled {
		adapters = append(adapters, riot.New(cfg.Providers.Riot.APIKey, logger))
	}
	if len(adapters) == 0 {
		return nil, nil, nil, nil, nil, fmt.Errorf("no providers enabled; enable at least one in configuration")
	}
	registry := provider.NewRegistry(adapters...)

	cat, err := catalog.Load(cfg.Sync.CatalogPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("load sync catalog: %w", err)
	}

	return cfg, logger, st, registry, cat, nil
}
