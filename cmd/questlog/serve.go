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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/httpapi"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/syncer"
)

func providerNames(ids []provider.ID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync service HTTP server",
	Long:  `Starts the HTTP API and the background credential refresh loop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, st, registry, cat, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		orchestrator := syncer.New(st, registry, cat, logger)
		linker := syncer.NewLinker(st, registry, logger)
		refresher := syncer.NewRefresher(st, registry, cfg.Sync.RefreshInterval, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go refresher.Start(ctx)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(st, linker, orchestrator, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening",
				zap.String("addr", addr),
				zap.Strings("providers", providerNames(registry.IDs())))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
