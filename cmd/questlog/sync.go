package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/logging"
	"github.com/questlog/questlog/internal/syncer"
)

var syncUserID string

var syncCmd = &cobra.Command{
	Use:   "sync [account-id]",
	Short: "Run a one-off sync",
	Long: `Syncs a single linked account by ID, or every linked account of a
user when --user is given. Prints the per-account result as JSON.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && syncUserID == "" {
			return fmt.Errorf("provide an account ID or --user")
		}

		_, logger, st, registry, cat, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		orchestrator := syncer.New(st, registry, cat, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var accountIDs []string
		if len(args) == 1 {
			accountIDs = append(accountIDs, args[0])
		} else {
			accounts, err := st.ListAccounts(ctx, syncUserID)
			if err != nil {
				return fmt.Errorf("list accounts for user %s: %w", syncUserID, err)
			}
			if len(accounts) == 0 {
				return fmt.Errorf("user %s has no linked accounts", syncUserID)
			}
			for _, a := range accounts {
				accountIDs = append(accountIDs, a.ID)
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, id := range accountIDs {
			runCtx := logging.WithRunID(ctx, logging.GenerateRunID())
			result, err := orchestrator.SyncAccount(runCtx, id)
			if err != nil {
				logger.Error("sync failed", zap.String("account", id), zap.Error(err))
				continue
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
			if ctx.Err() != nil {
				break
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncUserID, "user", "", "sync every linked account of this user")
	rootCmd.AddCommand(syncCmd)
}
