package syncer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/store"
)

// Refresher keeps linked-account credentials fresh in the background so
// scheduled syncs do not start with an expired token.
type Refresher struct {
	store    store.Store
	registry *provider.Registry
	interval time.Duration
	log      *zap.Logger
}

func NewRefresher(st store.Store, reg *provider.Registry, interval time.Duration, log *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Refresher{store: st, registry: reg, interval: interval, log: log.Named("refresher")}
}

// Start runs the refresh loop until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("token refresh loop started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("token refresh loop stopped")
			return
		case <-ticker.C:
			r.RefreshDue(ctx)
		}
	}
}

// RefreshDue refreshes credentials for every active account whose adapter
// reports the token as expiring. One pass over all accounts.
func (r *Refresher) RefreshDue(ctx context.Context) {
	accounts, err := r.store.ListActiveAccounts(ctx)
	if err != nil {
		r.log.Warn("refresh pass: list accounts failed", zap.Error(err))
		return
	}

	for i := range accounts {
		account := &accounts[i]
		adapter, err := r.registry.Get(provider.ID(account.Provider))
		if err != nil {
			continue
		}
		if !adapter.NeedsRefresh(account) {
			continue
		}

		res := adapter.RefreshToken(ctx, account)
		if !res.Success {
			if isPermanentRefreshFailure(res.Error) {
				// Re-linking is required, so stop retrying every pass.
				account.IsActive = false
				if saveErr := r.store.SaveAccount(ctx, account); saveErr != nil {
					r.log.Warn("deactivate account failed", zap.String("account", account.ID), zap.Error(saveErr))
				}
				r.log.Warn("refresh failed permanently, account deactivated",
					zap.String("account", account.ID),
					zap.String("provider", account.Provider),
					zap.String("reason", res.Error))
				continue
			}
			r.log.Warn("transient refresh failure, account remains active",
				zap.String("account", account.ID),
				zap.String("provider", account.Provider),
				zap.String("reason", res.Error))
			continue
		}

		if err := r.store.SaveAccount(ctx, res.Data); err != nil {
			r.log.Warn("save refreshed credentials failed", zap.String("account", account.ID), zap.Error(err))
			continue
		}
		r.log.Info("refreshed credentials",
			zap.String("account", account.ID),
			zap.String("provider", account.Provider))
	}
}

// isPermanentRefreshFailure distinguishes revoked grants from transient
// provider trouble so only the former deactivates the account.
func isPermanentRefreshFailure(message string) bool {
	msg := strings.ToLower(message)
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"revoked",
		"(auth)",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
