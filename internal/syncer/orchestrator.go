// Package syncer drives one linked account's synchronization: auth check,
// token refresh, game-list fetch, the full-vs-incremental window decision,
// per-game achievement fetches under the provider's concurrency policy, and
// the watermark commit.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/provider/catalog"
	"github.com/questlog/questlog/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSyncInFlight is returned when a sync is requested for an account whose
// previous sync has not completed. Concurrent syncs of one account would
// race on the watermark and achievement rewrites, so the second request is
// rejected.
var ErrSyncInFlight = errors.New("sync already in flight for this account")

// GameStatus reports the outcome for one game in a sync run.
type GameStatus struct {
	ProviderGameID string `json:"providerGameId"`
	Name           string `json:"name"`
	Created        bool   `json:"created"`
	Achievements   int    `json:"achievements"`
	NewUnlocks     int    `json:"newUnlocks"`
	Error          string `json:"error,omitempty"`
}

// Result is the uniform payload every sync entry point returns.
type Result struct {
	Success            bool         `json:"success"`
	FullSync           bool         `json:"fullSync"`
	SyncedGames        int          `json:"syncedGames"`
	SyncedAchievements int          `json:"syncedAchievements"`
	Games              []GameStatus `json:"games"`
	Error              string       `json:"error,omitempty"`
}

func failed(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// Orchestrator runs account syncs. It enforces at most one in-flight sync
// per linked account; different accounts sync concurrently with no shared
// state.
type Orchestrator struct {
	store      store.Store
	registry   *provider.Registry
	catalog    *catalog.Catalog
	reconciler *Reconciler
	log        *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an orchestrator.
func New(st store.Store, registry *provider.Registry, cat *catalog.Catalog, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      st,
		registry:   registry,
		catalog:    cat,
		reconciler: NewReconciler(st, log),
		log:        log.Named("syncer"),
		inflight:   make(map[string]struct{}),
	}
}

// SyncAccount synchronizes one linked account. The returned error is
// reserved for ErrSyncInFlight and account-loading failures; every
// provider-level outcome, including failure, is described by the Result.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (*Result, error) {
	if !o.acquire(accountID) {
		return nil, ErrSyncInFlight
	}
	defer o.release(accountID)

	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	adapter, err := o.registry.Get(provider.ID(account.Provider))
	if err != nil {
		return nil, err
	}
	policy := o.catalog.Policy(adapter.Provider())
	log := o.log.With(zap.String("account", account.ID), zap.String("provider", account.Provider))

	// AUTH_CHECK / TOKEN_REFRESH: never continue with stale tokens.
	if adapter.NeedsRefresh(account) {
		refresh := adapter.RefreshToken(ctx, account)
		if !refresh.Success {
			log.Warn("token refresh failed", zap.String("error", refresh.Error))
			return failed("authentication failed: %s", refresh.Error), nil
		}
		account = refresh.Data
		if err := o.store.SaveAccount(ctx, account); err != nil {
			return nil, err
		}
		log.Debug("token refreshed")
	}

	start := time.Now().UTC()

	// FETCH_GAMES: total failure here aborts the run; the watermark stays.
	gamesRes := adapter.SyncGames(ctx, account)
	if !gamesRes.Success {
		log.Warn("game list fetch failed", zap.String("error", gamesRes.Error))
		return failed("game sync failed: %s", gamesRes.Error), nil
	}

	fullSync := account.LastSyncAt == nil
	filtered := filterWindow(gamesRes.Data, account.LastSyncAt, policy.GraceMargin)
	log.Info("game list fetched",
		zap.Bool("full", fullSync),
		zap.Int("fetched", len(gamesRes.Data)),
		zap.Int("in_window", len(filtered)))

	result := &Result{Success: true, FullSync: fullSync}

	// RECONCILE games before achievements so achievement fetches operate
	// on stored rows.
	type unit struct {
		row     *models.OwnedGame
		created bool
	}
	units := make([]unit, 0, len(filtered))
	for _, g := range filtered {
		row, created, err := o.reconciler.ReconcileGame(ctx, account.ID, g)
		if err != nil {
			return nil, err
		}
		units = append(units, unit{row: row, created: created})
	}
	result.SyncedGames = len(units)

	// FETCH_ACHIEVEMENTS: per-game failures are recorded, never abort the
	// batch. A cancelled context stops scheduling new units but lets the
	// in-flight ones finish; the watermark is then withheld.
	statuses := make([]GameStatus, len(units))
	runUnit := func(i int) {
		u := units[i]
		st := GameStatus{ProviderGameID: u.row.ProviderGameID, Name: u.row.Name, Created: u.created}
		defer func() { statuses[i] = st }()

		// The unit runs to completion even if the run is cancelled
		// mid-flight.
		unitCtx := context.WithoutCancel(ctx)

		existing, err := o.store.UnlockedAchievementIDs(unitCtx, u.row.ID)
		if err != nil {
			st.Error = err.Error()
			return
		}
		achRes := adapter.SyncAchievements(unitCtx, account, u.row, existing)
		if !achRes.Success {
			st.Error = achRes.Error
			return
		}
		outcome, err := o.reconciler.ReconcileAchievements(unitCtx, u.row, achRes.Data, existing, policy.Strategy)
		if err != nil {
			st.Error = err.Error()
			return
		}
		st.Achievements = len(achRes.Data.Achievements)
		st.NewUnlocks = len(outcome.NewlyUnlocked)
	}

	if policy.Concurrency == catalog.ConcurrencyBatched && policy.BatchSize > 1 {
		o.runBatched(ctx, len(units), policy, runUnit)
	} else {
		for i := range units {
			if ctx.Err() != nil {
				break
			}
			runUnit(i)
		}
	}

	for _, st := range statuses {
		if st.ProviderGameID == "" {
			continue // unit never started (cancelled)
		}
		if st.Error == "" {
			result.SyncedAchievements += st.Achievements
		}
		result.Games = append(result.Games, st)
	}

	// COMMIT_WATERMARK: games are the authority for incrementality, so
	// per-game achievement errors do not block the advance. A cancelled
	// run commits nothing.
	if ctx.Err() != nil {
		log.Warn("sync cancelled, watermark withheld")
		return failed("sync cancelled"), nil
	}
	if err := o.store.CommitWatermark(ctx, account.ID, start); err != nil {
		return nil, err
	}

	log.Info("sync complete",
		zap.Int("games", result.SyncedGames),
		zap.Int("achievements", result.SyncedAchievements),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// runBatched executes units in fixed-size concurrent batches with a pause
// between batches. No new batch starts after cancellation.
func (o *Orchestrator) runBatched(ctx context.Context, n int, policy catalog.Policy, runUnit func(int)) {
	for base := 0; base < n; base += policy.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := base + policy.BatchSize
		if end > n {
			end = n
		}

		var g errgroup.Group
		for i := base; i < end; i++ {
			g.Go(func() error {
				runUnit(i)
				return nil
			})
		}
		g.Wait()

		if end < n && policy.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(policy.BatchPause):
			}
		}
	}
}

// filterWindow applies the incremental-sync filter: with no watermark every
// game is kept; otherwise a game survives when its last-played falls after
// the watermark minus the grace margin, or — when the provider reports no
// last-played — when an installed/recent-playtime signal suggests activity.
func filterWindow(games []provider.Game, lastSync *time.Time, margin time.Duration) []provider.Game {
	if lastSync == nil {
		return games
	}
	cutoff := lastSync.Add(-margin)

	kept := games[:0:0]
	for _, g := range games {
		if g.LastPlayed != nil {
			if g.LastPlayed.After(cutoff) {
				kept = append(kept, g)
			}
			continue
		}
		if g.RecentPlaytimeMinutes > 0 || g.Installed {
			kept = append(kept, g)
		}
	}
	return kept
}

func (o *Orchestrator) acquire(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[accountID]; busy {
		return false
	}
	o.inflight[accountID] = struct{}{}
	return true
}

func (o *Orchestrator) release(accountID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, accountID)
}
