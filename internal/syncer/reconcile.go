package syncer

import (
	"context"
	"fmt"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/provider/catalog"
	"github.com/questlog/questlog/internal/store"
	"go.uber.org/zap"
)

// Reconciler maps fetched provider state onto stored rows: games are
// upserted by natural key, achievement rows are rewritten according to the
// provider's persistence strategy, and achievement activity backfills a
// game's last-played when the provider hides it.
type Reconciler struct {
	store store.Store
	log   *zap.Logger
}

// NewReconciler builds a reconciler over the given store.
func NewReconciler(st store.Store, log *zap.Logger) *Reconciler {
	return &Reconciler{store: st, log: log.Named("reconcile")}
}

// ReconcileGame upserts one fetched game, returning the stored row and
// whether it was created.
func (r *Reconciler) ReconcileGame(ctx context.Context, accountID string, game provider.Game) (*models.OwnedGame, bool, error) {
	return r.store.UpsertGame(ctx, accountID, game)
}

// AchievementOutcome reports what one game's achievement reconciliation did.
type AchievementOutcome struct {
	// Written is the number of achievement rows persisted (zero when the
	// conditional strategy skipped the rewrite).
	Written int
	// NewlyUnlocked lists provider achievement IDs that are unlocked now
	// but were not before this sync.
	NewlyUnlocked []string
	// LastPlayedUpdated reports whether the game's last-played was
	// backfilled from achievement activity.
	LastPlayedUpdated bool
}

// ReconcileAchievements persists a game's fetched achievement state. A
// non-empty report replaces the stored set wholesale, so stale achievement
// IDs the provider stopped reporting never linger. An empty report writes
// nothing: adapters deliver both "no data for this game" and a genuinely
// empty published set as an empty payload, and the two cannot be told
// apart here, so stored rows are kept rather than wiped on provider
// regressions.
func (r *Reconciler) ReconcileAchievements(ctx context.Context, game *models.OwnedGame, fetched *provider.AchievementSync, existingUnlocked map[string]bool, strategy catalog.Strategy) (*AchievementOutcome, error) {
	out := &AchievementOutcome{}

	newUnlockedCount := 0
	for _, a := range fetched.Achievements {
		if a.Unlocked {
			newUnlockedCount++
			if !existingUnlocked[a.ProviderAchievementID] {
				out.NewlyUnlocked = append(out.NewlyUnlocked, a.ProviderAchievementID)
			}
		}
	}

	write := true
	if strategy == catalog.StrategyConditional {
		storedUnlocked, err := r.store.CountUnlocked(ctx, game.ID)
		if err != nil {
			return nil, err
		}
		storedTotal, err := r.store.CountAchievements(ctx, game.ID)
		if err != nil {
			return nil, err
		}
		// Rewrite only when the unlocked count moved, or definitions
		// appeared for a game that had no rows stored yet.
		write = int64(newUnlockedCount) != storedUnlocked ||
			(storedTotal == 0 && len(fetched.Achievements) > 0)
	}

	if write && len(fetched.Achievements) > 0 {
		if err := r.store.ReplaceAchievements(ctx, game.ID, fetched.Achievements); err != nil {
			return nil, fmt.Errorf("replace achievements for game %s: %w", game.ProviderGameID, err)
		}
		out.Written = len(fetched.Achievements)
	}

	// Achievement activity stands in for a missing last-played signal.
	if fetched.MostRecentUnlock != nil {
		if game.LastPlayedAt == nil || fetched.MostRecentUnlock.After(*game.LastPlayedAt) {
			if err := r.store.UpdateGameLastPlayed(ctx, game.ID, *fetched.MostRecentUnlock); err != nil {
				return nil, err
			}
			game.LastPlayedAt = fetched.MostRecentUnlock
			out.LastPlayedUpdated = true
		}
	}

	if len(out.NewlyUnlocked) > 0 {
		r.log.Debug("new unlocks detected",
			zap.String("game", game.ProviderGameID),
			zap.Int("count", len(out.NewlyUnlocked)))
	}
	return out, nil
}
