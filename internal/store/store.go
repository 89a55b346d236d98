// Package store is the persistence boundary of the sync engine. The engine
// only needs a handful of operations — upsert by natural key, achievement
// replacement, watermark commit — and depends on the interface so tests and
// the orchestrator never touch gorm directly.
package store

import (
	"context"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
)

// Store is the set of persistence operations the sync engine performs.
// Callers guarantee at most one in-flight sync per linked account, so the
// implementations need no locking of their own.
type Store interface {
	// GetAccount loads one linked account by ID.
	GetAccount(ctx context.Context, id string) (*models.LinkedAccount, error)
	// GetAccountByUserProvider loads the account for a (user, provider)
	// pair, or nil when none is linked.
	GetAccountByUserProvider(ctx context.Context, userID string, p provider.ID) (*models.LinkedAccount, error)
	// ListAccounts lists a user's linked accounts.
	ListAccounts(ctx context.Context, userID string) ([]models.LinkedAccount, error)
	// ListActiveAccounts lists every active account across all users,
	// used by the background credential refresher.
	ListActiveAccounts(ctx context.Context) ([]models.LinkedAccount, error)
	// SaveAccount persists the full account row (tokens, metadata,
	// profile fields).
	SaveAccount(ctx context.Context, account *models.LinkedAccount) error
	// CommitWatermark advances the account's last-sync timestamp.
	CommitWatermark(ctx context.Context, accountID string, at time.Time) error

	// UpsertGame creates or updates the game row identified by
	// (accountID, game.ProviderGameID), returning the stored row and
	// whether it was created. Completion fields are never written.
	UpsertGame(ctx context.Context, accountID string, game provider.Game) (*models.OwnedGame, bool, error)
	// UpdateGameLastPlayed sets a game's last-played timestamp.
	UpdateGameLastPlayed(ctx context.Context, gameID uint, at time.Time) error
	// ListGames lists an account's stored games.
	ListGames(ctx context.Context, accountID string) ([]models.OwnedGame, error)

	// UnlockedAchievementIDs returns the provider achievement IDs
	// currently stored as unlocked for a game.
	UnlockedAchievementIDs(ctx context.Context, gameID uint) (map[string]bool, error)
	// CountUnlocked returns the stored unlocked-achievement count for a
	// game.
	CountUnlocked(ctx context.Context, gameID uint) (int64, error)
	// CountAchievements returns the total stored achievement rows for a
	// game.
	CountAchievements(ctx context.Context, gameID uint) (int64, error)
	// ReplaceAchievements deletes a game's achievement rows and inserts
	// the fetched set, so stale provider IDs never linger.
	ReplaceAchievements(ctx context.Context, gameID uint, achievements []provider.Achievement) error
}
