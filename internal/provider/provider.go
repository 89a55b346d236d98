// Package provider defines the uniform contract every platform adapter
// implements: authenticate, refresh, list owned games, list achievements for
// a game. Each adapter encapsulates one provider's transport quirks; callers
// only ever see the normalized types below.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/questlog/questlog/internal/db/models"
)

// ID identifies one of the supported platforms.
type ID string

const (
	Steam       ID = "steam"
	PlayStation ID = "playstation"
	Xbox        ID = "xbox"
	Epic        ID = "epic"
	Riot        ID = "riot"
)

// All lists every supported provider ID.
func All() []ID {
	return []ID{Steam, PlayStation, Xbox, Epic, Riot}
}

// Valid reports whether s names a supported provider.
func Valid(s string) bool {
	switch ID(s) {
	case Steam, PlayStation, Xbox, Epic, Riot:
		return true
	}
	return false
}

// SyncResult is the uniform adapter return envelope. Expected provider
// failures (auth expired, not found, rate limited) are encoded as
// Success=false with a descriptive Error; Go errors are reserved for
// programmer mistakes and transport plumbing inside the adapters.
type SyncResult[T any] struct {
	Success bool
	Data    T
	Error   string
}

// Ok wraps a successful payload.
func Ok[T any](data T) SyncResult[T] {
	return SyncResult[T]{Success: true, Data: data}
}

// Fail builds a failed result with a formatted message.
func Fail[T any](format string, args ...any) SyncResult[T] {
	return SyncResult[T]{Error: fmt.Sprintf(format, args...)}
}

// UserProfile is the normalized identity an adapter returns from a
// successful authentication.
type UserProfile struct {
	AccountID   string
	Username    string
	DisplayName string
	AvatarURL   string
	ProfileURL  string
}

// Game is one owned game as reported by a provider.
type Game struct {
	ProviderGameID        string
	Name                  string
	Platform              string // generation hint where the provider needs one (PSN)
	PlaytimeMinutes       int
	RecentPlaytimeMinutes int
	LastPlayed            *time.Time
	IconURL               string
	CoverURL              string
	Installed             bool
}

// Achievement is one achievement/trophy in its current provider-reported
// state.
type Achievement struct {
	ProviderAchievementID string
	Name                  string
	Description           string
	IconURL               string
	Unlocked              bool
	UnlockedAt            *time.Time
	EarnedRate            float64
	Points                int
}

// AchievementSync is the payload of a per-game achievement fetch.
// MostRecentUnlock is the newest unlock timestamp among achievements NOT
// already present in the caller's known-unlocked set; reconciliation uses it
// to backfill a game's last-played when the provider's game list hides
// recent activity.
type AchievementSync struct {
	Achievements     []Achievement
	MostRecentUnlock *time.Time
}

// LinkResult is what an adapter hands back after authenticating fresh input:
// the normalized profile plus the credential/metadata blobs the caller must
// persist on the LinkedAccount for subsequent syncs.
type LinkResult struct {
	Profile     UserProfile
	Credentials string
	Metadata    string
}

// Adapter is the uniform per-provider contract. Implementations must not
// panic or return Go errors for recoverable provider rejections; those are
// SyncResult failures.
type Adapter interface {
	Provider() ID

	// Authenticate validates the raw credential input locally, then performs
	// the provider handshake and returns the normalized profile together
	// with the blobs to persist.
	Authenticate(ctx context.Context, input json.RawMessage) SyncResult[*LinkResult]

	// NeedsRefresh cheaply reports whether the stored access material is
	// absent or expired. Providers with fixed API keys always return false.
	NeedsRefresh(account *models.LinkedAccount) bool

	// RefreshToken exchanges the stored refresh credential for new access
	// material, returning the account with updated blobs. A no-op success
	// for providers with no refresh concept.
	RefreshToken(ctx context.Context, account *models.LinkedAccount) SyncResult[*models.LinkedAccount]

	// SyncGames returns the full current ownership/playtime snapshot,
	// hiding any internal pagination from the caller.
	SyncGames(ctx context.Context, account *models.LinkedAccount) SyncResult[[]Game]

	// SyncAchievements returns the current achievement state for one stored
	// game. existingUnlocked is the set of provider achievement IDs the
	// caller already knows to be unlocked; it feeds MostRecentUnlock.
	SyncAchievements(ctx context.Context, account *models.LinkedAccount, game *models.OwnedGame, existingUnlocked map[string]bool) SyncResult[*AchievementSync]
}
