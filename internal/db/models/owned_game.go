package models

import "time"

// OwnedGame is one game observed on a linked account. The natural key is
// (LinkedAccountID, ProviderGameID); sync upserts against it and never
// deletes rows — a game missing from a provider response is not treated as
// removed, since providers paginate and omit stale entries.
type OwnedGame struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	LinkedAccountID       string     `gorm:"uniqueIndex:idx_account_game" json:"linked_account_id"`
	ProviderGameID        string     `gorm:"uniqueIndex:idx_account_game" json:"provider_game_id"`
	Name                  string     `json:"name"`
	Platform              string     `json:"platform,omitempty"` // provider-specific generation hint (e.g., "PS5")
	PlaytimeMinutes       int        `json:"playtime_minutes"`
	RecentPlaytimeMinutes int        `json:"recent_playtime_minutes"`
	LastPlayedAt          *time.Time `json:"last_played_at,omitempty"`
	IconURL               string     `json:"icon_url,omitempty"`
	CoverURL              string     `json:"cover_url,omitempty"`
	Installed             bool       `json:"installed"`
	// IsCompleted/CompletedAt are owned by user actions and completion side
	// effects, never written by the sync path.
	IsCompleted bool       `gorm:"default:false" json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
