package models

import "time"

// Achievement is one provider achievement (or trophy) attached to an owned
// game. Rows for a game are rewritten wholesale or conditionally on each
// achievement sync; the stored unlocked set always matches the provider's
// latest report.
type Achievement struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	OwnedGameID           uint       `gorm:"uniqueIndex:idx_game_achievement" json:"owned_game_id"`
	ProviderAchievementID string     `gorm:"uniqueIndex:idx_game_achievement" json:"provider_achievement_id"`
	Name                  string     `json:"name"`
	Description           string     `json:"description,omitempty"`
	IconURL               string     `json:"icon_url,omitempty"`
	Unlocked              bool       `gorm:"default:false" json:"unlocked"`
	UnlockedAt            *time.Time `json:"unlocked_at,omitempty"`
	EarnedRate            float64    `json:"earned_rate,omitempty"` // global unlock percentage when the provider reports one
	Points                int        `json:"points,omitempty"`      // gamerscore / trophy points
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
