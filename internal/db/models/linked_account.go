package models

import "time"

// LinkedAccount stores a local user's connection to one external gaming
// provider, together with whatever credential material that provider needs
// for subsequent API calls.
type LinkedAccount struct {
	ID                string `gorm:"primaryKey"` // UUID
	UserID            string `gorm:"uniqueIndex:idx_user_provider"`
	Provider          string `gorm:"uniqueIndex:idx_user_provider"` // e.g., "steam", "playstation"
	ProviderAccountID string `gorm:"index"`
	Username          string
	DisplayName       string
	AvatarURL         string
	IsActive          bool       `gorm:"default:true"`
	LastSyncAt        *time.Time // nil means the account has never synced
	Credentials       string     // JSON blob, shape owned by the provider adapter
	Metadata          string     // JSON blob for provider-specific extras (region, token hashes)
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
