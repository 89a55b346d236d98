package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/questlog/questlog/internal/db/models"
)

// Per-provider credential shapes. These are the typed views of the opaque
// Credentials blob on a LinkedAccount; each adapter decodes exactly the
// shape it owns and nothing else ever opens the blob.

// SteamCredentials carries the stable SteamID64. The Web API key itself is
// process configuration, not per-account state.
type SteamCredentials struct {
	SteamID string `json:"steam_id"`
}

// PSNCredentials carries the long-lived NPSSO token plus the short-lived
// token material derived from it. Access tokens are re-derived every sync
// run and never trusted across runs.
type PSNCredentials struct {
	NPSSO        string    `json:"npsso"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// XboxCredentials carries the three-hop token chain: Microsoft OAuth
// access/refresh tokens, the Xbox user token, and the XSTS token with its
// own expiry. The user hash and XUID come from the XSTS display claims.
type XboxCredentials struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	UserToken     string    `json:"user_token,omitempty"`
	XSTSToken     string    `json:"xsts_token,omitempty"`
	XSTSExpiresAt time.Time `json:"xsts_expires_at,omitempty"`
	UserHash      string    `json:"user_hash,omitempty"`
	XUID          string    `json:"xuid,omitempty"`
}

// EpicCredentials carries the Epic OAuth access/refresh tokens and the
// account id the token endpoint embeds in its response.
type EpicCredentials struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccountID        string    `json:"account_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// RiotCredentials identifies a Riot account by PUUID and routes it: Region
// is the continental routing value (americas/europe/asia), Platform the
// per-game shard (na1, euw1, ...). The API key is process configuration.
type RiotCredentials struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"game_name"`
	TagLine  string `json:"tag_line"`
	Region   string `json:"region"`
	Platform string `json:"platform"`
}

// DecodeCredentials unmarshals the account's credential blob into the
// provider-specific shape.
func DecodeCredentials[T any](account *models.LinkedAccount) (T, error) {
	var creds T
	if account.Credentials == "" {
		return creds, fmt.Errorf("account %s has no stored credentials", account.ID)
	}
	if err := json.Unmarshal([]byte(account.Credentials), &creds); err != nil {
		return creds, fmt.Errorf("decode %s credentials: %w", account.Provider, err)
	}
	return creds, nil
}

// EncodeCredentials marshals a provider-specific credential shape back into
// the opaque blob form.
func EncodeCredentials(creds any) (string, error) {
	b, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(b), nil
}
