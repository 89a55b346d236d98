// Package steam implements the Steam Web API adapter. Steam is stateless:
// a fixed API key plus the user's SteamID64 is all the access material there
// is, so RefreshToken is a pass-through.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/governor"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/util"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.steampowered.com"
	defaultTimeout = 30 * time.Second

	mediaBaseURL = "https://media.steampowered.com/steamcommunity/public/images/apps"
	coverBaseURL = "https://cdn.cloudflare.steamstatic.com/steam/apps"
)

// Adapter talks to the Steam Web API with a server-side API key.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a Steam adapter with the given Web API key.
func New(apiKey string, log *zap.Logger) *Adapter {
	return NewWithClient(apiKey, "", nil, log)
}

// NewWithClient creates a Steam adapter with an optional base URL and HTTP
// client override.
func NewWithClient(apiKey, baseURL string, httpClient *http.Client, log *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.Named("steam"),
	}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.ID { return provider.Steam }

// authInput is the credential shape Authenticate accepts: either a raw
// SteamID64 or a vanity URL name to resolve.
type authInput struct {
	SteamID   string `json:"steam_id"`
	VanityURL string `json:"vanity_url"`
}

// Authenticate resolves the input to a SteamID64 and fetches the player
// summary as the normalized profile.
func (a *Adapter) Authenticate(ctx context.Context, input json.RawMessage) provider.SyncResult[*provider.LinkResult] {
	var in authInput
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.Fail[*provider.LinkResult]("invalid steam credentials: %v", err)
	}
	if in.SteamID == "" && in.VanityURL == "" {
		return provider.Fail[*provider.LinkResult]("steam_id or vanity_url is required")
	}

	steamID := in.SteamID
	if steamID == "" {
		resolved, err := a.resolveVanityURL(ctx, in.VanityURL)
		if err != nil {
			return provider.Fail[*provider.LinkResult]("failed to resolve vanity URL %q: %v", in.VanityURL, err)
		}
		steamID = resolved
	}

	profile, err := a.playerSummary(ctx, steamID)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("failed to fetch steam profile: %v", err)
	}

	blob, err := provider.EncodeCredentials(provider.SteamCredentials{SteamID: steamID})
	if err != nil {
		return provider.Fail[*provider.LinkResult]("%v", err)
	}
	return provider.Ok(&provider.LinkResult{Profile: *profile, Credentials: blob})
}

// NeedsRefresh always reports false: API keys do not expire.
func (a *Adapter) NeedsRefresh(*models.LinkedAccount) bool { return false }

// RefreshToken is a no-op success; Steam has no refresh concept.
func (a *Adapter) RefreshToken(_ context.Context, account *models.LinkedAccount) provider.SyncResult[*models.LinkedAccount] {
	return provider.Ok(account)
}

type ownedGamesResponse struct {
	Response struct {
		GameCount int `json:"game_count"`
		Games     []struct {
			AppID           int64  `json:"appid"`
			Name            string `json:"name"`
			PlaytimeForever int    `json:"playtime_forever"`
			Playtime2Weeks  int    `json:"playtime_2weeks"`
			RTimeLastPlayed int64  `json:"rtime_last_played"`
			ImgIconURL      string `json:"img_icon_url"`
		} `json:"games"`
	} `json:"response"`
}

// SyncGames returns the full owned-game snapshot; playtime comes straight
// off the GetOwnedGames response.
func (a *Adapter) SyncGames(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[[]provider.Game] {
	creds, err := provider.DecodeCredentials[provider.SteamCredentials](account)
	if err != nil {
		return provider.Fail[[]provider.Game]("%v", err)
	}

	q := url.Values{}
	q.Set("key", a.apiKey)
	q.Set("steamid", creds.SteamID)
	q.Set("include_appinfo", "1")
	q.Set("include_played_free_games", "1")

	var parsed ownedGamesResponse
	if ce := a.getJSON(ctx, "/IPlayerService/GetOwnedGames/v1/", q, &parsed); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return provider.Ok([]provider.Game{})
		}
		return provider.Fail[[]provider.Game]("steam owned games: %v", ce)
	}

	games := make([]provider.Game, 0, len(parsed.Response.Games))
	for _, g := range parsed.Response.Games {
		appID := fmt.Sprintf("%d", g.AppID)
		game := provider.Game{
			ProviderGameID:        appID,
			Name:                  g.Name,
			PlaytimeMinutes:       g.PlaytimeForever,
			RecentPlaytimeMinutes: g.Playtime2Weeks,
			CoverURL:              fmt.Sprintf("%s/%s/header.jpg", coverBaseURL, appID),
		}
		if g.ImgIconURL != "" {
			game.IconURL = fmt.Sprintf("%s/%s/%s.jpg", mediaBaseURL, appID, g.ImgIconURL)
		}
		if g.RTimeLastPlayed > 0 {
			t := time.Unix(g.RTimeLastPlayed, 0).UTC()
			game.LastPlayed = &t
		}
		games = append(games, game)
	}
	a.log.Debug("fetched owned games", zap.Int("count", len(games)))
	return provider.Ok(games)
}

type gameSchemaResponse struct {
	Game struct {
		AvailableGameStats struct {
			Achievements []struct {
				Name        string `json:"name"`
				DisplayName string `json:"displayName"`
				Description string `json:"description"`
				Icon        string `json:"icon"`
				IconGray    string `json:"icongray"`
			} `json:"achievements"`
		} `json:"availableGameStats"`
	} `json:"game"`
}

type playerAchievementsResponse struct {
	PlayerStats struct {
		Success      bool   `json:"success"`
		Error        string `json:"error"`
		Achievements []struct {
			APIName    string `json:"apiname"`
			Achieved   int    `json:"achieved"`
			UnlockTime int64  `json:"unlocktime"`
		} `json:"achievements"`
	} `json:"playerstats"`
}

// SyncAchievements joins the game schema (display metadata) with the
// player-state call (unlock status) by achievement API name. Games without a
// stats page yield an empty success.
func (a *Adapter) SyncAchievements(ctx context.Context, account *models.LinkedAccount, game *models.OwnedGame, existingUnlocked map[string]bool) provider.SyncResult[*provider.AchievementSync] {
	creds, err := provider.DecodeCredentials[provider.SteamCredentials](account)
	if err != nil {
		return provider.Fail[*provider.AchievementSync]("%v", err)
	}

	schemaQ := url.Values{}
	schemaQ.Set("key", a.apiKey)
	schemaQ.Set("appid", game.ProviderGameID)

	var schema gameSchemaResponse
	if ce := a.getJSON(ctx, "/ISteamUserStats/GetSchemaForGame/v2/", schemaQ, &schema); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("steam schema for app %s: %v", game.ProviderGameID, ce)
	}
	if len(schema.Game.AvailableGameStats.Achievements) == 0 {
		return provider.Ok(&provider.AchievementSync{})
	}

	playerQ := url.Values{}
	playerQ.Set("key", a.apiKey)
	playerQ.Set("steamid", creds.SteamID)
	playerQ.Set("appid", game.ProviderGameID)

	var state playerAchievementsResponse
	if ce := a.getJSON(ctx, "/ISteamUserStats/GetPlayerAchievements/v1/", playerQ, &state); ce != nil {
		// Steam answers 400 with "Requested app has no stats" for titles
		// without an achievement page; that is no data, not a failure.
		if ce.Category == governor.CategoryNotFound || strings.Contains(ce.Message, "no stats") {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("steam achievements for app %s: %v", game.ProviderGameID, ce)
	}
	if !state.PlayerStats.Success && len(state.PlayerStats.Achievements) == 0 {
		return provider.Ok(&provider.AchievementSync{})
	}

	unlocks := make(map[string]struct {
		achieved   bool
		unlockTime int64
	}, len(state.PlayerStats.Achievements))
	for _, pa := range state.PlayerStats.Achievements {
		unlocks[pa.APIName] = struct {
			achieved   bool
			unlockTime int64
		}{pa.Achieved == 1, pa.UnlockTime}
	}

	out := &provider.AchievementSync{}
	for _, def := range schema.Game.AvailableGameStats.Achievements {
		ach := provider.Achievement{
			ProviderAchievementID: def.Name,
			Name:                  def.DisplayName,
			Description:           def.Description,
			IconURL:               def.IconGray,
		}
		if st, ok := unlocks[def.Name]; ok && st.achieved {
			ach.Unlocked = true
			ach.IconURL = def.Icon
			if st.unlockTime > 0 {
				t := time.Unix(st.unlockTime, 0).UTC()
				ach.UnlockedAt = &t
				if !existingUnlocked[def.Name] {
					if out.MostRecentUnlock == nil || t.After(*out.MostRecentUnlock) {
						ts := t
						out.MostRecentUnlock = &ts
					}
				}
			}
		}
		out.Achievements = append(out.Achievements, ach)
	}
	return provider.Ok(out)
}

// resolveVanityURL turns a vanity profile name into a SteamID64.
func (a *Adapter) resolveVanityURL(ctx context.Context, vanity string) (string, error) {
	q := url.Values{}
	q.Set("key", a.apiKey)
	q.Set("vanityurl", vanity)

	var parsed struct {
		Response struct {
			Success int    `json:"success"`
			SteamID string `json:"steamid"`
			Message string `json:"message"`
		} `json:"response"`
	}
	if ce := a.getJSON(ctx, "/ISteamUser/ResolveVanityURL/v1/", q, &parsed); ce != nil {
		return "", ce
	}
	if parsed.Response.Success != 1 || parsed.Response.SteamID == "" {
		return "", fmt.Errorf("vanity URL not found: %s", parsed.Response.Message)
	}
	return parsed.Response.SteamID, nil
}

// playerSummary fetches the normalized profile for a SteamID64.
func (a *Adapter) playerSummary(ctx context.Context, steamID string) (*provider.UserProfile, error) {
	q := url.Values{}
	q.Set("key", a.apiKey)
	q.Set("steamids", steamID)

	var parsed struct {
		Response struct {
			Players []struct {
				SteamID     string `json:"steamid"`
				PersonaName string `json:"personaname"`
				RealName    string `json:"realname"`
				ProfileURL  string `json:"profileurl"`
				AvatarFull  string `json:"avatarfull"`
			} `json:"players"`
		} `json:"response"`
	}
	if ce := a.getJSON(ctx, "/ISteamUser/GetPlayerSummaries/v2/", q, &parsed); ce != nil {
		return nil, ce
	}
	if len(parsed.Response.Players) == 0 {
		return nil, fmt.Errorf("no player found for steamid %s", steamID)
	}

	p := parsed.Response.Players[0]
	profile := &provider.UserProfile{
		AccountID:   p.SteamID,
		Username:    p.PersonaName,
		DisplayName: p.PersonaName,
		AvatarURL:   p.AvatarFull,
		ProfileURL:  p.ProfileURL,
	}
	if p.RealName != "" {
		profile.DisplayName = p.RealName
	}
	return profile, nil
}

// getJSON performs a GET against the Steam Web API and decodes the JSON
// body, classifying non-2xx responses.
func (a *Adapter) getJSON(ctx context.Context, path string, q url.Values, out any) *governor.CallError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}
	defer resp.Body.Close()

	if ce := governor.Classify(resp); ce != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce.Message = util.TruncateBody(body)
		return ce
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
