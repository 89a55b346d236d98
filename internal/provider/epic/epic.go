// Package epic implements the Epic Games adapter. The authorization-code
// exchange yields access+refresh tokens with the account id embedded in the
// token response itself; the profile lookup is best-effort enrichment.
// Accounts whose entitlement grants do not cover the library API degrade to
// an empty-but-successful game list instead of failing the sync.
package epic

import (
	"context"
	"encoding/base64"
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
	defaultAPIBaseURL     = "https://api.epicgames.dev"
	defaultLibraryBaseURL = "https://library-service.live.use1a.on.epicgames.com"
	defaultTimeout        = 30 * time.Second
)

// Adapter talks to Epic's OAuth and library services.
type Adapter struct {
	clientID       string
	clientSecret   string
	apiBaseURL     string
	libraryBaseURL string
	httpClient     *http.Client
	log            *zap.Logger
}

// New creates an Epic adapter with the registered client credentials.
func New(clientID, clientSecret string, log *zap.Logger) *Adapter {
	return NewWithClient(clientID, clientSecret, "", "", nil, log)
}

// NewWithClient creates an Epic adapter with base URL / client overrides.
func NewWithClient(clientID, clientSecret, apiBaseURL, libraryBaseURL string, httpClient *http.Client, log *zap.Logger) *Adapter {
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	if libraryBaseURL == "" {
		libraryBaseURL = defaultLibraryBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		clientID:       clientID,
		clientSecret:   clientSecret,
		apiBaseURL:     strings.TrimRight(apiBaseURL, "/"),
		libraryBaseURL: strings.TrimRight(libraryBaseURL, "/"),
		httpClient:     httpClient,
		log:            log.Named("epic"),
	}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.ID { return provider.Epic }

type authInput struct {
	Code string `json:"code"`
	// CodeVerifier is the PKCE verifier matching the code_challenge the
	// client sent on the authorization request.
	CodeVerifier string `json:"code_verifier"`
}

// Authenticate exchanges the authorization code. The account id comes from
// the token response; a failed profile lookup only costs the display name.
func (a *Adapter) Authenticate(ctx context.Context, input json.RawMessage) provider.SyncResult[*provider.LinkResult] {
	var in authInput
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.Fail[*provider.LinkResult]("invalid epic credentials: %v", err)
	}
	if in.Code == "" {
		return provider.Fail[*provider.LinkResult]("authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", in.Code)
	if in.CodeVerifier != "" {
		form.Set("code_verifier", in.CodeVerifier)
	}

	creds, err := a.tokenGrant(ctx, form)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("epic token exchange failed: %v", err)
	}

	profile := provider.UserProfile{
		AccountID:   creds.AccountID,
		Username:    creds.AccountID,
		DisplayName: creds.AccountID,
	}
	if name, err := a.fetchDisplayName(ctx, creds); err == nil && name != "" {
		profile.Username = name
		profile.DisplayName = name
	} else if err != nil {
		a.log.Debug("profile enrichment skipped", zap.Error(err))
	}

	blob, err := provider.EncodeCredentials(creds)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("%v", err)
	}
	return provider.Ok(&provider.LinkResult{Profile: profile, Credentials: blob})
}

// NeedsRefresh reports whether the access token is missing or expiring.
func (a *Adapter) NeedsRefresh(account *models.LinkedAccount) bool {
	creds, err := provider.DecodeCredentials[provider.EpicCredentials](account)
	if err != nil {
		return true
	}
	return creds.AccessToken == "" || creds.ExpiresAt.Before(time.Now().Add(time.Minute))
}

// RefreshToken exchanges the stored refresh token for new access material.
func (a *Adapter) RefreshToken(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[*models.LinkedAccount] {
	creds, err := provider.DecodeCredentials[provider.EpicCredentials](account)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}
	if creds.RefreshToken == "" {
		return provider.Fail[*models.LinkedAccount]("no refresh token stored; account must be re-linked")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	fresh, err := a.tokenGrant(ctx, form)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("epic token refresh failed: %v", err)
	}
	if fresh.AccountID == "" {
		fresh.AccountID = creds.AccountID
	}

	blob, err := provider.EncodeCredentials(fresh)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}
	account.Credentials = blob
	return provider.Ok(account)
}

type libraryResponse struct {
	Records []struct {
		Namespace       string `json:"namespace"`
		CatalogItemID   string `json:"catalogItemId"`
		AppName         string `json:"appName"`
		SandboxName     string `json:"sandboxName"`
		AcquisitionDate string `json:"acquisitionDate"`
	} `json:"records"`
	ResponseMetadata struct {
		NextCursor string `json:"nextCursor"`
	} `json:"responseMetadata"`
}

// SyncGames lists library entitlements, decorated with best-effort playtime.
// Accounts without library grants yield an empty success.
func (a *Adapter) SyncGames(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[[]provider.Game] {
	creds, err := provider.DecodeCredentials[provider.EpicCredentials](account)
	if err != nil {
		return provider.Fail[[]provider.Game]("%v", err)
	}

	var games []provider.Game
	playtimes := a.fetchPlaytimes(ctx, creds)

	cursor := ""
	for {
		u := a.libraryBaseURL + "/library/api/public/items?includeMetadata=true"
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		var page libraryResponse
		if ce := a.getJSON(ctx, creds.AccessToken, u, &page); ce != nil {
			// Missing entitlement grants must not fail the whole sync.
			if ce.Category == governor.CategoryAuth || ce.Category == governor.CategoryNotFound {
				a.log.Debug("library unavailable for account, returning empty set",
					zap.String("category", ce.Category.String()))
				return provider.Ok([]provider.Game{})
			}
			return provider.Fail[[]provider.Game]("epic library: %v", ce)
		}

		for _, rec := range page.Records {
			game := provider.Game{
				ProviderGameID: rec.CatalogItemID,
				Name:           rec.AppName,
			}
			if pt, ok := playtimes[rec.AppName]; ok {
				game.PlaytimeMinutes = pt.minutes
				game.LastPlayed = pt.lastPlayed
			}
			games = append(games, game)
		}

		cursor = page.ResponseMetadata.NextCursor
		if cursor == "" {
			break
		}
	}
	a.log.Debug("fetched library", zap.Int("count", len(games)))
	return provider.Ok(games)
}

// SyncAchievements queries the achievements service. Epic only exposes
// achievement sets for titles with a published deployment; anything else is
// no data, not an error.
func (a *Adapter) SyncAchievements(ctx context.Context, account *models.LinkedAccount, game *models.OwnedGame, existingUnlocked map[string]bool) provider.SyncResult[*provider.AchievementSync] {
	creds, err := provider.DecodeCredentials[provider.EpicCredentials](account)
	if err != nil {
		return provider.Fail[*provider.AchievementSync]("%v", err)
	}

	u := fmt.Sprintf("%s/epic/achievements/v1/products/%s/players/%s/achievements",
		a.apiBaseURL, game.ProviderGameID, creds.AccountID)

	var parsed struct {
		Achievements []struct {
			AchievementName string  `json:"achievementName"`
			DisplayName     string  `json:"displayName"`
			Description     string  `json:"description"`
			UnlockedIconURL string  `json:"unlockedIconUrl"`
			LockedIconURL   string  `json:"lockedIconUrl"`
			IsUnlocked      bool    `json:"isUnlocked"`
			UnlockDate      string  `json:"unlockDate"`
			GlobalUnlocked  float64 `json:"globalUnlockedPercentage"`
			XP              int     `json:"xp"`
		} `json:"achievements"`
	}
	if ce := a.getJSON(ctx, creds.AccessToken, u, &parsed); ce != nil {
		if ce.Category == governor.CategoryNotFound || ce.Category == governor.CategoryAuth {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("epic achievements for %s: %v", game.ProviderGameID, ce)
	}

	out := &provider.AchievementSync{}
	for _, raw := range parsed.Achievements {
		ach := provider.Achievement{
			ProviderAchievementID: raw.AchievementName,
			Name:                  raw.DisplayName,
			Description:           raw.Description,
			IconURL:               raw.LockedIconURL,
			Unlocked:              raw.IsUnlocked,
			EarnedRate:            raw.GlobalUnlocked,
			Points:                raw.XP,
		}
		if raw.IsUnlocked {
			ach.IconURL = raw.UnlockedIconURL
			if raw.UnlockDate != "" {
				if ts, err := time.Parse(time.RFC3339, raw.UnlockDate); err == nil {
					u := ts.UTC()
					ach.UnlockedAt = &u
					if !existingUnlocked[raw.AchievementName] {
						if out.MostRecentUnlock == nil || u.After(*out.MostRecentUnlock) {
							ts := u
							out.MostRecentUnlock = &ts
						}
					}
				}
			}
		}
		out.Achievements = append(out.Achievements, ach)
	}
	return provider.Ok(out)
}

type playtimeEntry struct {
	minutes    int
	lastPlayed *time.Time
}

// fetchPlaytimes pulls the account-wide playtime ledger; failures degrade to
// no playtime decoration.
func (a *Adapter) fetchPlaytimes(ctx context.Context, creds provider.EpicCredentials) map[string]playtimeEntry {
	out := make(map[string]playtimeEntry)
	u := fmt.Sprintf("%s/library/api/public/playtime/account/%s/all", a.libraryBaseURL, creds.AccountID)

	var parsed []struct {
		ArtifactID     string `json:"artifactId"`
		TotalTime      int    `json:"totalTime"` // seconds
		LastPlayedTime string `json:"lastPlayedTime"`
	}
	if ce := a.getJSON(ctx, creds.AccessToken, u, &parsed); ce != nil {
		a.log.Debug("playtime decoration skipped", zap.String("category", ce.Category.String()))
		return out
	}

	for _, item := range parsed {
		entry := playtimeEntry{minutes: item.TotalTime / 60}
		if item.LastPlayedTime != "" {
			if ts, err := time.Parse(time.RFC3339, item.LastPlayedTime); err == nil {
				u := ts.UTC()
				entry.lastPlayed = &u
			}
		}
		out[item.ArtifactID] = entry
	}
	return out
}

// fetchDisplayName enriches the profile from the accounts endpoint.
func (a *Adapter) fetchDisplayName(ctx context.Context, creds provider.EpicCredentials) (string, error) {
	u := fmt.Sprintf("%s/epic/id/v2/accounts?accountId=%s", a.apiBaseURL, url.QueryEscape(creds.AccountID))
	var parsed []struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
	}
	if ce := a.getJSON(ctx, creds.AccessToken, u, &parsed); ce != nil {
		return "", ce
	}
	if len(parsed) == 0 {
		return "", fmt.Errorf("empty accounts response")
	}
	return parsed[0].DisplayName, nil
}

// tokenGrant posts to the OAuth token endpoint with basic client auth.
func (a *Adapter) tokenGrant(ctx context.Context, form url.Values) (provider.EpicCredentials, error) {
	var creds provider.EpicCredentials

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+"/epic/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return creds, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return creds, err
	}
	defer resp.Body.Close()

	if ce := governor.Classify(resp); ce != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce.Message = util.TruncateBody(body)
		return creds, ce
	}

	var tok struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		AccountID        string `json:"account_id"`
		ExpiresAt        string `json:"expires_at"`
		ExpiresIn        int    `json:"expires_in"`
		RefreshExpiresAt string `json:"refresh_expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return creds, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return creds, fmt.Errorf("token response carried no access token")
	}

	creds = provider.EpicCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccountID:    tok.AccountID,
	}
	if ts, err := time.Parse(time.RFC3339, tok.ExpiresAt); err == nil {
		creds.ExpiresAt = ts.UTC()
	} else if tok.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, tok.RefreshExpiresAt); err == nil {
		creds.RefreshExpiresAt = ts.UTC()
	}
	return creds, nil
}

// getJSON performs a bearer-authenticated GET.
func (a *Adapter) getJSON(ctx context.Context, accessToken, url string, out any) *governor.CallError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

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
