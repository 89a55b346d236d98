// Package psn implements the PlayStation Network adapter. Session material
// is an NPSSO token exchanged for short-lived access/refresh tokens; no
// access token is trusted across sync runs, so the token hop re-runs at the
// start of every sync. Trophy endpoints differ by console generation (PS4
// uses the "trophy" service, PS5 "trophy2").
package psn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/governor"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/util"
	"go.uber.org/zap"
)

const (
	defaultAuthBaseURL   = "https://ca.account.sony.com/api"
	defaultTrophyBaseURL = "https://m.np.playstation.com"
	defaultTimeout       = 30 * time.Second

	// Mobile-app client registration the NPSSO exchange is bound to.
	clientID    = "09515159-7237-4370-9b40-3806e67c0891"
	clientAuth  = "MDk1MTUxNTktNzIzNy00MzcwLTliNDAtMzgwNmU2N2MwODkxOnVjUGprYTV0bnRCMktxc1A="
	redirectURI = "com.scee.psxandroid.scecompcall://redirect"
	oauthScope  = "psn:mobile.v2.core psn:clientapp"

	titlePageSize = 250
)

// Trophy point values per grade.
var trophyPoints = map[string]int{
	"bronze":   15,
	"silver":   30,
	"gold":     90,
	"platinum": 300,
}

// Adapter talks to the PSN mobile APIs.
type Adapter struct {
	authBaseURL   string
	trophyBaseURL string
	httpClient    *http.Client
	log           *zap.Logger
}

// New creates a PSN adapter.
func New(log *zap.Logger) *Adapter {
	return NewWithClient("", "", nil, log)
}

// NewWithClient creates a PSN adapter with base URL / client overrides.
func NewWithClient(authBaseURL, trophyBaseURL string, httpClient *http.Client, log *zap.Logger) *Adapter {
	if authBaseURL == "" {
		authBaseURL = defaultAuthBaseURL
	}
	if trophyBaseURL == "" {
		trophyBaseURL = defaultTrophyBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultTimeout,
			// The authorize hop answers with a redirect carrying the code;
			// it must not be followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Adapter{
		authBaseURL:   strings.TrimRight(authBaseURL, "/"),
		trophyBaseURL: strings.TrimRight(trophyBaseURL, "/"),
		httpClient:    httpClient,
		log:           log.Named("psn"),
	}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.ID { return provider.PlayStation }

type authInput struct {
	NPSSO string `json:"npsso"`
}

// Authenticate exchanges the NPSSO token for access material and fetches the
// caller's profile.
func (a *Adapter) Authenticate(ctx context.Context, input json.RawMessage) provider.SyncResult[*provider.LinkResult] {
	var in authInput
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.Fail[*provider.LinkResult]("invalid psn credentials: %v", err)
	}
	if strings.TrimSpace(in.NPSSO) == "" {
		return provider.Fail[*provider.LinkResult]("npsso token is required")
	}

	creds, err := a.exchangeNPSSO(ctx, in.NPSSO)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("psn token exchange failed: %v", err)
	}

	profile, err := a.fetchProfile(ctx, creds.AccessToken)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("failed to fetch psn profile: %v", err)
	}

	blob, err := provider.EncodeCredentials(creds)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("%v", err)
	}
	return provider.Ok(&provider.LinkResult{Profile: *profile, Credentials: blob})
}

// NeedsRefresh always reports true: PSN access tokens are short-lived and
// re-derived at the start of every sync run.
func (a *Adapter) NeedsRefresh(*models.LinkedAccount) bool { return true }

// RefreshToken re-derives access material, preferring the refresh-token
// grant and falling back to a fresh NPSSO exchange.
func (a *Adapter) RefreshToken(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[*models.LinkedAccount] {
	creds, err := provider.DecodeCredentials[provider.PSNCredentials](account)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}

	var refreshed *provider.PSNCredentials
	if creds.RefreshToken != "" {
		refreshed, err = a.refreshGrant(ctx, creds)
	}
	if refreshed == nil {
		if creds.NPSSO == "" {
			return provider.Fail[*models.LinkedAccount]("psn refresh failed and no npsso stored: %v", err)
		}
		refreshed, err = a.exchangeNPSSO(ctx, creds.NPSSO)
		if err != nil {
			return provider.Fail[*models.LinkedAccount]("psn re-authentication failed: %v", err)
		}
	}

	blob, err := provider.EncodeCredentials(refreshed)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}
	account.Credentials = blob
	return provider.Ok(account)
}

type trophyTitlesResponse struct {
	TrophyTitles []struct {
		NPCommunicationID   string `json:"npCommunicationId"`
		TrophyTitleName     string `json:"trophyTitleName"`
		TrophyTitleIconURL  string `json:"trophyTitleIconUrl"`
		TrophyTitlePlatform string `json:"trophyTitlePlatform"` // "PS5", "PS4", "PS4,PSVITA"
		LastUpdatedDateTime string `json:"lastUpdatedDateTime"`
	} `json:"trophyTitles"`
	TotalItemCount int `json:"totalItemCount"`
}

// SyncGames lists the account's trophy titles. PSN exposes no playtime
// through this surface; lastUpdatedDateTime (the last trophy activity)
// stands in for last-played.
func (a *Adapter) SyncGames(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[[]provider.Game] {
	creds, err := provider.DecodeCredentials[provider.PSNCredentials](account)
	if err != nil {
		return provider.Fail[[]provider.Game]("%v", err)
	}

	var games []provider.Game
	for offset := 0; ; offset += titlePageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(titlePageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page trophyTitlesResponse
		if ce := a.getJSON(ctx, creds.AccessToken, "/api/trophy/v1/users/me/trophyTitles", q, &page); ce != nil {
			return provider.Fail[[]provider.Game]("psn trophy titles: %v", ce)
		}

		for _, t := range page.TrophyTitles {
			game := provider.Game{
				ProviderGameID: t.NPCommunicationID,
				Name:           t.TrophyTitleName,
				Platform:       platformGeneration(t.TrophyTitlePlatform),
				IconURL:        t.TrophyTitleIconURL,
				CoverURL:       t.TrophyTitleIconURL,
			}
			if ts, err := time.Parse(time.RFC3339, t.LastUpdatedDateTime); err == nil {
				u := ts.UTC()
				game.LastPlayed = &u
			}
			games = append(games, game)
		}

		if offset+titlePageSize >= page.TotalItemCount || len(page.TrophyTitles) == 0 {
			break
		}
	}
	a.log.Debug("fetched trophy titles", zap.Int("count", len(games)))
	return provider.Ok(games)
}

type titleTrophiesResponse struct {
	Trophies []struct {
		TrophyID      int    `json:"trophyId"`
		TrophyType    string `json:"trophyType"`
		TrophyName    string `json:"trophyName"`
		TrophyDetail  string `json:"trophyDetail"`
		TrophyIconURL string `json:"trophyIconUrl"`
	} `json:"trophies"`
}

type earnedTrophiesResponse struct {
	Trophies []struct {
		TrophyID         int    `json:"trophyId"`
		Earned           bool   `json:"earned"`
		EarnedDateTime   string `json:"earnedDateTime"`
		TrophyEarnedRate string `json:"trophyEarnedRate"`
	} `json:"trophies"`
}

// SyncAchievements joins the title's trophy definitions with the user's
// earned state, selecting the trophy service by console generation.
func (a *Adapter) SyncAchievements(ctx context.Context, account *models.LinkedAccount, game *models.OwnedGame, existingUnlocked map[string]bool) provider.SyncResult[*provider.AchievementSync] {
	creds, err := provider.DecodeCredentials[provider.PSNCredentials](account)
	if err != nil {
		return provider.Fail[*provider.AchievementSync]("%v", err)
	}

	service := "trophy"
	if game.Platform == "PS5" {
		service = "trophy2"
	}
	q := url.Values{}
	q.Set("npServiceName", service)

	defsPath := fmt.Sprintf("/api/trophy/v1/npCommunicationIds/%s/trophyGroups/all/trophies", game.ProviderGameID)
	var defs titleTrophiesResponse
	if ce := a.getJSON(ctx, creds.AccessToken, defsPath, q, &defs); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("psn trophy definitions for %s: %v", game.ProviderGameID, ce)
	}

	earnedPath := fmt.Sprintf("/api/trophy/v1/users/me/npCommunicationIds/%s/trophyGroups/all/trophies", game.ProviderGameID)
	var earned earnedTrophiesResponse
	if ce := a.getJSON(ctx, creds.AccessToken, earnedPath, q, &earned); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("psn earned trophies for %s: %v", game.ProviderGameID, ce)
	}

	state := make(map[int]struct {
		earned   bool
		earnedAt *time.Time
		rate     float64
	}, len(earned.Trophies))
	for _, e := range earned.Trophies {
		entry := struct {
			earned   bool
			earnedAt *time.Time
			rate     float64
		}{earned: e.Earned}
		if e.EarnedDateTime != "" {
			if ts, err := time.Parse(time.RFC3339, e.EarnedDateTime); err == nil {
				u := ts.UTC()
				entry.earnedAt = &u
			}
		}
		if e.TrophyEarnedRate != "" {
			entry.rate, _ = strconv.ParseFloat(e.TrophyEarnedRate, 64)
		}
		state[e.TrophyID] = entry
	}

	out := &provider.AchievementSync{}
	for _, def := range defs.Trophies {
		id := strconv.Itoa(def.TrophyID)
		ach := provider.Achievement{
			ProviderAchievementID: id,
			Name:                  def.TrophyName,
			Description:           def.TrophyDetail,
			IconURL:               def.TrophyIconURL,
			Points:                trophyPoints[def.TrophyType],
		}
		if st, ok := state[def.TrophyID]; ok {
			ach.Unlocked = st.earned
			ach.UnlockedAt = st.earnedAt
			ach.EarnedRate = st.rate
			if st.earned && st.earnedAt != nil && !existingUnlocked[id] {
				if out.MostRecentUnlock == nil || st.earnedAt.After(*out.MostRecentUnlock) {
					ts := *st.earnedAt
					out.MostRecentUnlock = &ts
				}
			}
		}
		out.Achievements = append(out.Achievements, ach)
	}
	return provider.Ok(out)
}

// exchangeNPSSO performs the two-step NPSSO exchange: authorize (redirect
// carrying the code) then the token grant.
func (a *Adapter) exchangeNPSSO(ctx context.Context, npsso string) (*provider.PSNCredentials, error) {
	q := url.Values{}
	q.Set("access_type", "offline")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", oauthScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authBaseURL+"/authz/v3/oauth/authorize?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", "npsso="+npsso)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || location == "" {
		return nil, fmt.Errorf("authorize did not redirect (status %d); npsso is likely expired", resp.StatusCode)
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse redirect location: %w", err)
	}
	code := locURL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("authorize redirect carried no code; npsso is likely expired")
	}

	form := url.Values{}
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")
	form.Set("token_format", "jwt")

	tok, err := a.tokenGrant(ctx, form)
	if err != nil {
		return nil, err
	}
	tok.NPSSO = npsso
	return tok, nil
}

// refreshGrant exchanges the stored refresh token for new access material.
func (a *Adapter) refreshGrant(ctx context.Context, creds provider.PSNCredentials) (*provider.PSNCredentials, error) {
	form := url.Values{}
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("grant_type", "refresh_token")
	form.Set("token_format", "jwt")
	form.Set("scope", oauthScope)

	tok, err := a.tokenGrant(ctx, form)
	if err != nil {
		return nil, err
	}
	tok.NPSSO = creds.NPSSO
	return tok, nil
}

func (a *Adapter) tokenGrant(ctx context.Context, form url.Values) (*provider.PSNCredentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authBaseURL+"/authz/v3/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+clientAuth)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if ce := governor.Classify(resp); ce != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce.Message = util.TruncateBody(body)
		return nil, ce
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}

	return &provider.PSNCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UTC(),
	}, nil
}

// fetchProfile retrieves the caller's own profile.
func (a *Adapter) fetchProfile(ctx context.Context, accessToken string) (*provider.UserProfile, error) {
	var parsed struct {
		Profiles []struct {
			OnlineID  string `json:"onlineId"`
			AccountID string `json:"accountId"`
			Avatars   []struct {
				Size string `json:"size"`
				URL  string `json:"url"`
			} `json:"avatars"`
		} `json:"profiles"`
	}
	if ce := a.getJSON(ctx, accessToken, "/api/userProfiles/v1/internal/users/me/profiles", nil, &parsed); ce != nil {
		return nil, ce
	}
	if len(parsed.Profiles) == 0 {
		return nil, fmt.Errorf("empty profile response")
	}

	p := parsed.Profiles[0]
	profile := &provider.UserProfile{
		AccountID:   p.AccountID,
		Username:    p.OnlineID,
		DisplayName: p.OnlineID,
	}
	for _, av := range p.Avatars {
		profile.AvatarURL = av.URL
		if av.Size == "xl" {
			break
		}
	}
	return profile, nil
}

// getJSON performs a bearer-authenticated GET against the trophy API.
func (a *Adapter) getJSON(ctx context.Context, accessToken, path string, q url.Values, out any) *governor.CallError {
	u := a.trophyBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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

// platformGeneration collapses PSN's platform list to the generation flag
// the trophy service selection needs.
func platformGeneration(platform string) string {
	if strings.Contains(platform, "PS5") {
		return "PS5"
	}
	return "PS4"
}
