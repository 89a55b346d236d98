// Package xbox implements the Xbox Live adapter. Access is a three-hop
// chain: a Microsoft OAuth access token is traded for an Xbox user token,
// which is traded for an XSTS token; each hop has its own expiry. XSTS
// expiry re-runs the last two hops from the stored Microsoft refresh token
// without forcing the user back through the consent flow.
package xbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/governor"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/util"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	microsoftAuthURL  = "https://login.live.com/oauth20_authorize.srf"
	microsoftTokenURL = "https://login.live.com/oauth20_token.srf"

	defaultUserAuthURL    = "https://user.auth.xboxlive.com/user/authenticate"
	defaultXSTSAuthURL    = "https://xsts.auth.xboxlive.com/xsts/authorize"
	defaultTitleHubURL    = "https://titlehub.xboxlive.com"
	defaultAchievementURL = "https://achievements.xboxlive.com"
	defaultUserStatsURL   = "https://userstats.xboxlive.com"
	defaultProfileURL     = "https://profile.xboxlive.com"

	defaultTimeout = 30 * time.Second

	contractVersionAuth = "1"
	contractVersionXBL  = "2"
)

var microsoftScopes = []string{"XboxLive.signin", "offline_access"}

// Endpoints carries the Xbox service URLs; overridable in tests.
type Endpoints struct {
	TokenURL       string
	UserAuthURL    string
	XSTSAuthURL    string
	TitleHubURL    string
	AchievementURL string
	UserStatsURL   string
	ProfileURL     string
}

func defaultEndpoints() Endpoints {
	return Endpoints{
		TokenURL:       microsoftTokenURL,
		UserAuthURL:    defaultUserAuthURL,
		XSTSAuthURL:    defaultXSTSAuthURL,
		TitleHubURL:    defaultTitleHubURL,
		AchievementURL: defaultAchievementURL,
		UserStatsURL:   defaultUserStatsURL,
		ProfileURL:     defaultProfileURL,
	}
}

// Adapter talks to the Microsoft identity platform and the Xbox Live
// services.
type Adapter struct {
	oauthCfg   *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
	log        *zap.Logger
}

// New creates an Xbox adapter with the registered application credentials.
func New(clientID, clientSecret, redirectURL string, log *zap.Logger) *Adapter {
	return NewWithEndpoints(clientID, clientSecret, redirectURL, defaultEndpoints(), nil, log)
}

// NewWithEndpoints creates an Xbox adapter with endpoint and client
// overrides.
func NewWithEndpoints(clientID, clientSecret, redirectURL string, ep Endpoints, httpClient *http.Client, log *zap.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		oauthCfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       microsoftScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  microsoftAuthURL,
				TokenURL: ep.TokenURL,
			},
		},
		endpoints:  ep,
		httpClient: httpClient,
		log:        log.Named("xbox"),
	}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.ID { return provider.Xbox }

type authInput struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	// CodeVerifier is the PKCE verifier matching the code_challenge the
	// client sent on the authorization request.
	CodeVerifier string `json:"code_verifier"`
}

// Authenticate exchanges the Microsoft authorization code, runs the user and
// XSTS hops, and returns the gamertag profile.
func (a *Adapter) Authenticate(ctx context.Context, input json.RawMessage) provider.SyncResult[*provider.LinkResult] {
	var in authInput
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.Fail[*provider.LinkResult]("invalid xbox credentials: %v", err)
	}
	if in.Code == "" {
		return provider.Fail[*provider.LinkResult]("authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	cfg := *a.oauthCfg
	if in.RedirectURI != "" {
		cfg.RedirectURL = in.RedirectURI
	}
	var opts []oauth2.AuthCodeOption
	if in.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(in.CodeVerifier))
	}
	msToken, err := cfg.Exchange(ctx, in.Code, opts...)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("microsoft token exchange failed: %v", err)
	}

	creds := provider.XboxCredentials{
		AccessToken:  msToken.AccessToken,
		RefreshToken: msToken.RefreshToken,
		ExpiresAt:    msToken.Expiry.UTC(),
	}
	gamertag, err := a.deriveXSTS(ctx, &creds)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("xbox token chain failed: %v", err)
	}

	profile := provider.UserProfile{
		AccountID:   creds.XUID,
		Username:    gamertag,
		DisplayName: gamertag,
	}
	// Avatar enrichment is best-effort; the chain already proved identity.
	if pic, err := a.fetchDisplayPic(ctx, &creds); err == nil {
		profile.AvatarURL = pic
	}

	blob, err := provider.EncodeCredentials(creds)
	if err != nil {
		return provider.Fail[*provider.LinkResult]("%v", err)
	}
	return provider.Ok(&provider.LinkResult{Profile: profile, Credentials: blob})
}

// NeedsRefresh reports whether any hop of the token chain is missing or
// expiring.
func (a *Adapter) NeedsRefresh(account *models.LinkedAccount) bool {
	creds, err := provider.DecodeCredentials[provider.XboxCredentials](account)
	if err != nil {
		return true
	}
	soon := time.Now().Add(time.Minute)
	return creds.XSTSToken == "" || creds.XSTSExpiresAt.Before(soon) || creds.ExpiresAt.Before(soon)
}

// RefreshToken refreshes the Microsoft access token when needed and always
// re-runs the user and XSTS hops.
func (a *Adapter) RefreshToken(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[*models.LinkedAccount] {
	creds, err := provider.DecodeCredentials[provider.XboxCredentials](account)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	if creds.ExpiresAt.Before(time.Now().Add(time.Minute)) {
		if creds.RefreshToken == "" {
			return provider.Fail[*models.LinkedAccount]("microsoft access token expired and no refresh token stored")
		}
		src := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		fresh, err := src.Token()
		if err != nil {
			return provider.Fail[*models.LinkedAccount]("microsoft token refresh failed: %v", err)
		}
		creds.AccessToken = fresh.AccessToken
		creds.ExpiresAt = fresh.Expiry.UTC()
		if fresh.RefreshToken != "" {
			creds.RefreshToken = fresh.RefreshToken
		}
	}

	if _, err := a.deriveXSTS(ctx, &creds); err != nil {
		return provider.Fail[*models.LinkedAccount]("xbox token chain failed: %v", err)
	}

	blob, err := provider.EncodeCredentials(creds)
	if err != nil {
		return provider.Fail[*models.LinkedAccount]("%v", err)
	}
	account.Credentials = blob
	return provider.Ok(account)
}

type titleHistoryResponse struct {
	Titles []struct {
		TitleID      string `json:"titleId"`
		Name         string `json:"name"`
		DisplayImage string `json:"displayImage"`
		TitleHistory struct {
			LastTimePlayed string `json:"lastTimePlayed"`
		} `json:"titleHistory"`
	} `json:"titles"`
}

// SyncGames lists the account's title history; per-title minutes-played
// stats are queried best-effort and missing stats never fail the sync.
func (a *Adapter) SyncGames(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[[]provider.Game] {
	creds, err := provider.DecodeCredentials[provider.XboxCredentials](account)
	if err != nil {
		return provider.Fail[[]provider.Game]("%v", err)
	}

	path := fmt.Sprintf("/users/xuid(%s)/titles/titlehistory/decoration/achievement,image,detail", creds.XUID)
	var history titleHistoryResponse
	if ce := a.getJSON(ctx, &creds, a.endpoints.TitleHubURL+path, &history); ce != nil {
		return provider.Fail[[]provider.Game]("xbox title history: %v", ce)
	}

	minutes := a.fetchMinutesPlayed(ctx, &creds, history)

	games := make([]provider.Game, 0, len(history.Titles))
	for _, t := range history.Titles {
		game := provider.Game{
			ProviderGameID:  t.TitleID,
			Name:            t.Name,
			IconURL:         t.DisplayImage,
			CoverURL:        t.DisplayImage,
			PlaytimeMinutes: minutes[t.TitleID],
		}
		if t.TitleHistory.LastTimePlayed != "" {
			if ts, err := time.Parse(time.RFC3339, t.TitleHistory.LastTimePlayed); err == nil {
				u := ts.UTC()
				game.LastPlayed = &u
			}
		}
		games = append(games, game)
	}
	a.log.Debug("fetched title history", zap.Int("count", len(games)))
	return provider.Ok(games)
}

type achievementsResponse struct {
	Achievements []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Description   string `json:"description"`
		ProgressState string `json:"progressState"` // "Achieved", "NotStarted", "InProgress"
		Progression   struct {
			TimeUnlocked string `json:"timeUnlocked"`
		} `json:"progression"`
		MediaAssets []struct {
			Name string `json:"name"`
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"mediaAssets"`
		Rewards []struct {
			Value string `json:"value"`
			Type  string `json:"type"`
		} `json:"rewards"`
		Rarity struct {
			CurrentPercentage float64 `json:"currentPercentage"`
		} `json:"rarity"`
	} `json:"achievements"`
}

// SyncAchievements fetches the title's achievement list with unlock state.
func (a *Adapter) SyncAchievements(ctx context.Context, account *models.LinkedAccount, game *models.OwnedGame, existingUnlocked map[string]bool) provider.SyncResult[*provider.AchievementSync] {
	creds, err := provider.DecodeCredentials[provider.XboxCredentials](account)
	if err != nil {
		return provider.Fail[*provider.AchievementSync]("%v", err)
	}

	u := fmt.Sprintf("%s/users/xuid(%s)/achievements?titleId=%s&maxItems=1000",
		a.endpoints.AchievementURL, creds.XUID, game.ProviderGameID)
	var parsed achievementsResponse
	if ce := a.getJSON(ctx, &creds, u, &parsed); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return provider.Ok(&provider.AchievementSync{})
		}
		return provider.Fail[*provider.AchievementSync]("xbox achievements for title %s: %v", game.ProviderGameID, ce)
	}

	out := &provider.AchievementSync{}
	for _, raw := range parsed.Achievements {
		ach := provider.Achievement{
			ProviderAchievementID: raw.ID,
			Name:                  raw.Name,
			Description:           raw.Description,
			Unlocked:              raw.ProgressState == "Achieved",
			EarnedRate:            raw.Rarity.CurrentPercentage,
		}
		for _, asset := range raw.MediaAssets {
			if asset.Type == "Icon" {
				ach.IconURL = asset.URL
				break
			}
		}
		for _, reward := range raw.Rewards {
			if reward.Type == "Gamerscore" {
				fmt.Sscanf(reward.Value, "%d", &ach.Points)
				break
			}
		}
		if ach.Unlocked && raw.Progression.TimeUnlocked != "" {
			if ts, err := time.Parse(time.RFC3339, raw.Progression.TimeUnlocked); err == nil {
				u := ts.UTC()
				ach.UnlockedAt = &u
				if !existingUnlocked[raw.ID] {
					if out.MostRecentUnlock == nil || u.After(*out.MostRecentUnlock) {
						ts := u
						out.MostRecentUnlock = &ts
					}
				}
			}
		}
		out.Achievements = append(out.Achievements, ach)
	}
	return provider.Ok(out)
}

// deriveXSTS runs the user-token and XSTS hops from the current Microsoft
// access token, filling in the derived fields. Returns the gamertag claim.
func (a *Adapter) deriveXSTS(ctx context.Context, creds *provider.XboxCredentials) (string, error) {
	userBody := map[string]any{
		"Properties": map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  "d=" + creds.AccessToken,
		},
		"RelyingParty": "http://auth.xboxlive.com",
		"TokenType":    "JWT",
	}
	var userResp struct {
		Token string `json:"Token"`
	}
	if err := a.postAuthJSON(ctx, a.endpoints.UserAuthURL, userBody, &userResp); err != nil {
		return "", fmt.Errorf("user token hop: %w", err)
	}
	creds.UserToken = userResp.Token

	xstsBody := map[string]any{
		"Properties": map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{creds.UserToken},
		},
		"RelyingParty": "http://xboxlive.com",
		"TokenType":    "JWT",
	}
	var xstsResp struct {
		Token         string `json:"Token"`
		NotAfter      string `json:"NotAfter"`
		DisplayClaims struct {
			XUI []struct {
				UHS string `json:"uhs"`
				XID string `json:"xid"`
				GTG string `json:"gtg"`
			} `json:"xui"`
		} `json:"DisplayClaims"`
	}
	if err := a.postAuthJSON(ctx, a.endpoints.XSTSAuthURL, xstsBody, &xstsResp); err != nil {
		return "", fmt.Errorf("xsts hop: %w", err)
	}

	creds.XSTSToken = xstsResp.Token
	creds.XSTSExpiresAt = time.Now().Add(8 * time.Hour).UTC()
	if ts, err := time.Parse(time.RFC3339, xstsResp.NotAfter); err == nil {
		creds.XSTSExpiresAt = ts.UTC()
	}

	if len(xstsResp.DisplayClaims.XUI) == 0 {
		return "", fmt.Errorf("xsts response carried no display claims")
	}
	claim := xstsResp.DisplayClaims.XUI[0]
	creds.UserHash = claim.UHS
	creds.XUID = claim.XID
	return claim.GTG, nil
}

// fetchMinutesPlayed batch-queries the MinutesPlayed stat for every title.
// Any failure yields an empty map; stats are decoration, not authority.
func (a *Adapter) fetchMinutesPlayed(ctx context.Context, creds *provider.XboxCredentials, history titleHistoryResponse) map[string]int {
	minutes := make(map[string]int)
	if len(history.Titles) == 0 {
		return minutes
	}

	stats := make([]map[string]string, 0, len(history.Titles))
	for _, t := range history.Titles {
		stats = append(stats, map[string]string{"name": "MinutesPlayed", "titleId": t.TitleID})
	}
	body := map[string]any{
		"arrangebyfield": "xuid",
		"xuids":          []string{creds.XUID},
		"stats":          stats,
	}

	var parsed struct {
		StatListsCollection []struct {
			Stats []struct {
				TitleID string `json:"titleId"`
				Name    string `json:"name"`
				Value   string `json:"value"`
			} `json:"stats"`
		} `json:"statlistscollection"`
	}
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoints.UserStatsURL+"/batch", bytes.NewReader(payload))
	if err != nil {
		return minutes
	}
	a.applyXBLHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.log.Debug("stats batch failed", zap.Error(err))
		return minutes
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		a.log.Debug("stats batch rejected", zap.Int("status", resp.StatusCode))
		return minutes
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return minutes
	}

	for _, list := range parsed.StatListsCollection {
		for _, st := range list.Stats {
			if st.Name != "MinutesPlayed" || st.Value == "" {
				continue
			}
			var m int
			if _, err := fmt.Sscanf(st.Value, "%d", &m); err == nil {
				minutes[st.TitleID] = m
			}
		}
	}
	return minutes
}

// fetchDisplayPic pulls the gamerpic from the profile service.
func (a *Adapter) fetchDisplayPic(ctx context.Context, creds *provider.XboxCredentials) (string, error) {
	u := fmt.Sprintf("%s/users/xuid(%s)/profile/settings?settings=GameDisplayPicRaw", a.endpoints.ProfileURL, creds.XUID)
	var parsed struct {
		ProfileUsers []struct {
			Settings []struct {
				ID    string `json:"id"`
				Value string `json:"value"`
			} `json:"settings"`
		} `json:"profileUsers"`
	}
	if ce := a.getJSON(ctx, creds, u, &parsed); ce != nil {
		return "", ce
	}
	for _, pu := range parsed.ProfileUsers {
		for _, s := range pu.Settings {
			if s.ID == "GameDisplayPicRaw" {
				return s.Value, nil
			}
		}
	}
	return "", fmt.Errorf("no display pic in profile settings")
}

// postAuthJSON posts to the Xbox auth services with contract version 1.
func (a *Adapter) postAuthJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-xbl-contract-version", contractVersionAuth)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ce := governor.Classify(resp); ce != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce.Message = util.TruncateBody(raw)
		return ce
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getJSON performs an XBL3.0-authenticated GET.
func (a *Adapter) getJSON(ctx context.Context, creds *provider.XboxCredentials, url string, out any) *governor.CallError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}
	a.applyXBLHeaders(req, creds)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}
	defer resp.Body.Close()

	if ce := governor.Classify(resp); ce != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce.Message = util.TruncateBody(raw)
		return ce
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (a *Adapter) applyXBLHeaders(req *http.Request, creds *provider.XboxCredentials) {
	req.Header.Set("Authorization", fmt.Sprintf("XBL3.0 x=%s;%s", creds.UserHash, creds.XSTSToken))
	req.Header.Set("x-xbl-contract-version", contractVersionXBL)
	req.Header.Set("Accept-Language", "en-US")
}
