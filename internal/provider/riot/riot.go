// Package riot implements the Riot Games adapter. One linked account fans
// out into four games (League of Legends, Teamfight Tactics, VALORANT,
// Legends of Runeterra), each synced independently and independently allowed
// to fail. Riot's developer quota is tight, so every outbound call goes
// through the shared pacer: a minimum inter-request interval plus a hard
// request cap per rolling window.
package riot

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
	// defaultHostTemplate expands a routing value (continental region or
	// platform shard) into an API host.
	defaultHostTemplate = "https://%s.api.riotgames.com"
	defaultTimeout      = 30 * time.Second

	// Developer-key quota: 20 requests per second, 100 per two minutes.
	minRequestInterval = 50 * time.Millisecond
	windowRequestCap   = 100
	requestWindow      = 2 * time.Minute

	// Fallback backoff when a 429 carries no Retry-After.
	defaultBackoff = 2 * time.Second

	GameLeague    = "league-of-legends"
	GameTFT       = "teamfight-tactics"
	GameValorant  = "valorant"
	GameRuneterra = "legends-of-runeterra"
)

// continentalFor maps platform shards to their continental routing value.
var continentalFor = map[string]string{
	"na1": "americas", "br1": "americas", "la1": "americas", "la2": "americas",
	"euw1": "europe", "eun1": "europe", "tr1": "europe", "ru": "europe",
	"kr": "asia", "jp1": "asia", "oc1": "asia",
}

// Adapter talks to the Riot APIs with a fixed API key.
type Adapter struct {
	apiKey       string
	hostTemplate string
	httpClient   *http.Client
	pacer        *governor.Pacer
	log          *zap.Logger
}

// New creates a Riot adapter with the given API key.
func New(apiKey string, log *zap.Logger) *Adapter {
	return NewWithClient(apiKey, "", nil, log)
}

// NewWithClient creates a Riot adapter with host template / client
// overrides. The template must contain one %s for the routing value.
func NewWithClient(apiKey, hostTemplate string, httpClient *http.Client, log *zap.Logger) *Adapter {
	if hostTemplate == "" {
		hostTemplate = defaultHostTemplate
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		apiKey:       apiKey,
		hostTemplate: hostTemplate,
		httpClient:   httpClient,
		pacer:        governor.NewPacer(minRequestInterval, windowRequestCap, requestWindow),
		log:          log.Named("riot"),
	}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.ID { return provider.Riot }

type authInput struct {
	GameName string `json:"game_name"`
	TagLine  string `json:"tag_line"`
	Platform string `json:"platform"` // e.g. "na1", "euw1"
}

// Authenticate resolves the Riot ID to a PUUID via account-v1 and decorates
// the profile from the League summoner endpoint when possible.
func (a *Adapter) Authenticate(ctx context.Context, input json.RawMessage) provider.SyncResult[*provider.LinkResult] {
	var in authInput
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.Fail[*provider.LinkResult]("invalid riot credentials: %v", err)
	}
	if in.GameName == "" || in.TagLine == "" {
		return provider.Fail[*provider.LinkResult]("game_name and tag_line are required")
	}
	region, ok := continentalFor[in.Platform]
	if !ok {
		return provider.Fail[*provider.LinkResult]("unknown platform %q", in.Platform)
	}

	path := fmt.Sprintf("/riot/account/v1/accounts/by-riot-id/%s/%s",
		url.PathEscape(in.GameName), url.PathEscape(in.TagLine))
	var acct struct {
		PUUID    string `json:"puuid"`
		GameName string `json:"gameName"`
		TagLine  string `json:"tagLine"`
	}
	if ce := a.getJSON(ctx, region, path, &acct); ce != nil {
		return provider.Fail[*provider.LinkResult]("riot account lookup failed: %v", ce)
	}

	riotID := acct.GameName + "#" + acct.TagLine
	profile := provider.UserProfile{
		AccountID:   acct.PUUID,
		Username:    riotID,
		DisplayName: riotID,
	}
	if s, ce := a.fetchSummoner(ctx, in.Platform, acct.PUUID); ce == nil {
		profile.AvatarURL = profileIconURL(s.ProfileIconID)
	}

	blob, err := provider.EncodeCredentials(provider.RiotCredentials{
		PUUID:    acct.PUUID,
		GameName: acct.GameName,
		TagLine:  acct.TagLine,
		Region:   region,
		Platform: in.Platform,
	})
	if err != nil {
		return provider.Fail[*provider.LinkResult]("%v", err)
	}
	return provider.Ok(&provider.LinkResult{Profile: profile, Credentials: blob})
}

// NeedsRefresh always reports false: API keys do not expire.
func (a *Adapter) NeedsRefresh(*models.LinkedAccount) bool { return false }

// RefreshToken is a no-op success; Riot has no refresh concept.
func (a *Adapter) RefreshToken(_ context.Context, account *models.LinkedAccount) provider.SyncResult[*models.LinkedAccount] {
	return provider.Ok(account)
}

// SyncGames fans out into the four games. A game's fetch failing only drops
// that game; the sync fails outright only when every fetch failed.
func (a *Adapter) SyncGames(ctx context.Context, account *models.LinkedAccount) provider.SyncResult[[]provider.Game] {
	creds, err := provider.DecodeCredentials[provider.RiotCredentials](account)
	if err != nil {
		return provider.Fail[[]provider.Game]("%v", err)
	}

	type fetch struct {
		id string
		fn func(context.Context, provider.RiotCredentials) (*provider.Game, *governor.CallError)
	}
	fetches := []fetch{
		{GameLeague, a.fetchLeague},
		{GameTFT, a.fetchTFT},
		{GameValorant, a.fetchValorant},
		{GameRuneterra, a.fetchRuneterra},
	}

	var games []provider.Game
	var failures []string
	for _, f := range fetches {
		game, ce := f.fn(ctx, creds)
		if ce != nil {
			a.log.Debug("game fetch failed", zap.String("game", f.id), zap.String("category", ce.Category.String()))
			failures = append(failures, fmt.Sprintf("%s: %v", f.id, ce))
			continue
		}
		if game != nil {
			games = append(games, *game)
		}
	}

	if len(games) == 0 && len(failures) > 0 {
		return provider.Fail[[]provider.Game]("all riot game fetches failed: %s", strings.Join(failures, "; "))
	}
	return provider.Ok(games)
}

// SyncAchievements returns an empty success: Riot exposes no achievement
// system through its public APIs.
func (a *Adapter) SyncAchievements(context.Context, *models.LinkedAccount, *models.OwnedGame, map[string]bool) provider.SyncResult[*provider.AchievementSync] {
	return provider.Ok(&provider.AchievementSync{})
}

type summoner struct {
	ProfileIconID int   `json:"profileIconId"`
	SummonerLevel int   `json:"summonerLevel"`
	RevisionDate  int64 `json:"revisionDate"` // milliseconds since epoch
}

// fetchLeague builds the League entry. Playtime is estimated from the
// summoner level; revisionDate stands in for last-played.
func (a *Adapter) fetchLeague(ctx context.Context, creds provider.RiotCredentials) (*provider.Game, *governor.CallError) {
	s, ce := a.fetchSummoner(ctx, creds.Platform, creds.PUUID)
	if ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return nil, nil // never played
		}
		return nil, ce
	}

	game := &provider.Game{
		ProviderGameID:  GameLeague,
		Name:            "League of Legends",
		PlaytimeMinutes: EstimatePlaytimeMinutes(s.SummonerLevel),
		IconURL:         profileIconURL(s.ProfileIconID),
	}
	if s.RevisionDate > 0 {
		t := time.UnixMilli(s.RevisionDate).UTC()
		game.LastPlayed = &t
	}
	return game, nil
}

func (a *Adapter) fetchSummoner(ctx context.Context, platform, puuid string) (*summoner, *governor.CallError) {
	var s summoner
	path := "/lol/summoner/v4/summoners/by-puuid/" + url.PathEscape(puuid)
	if ce := a.getJSON(ctx, platform, path, &s); ce != nil {
		return nil, ce
	}
	return &s, nil
}

// fetchTFT builds the Teamfight Tactics entry from the TFT summoner record.
func (a *Adapter) fetchTFT(ctx context.Context, creds provider.RiotCredentials) (*provider.Game, *governor.CallError) {
	var s summoner
	path := "/tft/summoner/v1/summoners/by-puuid/" + url.PathEscape(creds.PUUID)
	if ce := a.getJSON(ctx, creds.Platform, path, &s); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return nil, nil
		}
		return nil, ce
	}

	game := &provider.Game{
		ProviderGameID: GameTFT,
		Name:           "Teamfight Tactics",
	}
	if s.RevisionDate > 0 {
		t := time.UnixMilli(s.RevisionDate).UTC()
		game.LastPlayed = &t
	}
	return game, nil
}

// fetchValorant checks for VALORANT match history. The endpoint requires an
// elevated key; rejection simply drops the game.
func (a *Adapter) fetchValorant(ctx context.Context, creds provider.RiotCredentials) (*provider.Game, *governor.CallError) {
	var matchlist struct {
		History []struct {
			MatchID       string `json:"matchId"`
			GameStartTime int64  `json:"gameStartTimeMillis"`
		} `json:"history"`
	}
	path := "/val/match/v1/matchlists/by-puuid/" + url.PathEscape(creds.PUUID)
	if ce := a.getJSON(ctx, creds.Region, path, &matchlist); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return nil, nil
		}
		return nil, ce
	}
	if len(matchlist.History) == 0 {
		return nil, nil
	}

	game := &provider.Game{
		ProviderGameID: GameValorant,
		Name:           "VALORANT",
	}
	latest := matchlist.History[0].GameStartTime
	for _, m := range matchlist.History {
		if m.GameStartTime > latest {
			latest = m.GameStartTime
		}
	}
	if latest > 0 {
		t := time.UnixMilli(latest).UTC()
		game.LastPlayed = &t
	}
	return game, nil
}

// fetchRuneterra checks for Legends of Runeterra match history.
func (a *Adapter) fetchRuneterra(ctx context.Context, creds provider.RiotCredentials) (*provider.Game, *governor.CallError) {
	var matchIDs []string
	path := "/lor/match/v1/matches/by-puuid/" + url.PathEscape(creds.PUUID) + "/ids"
	if ce := a.getJSON(ctx, creds.Region, path, &matchIDs); ce != nil {
		if ce.Category == governor.CategoryNotFound {
			return nil, nil
		}
		return nil, ce
	}
	if len(matchIDs) == 0 {
		return nil, nil
	}
	return &provider.Game{
		ProviderGameID: GameRuneterra,
		Name:           "Legends of Runeterra",
	}, nil
}

// getJSON performs a paced GET against a Riot host, retrying once after the
// advertised delay on a 429.
func (a *Adapter) getJSON(ctx context.Context, routing, path string, out any) *governor.CallError {
	ce := a.doGetJSON(ctx, routing, path, out)
	if ce != nil && ce.Category == governor.CategoryRetryable {
		if err := a.pacer.Backoff(ctx, ce, defaultBackoff); err != nil {
			return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
		}
		ce = a.doGetJSON(ctx, routing, path, out)
	}
	return ce
}

func (a *Adapter) doGetJSON(ctx context.Context, routing, path string, out any) *governor.CallError {
	if err := a.pacer.Wait(ctx); err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}

	u := fmt.Sprintf(a.hostTemplate, routing) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &governor.CallError{Category: governor.CategoryTerminal, Message: err.Error()}
	}
	req.Header.Set("X-Riot-Token", a.apiKey)

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

func profileIconURL(iconID int) string {
	return fmt.Sprintf("https://ddragon.leagueoflegends.com/cdn/14.1.1/img/profileicon/%d.png", iconID)
}
