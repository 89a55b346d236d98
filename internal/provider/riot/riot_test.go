package riot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
)

// testAdapter routes every shard at one test server; the routing value
// becomes the first path segment.
func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWithClient("riot-key", srv.URL+"/%s", srv.Client(), zap.NewNop())
}

func riotAccount(t *testing.T) *models.LinkedAccount {
	t.Helper()
	blob, err := provider.EncodeCredentials(provider.RiotCredentials{
		PUUID:    "puuid-1",
		GameName: "Faker",
		TagLine:  "KR1",
		Region:   "americas",
		Platform: "na1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &models.LinkedAccount{ID: "acc-1", Provider: string(provider.Riot), Credentials: blob}
}

func TestAuthenticate_ResolvesRiotID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/americas/riot/account/v1/accounts/by-riot-id/Faker/KR1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Riot-Token"); got != "riot-key" {
			t.Errorf("X-Riot-Token = %s", got)
		}
		fmt.Fprint(w, `{"puuid":"puuid-1","gameName":"Faker","tagLine":"KR1"}`)
	})
	mux.HandleFunc("/na1/lol/summoner/v4/summoners/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"profileIconId":123,"summonerLevel":500,"revisionDate":1709290000000}`)
	})
	adapter := testAdapter(t, mux)

	res := adapter.Authenticate(context.Background(), json.RawMessage(`{"game_name":"Faker","tag_line":"KR1","platform":"na1"}`))
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
	if res.Data.Profile.AccountID != "puuid-1" || res.Data.Profile.Username != "Faker#KR1" {
		t.Errorf("unexpected profile: %+v", res.Data.Profile)
	}

	creds, err := provider.DecodeCredentials[provider.RiotCredentials](&models.LinkedAccount{Credentials: res.Data.Credentials})
	if err != nil {
		t.Fatal(err)
	}
	if creds.Region != "americas" || creds.Platform != "na1" {
		t.Errorf("unexpected routing: %+v", creds)
	}
}

func TestAuthenticate_UnknownPlatform(t *testing.T) {
	adapter := testAdapter(t, http.NewServeMux())
	res := adapter.Authenticate(context.Background(), json.RawMessage(`{"game_name":"a","tag_line":"b","platform":"mars1"}`))
	if res.Success {
		t.Fatal("expected failure for unknown platform")
	}
}

func TestSyncGames_FansOutAcrossGames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/na1/lol/summoner/v4/summoners/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"profileIconId":123,"summonerLevel":30,"revisionDate":1709290000000}`)
	})
	mux.HandleFunc("/na1/tft/summoner/v1/summoners/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"revisionDate":1709200000000}`)
	})
	mux.HandleFunc("/americas/val/match/v1/matchlists/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"history":[{"matchId":"m1","gameStartTimeMillis":1709000000000},{"matchId":"m2","gameStartTimeMillis":1709100000000}]}`)
	})
	mux.HandleFunc("/americas/lor/match/v1/matches/by-puuid/puuid-1/ids", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	adapter := testAdapter(t, mux)

	res := adapter.SyncGames(context.Background(), riotAccount(t))
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
	if len(res.Data) != 3 {
		t.Fatalf("expected 3 games (runeterra never played), got %d", len(res.Data))
	}

	byID := make(map[string]provider.Game, len(res.Data))
	for _, g := range res.Data {
		byID[g.ProviderGameID] = g
	}
	lol, ok := byID[GameLeague]
	if !ok {
		t.Fatal("missing league entry")
	}
	if lol.PlaytimeMinutes != EstimatePlaytimeMinutes(30) {
		t.Errorf("league minutes = %d", lol.PlaytimeMinutes)
	}
	if lol.LastPlayed == nil || lol.LastPlayed.UnixMilli() != 1709290000000 {
		t.Errorf("league LastPlayed = %v", lol.LastPlayed)
	}
	val, ok := byID[GameValorant]
	if !ok {
		t.Fatal("missing valorant entry")
	}
	if val.LastPlayed == nil || val.LastPlayed.UnixMilli() != 1709100000000 {
		t.Errorf("valorant LastPlayed should be the newest match start, got %v", val.LastPlayed)
	}
	if _, ok := byID[GameRuneterra]; ok {
		t.Error("runeterra should be absent for a 404")
	}
}

func TestSyncGames_PartialFailureKeepsOtherGames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/na1/lol/summoner/v4/summoners/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"summonerLevel":10,"revisionDate":1709290000000}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	adapter := testAdapter(t, mux)

	res := adapter.SyncGames(context.Background(), riotAccount(t))
	if !res.Success {
		t.Fatalf("one healthy game must carry the sync, got %s", res.Error)
	}
	if len(res.Data) != 1 || res.Data[0].ProviderGameID != GameLeague {
		t.Errorf("unexpected games: %+v", res.Data)
	}
}

func TestSyncGames_AllFailuresFailTheSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	adapter := testAdapter(t, mux)

	res := adapter.SyncGames(context.Background(), riotAccount(t))
	if res.Success {
		t.Fatal("expected failure when every fetch fails")
	}
}

func TestSyncGames_RetriesOnceAfter429(t *testing.T) {
	attempts := make(map[string]int)
	mux := http.NewServeMux()
	mux.HandleFunc("/na1/lol/summoner/v4/summoners/by-puuid/puuid-1", func(w http.ResponseWriter, r *http.Request) {
		attempts["lol"]++
		if attempts["lol"] == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"summonerLevel":10,"revisionDate":1709290000000}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	adapter := testAdapter(t, mux)

	res := adapter.SyncGames(context.Background(), riotAccount(t))
	if !res.Success {
		t.Fatalf("expected success after retry, got %s", res.Error)
	}
	if attempts["lol"] != 2 {
		t.Errorf("expected exactly one retry, got %d attempts", attempts["lol"])
	}
}

func TestSyncAchievements_AlwaysEmpty(t *testing.T) {
	adapter := testAdapter(t, http.NewServeMux())
	res := adapter.SyncAchievements(context.Background(), riotAccount(t), &models.OwnedGame{ProviderGameID: GameLeague}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Error)
	}
	if len(res.Data.Achievements) != 0 {
		t.Errorf("expected no achievements, got %d", len(res.Data.Achievements))
	}
}
