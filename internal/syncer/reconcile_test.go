package syncer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/provider/catalog"
	"github.com/questlog/questlog/internal/store"
)

func reconcileFixture(t *testing.T) (*Reconciler, *store.GormStore, *models.OwnedGame) {
	t.Helper()
	st := newSyncTestStore(t)
	seedSteamAccount(t, st, nil)
	game, _, err := st.UpsertGame(context.Background(), "acc-1", provider.Game{
		ProviderGameID: "220", Name: "Half-Life 2",
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewReconciler(st, zap.NewNop()), st, game
}

func unlockedAt(t time.Time) *time.Time { return &t }

func TestReconcileAchievements_NewlyUnlockedDiff(t *testing.T) {
	r, _, game := reconcileFixture(t)

	fetched := &provider.AchievementSync{
		Achievements: []provider.Achievement{
			{ProviderAchievementID: "A", Unlocked: true},
			{ProviderAchievementID: "B", Unlocked: true},
			{ProviderAchievementID: "C", Unlocked: true},
			{ProviderAchievementID: "D"},
		},
	}
	existing := map[string]bool{"A": true, "B": true}

	out, err := r.ReconcileAchievements(context.Background(), game, fetched, existing, catalog.StrategyReplace)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.NewlyUnlocked) != 1 || out.NewlyUnlocked[0] != "C" {
		t.Errorf("NewlyUnlocked = %v", out.NewlyUnlocked)
	}
	if out.Written != 4 {
		t.Errorf("Written = %d", out.Written)
	}
}

func TestReconcileAchievements_ConditionalSkipsUnchanged(t *testing.T) {
	r, st, game := reconcileFixture(t)

	fetched := &provider.AchievementSync{
		Achievements: []provider.Achievement{
			{ProviderAchievementID: "A", Unlocked: true},
			{ProviderAchievementID: "B"},
		},
	}

	// First pass stores the definitions.
	out, err := r.ReconcileAchievements(context.Background(), game, fetched, nil, catalog.StrategyConditional)
	if err != nil {
		t.Fatal(err)
	}
	if out.Written != 2 {
		t.Fatalf("first pass Written = %d", out.Written)
	}

	// Same unlocked count again: the rewrite is skipped.
	existing, err := st.UnlockedAchievementIDs(context.Background(), game.ID)
	if err != nil {
		t.Fatal(err)
	}
	out, err = r.ReconcileAchievements(context.Background(), game, fetched, existing, catalog.StrategyConditional)
	if err != nil {
		t.Fatal(err)
	}
	if out.Written != 0 {
		t.Errorf("unchanged state rewrote %d rows", out.Written)
	}
	if len(out.NewlyUnlocked) != 0 {
		t.Errorf("NewlyUnlocked = %v", out.NewlyUnlocked)
	}
}

func TestReconcileAchievements_ConditionalWritesOnNewUnlock(t *testing.T) {
	r, st, game := reconcileFixture(t)

	first := &provider.AchievementSync{
		Achievements: []provider.Achievement{
			{ProviderAchievementID: "A", Unlocked: true},
			{ProviderAchievementID: "B"},
		},
	}
	if _, err := r.ReconcileAchievements(context.Background(), game, first, nil, catalog.StrategyConditional); err != nil {
		t.Fatal(err)
	}

	second := &provider.AchievementSync{
		Achievements: []provider.Achievement{
			{ProviderAchievementID: "A", Unlocked: true},
			{ProviderAchievementID: "B", Unlocked: true},
		},
	}
	existing, _ := st.UnlockedAchievementIDs(context.Background(), game.ID)
	out, err := r.ReconcileAchievements(context.Background(), game, second, existing, catalog.StrategyConditional)
	if err != nil {
		t.Fatal(err)
	}
	if out.Written != 2 {
		t.Errorf("Written = %d", out.Written)
	}
	if len(out.NewlyUnlocked) != 1 || out.NewlyUnlocked[0] != "B" {
		t.Errorf("NewlyUnlocked = %v", out.NewlyUnlocked)
	}

	count, _ := st.CountUnlocked(context.Background(), game.ID)
	if count != 2 {
		t.Errorf("stored unlocked = %d", count)
	}
}

func TestReconcileAchievements_EmptyFetchWritesNothing(t *testing.T) {
	r, st, game := reconcileFixture(t)

	seed := &provider.AchievementSync{
		Achievements: []provider.Achievement{{ProviderAchievementID: "A", Unlocked: true}},
	}
	if _, err := r.ReconcileAchievements(context.Background(), game, seed, nil, catalog.StrategyReplace); err != nil {
		t.Fatal(err)
	}

	out, err := r.ReconcileAchievements(context.Background(), game, &provider.AchievementSync{}, nil, catalog.StrategyReplace)
	if err != nil {
		t.Fatal(err)
	}
	if out.Written != 0 {
		t.Errorf("Written = %d", out.Written)
	}

	// A provider that reports no definitions never wipes stored rows.
	total, _ := st.CountAchievements(context.Background(), game.ID)
	if total != 1 {
		t.Errorf("stored total = %d", total)
	}
}

func TestReconcileAchievements_BackfillsLastPlayed(t *testing.T) {
	r, st, game := reconcileFixture(t)

	recent := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
	fetched := &provider.AchievementSync{
		Achievements: []provider.Achievement{
			{ProviderAchievementID: "A", Unlocked: true, UnlockedAt: unlockedAt(recent)},
		},
		MostRecentUnlock: &recent,
	}
	out, err := r.ReconcileAchievements(context.Background(), game, fetched, nil, catalog.StrategyReplace)
	if err != nil {
		t.Fatal(err)
	}
	if !out.LastPlayedUpdated {
		t.Fatal("expected last-played backfill")
	}

	games, _ := st.ListGames(context.Background(), "acc-1")
	if len(games) != 1 || games[0].LastPlayedAt == nil || !games[0].LastPlayedAt.Equal(recent) {
		t.Errorf("stored last-played not backfilled: %+v", games)
	}

	// An older unlock never regresses the stored timestamp.
	older := recent.Add(-24 * time.Hour)
	fetched.MostRecentUnlock = &older
	out, err = r.ReconcileAchievements(context.Background(), game, fetched, map[string]bool{"A": true}, catalog.StrategyReplace)
	if err != nil {
		t.Fatal(err)
	}
	if out.LastPlayedUpdated {
		t.Error("older unlock must not move last-played")
	}
}
