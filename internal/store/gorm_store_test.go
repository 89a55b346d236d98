package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.LinkedAccount{}, &models.OwnedGame{}, &models.Achievement{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewGormStore(db)
}

func seedAccount(t *testing.T, st *GormStore, id string) *models.LinkedAccount {
	t.Helper()
	account := &models.LinkedAccount{
		ID:       id,
		UserID:   "user-1",
		Provider: string(provider.Steam),
		IsActive: true,
	}
	if err := st.SaveAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func TestGetAccountByUserProvider_NilWhenMissing(t *testing.T) {
	st := newTestStore(t)
	account, err := st.GetAccountByUserProvider(context.Background(), "nobody", provider.Steam)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil for unlinked provider, got %+v", account)
	}
}

func TestCommitWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.CommitWatermark(ctx, "acc-1", at); err != nil {
		t.Fatal(err)
	}

	account, err := st.GetAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if account.LastSyncAt == nil || !account.LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v", account.LastSyncAt)
	}
}

func TestUpsertGame_CreateThenUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")

	lastPlayed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	row, created, err := st.UpsertGame(ctx, "acc-1", provider.Game{
		ProviderGameID:  "220",
		Name:            "Half-Life 2",
		PlaytimeMinutes: 100,
		LastPlayed:      &lastPlayed,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created || row.ID == 0 {
		t.Fatalf("expected fresh row, created=%v id=%d", created, row.ID)
	}

	row2, created, err := st.UpsertGame(ctx, "acc-1", provider.Game{
		ProviderGameID:  "220",
		Name:            "Half-Life 2",
		PlaytimeMinutes: 160,
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected update, not insert")
	}
	if row2.ID != row.ID {
		t.Errorf("row identity changed: %d vs %d", row2.ID, row.ID)
	}
	if row2.PlaytimeMinutes != 160 {
		t.Errorf("PlaytimeMinutes = %d", row2.PlaytimeMinutes)
	}
	if row2.LastPlayedAt == nil || !row2.LastPlayedAt.Equal(lastPlayed) {
		t.Errorf("nil LastPlayed in the update must not clear the stored value, got %v", row2.LastPlayedAt)
	}
}

func TestUpsertGame_CompletionFieldsUntouched(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")

	row, _, err := st.UpsertGame(ctx, "acc-1", provider.Game{ProviderGameID: "220", Name: "Half-Life 2"})
	if err != nil {
		t.Fatal(err)
	}

	// User marks the game completed outside the sync path.
	completedAt := time.Now().UTC()
	err = st.db.Model(&models.OwnedGame{}).Where("id = ?", row.ID).
		Updates(map[string]any{"is_completed": true, "completed_at": completedAt}).Error
	if err != nil {
		t.Fatal(err)
	}

	row2, _, err := st.UpsertGame(ctx, "acc-1", provider.Game{ProviderGameID: "220", Name: "Half-Life 2", PlaytimeMinutes: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !row2.IsCompleted || row2.CompletedAt == nil {
		t.Errorf("sync must not clear completion state: %+v", row2)
	}
}

func TestReplaceAchievements_NoStaleRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")
	row, _, err := st.UpsertGame(ctx, "acc-1", provider.Game{ProviderGameID: "220", Name: "Half-Life 2"})
	if err != nil {
		t.Fatal(err)
	}

	err = st.ReplaceAchievements(ctx, row.ID, []provider.Achievement{
		{ProviderAchievementID: "A", Name: "A", Unlocked: true},
		{ProviderAchievementID: "B", Name: "B"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Provider renamed B to C; the stored set must follow exactly.
	err = st.ReplaceAchievements(ctx, row.ID, []provider.Achievement{
		{ProviderAchievementID: "A", Name: "A", Unlocked: true},
		{ProviderAchievementID: "C", Name: "C", Unlocked: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	total, err := st.CountAchievements(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("expected 2 rows after replacement, got %d", total)
	}

	unlocked, err := st.UnlockedAchievementIDs(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !unlocked["A"] || !unlocked["C"] || unlocked["B"] {
		t.Errorf("unexpected unlocked set: %v", unlocked)
	}

	count, err := st.CountUnlocked(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("CountUnlocked = %d", count)
	}
}

func TestReplaceAchievements_EmptySetClears(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")
	row, _, err := st.UpsertGame(ctx, "acc-1", provider.Game{ProviderGameID: "220", Name: "HL2"})
	if err != nil {
		t.Fatal(err)
	}

	if err := st.ReplaceAchievements(ctx, row.ID, []provider.Achievement{{ProviderAchievementID: "A"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceAchievements(ctx, row.ID, nil); err != nil {
		t.Fatal(err)
	}

	total, err := st.CountAchievements(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("expected cleared rows, got %d", total)
	}
}

func TestListActiveAccounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")

	inactive := &models.LinkedAccount{ID: "acc-2", UserID: "user-1", Provider: string(provider.Epic), IsActive: false}
	if err := st.SaveAccount(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	accounts, err := st.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acc-1" {
		t.Errorf("unexpected active set: %+v", accounts)
	}
}

func TestUpdateGameLastPlayed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, st, "acc-1")
	row, _, err := st.UpsertGame(ctx, "acc-1", provider.Game{ProviderGameID: "220", Name: "HL2"})
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := st.UpdateGameLastPlayed(ctx, row.ID, at); err != nil {
		t.Fatal(err)
	}

	games, err := st.ListGames(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].LastPlayedAt == nil || !games[0].LastPlayedAt.Equal(at) {
		t.Errorf("unexpected games: %+v", games)
	}
}
