package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
	"gorm.io/gorm"
)

// GormStore implements Store on a gorm database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetAccount(ctx context.Context, id string) (*models.LinkedAccount, error) {
	var account models.LinkedAccount
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	return &account, nil
}

func (s *GormStore) GetAccountByUserProvider(ctx context.Context, userID string, p provider.ID) (*models.LinkedAccount, error) {
	var account models.LinkedAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, string(p)).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account for user %s provider %s: %w", userID, p, err)
	}
	return &account, nil
}

func (s *GormStore) ListAccounts(ctx context.Context, userID string) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}
	return accounts, nil
}

func (s *GormStore) ListActiveAccounts(ctx context.Context) ([]models.LinkedAccount, error) {
	var accounts []models.LinkedAccount
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return accounts, nil
}

func (s *GormStore) SaveAccount(ctx context.Context, account *models.LinkedAccount) error {
	if err := s.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	return nil
}

func (s *GormStore) CommitWatermark(ctx context.Context, accountID string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.LinkedAccount{}).
		Where("id = ?", accountID).
		Update("last_sync_at", at).Error
	if err != nil {
		return fmt.Errorf("commit watermark for account %s: %w", accountID, err)
	}
	return nil
}

// UpsertGame looks up the natural key and either updates the mutable fields
// in place or inserts a fresh row. Completion fields and rows themselves are
// never deleted by sync.
func (s *GormStore) UpsertGame(ctx context.Context, accountID string, game provider.Game) (*models.OwnedGame, bool, error) {
	var existing models.OwnedGame
	err := s.db.WithContext(ctx).
		Where("linked_account_id = ? AND provider_game_id = ?", accountID, game.ProviderGameID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.OwnedGame{
			LinkedAccountID:       accountID,
			ProviderGameID:        game.ProviderGameID,
			Name:                  game.Name,
			Platform:              game.Platform,
			PlaytimeMinutes:       game.PlaytimeMinutes,
			RecentPlaytimeMinutes: game.RecentPlaytimeMinutes,
			LastPlayedAt:          game.LastPlayed,
			IconURL:               game.IconURL,
			CoverURL:              game.CoverURL,
			Installed:             game.Installed,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, false, fmt.Errorf("insert game %s: %w", game.ProviderGameID, err)
		}
		return &row, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup game %s: %w", game.ProviderGameID, err)
	}

	existing.Name = game.Name
	existing.Platform = game.Platform
	existing.PlaytimeMinutes = game.PlaytimeMinutes
	existing.RecentPlaytimeMinutes = game.RecentPlaytimeMinutes
	existing.IconURL = game.IconURL
	existing.CoverURL = game.CoverURL
	existing.Installed = game.Installed
	if game.LastPlayed != nil {
		existing.LastPlayedAt = game.LastPlayed
	}
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("update game %s: %w", game.ProviderGameID, err)
	}
	return &existing, false, nil
}

func (s *GormStore) UpdateGameLastPlayed(ctx context.Context, gameID uint, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.OwnedGame{}).
		Where("id = ?", gameID).
		Update("last_played_at", at).Error
	if err != nil {
		return fmt.Errorf("update last played for game %d: %w", gameID, err)
	}
	return nil
}

func (s *GormStore) ListGames(ctx context.Context, accountID string) ([]models.OwnedGame, error) {
	var games []models.OwnedGame
	err := s.db.WithContext(ctx).
		Where("linked_account_id = ?", accountID).
		Order("last_played_at DESC").
		Find(&games).Error
	if err != nil {
		return nil, fmt.Errorf("list games for account %s: %w", accountID, err)
	}
	return games, nil
}

func (s *GormStore) UnlockedAchievementIDs(ctx context.Context, gameID uint) (map[string]bool, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Achievement{}).
		Where("owned_game_id = ? AND unlocked = ?", gameID, true).
		Pluck("provider_achievement_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list unlocked achievements for game %d: %w", gameID, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (s *GormStore) CountUnlocked(ctx context.Context, gameID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Achievement{}).
		Where("owned_game_id = ? AND unlocked = ?", gameID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unlocked achievements for game %d: %w", gameID, err)
	}
	return count, nil
}

func (s *GormStore) CountAchievements(ctx context.Context, gameID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Achievement{}).
		Where("owned_game_id = ?", gameID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count achievements for game %d: %w", gameID, err)
	}
	return count, nil
}

// ReplaceAchievements swaps a game's achievement rows for the fetched set in
// one transaction.
func (s *GormStore) ReplaceAchievements(ctx context.Context, gameID uint, achievements []provider.Achievement) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owned_game_id = ?", gameID).Delete(&models.Achievement{}).Error; err != nil {
			return fmt.Errorf("clear achievements for game %d: %w", gameID, err)
		}
		if len(achievements) == 0 {
			return nil
		}
		rows := make([]models.Achievement, 0, len(achievements))
		for _, a := range achievements {
			rows = append(rows, models.Achievement{
				OwnedGameID:           gameID,
				ProviderAchievementID: a.ProviderAchievementID,
				Name:                  a.Name,
				Description:           a.Description,
				IconURL:               a.IconURL,
				Unlocked:              a.Unlocked,
				UnlockedAt:            a.UnlockedAt,
				EarnedRate:            a.EarnedRate,
				Points:                a.Points,
			})
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert achievements for game %d: %w", gameID, err)
		}
		return nil
	})
}
