package services

import (
	"context"

	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewBadgeService(db *gorm.DB, log *zap.Logger) *BadgeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BadgeService{DB: db, Log: log}
}

// SeedCatalogue upserts the static badge catalogue by code.
func (s *BadgeService) SeedCatalogue(ctx context.Context) error {
	for _, b := range models.BadgeCatalogue {
		badge := b
		badge.ID = uuid.NewString()
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "rarity", "threshold"}),
		}).Create(&badge).Error
		if err != nil {
			return storageErr("seed badges", err)
		}
	}
	return nil
}

// EvaluateTx awards every catalogue badge whose thresholds the profile now meets.
// Already-held badges are skipped by the unique (account, badge) index.
func (s *BadgeService) EvaluateTx(tx *gorm.DB, prof *models.RewardProfile) ([]string, error) {
	var catalogue []models.BadgeType
	if err := tx.Find(&catalogue).Error; err != nil {
		return nil, err
	}

	var awarded []string
	for _, bt := range catalogue {
		if !meetsThreshold(prof, bt.Threshold) {
			continue
		}
		ab := models.AccountBadge{
			ID:          uuid.NewString(),
			AccountID:   prof.AccountID,
			BadgeTypeID: bt.ID,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("BadgeType").Create(&ab)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			awarded = append(awarded, bt.Code)
			s.Log.Info("[BADGES] badge awarded", zap.String("account_id", prof.AccountID), zap.String("badge", bt.Code))
		}
	}
	return awarded, nil
}

// ListForAccount returns the account's badges, newest first.
func (s *BadgeService) ListForAccount(ctx context.Context, accountID string) ([]models.AccountBadge, error) {
	var badges []models.AccountBadge
	if err := s.DB.WithContext(ctx).
		Preload("BadgeType").
		Where("account_id = ?", accountID).
		Order("awarded_at DESC").
		Find(&badges).Error; err != nil {
		return nil, storageErr("list badges", err)
	}
	return badges, nil
}

func meetsThreshold(prof *models.RewardProfile, req map[string]int64) bool {
	if len(req) == 0 {
		return false
	}
	for key, required := range req {
		var have int64
		switch key {
		case "groups_created":
			have = prof.GroupsCreated
		case "groups_joined":
			have = prof.GroupsJoined
		case "successful_referrals":
			have = prof.SuccessfulReferrals
		case "total_referrals":
			have = prof.TotalReferrals
		case "properties_saved":
			have = prof.PropertiesSaved
		case "properties_viewed":
			have = prof.PropertiesViewed
		case "lifetime_points":
			have = prof.LifetimePoints
		default:
			return false
		}
		if have < required {
			return false
		}
	}
	return true
}
