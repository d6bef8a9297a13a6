package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var referralSources = map[string]bool{"whatsapp": true, "email": true, "link": true, "group_invite": true}

var conversionTypes = map[string]bool{"property_view": true, "group_join": true, "property_purchase": true}

type ReferralService struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Ledger  *RewardsLedger
	Codes   *CodeGenerator
	BaseURL string
}

func NewReferralService(db *gorm.DB, log *zap.Logger, ledger *RewardsLedger, codes *CodeGenerator, baseURL string) *ReferralService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReferralService{DB: db, Log: log, Ledger: ledger, Codes: codes, BaseURL: baseURL}
}

type ApplyReferralResult struct {
	ReferralID             string `json:"referral_id"`
	ReferrerID             string `json:"referrer_id"`
	PointsEarnedByReferrer int64  `json:"points_earned_referrer"`
	PointsEarnedByReferred int64  `json:"points_earned_referred"`
}

type ConvertReferralResult struct {
	ReferralID     string `json:"referral_id"`
	ConversionType string `json:"conversion_type"`
	BonusPoints    int64  `json:"bonus_points"`
}

type ReferralStats struct {
	AccountID         string `json:"account_id"`
	Total             int64  `json:"total_referrals"`
	Pending           int64  `json:"pending_referrals"`
	Active            int64  `json:"active_referrals"`
	Converted         int64  `json:"converted_referrals"`
	TotalPointsEarned int64  `json:"total_points_earned"`
	ReferralCode      string `json:"referral_code,omitempty"`
	ReferralLink      string `json:"referral_link,omitempty"`
}

// Link returns the signup URL carrying a referral code.
func (s *ReferralService) Link(code string) string {
	return s.BaseURL + "/signup?ref=" + url.QueryEscape(code)
}

// Create issues a fresh pending referral code for the referrer.
func (s *ReferralService) Create(ctx context.Context, referrerID, source string) (*models.Referral, error) {
	if source == "" {
		source = "link"
	}
	if !referralSources[source] {
		return nil, validationf("unknown referral source %q", source)
	}
	ref := models.Referral{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		Source:     source,
		Status:     models.ReferralPending,
	}
	_, err := s.Codes.InsertWithCode(GroupCodeLength, func(code string) error {
		ref.ReferralCode = code
		return s.DB.WithContext(ctx).Create(&ref).Error
	})
	if err != nil {
		return nil, storageErr("create referral", err)
	}
	s.Log.Info("[REFERRALS] referral created", zap.String("referrer_id", referrerID), zap.String("code", ref.ReferralCode))
	return &ref, nil
}

// Apply binds a pending code to the signing-up account and awards both sides.
func (s *ReferralService) Apply(ctx context.Context, code, accountID string) (*ApplyReferralResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, validationf("referral code is required")
	}
	var res ApplyReferralResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.Referral
		if err := tx.Where("referral_code = ?", code).First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: referral code", ErrNotFound)
			}
			return err
		}
		if ref.ReferrerID == accountID {
			return validationf("cannot apply your own referral code")
		}
		var already int64
		if err := tx.Model(&models.Referral{}).Where("referred_id = ?", accountID).Count(&already).Error; err != nil {
			return err
		}
		if already > 0 {
			return fmt.Errorf("%w: account already used a referral code", ErrConflict)
		}

		upd := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", ref.ID, models.ReferralPending).
			Updates(map[string]any{"status": models.ReferralActive, "referred_id": accountID})
		if upd.Error != nil {
			if errors.Is(upd.Error, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: account already used a referral code", ErrConflict)
			}
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: referral code already used", ErrConflict)
		}

		referrer, err := s.Ledger.AwardTx(tx, AwardRequest{
			AccountID:   ref.ReferrerID,
			Action:      models.ActionReferralSignup,
			Description: "Referred a new user",
			ReferralID:  &ref.ID,
		})
		if err != nil {
			return err
		}
		referred, err := s.Ledger.AwardTx(tx, AwardRequest{
			AccountID:   accountID,
			Action:      models.ActionWelcomeBonus,
			Description: "Welcome bonus",
			ReferralID:  &ref.ID,
		})
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Referral{}).Where("id = ?", ref.ID).Updates(map[string]any{
			"points_awarded_to_referrer": referrer.PointsAwarded,
			"points_awarded_to_referred": referred.PointsAwarded,
		}).Error; err != nil {
			return err
		}

		res = ApplyReferralResult{
			ReferralID:             ref.ID,
			ReferrerID:             ref.ReferrerID,
			PointsEarnedByReferrer: referrer.PointsAwarded,
			PointsEarnedByReferred: referred.PointsAwarded,
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("apply referral", err)
	}
	s.Ledger.Invalidate(ctx, res.ReferrerID, accountID)
	s.Log.Info("[REFERRALS] referral applied", zap.String("referral_id", res.ReferralID), zap.String("account_id", accountID))
	return &res, nil
}

// Convert marks an active referral converted and pays the referrer's conversion bonus.
func (s *ReferralService) Convert(ctx context.Context, referralID, conversionType string) (*ConvertReferralResult, error) {
	if !conversionTypes[conversionType] {
		return nil, validationf("unknown conversion type %q", conversionType)
	}
	if uuid.Validate(referralID) != nil {
		return nil, fmt.Errorf("%w: referral", ErrNotFound)
	}
	var referrerID string
	var res ConvertReferralResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ref models.Referral
		if err := tx.Where("id = ?", referralID).First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: referral", ErrNotFound)
			}
			return err
		}

		now := time.Now()
		upd := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", ref.ID, models.ReferralActive).
			Updates(map[string]any{
				"status":          models.ReferralConverted,
				"conversion_type": conversionType,
				"converted_at":    now,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: referral is %s, not active", ErrConflict, ref.Status)
		}

		award, err := s.Ledger.AwardTx(tx, AwardRequest{
			AccountID:   ref.ReferrerID,
			Action:      models.ActionReferralConversion,
			Description: "Referred user completed: " + conversionType,
			ReferralID:  &ref.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Referral{}).Where("id = ?", ref.ID).
			Update("points_awarded_to_referrer", gorm.Expr("points_awarded_to_referrer + ?", award.PointsAwarded)).Error; err != nil {
			return err
		}

		referrerID = ref.ReferrerID
		res = ConvertReferralResult{ReferralID: ref.ID, ConversionType: conversionType, BonusPoints: award.PointsAwarded}
		return nil
	})
	if err != nil {
		return nil, storageErr("convert referral", err)
	}
	s.Ledger.Invalidate(ctx, referrerID)
	return &res, nil
}

func (s *ReferralService) Stats(ctx context.Context, accountID string) (*ReferralStats, error) {
	var rows []struct {
		Status models.ReferralStatus
		N      int64
		Points int64
	}
	if err := s.DB.WithContext(ctx).Model(&models.Referral{}).
		Select("status, count(*) AS n, coalesce(sum(points_awarded_to_referrer), 0) AS points").
		Where("referrer_id = ?", accountID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, storageErr("referral stats", err)
	}
	stats := ReferralStats{AccountID: accountID}
	for _, r := range rows {
		switch r.Status {
		case models.ReferralPending:
			stats.Pending = r.N
		case models.ReferralActive:
			stats.Active = r.N
		case models.ReferralConverted:
			stats.Converted = r.N
		}
		stats.Total += r.N
		stats.TotalPointsEarned += r.Points
	}

	var latest models.Referral
	err := s.DB.WithContext(ctx).
		Where("referrer_id = ? AND status = ?", accountID, models.ReferralPending).
		Order("referred_at DESC").Order("id DESC").
		Limit(1).Find(&latest).Error
	if err != nil {
		return nil, storageErr("referral stats", err)
	}
	// Only unused codes are worth sharing; none is left once every code has been applied.
	if latest.ReferralCode != "" {
		stats.ReferralCode = latest.ReferralCode
		stats.ReferralLink = s.Link(latest.ReferralCode)
	}
	return &stats, nil
}

// List returns the referrer's referrals, newest first, optionally filtered by status.
func (s *ReferralService) List(ctx context.Context, accountID string, status models.ReferralStatus, limit int) ([]models.Referral, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("referrer_id = ?", accountID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var refs []models.Referral
	if err := q.Order("referred_at DESC").Limit(limit).Find(&refs).Error; err != nil {
		return nil, storageErr("list referrals", err)
	}
	return refs, nil
}
