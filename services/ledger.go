package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PointsTable is the fixed award schedule. Redemption is not an award and has no entry.
var PointsTable = map[models.ActionType]int64{
	models.ActionReferralSignup:     100,
	models.ActionReferralConversion: 500,
	models.ActionGroupCreated:       50,
	models.ActionGroupJoined:        20,
	models.ActionPropertyViewed:     5,
	models.ActionPropertySaved:      10,
	models.ActionDealClosed:         1000,
	models.ActionWelcomeBonus:       50,
}

// LevelThresholds: minimum lifetime points per level
var LevelThresholds = map[models.Level]int64{
	models.LevelBronze:   0,
	models.LevelSilver:   500,
	models.LevelGold:     2000,
	models.LevelPlatinum: 5000,
	models.LevelDiamond:  10000,
}

// counterColumns maps countable actions to the profile counter they bump.
var counterColumns = map[models.ActionType]string{
	models.ActionGroupCreated:       "groups_created",
	models.ActionGroupJoined:        "groups_joined",
	models.ActionPropertyViewed:     "properties_viewed",
	models.ActionPropertySaved:      "properties_saved",
	models.ActionReferralSignup:     "total_referrals",
	models.ActionReferralConversion: "successful_referrals",
}

// LevelFor returns the highest level whose threshold does not exceed lifetimePoints.
func LevelFor(lifetimePoints int64) models.Level {
	for i := len(models.Levels) - 1; i >= 0; i-- {
		if lifetimePoints >= LevelThresholds[models.Levels[i]] {
			return models.Levels[i]
		}
	}
	return models.LevelBronze
}

// nextLevel returns the level after l, false at the top.
func nextLevel(l models.Level) (models.Level, bool) {
	for i, lv := range models.Levels {
		if lv == l && i+1 < len(models.Levels) {
			return models.Levels[i+1], true
		}
	}
	return "", false
}

// StatsCache stores serialized stats by key. A nil cache disables caching.
type StatsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// AwardRequest describes one points award.
type AwardRequest struct {
	AccountID   string
	Action      models.ActionType
	Description string

	ReferralID *string
	GroupID    *string
	PropertyID *string
}

type AwardResult struct {
	TransactionID string       `json:"transaction_id"`
	PointsAwarded int64        `json:"points_awarded"`
	NewBalance    int64        `json:"new_balance"`
	NewLevel      models.Level `json:"new_level"`
	LevelChanged  bool         `json:"level_changed"`
}

type RedeemResult struct {
	TransactionID  string `json:"transaction_id"`
	PointsRedeemed int64  `json:"points_redeemed"`
	NewBalance     int64  `json:"new_balance"`
}

type ReferralCounts struct {
	Total     int64 `json:"total_referrals"`
	Pending   int64 `json:"pending_referrals"`
	Active    int64 `json:"active_referrals"`
	Converted int64 `json:"successful_referrals"`
}

type UserStats struct {
	AccountID       string       `json:"account_id"`
	CurrentLevel    models.Level `json:"current_level"`
	LevelName       string       `json:"level_name"`
	CurrentPoints   int64        `json:"current_points"`
	LifetimePoints  int64        `json:"lifetime_points"`
	LevelAchievedAt time.Time    `json:"level_achieved_at"`
	NextLevelPoints *int64       `json:"next_level_points"`
	ProgressPercent int          `json:"progress_percent"`

	Referrals         ReferralCounts `json:"referrals"`
	GroupsCreated     int64          `json:"groups_created"`
	GroupsJoined      int64          `json:"groups_joined"`
	PropertiesViewed  int64          `json:"properties_viewed"`
	PropertiesSaved   int64          `json:"properties_saved"`
	TotalTransactions int64          `json:"total_transactions"`
	LeaderboardRank   *int           `json:"leaderboard_rank"`
}

type LeaderboardEntry struct {
	Rank                int          `json:"rank"`
	AccountID           string       `json:"account_id"`
	Level               models.Level `json:"current_level"`
	LifetimePoints      int64        `json:"lifetime_points"`
	SuccessfulReferrals int64        `json:"successful_referrals"`
	GroupsCreated       int64        `json:"groups_created"`
}

type LevelInfo struct {
	Level     models.Level `json:"level"`
	Name      string       `json:"name"`
	MinPoints int64        `json:"min_points"`
}

type RewardsConfig struct {
	Points map[models.ActionType]int64 `json:"points"`
	Levels []LevelInfo                 `json:"levels"`
}

// RewardsLedger owns reward profiles and the append-only transaction log.
type RewardsLedger struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Badges   *BadgeService
	Cache    StatsCache
	CacheTTL time.Duration
}

func NewRewardsLedger(db *gorm.DB, log *zap.Logger, badges *BadgeService, cache StatsCache, cacheTTL time.Duration) *RewardsLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &RewardsLedger{DB: db, Log: log, Badges: badges, Cache: cache, CacheTTL: cacheTTL}
}

func statsKey(accountID string) string {
	return "rewards:stats:" + accountID
}

// Award applies one award in its own transaction.
func (s *RewardsLedger) Award(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	var res *AwardResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.AwardTx(tx, req)
		return err
	})
	if err != nil {
		return nil, storageErr("award", err)
	}
	s.Invalidate(ctx, req.AccountID)
	return res, nil
}

// AwardTx applies an award on the caller's transaction. The balance is moved with an
// in-place increment so concurrent awards never lose an update. Callers should
// Invalidate the account once their transaction commits.
func (s *RewardsLedger) AwardTx(tx *gorm.DB, req AwardRequest) (*AwardResult, error) {
	points, ok := PointsTable[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, req.Action)
	}
	if uuid.Validate(req.AccountID) != nil {
		return nil, validationf("account id must be a uuid")
	}
	var known int64
	if err := tx.Model(&models.Account{}).Where("id = ?", req.AccountID).Count(&known).Error; err != nil {
		return nil, err
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, req.AccountID)
	}
	if err := ensureProfile(tx, req.AccountID); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"current_points":  gorm.Expr("current_points + ?", points),
		"lifetime_points": gorm.Expr("lifetime_points + ?", points),
	}
	if col, ok := counterColumns[req.Action]; ok {
		updates[col] = gorm.Expr(col + " + 1")
	}
	if err := tx.Model(&models.RewardProfile{}).Where("account_id = ?", req.AccountID).Updates(updates).Error; err != nil {
		return nil, err
	}

	// Read back under the row lock taken by the update.
	var prof models.RewardProfile
	if err := tx.Where("account_id = ?", req.AccountID).First(&prof).Error; err != nil {
		return nil, err
	}

	level := LevelFor(prof.LifetimePoints)
	changed := level != prof.CurrentLevel
	if changed {
		now := time.Now()
		if err := tx.Model(&prof).Updates(map[string]any{
			"current_level":     level,
			"level_achieved_at": now,
		}).Error; err != nil {
			return nil, err
		}
		prof.CurrentLevel = level
		prof.LevelAchievedAt = now
	}

	description := req.Description
	if description == "" {
		description = string(req.Action)
	}
	txn := models.RewardTransaction{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		ActionType:        req.Action,
		Points:            points,
		Description:       description,
		BalanceAfter:      prof.CurrentPoints,
		RelatedReferralID: req.ReferralID,
		RelatedGroupID:    req.GroupID,
		RelatedPropertyID: req.PropertyID,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}

	if s.Badges != nil {
		if _, err := s.Badges.EvaluateTx(tx, &prof); err != nil {
			return nil, err
		}
	}

	s.Log.Info("[LEDGER] points awarded",
		zap.String("account_id", req.AccountID),
		zap.String("action", string(req.Action)),
		zap.Int64("points", points),
		zap.Int64("balance", prof.CurrentPoints),
		zap.String("level", string(prof.CurrentLevel)),
	)

	return &AwardResult{
		TransactionID: txn.ID,
		PointsAwarded: points,
		NewBalance:    prof.CurrentPoints,
		NewLevel:      prof.CurrentLevel,
		LevelChanged:  changed,
	}, nil
}

// Redeem spends points. The decrement is conditional on the balance covering it, so the
// balance can never go negative. Lifetime points and level are untouched.
func (s *RewardsLedger) Redeem(ctx context.Context, accountID string, points int64, description string) (*RedeemResult, error) {
	if points <= 0 {
		return nil, validationf("points must be positive")
	}
	var res *RedeemResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.RewardProfile{}).
			Where("account_id = ? AND current_points >= ?", accountID, points).
			Update("current_points", gorm.Expr("current_points - ?", points))
		if upd.Error != nil {
			return upd.Error
		}

		var prof models.RewardProfile
		err := tx.Where("account_id = ?", accountID).First(&prof).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if upd.RowsAffected == 0 {
			// A missing profile has never earned anything.
			return &InsufficientBalanceError{Available: prof.CurrentPoints, Requested: points}
		}

		if description == "" {
			description = "redemption"
		}
		txn := models.RewardTransaction{
			ID:           uuid.NewString(),
			AccountID:    accountID,
			ActionType:   models.ActionRedemption,
			Points:       -points,
			Description:  description,
			BalanceAfter: prof.CurrentPoints,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		res = &RedeemResult{TransactionID: txn.ID, PointsRedeemed: points, NewBalance: prof.CurrentPoints}
		return nil
	})
	if err != nil {
		return nil, storageErr("redeem", err)
	}
	s.Invalidate(ctx, accountID)
	s.Log.Info("[LEDGER] points redeemed",
		zap.String("account_id", accountID),
		zap.Int64("points", points),
		zap.Int64("balance", res.NewBalance),
	)
	return res, nil
}

// Profile returns the account's profile. Accounts that never earned points get an unsaved
// bronze profile; rows are only created by the first award.
func (s *RewardsLedger) Profile(ctx context.Context, accountID string) (*models.RewardProfile, error) {
	var prof models.RewardProfile
	err := s.DB.WithContext(ctx).Where("account_id = ?", accountID).First(&prof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RewardProfile{AccountID: accountID, CurrentLevel: models.LevelBronze}, nil
	}
	if err != nil {
		return nil, storageErr("load profile", err)
	}
	return &prof, nil
}

// Stats assembles the account's reward summary. Results are cached when a cache is configured.
func (s *RewardsLedger) Stats(ctx context.Context, accountID string) (*UserStats, error) {
	if s.Cache != nil {
		if b, ok := s.Cache.Get(ctx, statsKey(accountID)); ok {
			var cached UserStats
			if err := json.Unmarshal(b, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	prof, err := s.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)

	var txnCount int64
	if err := db.Model(&models.RewardTransaction{}).Where("account_id = ?", accountID).Count(&txnCount).Error; err != nil {
		return nil, storageErr("count transactions", err)
	}

	var rows []struct {
		Status models.ReferralStatus
		N      int64
	}
	if err := db.Model(&models.Referral{}).
		Select("status, count(*) AS n").
		Where("referrer_id = ?", accountID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, storageErr("count referrals", err)
	}
	var refs ReferralCounts
	for _, r := range rows {
		switch r.Status {
		case models.ReferralPending:
			refs.Pending = r.N
		case models.ReferralActive:
			refs.Active = r.N
		case models.ReferralConverted:
			refs.Converted = r.N
		}
		refs.Total += r.N
	}

	stats := &UserStats{
		AccountID:         accountID,
		CurrentLevel:      prof.CurrentLevel,
		LevelName:         levelName(prof.CurrentLevel),
		CurrentPoints:     prof.CurrentPoints,
		LifetimePoints:    prof.LifetimePoints,
		LevelAchievedAt:   prof.LevelAchievedAt,
		Referrals:         refs,
		GroupsCreated:     prof.GroupsCreated,
		GroupsJoined:      prof.GroupsJoined,
		PropertiesViewed:  prof.PropertiesViewed,
		PropertiesSaved:   prof.PropertiesSaved,
		TotalTransactions: txnCount,
		LeaderboardRank:   prof.LeaderboardRank,
	}
	stats.NextLevelPoints, stats.ProgressPercent = progress(prof.CurrentLevel, prof.LifetimePoints)

	if s.Cache != nil {
		if b, err := json.Marshal(stats); err == nil {
			s.Cache.Set(ctx, statsKey(accountID), b, s.CacheTTL)
		}
	}
	return stats, nil
}

// progress reports the next threshold and the clamped percentage towards it.
// At the top level there is no next threshold and progress is 100.
func progress(level models.Level, lifetime int64) (*int64, int) {
	next, ok := nextLevel(level)
	if !ok {
		return nil, 100
	}
	floor := LevelThresholds[level]
	ceil := LevelThresholds[next]
	pct := int(100 * (lifetime - floor) / (ceil - floor))
	pct = max(0, min(pct, 100))
	return &ceil, pct
}

// Leaderboard ranks the top accounts by lifetime points and stores each returned rank on
// its profile. Profiles outside the window keep whatever rank they had.
func (s *RewardsLedger) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 500 {
		limit = 500
	}
	var entries []LeaderboardEntry
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var top []models.RewardProfile
		if err := tx.Order("lifetime_points DESC").Order("created_at ASC").Order("id ASC").
			Limit(limit).Find(&top).Error; err != nil {
			return err
		}
		entries = make([]LeaderboardEntry, 0, len(top))
		for i, p := range top {
			rank := i + 1
			if err := tx.Model(&models.RewardProfile{}).Where("id = ?", p.ID).
				UpdateColumn("leaderboard_rank", rank).Error; err != nil {
				return err
			}
			entries = append(entries, LeaderboardEntry{
				Rank:                rank,
				AccountID:           p.AccountID,
				Level:               p.CurrentLevel,
				LifetimePoints:      p.LifetimePoints,
				SuccessfulReferrals: p.SuccessfulReferrals,
				GroupsCreated:       p.GroupsCreated,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	// Cached stats carry leaderboard_rank.
	ranked := make([]string, len(entries))
	for i, e := range entries {
		ranked[i] = e.AccountID
	}
	s.Invalidate(ctx, ranked...)
	return entries, nil
}

// History returns the newest transactions first.
func (s *RewardsLedger) History(ctx context.Context, accountID string, limit int) ([]models.RewardTransaction, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var txns []models.RewardTransaction
	if err := s.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, storageErr("history", err)
	}
	return txns, nil
}

// TransactionsSince returns transactions newer than the cursor, oldest first.
func (s *RewardsLedger) TransactionsSince(ctx context.Context, accountID string, since time.Time) ([]models.RewardTransaction, error) {
	var txns []models.RewardTransaction
	if err := s.DB.WithContext(ctx).
		Where("account_id = ? AND created_at > ?", accountID, since).
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, storageErr("transactions since", err)
	}
	return txns, nil
}

func (s *RewardsLedger) Config() RewardsConfig {
	cfg := RewardsConfig{Points: make(map[models.ActionType]int64, len(PointsTable))}
	for k, v := range PointsTable {
		cfg.Points[k] = v
	}
	for _, l := range models.Levels {
		cfg.Levels = append(cfg.Levels, LevelInfo{Level: l, Name: levelName(l), MinPoints: LevelThresholds[l]})
	}
	return cfg
}

// Invalidate drops cached stats for the given accounts.
func (s *RewardsLedger) Invalidate(ctx context.Context, accountIDs ...string) {
	if s.Cache == nil || len(accountIDs) == 0 {
		return
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = statsKey(id)
	}
	s.Cache.Delete(ctx, keys...)
}

// levelName builds a fresh Caser per call; Casers are not safe for concurrent use.
func levelName(l models.Level) string {
	return cases.Title(language.English).String(string(l))
}

// ensureProfile lazily inserts a bronze profile; concurrent first awards race on the unique account_id.
func ensureProfile(tx *gorm.DB, accountID string) error {
	prof := models.RewardProfile{
		ID:              uuid.NewString(),
		AccountID:       accountID,
		CurrentLevel:    models.LevelBronze,
		LevelAchievedAt: time.Now(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(&prof).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	return nil
}
