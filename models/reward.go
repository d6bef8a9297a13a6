package models

import "time"

// Level is a gamification tier derived from lifetime points.
type Level string

const (
	LevelBronze   Level = "bronze"
	LevelSilver   Level = "silver"
	LevelGold     Level = "gold"
	LevelPlatinum Level = "platinum"
	LevelDiamond  Level = "diamond"
)

// Levels in ascending order.
var Levels = []Level{LevelBronze, LevelSilver, LevelGold, LevelPlatinum, LevelDiamond}

// ActionType is the reason recorded on a ledger entry.
type ActionType string

const (
	ActionReferralSignup     ActionType = "referral_signup"
	ActionReferralConversion ActionType = "referral_conversion"
	ActionGroupCreated       ActionType = "group_created"
	ActionGroupJoined        ActionType = "group_joined"
	ActionPropertyViewed     ActionType = "property_viewed"
	ActionPropertySaved      ActionType = "property_saved"
	ActionDealClosed         ActionType = "deal_closed"
	ActionWelcomeBonus       ActionType = "welcome_bonus"
	ActionRedemption         ActionType = "redemption"
)

// RewardProfile tracks the points balance and activity counters of one account (denormalized for performance)
type RewardProfile struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID string `gorm:"uniqueIndex;type:uuid;not null" json:"account_id"`

	// Core balance
	CurrentLevel   Level `gorm:"size:20;not null;default:'bronze';index" json:"current_level"`
	CurrentPoints  int64 `gorm:"not null;default:0;check:current_points >= 0" json:"current_points"`
	LifetimePoints int64 `gorm:"not null;default:0;index" json:"lifetime_points"`

	// Activity counters
	TotalReferrals      int64 `gorm:"not null;default:0" json:"total_referrals"`
	SuccessfulReferrals int64 `gorm:"not null;default:0" json:"successful_referrals"`
	GroupsCreated       int64 `gorm:"not null;default:0" json:"groups_created"`
	GroupsJoined        int64 `gorm:"not null;default:0" json:"groups_joined"`
	PropertiesViewed    int64 `gorm:"not null;default:0" json:"properties_viewed"`
	PropertiesSaved     int64 `gorm:"not null;default:0" json:"properties_saved"`

	LeaderboardRank *int      `gorm:"index" json:"leaderboard_rank"`
	LevelAchievedAt time.Time `json:"level_achieved_at"`

	Account *Account `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	Timestamps
}

// RewardTransaction is an append-only ledger entry. Rows are never updated or deleted.
type RewardTransaction struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID   string     `gorm:"type:uuid;not null;index:idx_reward_txn_account_created,priority:1" json:"account_id"`
	ActionType  ActionType `gorm:"size:50;not null;index" json:"action_type"`
	Points      int64      `gorm:"not null" json:"points"`
	Description string     `gorm:"type:text" json:"description"`

	BalanceAfter int64 `gorm:"not null" json:"balance_after"`

	RelatedReferralID *string `gorm:"type:uuid" json:"related_referral_id,omitempty"`
	RelatedGroupID    *string `gorm:"type:uuid" json:"related_group_id,omitempty"`
	RelatedPropertyID *string `gorm:"type:uuid" json:"related_property_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_reward_txn_account_created,priority:2" json:"created_at"`

	Account *Account `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
