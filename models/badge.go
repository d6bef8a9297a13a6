package models

import (
	"time"
)

// BadgeType: static catalogue entry, seeded at startup
type BadgeType struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string           `gorm:"uniqueIndex;size:64;not null" json:"code"` // e.g., "FIRST_GROUP", "RECRUITER"
	Name        string           `gorm:"not null" json:"name"`
	Description string           `json:"description"`
	Rarity      string           `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Threshold   map[string]int64 `gorm:"type:jsonb;serializer:json" json:"threshold"`      // e.g., {"groups_created": 1}
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// AccountBadge: awarded instance, at most one per (account, badge)
type AccountBadge struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	AccountID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_account_badge,priority:1" json:"account_id"`
	BadgeTypeID string    `gorm:"type:uuid;not null;uniqueIndex:idx_account_badge,priority:2" json:"badge_type_id"`
	BadgeType   BadgeType `gorm:"foreignKey:BadgeTypeID;constraint:OnDelete:CASCADE" json:"badge"`
	Account     *Account  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	AwardedAt   time.Time `gorm:"autoCreateTime" json:"awarded_at"`
}

// BadgeCatalogue is upserted by code on startup.
var BadgeCatalogue = []BadgeType{
	{
		Code:        "FIRST_GROUP",
		Name:        "Group Founder",
		Description: "Created your first buying group",
		Rarity:      "common",
		Threshold:   map[string]int64{"groups_created": 1},
	},
	{
		Code:        "TEAM_PLAYER",
		Name:        "Team Player",
		Description: "Joined three buying groups",
		Rarity:      "common",
		Threshold:   map[string]int64{"groups_joined": 3},
	},
	{
		Code:        "RECRUITER",
		Name:        "Recruiter",
		Description: "Five referrals converted",
		Rarity:      "rare",
		Threshold:   map[string]int64{"successful_referrals": 5},
	},
	{
		Code:        "COLLECTOR",
		Name:        "Collector",
		Description: "Saved ten properties",
		Rarity:      "common",
		Threshold:   map[string]int64{"properties_saved": 10},
	},
	{
		Code:        "GOLD_STANDARD",
		Name:        "Gold Standard",
		Description: "Reached 2000 lifetime points",
		Rarity:      "epic",
		Threshold:   map[string]int64{"lifetime_points": 2000},
	},
}
