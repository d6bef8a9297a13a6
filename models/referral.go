package models

import "time"

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActive    ReferralStatus = "active"
	ReferralConverted ReferralStatus = "converted"
)

// Referral tracks a shared referral code from creation through signup and conversion
type Referral struct {
	ID         string  `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string  `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredID *string `gorm:"type:uuid;uniqueIndex" json:"referred_id,omitempty"` // one referral per signed-up account

	ReferralCode   string         `gorm:"size:20;uniqueIndex;not null" json:"referral_code"`
	Source         string         `gorm:"size:50" json:"source,omitempty"` // whatsapp, email, link, group_invite
	Status         ReferralStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	ConversionType *string        `gorm:"size:50" json:"conversion_type,omitempty"`

	PointsAwardedToReferrer int64 `gorm:"not null;default:0" json:"points_awarded_to_referrer"`
	PointsAwardedToReferred int64 `gorm:"not null;default:0" json:"points_awarded_to_referred"`

	ReferredAt  time.Time  `gorm:"autoCreateTime" json:"referred_at"`
	ConvertedAt *time.Time `json:"converted_at,omitempty"`

	Referrer *Account `gorm:"foreignKey:ReferrerID;constraint:OnDelete:CASCADE" json:"-"`
	Referred *Account `gorm:"foreignKey:ReferredID;constraint:OnDelete:SET NULL" json:"-"`
}
