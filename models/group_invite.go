package models

import "time"

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
	InviteExpired  InviteStatus = "expired"
)

// GroupInvite is a single-use invitation token, optionally targeted at one account.
type GroupInvite struct {
	ID        string  `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID   string  `gorm:"type:uuid;not null;index" json:"group_id"`
	InviterID string  `gorm:"type:uuid;not null;index" json:"inviter_id"`
	InviteeID *string `gorm:"type:uuid" json:"invitee_id,omitempty"` // nil when the code is shared openly

	InviteCode    string       `gorm:"size:20;uniqueIndex;not null" json:"invite_code"`
	Status        InviteStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	SharingMethod string       `gorm:"size:20" json:"sharing_method,omitempty"` // whatsapp, email, link

	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	DeclinedAt *time.Time `json:"declined_at,omitempty"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`

	Group   *BuyingGroup `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Inviter *Account     `gorm:"foreignKey:InviterID;constraint:OnDelete:CASCADE" json:"-"`
	Invitee *Account     `gorm:"foreignKey:InviteeID;constraint:OnDelete:SET NULL" json:"-"`

	Timestamps
}
