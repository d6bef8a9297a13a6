package models

import "time"

type GroupStatus string

const (
	GroupForming     GroupStatus = "forming"
	GroupNegotiating GroupStatus = "negotiating"
	GroupClosed      GroupStatus = "closed"
	GroupCancelled   GroupStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s GroupStatus) Terminal() bool {
	return s == GroupClosed || s == GroupCancelled
}

type MemberStatus string

const (
	MemberInvited     MemberStatus = "invited"
	MemberInterested  MemberStatus = "interested"
	MemberCommitted   MemberStatus = "committed"
	MemberDepositPaid MemberStatus = "deposit_paid"
	MemberClosed      MemberStatus = "closed"
	MemberCancelled   MemberStatus = "cancelled"
)

// SeatedMemberStatuses hold a seat in current_member_count. Invited rows do not.
var SeatedMemberStatuses = []MemberStatus{MemberInterested, MemberCommitted, MemberDepositPaid}

// BuyingGroup coordinates a bulk purchase. Member counters are maintained with in-place
// conditional updates and always agree with the GroupMember rows while the group is open.
type BuyingGroup struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	AdminID string `gorm:"type:uuid;not null;index" json:"admin_id"`

	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Slug        string `gorm:"size:300;index" json:"slug"`

	// Goals
	TargetLocation      string     `gorm:"size:100;not null;index" json:"target_location"`
	TargetConfiguration string     `gorm:"size:50" json:"target_configuration,omitempty"` // "3BHK", "4BHK", ...
	BudgetMin           *int64     `json:"budget_min,omitempty"`
	BudgetMax           int64      `gorm:"not null" json:"budget_max"`
	CloseByDate         *time.Time `json:"close_by_date,omitempty"`

	// Rules
	MinimumMembers int `gorm:"not null;default:5" json:"minimum_members"`
	MaximumMembers int `gorm:"not null;default:20" json:"maximum_members"`

	Status               GroupStatus `gorm:"size:50;not null;default:'forming';index" json:"status"`
	CurrentMemberCount   int         `gorm:"not null;default:1" json:"current_member_count"`
	CommittedMemberCount int         `gorm:"not null;default:0" json:"committed_member_count"`

	// Negotiation outcome
	FinalPricePerUnit *int64     `json:"final_price_per_unit,omitempty"`
	DealClosedAt      *time.Time `json:"deal_closed_at,omitempty"`

	// Sharing
	InviteCode     string `gorm:"size:20;uniqueIndex;not null" json:"invite_code"`
	IsDiscoverable bool   `gorm:"not null" json:"is_discoverable"`

	Admin *Account `gorm:"foreignKey:AdminID" json:"-"`

	Timestamps
}

// GroupMember is unique per (group, account). Status only moves forward.
type GroupMember struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID   string       `gorm:"type:uuid;not null;uniqueIndex:idx_members_unique,priority:1;index:idx_members_status,priority:1" json:"group_id"`
	AccountID string       `gorm:"type:uuid;not null;uniqueIndex:idx_members_unique,priority:2;index" json:"account_id"`
	Status    MemberStatus `gorm:"size:50;not null;default:'invited';index:idx_members_status,priority:2" json:"status"`

	InvitedBy *string    `gorm:"type:uuid" json:"invited_by,omitempty"`
	InvitedAt *time.Time `json:"invited_at,omitempty"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`

	CommittedAt   *time.Time `json:"committed_at,omitempty"`
	DepositPaidAt *time.Time `json:"deposit_paid_at,omitempty"`
	DepositAmount *int64     `json:"deposit_amount,omitempty"`

	LastActiveAt time.Time `json:"last_active_at"`

	// Members go with their group or their account.
	Group   *BuyingGroup `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Account *Account     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Inviter *Account     `gorm:"foreignKey:InvitedBy;constraint:OnDelete:SET NULL" json:"-"`

	Timestamps
}
