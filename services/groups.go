package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultMinMembers   = 5
	DefaultMaxMembers   = 20
	DefaultInviteTTL    = 14 * 24 * time.Hour
	defaultGroupsPage   = 20
	maxGroupsPageLength = 100
)

// GroupService is the group membership manager: group lifecycle, roster, invites and chat.
// Every counter change is an in-place conditional update inside the same transaction as
// the row it accounts for.
type GroupService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Ledger    *RewardsLedger
	Codes     *CodeGenerator
	InviteTTL time.Duration
	BaseURL   string
}

func NewGroupService(db *gorm.DB, log *zap.Logger, ledger *RewardsLedger, codes *CodeGenerator, inviteTTL time.Duration, baseURL string) *GroupService {
	if log == nil {
		log = zap.NewNop()
	}
	if inviteTTL <= 0 {
		inviteTTL = DefaultInviteTTL
	}
	return &GroupService{DB: db, Log: log, Ledger: ledger, Codes: codes, InviteTTL: inviteTTL, BaseURL: baseURL}
}

type CreateGroupInput struct {
	Name                string     `json:"name" validate:"required,min=3,max=255"`
	Description         string     `json:"description"`
	TargetLocation      string     `json:"target_location" validate:"required,max=100"`
	TargetConfiguration string     `json:"target_configuration" validate:"max=50"`
	BudgetMin           *int64     `json:"budget_min" validate:"omitempty,gte=0"`
	BudgetMax           *int64     `json:"budget_max" validate:"required,gt=0"`
	CloseByDate         *time.Time `json:"close_by_date"`
	MinimumMembers      int        `json:"minimum_members" validate:"min=2,max=100"`
	MaximumMembers      int        `json:"maximum_members" validate:"min=2,max=100"`
	IsDiscoverable      *bool      `json:"is_discoverable"`
}

func (in *CreateGroupInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.TargetLocation = strings.TrimSpace(in.TargetLocation)
	in.TargetConfiguration = strings.TrimSpace(in.TargetConfiguration)
	if in.MinimumMembers == 0 {
		in.MinimumMembers = DefaultMinMembers
	}
	if in.MaximumMembers == 0 {
		in.MaximumMembers = DefaultMaxMembers
	}
	if err := Validate(in); err != nil {
		return err
	}
	if in.BudgetMin != nil && *in.BudgetMin > *in.BudgetMax {
		return validationf("budget_min cannot exceed budget_max")
	}
	if in.MinimumMembers > in.MaximumMembers {
		return validationf("minimum_members cannot exceed maximum_members")
	}
	return nil
}

// CreateGroup persists a forming group with the admin as its first, committed member.
func (s *GroupService) CreateGroup(ctx context.Context, adminID string, in CreateGroupInput) (*models.BuyingGroup, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	discoverable := true
	if in.IsDiscoverable != nil {
		discoverable = *in.IsDiscoverable
	}

	now := time.Now()
	group := models.BuyingGroup{
		ID:                   uuid.NewString(),
		AdminID:              adminID,
		Name:                 in.Name,
		Description:          strings.TrimSpace(in.Description),
		TargetLocation:       in.TargetLocation,
		TargetConfiguration:  in.TargetConfiguration,
		BudgetMin:            in.BudgetMin,
		BudgetMax:            *in.BudgetMax,
		CloseByDate:          in.CloseByDate,
		MinimumMembers:       in.MinimumMembers,
		MaximumMembers:       in.MaximumMembers,
		Status:               models.GroupForming,
		CurrentMemberCount:   1,
		CommittedMemberCount: 1,
		IsDiscoverable:       discoverable,
	}
	group.Slug = slug.Make(in.Name) + "-" + group.ID[:8]

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.Codes.InsertWithCode(GroupCodeLength, func(code string) error {
			group.InviteCode = code
			// Savepoint so a duplicate code does not abort the outer transaction.
			return tx.Transaction(func(sp *gorm.DB) error {
				return sp.Create(&group).Error
			})
		})
		if err != nil {
			return err
		}

		admin := models.GroupMember{
			ID:           uuid.NewString(),
			GroupID:      group.ID,
			AccountID:    adminID,
			Status:       models.MemberCommitted,
			JoinedAt:     &now,
			CommittedAt:  &now,
			LastActiveAt: now,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}

		_, err = s.Ledger.AwardTx(tx, AwardRequest{
			AccountID:   adminID,
			Action:      models.ActionGroupCreated,
			Description: "Created group " + group.Name,
			GroupID:     &group.ID,
		})
		return err
	})
	if err != nil {
		return nil, storageErr("create group", err)
	}
	s.Ledger.Invalidate(ctx, adminID)
	s.Log.Info("[GROUPS] group created",
		zap.String("group_id", group.ID),
		zap.String("admin_id", adminID),
		zap.Int("maximum_members", group.MaximumMembers),
	)
	return &group, nil
}

// JoinDiscoverable self-joins an account into a discoverable group as interested. An
// account holding a targeted invite is promoted from invited.
func (s *GroupService) JoinDiscoverable(ctx context.Context, groupID, accountID string) (*models.GroupMember, error) {
	var member *models.GroupMember
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if !group.IsDiscoverable {
			return ErrGroupNotFound
		}
		if group.Status.Terminal() {
			return validationf("group is %s", group.Status)
		}
		member, err = s.joinAs(tx, group, accountID)
		return err
	})
	if err != nil {
		return nil, storageErr("join group", err)
	}
	s.Ledger.Invalidate(ctx, accountID)
	s.Log.Info("[GROUPS] member joined", zap.String("group_id", groupID), zap.String("account_id", accountID))
	return member, nil
}

// JoinByCode admits an account through the group's own share code. Unlike invite codes
// the group code is reusable and also opens non-discoverable groups.
func (s *GroupService) JoinByCode(ctx context.Context, code, accountID string) (*models.GroupMember, error) {
	code = NormalizeCode(code)
	var member *models.GroupMember
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.BuyingGroup
		if err := tx.Where("invite_code = ?", code).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidInvite
			}
			return err
		}
		if group.Status.Terminal() {
			return fmt.Errorf("%w: group is %s", ErrInvalidInvite, group.Status)
		}
		var err error
		member, err = s.joinAs(tx, &group, accountID)
		return err
	})
	if err != nil {
		return nil, storageErr("join by code", err)
	}
	s.Ledger.Invalidate(ctx, accountID)
	s.Log.Info("[GROUPS] member joined by code", zap.String("group_id", member.GroupID), zap.String("account_id", accountID))
	return member, nil
}

// reserveSeat is a conditional increment, so concurrent joins can never overfill the group.
func reserveSeat(tx *gorm.DB, groupID string) error {
	upd := tx.Model(&models.BuyingGroup{}).
		Where("id = ? AND current_member_count < maximum_members AND status IN ?", groupID,
			[]models.GroupStatus{models.GroupForming, models.GroupNegotiating}).
		Update("current_member_count", gorm.Expr("current_member_count + 1"))
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		return ErrGroupFull
	}
	return nil
}

// seat brings an account into the group as interested. A pending invited row is promoted
// in place; otherwise a new row is inserted carrying the inviter, if any.
func (s *GroupService) seat(tx *gorm.DB, group *models.BuyingGroup, accountID string, existing *models.GroupMember, via *models.GroupInvite) (*models.GroupMember, error) {
	if err := reserveSeat(tx, group.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	var member models.GroupMember
	if existing != nil {
		upd := tx.Model(&models.GroupMember{}).
			Where("id = ? AND status = ?", existing.ID, models.MemberInvited).
			Updates(map[string]any{
				"status":         models.MemberInterested,
				"joined_at":      now,
				"last_active_at": now,
			})
		if upd.Error != nil {
			return nil, upd.Error
		}
		if upd.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: already a member", ErrConflict)
		}
		if err := tx.Where("id = ?", existing.ID).First(&member).Error; err != nil {
			return nil, err
		}
	} else {
		member = models.GroupMember{
			ID:           uuid.NewString(),
			GroupID:      group.ID,
			AccountID:    accountID,
			Status:       models.MemberInterested,
			JoinedAt:     &now,
			LastActiveAt: now,
		}
		if via != nil {
			member.InvitedBy = &via.InviterID
			member.InvitedAt = &via.CreatedAt
		}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("%w: already a member", ErrConflict)
			}
			return nil, err
		}
	}

	if _, err := s.Ledger.AwardTx(tx, AwardRequest{
		AccountID:   accountID,
		Action:      models.ActionGroupJoined,
		Description: "Joined group " + group.Name,
		GroupID:     &group.ID,
	}); err != nil {
		return nil, err
	}
	return &member, nil
}

// joinAs seats an account that holds no seat yet. Seated members get ErrConflict.
func (s *GroupService) joinAs(tx *gorm.DB, group *models.BuyingGroup, accountID string) (*models.GroupMember, error) {
	existing, err := memberOf(tx, group.ID, accountID)
	switch {
	case errors.Is(err, ErrNotAMember):
		existing = nil
	case err != nil:
		return nil, err
	case existing.Status != models.MemberInvited:
		return nil, fmt.Errorf("%w: already a member", ErrConflict)
	}
	return s.seat(tx, group, accountID, existing, nil)
}

// memberAdvances maps a target member status to the only status it may be entered from.
// Leaving invited takes a seat, so that step goes through seat rather than this table.
var memberAdvances = map[models.MemberStatus]models.MemberStatus{
	models.MemberCommitted:   models.MemberInterested,
	models.MemberDepositPaid: models.MemberCommitted,
}

// AdvanceMember moves a member one step forward. Entering committed bumps the group's
// committed counter in the same transaction.
func (s *GroupService) AdvanceMember(ctx context.Context, groupID, accountID string, target models.MemberStatus, depositAmount *int64) (*models.GroupMember, error) {
	from, ok := memberAdvances[target]
	if !ok {
		return nil, validationf("cannot move a member to %q", target)
	}
	if target == models.MemberDepositPaid && (depositAmount == nil || *depositAmount <= 0) {
		return nil, validationf("deposit_amount must be positive")
	}

	var member models.GroupMember
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.Status.Terminal() {
			return validationf("group is %s", group.Status)
		}
		current, err := memberOf(tx, groupID, accountID)
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]any{"status": target, "last_active_at": now}
		switch target {
		case models.MemberCommitted:
			updates["committed_at"] = now
		case models.MemberDepositPaid:
			updates["deposit_paid_at"] = now
			updates["deposit_amount"] = *depositAmount
		}
		upd := tx.Model(&models.GroupMember{}).
			Where("id = ? AND status = ?", current.ID, from).
			Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: member is %s, cannot move to %s", ErrConflict, current.Status, target)
		}

		if target == models.MemberCommitted {
			if err := tx.Model(&models.BuyingGroup{}).Where("id = ?", groupID).
				Update("committed_member_count", gorm.Expr("committed_member_count + 1")).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", current.ID).First(&member).Error
	})
	if err != nil {
		return nil, storageErr("advance member", err)
	}
	s.Log.Info("[GROUPS] member advanced",
		zap.String("group_id", groupID),
		zap.String("account_id", accountID),
		zap.String("status", string(target)),
	)
	return &member, nil
}

var groupTransitions = map[models.GroupStatus][]models.GroupStatus{
	models.GroupForming:     {models.GroupNegotiating, models.GroupCancelled},
	models.GroupNegotiating: {models.GroupClosed, models.GroupCancelled},
}

func canTransition(from, to models.GroupStatus) bool {
	for _, s := range groupTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionGroup moves the group through its lifecycle. Only the admin may do so.
// Reaching a terminal state settles every open member and withdraws pending invites;
// closing pays deal_closed to members who paid a deposit.
func (s *GroupService) TransitionGroup(ctx context.Context, groupID, actorID string, target models.GroupStatus, finalPricePerUnit *int64) (*models.BuyingGroup, error) {
	var group *models.BuyingGroup
	var rewarded []string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.AdminID != actorID {
			return fmt.Errorf("%w: only the group admin can change its status", ErrForbidden)
		}
		if !canTransition(group.Status, target) {
			return validationf("cannot move group from %s to %s", group.Status, target)
		}
		if target == models.GroupNegotiating && group.CurrentMemberCount < group.MinimumMembers {
			return validationf("group needs %d members to start negotiating, has %d", group.MinimumMembers, group.CurrentMemberCount)
		}

		now := time.Now()
		updates := map[string]any{"status": target}
		if target == models.GroupClosed {
			updates["deal_closed_at"] = now
			if finalPricePerUnit != nil {
				updates["final_price_per_unit"] = *finalPricePerUnit
			}
		}
		upd := tx.Model(&models.BuyingGroup{}).Where("id = ? AND status = ?", group.ID, group.Status).Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: group status changed concurrently", ErrConflict)
		}

		if target.Terminal() {
			if target == models.GroupClosed {
				var paid []models.GroupMember
				if err := tx.Where("group_id = ? AND status = ?", group.ID, models.MemberDepositPaid).Find(&paid).Error; err != nil {
					return err
				}
				for _, m := range paid {
					if _, err := s.Ledger.AwardTx(tx, AwardRequest{
						AccountID:   m.AccountID,
						Action:      models.ActionDealClosed,
						Description: "Deal closed for group " + group.Name,
						GroupID:     &group.ID,
					}); err != nil {
						return err
					}
					rewarded = append(rewarded, m.AccountID)
				}
			}
			memberStatus := models.MemberCancelled
			if target == models.GroupClosed {
				memberStatus = models.MemberClosed
			}
			if err := tx.Model(&models.GroupMember{}).
				Where("group_id = ? AND status IN ?", group.ID, models.SeatedMemberStatuses).
				Update("status", memberStatus).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.GroupMember{}).
				Where("group_id = ? AND status = ?", group.ID, models.MemberInvited).
				Update("status", models.MemberCancelled).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.GroupInvite{}).
				Where("group_id = ? AND status = ?", group.ID, models.InvitePending).
				Update("status", models.InviteExpired).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", group.ID).First(group).Error
	})
	if err != nil {
		return nil, storageErr("transition group", err)
	}
	s.Ledger.Invalidate(ctx, rewarded...)
	s.Log.Info("[GROUPS] group status changed",
		zap.String("group_id", groupID),
		zap.String("status", string(target)),
		zap.Int("deposit_holders_rewarded", len(rewarded)),
	)
	return group, nil
}

func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*models.BuyingGroup, error) {
	group, err := loadGroup(s.DB.WithContext(ctx), groupID)
	if err != nil {
		return nil, storageErr("get group", err)
	}
	return group, nil
}

type GroupFilter struct {
	Status           models.GroupStatus
	Location         string
	Configuration    string
	DiscoverableOnly bool
	Page             int
	Limit            int
}

// ListGroups returns groups newest first.
func (s *GroupService) ListGroups(ctx context.Context, f GroupFilter) ([]models.BuyingGroup, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > maxGroupsPageLength {
		f.Limit = defaultGroupsPage
	}
	q := s.DB.WithContext(ctx).Model(&models.BuyingGroup{})
	if f.DiscoverableOnly {
		q = q.Where("is_discoverable = ?", true)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if loc := strings.TrimSpace(f.Location); loc != "" {
		q = q.Where("LOWER(target_location) LIKE ?", "%"+strings.ToLower(loc)+"%")
	}
	if f.Configuration != "" {
		q = q.Where("target_configuration = ?", f.Configuration)
	}
	var groups []models.BuyingGroup
	if err := q.Order("created_at DESC").Order("id DESC").
		Offset((f.Page - 1) * f.Limit).Limit(f.Limit).
		Find(&groups).Error; err != nil {
		return nil, storageErr("list groups", err)
	}
	return groups, nil
}

// ListMembers returns the roster, invited rows included, in join order. Only seated
// members may view it.
func (s *GroupService) ListMembers(ctx context.Context, groupID, viewerID string) ([]models.GroupMember, error) {
	db := s.DB.WithContext(ctx)
	if _, err := loadGroup(db, groupID); err != nil {
		return nil, storageErr("list members", err)
	}
	if _, err := seatedMemberOf(db, groupID, viewerID); err != nil {
		return nil, storageErr("list members", err)
	}
	var members []models.GroupMember
	if err := db.Where("group_id = ?", groupID).Order("created_at ASC").Order("id ASC").Find(&members).Error; err != nil {
		return nil, storageErr("list members", err)
	}
	return members, nil
}

// GroupShareURL is the public landing link carrying the group's join code.
func (s *GroupService) GroupShareURL(group *models.BuyingGroup) string {
	return s.BaseURL + "/groups/" + group.Slug + "?code=" + group.InviteCode
}

func loadGroup(tx *gorm.DB, groupID string) (*models.BuyingGroup, error) {
	if uuid.Validate(groupID) != nil {
		return nil, ErrGroupNotFound
	}
	var group models.BuyingGroup
	if err := tx.Where("id = ?", groupID).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// seatedMemberOf is memberOf for callers acting as members: an invited row does not count.
func seatedMemberOf(tx *gorm.DB, groupID, accountID string) (*models.GroupMember, error) {
	m, err := memberOf(tx, groupID, accountID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MemberInvited {
		return nil, fmt.Errorf("%w: invitation not accepted", ErrNotAMember)
	}
	return m, nil
}

// memberOf returns the account's membership row in any status, or ErrNotAMember.
func memberOf(tx *gorm.DB, groupID, accountID string) (*models.GroupMember, error) {
	var m models.GroupMember
	if err := tx.Where("group_id = ? AND account_id = ?", groupID, accountID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotAMember
		}
		return nil, err
	}
	return &m, nil
}
