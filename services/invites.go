package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreateInviteInput struct {
	SharingMethod string  `json:"sharing_method" validate:"omitempty,oneof=whatsapp email link"`
	InviteeID     *string `json:"invitee_id" validate:"omitempty,uuid"`
}

type InviteResult struct {
	Invite       *models.GroupInvite `json:"invite"`
	ShareURL     string              `json:"share_url"`
	WhatsAppLink string              `json:"whatsapp_link,omitempty"`
}

type RedeemInviteResult struct {
	GroupID       string `json:"group_id"`
	AlreadyMember bool   `json:"already_member"`
}

// CreateInvite issues a single-use invite code. Any seated member of an open group may invite.
func (s *GroupService) CreateInvite(ctx context.Context, groupID, inviterID string, in CreateInviteInput) (*InviteResult, error) {
	in.SharingMethod = strings.ToLower(strings.TrimSpace(in.SharingMethod))
	if err := Validate(in); err != nil {
		return nil, err
	}
	method := in.SharingMethod
	if method == "" {
		method = "link"
	}

	var group *models.BuyingGroup
	invite := models.GroupInvite{
		ID:            uuid.NewString(),
		GroupID:       groupID,
		InviterID:     inviterID,
		InviteeID:     in.InviteeID,
		Status:        models.InvitePending,
		SharingMethod: method,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.Status.Terminal() {
			return validationf("group is %s", group.Status)
		}
		if _, err := seatedMemberOf(tx, groupID, inviterID); err != nil {
			return err
		}

		// A targeted invitee is put on the roster as invited. The row holds no seat.
		var invitee *models.GroupMember
		if in.InviteeID != nil {
			invitee, err = s.invitedRow(tx, groupID, *in.InviteeID)
			if err != nil {
				return err
			}
		}

		expires := time.Now().Add(s.InviteTTL)
		invite.ExpiresAt = &expires
		if _, err := s.Codes.InsertWithCode(InviteCodeLength, func(code string) error {
			invite.InviteCode = code
			return tx.Transaction(func(sp *gorm.DB) error {
				return sp.Create(&invite).Error
			})
		}); err != nil {
			return err
		}

		if invitee == nil && in.InviteeID != nil {
			now := invite.CreatedAt
			row := models.GroupMember{
				ID:           uuid.NewString(),
				GroupID:      groupID,
				AccountID:    *in.InviteeID,
				Status:       models.MemberInvited,
				InvitedBy:    &inviterID,
				InvitedAt:    &now,
				LastActiveAt: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: already a member", ErrConflict)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("create invite", err)
	}

	res := &InviteResult{Invite: &invite, ShareURL: s.inviteURL(invite.InviteCode)}
	if method == "whatsapp" {
		res.WhatsAppLink = whatsAppLink(group, res.ShareURL)
	}
	s.Log.Info("[INVITES] invite created",
		zap.String("group_id", groupID),
		zap.String("inviter_id", inviterID),
		zap.String("sharing_method", method),
	)
	return res, nil
}

// invitedRow checks that the invitee is a registered account without a seat in the group.
// It returns their existing invited row, or nil when they are not on the roster yet.
func (s *GroupService) invitedRow(tx *gorm.DB, groupID, inviteeID string) (*models.GroupMember, error) {
	var known int64
	if err := tx.Model(&models.Account{}).Where("id = ?", inviteeID).Count(&known).Error; err != nil {
		return nil, err
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: invitee account", ErrNotFound)
	}
	row, err := memberOf(tx, groupID, inviteeID)
	switch {
	case errors.Is(err, ErrNotAMember):
		return nil, nil
	case err != nil:
		return nil, err
	case row.Status != models.MemberInvited:
		return nil, fmt.Errorf("%w: already a member", ErrConflict)
	}
	return row, nil
}

func (s *GroupService) inviteURL(code string) string {
	return s.BaseURL + "/groups/join/" + code
}

func whatsAppLink(group *models.BuyingGroup, inviteURL string) string {
	text := fmt.Sprintf("Join my property buying group '%s' on HyreBuy! We're looking for %s in %s. %s",
		group.Name, group.TargetConfiguration, group.TargetLocation, inviteURL)
	return "https://wa.me/?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

// RedeemInvite consumes a pending invite and seats the account, promoting an invited row
// when there is one. The pending to accepted flip is conditional, so a code is redeemed at
// most once however many callers race on it. An account that already holds a seat gets
// success without consuming the code.
func (s *GroupService) RedeemInvite(ctx context.Context, code, accountID string) (*RedeemInviteResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInvalidInvite
	}
	var res RedeemInviteResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invite, err := s.pendingInvite(tx, code, accountID)
		if err != nil {
			return err
		}
		group, err := loadGroup(tx, invite.GroupID)
		if err != nil {
			return err
		}
		res.GroupID = group.ID

		existing, err := memberOf(tx, group.ID, accountID)
		switch {
		case errors.Is(err, ErrNotAMember):
			existing = nil
		case err != nil:
			return err
		case existing.Status != models.MemberInvited:
			res.AlreadyMember = true
			return nil
		}
		if group.Status.Terminal() {
			return fmt.Errorf("%w: group is %s", ErrInvalidInvite, group.Status)
		}

		upd := tx.Model(&models.GroupInvite{}).
			Where("id = ? AND status = ?", invite.ID, models.InvitePending).
			Updates(map[string]any{
				"status":      models.InviteAccepted,
				"accepted_at": time.Now(),
				"invitee_id":  accountID,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrInvalidInvite
		}

		_, err = s.seat(tx, group, accountID, existing, invite)
		return err
	})
	if err != nil {
		return nil, storageErr("redeem invite", err)
	}
	if !res.AlreadyMember {
		s.Ledger.Invalidate(ctx, accountID)
		s.Log.Info("[INVITES] invite redeemed", zap.String("group_id", res.GroupID), zap.String("account_id", accountID))
	}
	return &res, nil
}

// DeclineInvite marks a pending invite declined. Targeted invites may only be declined
// by their invitee.
func (s *GroupService) DeclineInvite(ctx context.Context, code, accountID string) error {
	code = NormalizeCode(code)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invite, err := s.pendingInvite(tx, code, accountID)
		if err != nil {
			return err
		}
		upd := tx.Model(&models.GroupInvite{}).
			Where("id = ? AND status = ?", invite.ID, models.InvitePending).
			Updates(map[string]any{
				"status":      models.InviteDeclined,
				"declined_at": time.Now(),
				"invitee_id":  accountID,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrInvalidInvite
		}
		_, err = pruneInvited(tx.Where("group_id = ?", invite.GroupID))
		return err
	})
	return storageErr("decline invite", err)
}

// pendingInvite looks up a code that the account may still act on.
func (s *GroupService) pendingInvite(tx *gorm.DB, code, accountID string) (*models.GroupInvite, error) {
	var invite models.GroupInvite
	if err := tx.Where("invite_code = ?", code).First(&invite).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidInvite
		}
		return nil, err
	}
	if invite.Status != models.InvitePending {
		return nil, fmt.Errorf("%w: invite is %s", ErrInvalidInvite, invite.Status)
	}
	if invite.ExpiresAt != nil && time.Now().After(*invite.ExpiresAt) {
		return nil, fmt.Errorf("%w: invite expired", ErrInvalidInvite)
	}
	if invite.InviteeID != nil && *invite.InviteeID != accountID {
		return nil, fmt.Errorf("%w: invite is for another account", ErrInvalidInvite)
	}
	return &invite, nil
}

// ExpireInvites flips pending invites past their expiry to expired and drops invited rows
// left without a pending invite.
func (s *GroupService) ExpireInvites(ctx context.Context, now time.Time) (int64, error) {
	var expired, pruned int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GroupInvite{}).
			Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.InvitePending, now).
			Update("status", models.InviteExpired)
		if res.Error != nil {
			return res.Error
		}
		expired = res.RowsAffected
		var err error
		pruned, err = pruneInvited(tx)
		return err
	})
	if err != nil {
		return 0, storageErr("expire invites", err)
	}
	if expired > 0 {
		s.Log.Info("[INVITES] invites expired", zap.Int64("count", expired), zap.Int64("invited_rows_removed", pruned))
	}
	return expired, nil
}

// pruneInvited deletes invited member rows with no pending invite behind them. They never
// held a seat, so no counter moves.
func pruneInvited(tx *gorm.DB) (int64, error) {
	res := tx.Where("status = ? AND NOT EXISTS (SELECT 1 FROM group_invites gi"+
		" WHERE gi.group_id = group_members.group_id AND gi.invitee_id = group_members.account_id AND gi.status = ?)",
		models.MemberInvited, models.InvitePending).
		Delete(&models.GroupMember{})
	return res.RowsAffected, res.Error
}
