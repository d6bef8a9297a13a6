package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"hyrebuy-backend/models"
	"hyrebuy-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxMessageLength = 5000

// SendMessage appends a chat message. Any member, in any status, may post; announcements
// are reserved for the admin and system messages are never accepted from callers.
func (s *GroupService) SendMessage(ctx context.Context, groupID, senderID, text, messageType string) (*models.GroupMessage, error) {
	if messageType == "" {
		messageType = models.MessageTypeText
	}
	switch messageType {
	case models.MessageTypeText, models.MessageTypeAnnouncement:
	default:
		return nil, validationf("message_type %q is not allowed", messageType)
	}
	clean := utils.SanitizeText(text)
	if clean == "" {
		return nil, validationf("message is empty")
	}
	if utf8.RuneCountInString(clean) > maxMessageLength {
		return nil, validationf("message exceeds %d characters", maxMessageLength)
	}

	var msg models.GroupMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		member, err := seatedMemberOf(tx, groupID, senderID)
		if err != nil {
			return err
		}
		if messageType == models.MessageTypeAnnouncement && group.AdminID != senderID {
			return fmt.Errorf("%w: only the admin can post announcements", ErrForbidden)
		}

		msg = models.GroupMessage{
			ID:          uuid.NewString(),
			GroupID:     groupID,
			SenderID:    senderID,
			Message:     clean,
			MessageType: messageType,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.GroupMember{}).Where("id = ?", member.ID).
			UpdateColumn("last_active_at", time.Now()).Error
	})
	if err != nil {
		return nil, storageErr("send message", err)
	}
	s.Log.Debug("[GROUPS] message sent", zap.String("group_id", groupID), zap.String("sender_id", senderID))
	return &msg, nil
}

// ListMessages returns the latest messages, oldest first. Members only.
func (s *GroupService) ListMessages(ctx context.Context, groupID, accountID string, limit int) ([]models.GroupMessage, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	db := s.DB.WithContext(ctx)
	if _, err := loadGroup(db, groupID); err != nil {
		return nil, storageErr("list messages", err)
	}
	if _, err := seatedMemberOf(db, groupID, accountID); err != nil {
		return nil, storageErr("list messages", err)
	}
	var msgs []models.GroupMessage
	if err := db.Where("group_id = ?", groupID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// PinMessage sets the pin flag on a message. Admin only.
func (s *GroupService) PinMessage(ctx context.Context, groupID, messageID, actorID string, pinned bool) (*models.GroupMessage, error) {
	var msg models.GroupMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := loadGroup(tx, groupID)
		if err != nil {
			return err
		}
		if group.AdminID != actorID {
			return fmt.Errorf("%w: only the admin can pin messages", ErrForbidden)
		}
		if uuid.Validate(messageID) != nil {
			return fmt.Errorf("%w: message", ErrNotFound)
		}
		if err := tx.Where("id = ? AND group_id = ?", messageID, groupID).First(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: message", ErrNotFound)
			}
			return err
		}
		msg.IsPinned = pinned
		return tx.Model(&msg).UpdateColumn("is_pinned", pinned).Error
	})
	if err != nil {
		return nil, storageErr("pin message", err)
	}
	return &msg, nil
}
