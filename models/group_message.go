package models

import "time"

const (
	MessageTypeText         = "text"
	MessageTypeAnnouncement = "announcement"
	MessageTypeSystem       = "system"
)

// GroupMessage is an immutable chat entry; only the pin flag may change.
type GroupMessage struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	GroupID     string    `gorm:"type:uuid;not null;index:idx_messages_created,priority:1" json:"group_id"`
	SenderID    string    `gorm:"type:uuid;not null;index" json:"sender_id"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	MessageType string    `gorm:"size:20;not null;default:'text'" json:"message_type"`
	IsPinned    bool      `gorm:"not null;default:false" json:"is_pinned"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_messages_created,priority:2" json:"created_at"`

	Group  *BuyingGroup `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Sender *Account     `gorm:"foreignKey:SenderID;constraint:OnDelete:CASCADE" json:"-"`
}
