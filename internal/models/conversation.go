package models

import "time"

// Conversation is one ongoing dialogue between a user and the assistant.
// A conversation has exactly one owner and is never shared; deleting it
// cascades to its messages.
type Conversation struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Owner     string `gorm:"size:64;not null;index"`
	Title     string `gorm:"size:200"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}
