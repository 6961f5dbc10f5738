package models

import "time"

// Message roles. A message is either a user turn or an assistant turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxContentLen is the maximum stored length of a message body. Longer
// content is truncated on append.
const MaxContentLen = 4000

// Message is one immutable turn in a conversation. Owner is denormalized
// from the conversation for fast isolation filtering. Ordering is by
// (created_at, id).
type Message struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Owner          string `gorm:"size:64;not null;index"`
	ConversationID uint   `gorm:"not null;index"`
	Role           string `gorm:"size:20;not null"`
	Content        string `gorm:"size:4000;not null"`
	ToolCalls      string `gorm:"type:text"`
	CreatedAt      time.Time
}
