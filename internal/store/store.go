// Package store persists conversations and their messages. Every read and
// write is scoped to an owner; a record owned by someone else is
// indistinguishable from a record that does not exist.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultWindowSize is the number of recent messages forwarded to the
// reasoning backend when no explicit window size is configured.
const DefaultWindowSize = 20

// ErrNotFound is returned for records that are absent or owned by another
// user. The two cases share one error so callers cannot probe for
// existence.
var ErrNotFound = errors.New("store: conversation not found")

// Store provides owner-scoped access to conversations and messages.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// GetOrCreate returns the owner's most recently updated conversation,
// creating one lazily if none exists.
func (s *Store) GetOrCreate(owner string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Where("owner = ?", owner).
		Order("updated_at DESC").
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: lookup conversation for %s: %w", owner, err)
	}

	conv = models.Conversation{Owner: owner}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("store: create conversation for %s: %w", owner, err)
	}
	return &conv, nil
}

// Get returns a conversation by id if it belongs to owner.
func (s *Store) Get(id uint, owner string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Where("id = ? AND owner = ?", id, owner).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation %d: %w", id, err)
	}
	return &conv, nil
}

// List returns the owner's conversations, most recently updated first.
func (s *Store) List(owner string, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	var convs []models.Conversation
	err := s.db.Where("owner = ?", owner).
		Order("updated_at DESC").
		Limit(limit).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list conversations for %s: %w", owner, err)
	}
	return convs, nil
}

// Append adds one immutable message to a conversation and bumps the
// conversation's updated_at. Content longer than models.MaxContentLen is
// truncated. toolCalls is a pre-marshaled JSON record list for assistant
// turns; pass "" for user turns.
func (s *Store) Append(conv *models.Conversation, role, content, toolCalls string) (*models.Message, error) {
	if conv == nil {
		return nil, fmt.Errorf("store: append: conversation is required")
	}
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, fmt.Errorf("store: append: invalid role %q", role)
	}
	if r := []rune(content); len(r) > models.MaxContentLen {
		content = string(r[:models.MaxContentLen])
	}

	msg := models.Message{
		Owner:          conv.Owner,
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}

	now := time.Now()
	if err := s.db.Model(conv).Update("updated_at", now).Error; err != nil {
		return nil, fmt.Errorf("store: bump conversation %d: %w", conv.ID, err)
	}
	conv.UpdatedAt = now

	return &msg, nil
}

// FullHistory returns every message in a conversation in chronological
// order. Returns ErrNotFound if the conversation is missing or owned by
// someone else.
func (s *Store) FullHistory(convID uint, owner string) ([]models.Message, error) {
	if _, err := s.Get(convID, owner); err != nil {
		return nil, err
	}

	var msgs []models.Message
	err := s.db.Where("conversation_id = ? AND owner = ?", convID, owner).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: history for conversation %d: %w", convID, err)
	}
	return msgs, nil
}

// Window returns the n most recent messages in chronological order — the
// bounded context slice forwarded to the reasoning backend. Conversations
// shorter than n return their entire history.
func (s *Store) Window(convID uint, owner string, n int) ([]models.Message, error) {
	if n <= 0 {
		n = DefaultWindowSize
	}
	if _, err := s.Get(convID, owner); err != nil {
		return nil, err
	}

	var msgs []models.Message
	err := s.db.Where("conversation_id = ? AND owner = ?", convID, owner).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: window for conversation %d: %w", convID, err)
	}

	// Tail query returns newest first; reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Delete removes a conversation and all of its messages. Returns
// ErrNotFound if the conversation is missing or owned by someone else.
func (s *Store) Delete(convID uint, owner string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner = ?", convID, owner).
			Delete(&models.Conversation{})
		if res.Error != nil {
			return fmt.Errorf("store: delete conversation %d: %w", convID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		err := tx.Where("conversation_id = ? AND owner = ?", convID, owner).
			Delete(&models.Message{}).Error
		if err != nil {
			return fmt.Errorf("store: delete messages for conversation %d: %w", convID, err)
		}
		return nil
	})
}
