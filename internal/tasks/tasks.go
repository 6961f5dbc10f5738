// Package tasks provides owner-scoped CRUD over the task table. It is the
// storage side of the assistant's tool set; the agent never touches the
// database directly.
package tasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Field length limits, enforced before any write.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
)

// ErrNotFound is returned for tasks that are absent or owned by another
// user — the same error in both cases.
var ErrNotFound = errors.New("tasks: task not found")

// Service provides owner-scoped task operations.
type Service struct {
	db *gorm.DB
}

// New creates a Service.
func New(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("tasks: db is required")
	}
	return &Service{db: db}, nil
}

// Create adds a new task for owner.
func (s *Service) Create(owner, title, description string) (*models.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("tasks: title is required")
	}
	if len([]rune(title)) > MaxTitleLen {
		return nil, fmt.Errorf("tasks: title exceeds %d characters", MaxTitleLen)
	}
	if len([]rune(description)) > MaxDescriptionLen {
		return nil, fmt.Errorf("tasks: description exceeds %d characters", MaxDescriptionLen)
	}

	task := models.Task{
		Owner:       owner,
		Title:       title,
		Description: description,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("tasks: create: %w", err)
	}
	return &task, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Completed *bool // nil means all tasks
}

// List returns owner's tasks, newest first.
func (s *Service) List(owner string, filter ListFilter) ([]models.Task, error) {
	q := s.db.Where("owner = ?", owner)
	if filter.Completed != nil {
		q = q.Where("completed = ?", *filter.Completed)
	}

	var out []models.Task
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("tasks: list for %s: %w", owner, err)
	}
	return out, nil
}

// Get returns a task by id if it belongs to owner.
func (s *Service) Get(id uint, owner string) (*models.Task, error) {
	var task models.Task
	err := s.db.Where("id = ? AND owner = ?", id, owner).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: get %d: %w", id, err)
	}
	return &task, nil
}

// Update describes a partial task update; nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
	Completed   *bool
}

// Update applies a partial update to an owned task.
func (s *Service) Update(id uint, owner string, u Update) (*models.Task, error) {
	task, err := s.Get(id, owner)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return nil, fmt.Errorf("tasks: title is required")
		}
		if len([]rune(title)) > MaxTitleLen {
			return nil, fmt.Errorf("tasks: title exceeds %d characters", MaxTitleLen)
		}
		task.Title = title
	}
	if u.Description != nil {
		if len([]rune(*u.Description)) > MaxDescriptionLen {
			return nil, fmt.Errorf("tasks: description exceeds %d characters", MaxDescriptionLen)
		}
		task.Description = *u.Description
	}
	if u.Completed != nil {
		task.Completed = *u.Completed
	}

	if err := s.db.Save(task).Error; err != nil {
		return nil, fmt.Errorf("tasks: update %d: %w", id, err)
	}
	return task, nil
}

// Complete marks an owned task done.
func (s *Service) Complete(id uint, owner string) (*models.Task, error) {
	done := true
	return s.Update(id, owner, Update{Completed: &done})
}

// Delete removes an owned task.
func (s *Service) Delete(id uint, owner string) error {
	res := s.db.Where("id = ? AND owner = ?", id, owner).Delete(&models.Task{})
	if res.Error != nil {
		return fmt.Errorf("tasks: delete %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every task owned by owner and returns the count.
// Callers must route this through the confirmation gate first.
func (s *Service) DeleteAll(owner string) (int64, error) {
	res := s.db.Where("owner = ?", owner).Delete(&models.Task{})
	if res.Error != nil {
		return 0, fmt.Errorf("tasks: delete all for %s: %w", owner, res.Error)
	}
	return res.RowsAffected, nil
}

// CompleteAll marks every pending task owned by owner done and returns
// the count. Callers must route this through the confirmation gate first.
func (s *Service) CompleteAll(owner string) (int64, error) {
	res := s.db.Model(&models.Task{}).
		Where("owner = ? AND completed = ?", owner, false).
		Update("completed", true)
	if res.Error != nil {
		return 0, fmt.Errorf("tasks: complete all for %s: %w", owner, res.Error)
	}
	return res.RowsAffected, nil
}

// FindByTitle returns owner's tasks whose titles contain q
// (case-insensitive). Used to resolve natural-language task references;
// more than one match means the reference is ambiguous.
func (s *Service) FindByTitle(owner, q string) ([]models.Task, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("tasks: search query is required")
	}

	var out []models.Task
	pattern := "%" + strings.ToLower(q) + "%"
	err := s.db.Where("owner = ? AND LOWER(title) LIKE ?", owner, pattern).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("tasks: find by title for %s: %w", owner, err)
	}
	return out, nil
}
