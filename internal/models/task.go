package models

import "time"

// Task is a single todo item owned by one user.
type Task struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Owner       string `gorm:"size:64;not null;index"`
	Title       string `gorm:"size:200;not null"`
	Description string `gorm:"size:1000"`
	Completed   bool   `gorm:"default:false;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
