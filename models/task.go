package models

import "time"

const (
	TaskStatusOpen = "OPEN"
	TaskStatusDone = "DONE"
)

// Task is a durable, assignable work item. The sync subsystem creates one when
// a remote write is not supported and a human has to act instead.
type Task struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	BusinessId       string     `gorm:"index;not null" json:"business_id"`
	Title            string     `gorm:"size:255;not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description"`
	AssignedToUserId int        `gorm:"index" json:"assigned_to_user_id"`
	CreatedByUserId  int        `json:"created_by_user_id"`
	Status           string     `gorm:"size:20;not null" json:"status"`
	DueDate          *time.Time `json:"due_date"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type Notification struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	UserId     int       `gorm:"index;not null" json:"user_id"`
	Title      string    `gorm:"size:255;not null" json:"title"`
	Body       string    `gorm:"type:text" json:"body"`
	IsRead     bool      `gorm:"default:false" json:"is_read"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
