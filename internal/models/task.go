package models

import (
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every lifecycle state in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Priority is a task priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task represents a tracked work item
type Task struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `json:"description"`
	CreatedByID uint       `gorm:"not null;index" json:"created_by_id"`
	Priority    Priority   `gorm:"size:20;default:normal" json:"priority"`
	Status      Status     `gorm:"size:20;default:todo;index" json:"status"`
	DueDate     *time.Time `json:"due_date"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relationships
	CreatedBy User   `gorm:"foreignKey:CreatedByID;constraint:OnDelete:CASCADE;" json:"created_by"`
	Assignees []User `gorm:"many2many:task_assignees;constraint:OnDelete:CASCADE;" json:"assignees"`
}

// TaskAssignee is the join table for the task/assignee many-to-many relationship
type TaskAssignee struct {
	TaskID uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey"`
}

// AssigneeIDs returns the ids of the loaded assignees.
func (t *Task) AssigneeIDs() []uint {
	ids := make([]uint, 0, len(t.Assignees))
	for _, u := range t.Assignees {
		ids = append(ids, u.ID)
	}
	return ids
}

// HasAssignee reports whether userID is among the loaded assignees.
func (t *Task) HasAssignee(userID uint) bool {
	for _, u := range t.Assignees {
		if u.ID == userID {
			return true
		}
	}
	return false
}
