package models

import "time"

// AssignmentStatus is the state of an assignment proposal.
type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "pending"
	AssignmentAccepted AssignmentStatus = "accepted"
	AssignmentRejected AssignmentStatus = "rejected"
)

// Assignment is a proposal that UserID take on TaskID. Unique per
// (task, user); pending is the only non-terminal state.
type Assignment struct {
	ID           uint             `gorm:"primarykey" json:"id"`
	TaskID       uint             `gorm:"not null;uniqueIndex:idx_assignment_task_user,priority:1" json:"task_id"`
	UserID       uint             `gorm:"not null;uniqueIndex:idx_assignment_task_user,priority:2;index" json:"user_id"`
	AssignedByID uint             `gorm:"not null" json:"assigned_by_id"`
	Status       AssignmentStatus `gorm:"size:20;not null;default:pending" json:"status"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	RespondedAt  *time.Time       `json:"responded_at,omitempty"`

	Task       Task `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	User       User `gorm:"foreignKey:UserID" json:"user"`
	AssignedBy User `gorm:"foreignKey:AssignedByID" json:"assigned_by"`
}
