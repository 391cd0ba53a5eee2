package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded by the workflows.
const (
	ActionCreated            = "created"
	ActionUpdated            = "updated"
	ActionAssigned           = "assigned"
	ActionDeleted            = "deleted"
	ActionStatusChanged      = "status_changed"
	ActionAssignmentProposed = "assignment_proposed"
	ActionAssignmentAccepted = "assignment_accepted"
	ActionAssignmentRejected = "assignment_rejected"
	ActionFileAttached       = "file_attached"
)

// ActivityLog is an append-only audit record of a task mutation.
// TaskID is nil only for records of a task's own deletion.
type ActivityLog struct {
	ID        uint              `gorm:"primarykey" json:"id"`
	TaskID    *uint             `gorm:"index" json:"task_id"`
	UserID    *uint             `gorm:"index" json:"user_id"`
	Action    string            `gorm:"size:50;not null;index" json:"action"`
	Details   datatypes.JSONMap `json:"details"`
	Timestamp time.Time         `gorm:"not null;index" json:"timestamp"`
	IPAddress string            `gorm:"size:64" json:"ip_address,omitempty"`

	Task *Task `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	User *User `gorm:"constraint:OnDelete:SET NULL;" json:"user,omitempty"`
}
