package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType names the event a notification reports.
type NotificationType string

const (
	NotifyTaskAssigned      NotificationType = "task_assigned"
	NotifyTaskUpdated       NotificationType = "task_updated"
	NotifyTaskDeleted       NotificationType = "task_deleted"
	NotifyDueDate           NotificationType = "due_date"
	NotifyChatMessage       NotificationType = "chat_message"
	NotifyFileAttached      NotificationType = "file_attached"
	NotifyStatusChange      NotificationType = "status_change"
	NotifyAssignmentPending NotificationType = "assignment_proposed"
	NotifyAssignmentReply   NotificationType = "assignment_response"
)

// Notification is a per-user message, persisted and pushed live when the
// user has an open notification channel.
type Notification struct {
	ID        uint              `gorm:"primarykey" json:"id"`
	UserID    uint              `gorm:"not null;index:idx_notification_user_read,priority:1" json:"user_id"`
	Type      NotificationType  `gorm:"size:50;not null" json:"type"`
	Title     string            `gorm:"size:255;not null" json:"title"`
	Message   string            `json:"message"`
	Data      datatypes.JSONMap `json:"data"`
	IsRead    bool              `gorm:"default:false;index:idx_notification_user_read,priority:2" json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`

	User User `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
}
