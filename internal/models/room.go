package models

import (
	"fmt"
	"time"
)

// RoomType distinguishes the three kinds of chat room.
type RoomType string

const (
	RoomDirect RoomType = "direct"
	RoomTask   RoomType = "task"
	RoomGroup  RoomType = "group"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomDirect || t == RoomTask || t == RoomGroup
}

// Room is a persisted broadcast domain.
type Room struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type RoomType `gorm:"size:20;not null;index" json:"room_type"`
	Name string   `gorm:"size:255" json:"name,omitempty"`
	// DirectKey is "min:max" of the two participant ids; set only for
	// direct rooms so the unique index admits one room per pair.
	DirectKey *string `gorm:"size:64;uniqueIndex" json:"-"`
	TaskID    *uint   `gorm:"uniqueIndex" json:"task_id,omitempty"`

	Task         *Task  `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE;" json:"-"`
	Participants []User `gorm:"many2many:room_participants;constraint:OnDelete:CASCADE;" json:"participants,omitempty"`
}

// RoomParticipant is the join table for room membership.
type RoomParticipant struct {
	RoomID uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey"`
}

// DirectKey returns the canonical key for the unordered pair {a, b}.
func DirectKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// Message is a chat message. Immutable once created except IsRead.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	RoomID    uint      `gorm:"not null;index:idx_message_room_ts,priority:1" json:"room_id"`
	SenderID  uint      `gorm:"not null;index" json:"sender_id"`
	Content   string    `gorm:"not null" json:"content"`
	Timestamp time.Time `gorm:"not null;index:idx_message_room_ts,priority:2" json:"timestamp"`
	IsRead    bool      `gorm:"default:false" json:"is_read"`

	Room        Room                `gorm:"constraint:OnDelete:CASCADE;" json:"-"`
	Sender      User                `gorm:"foreignKey:SenderID" json:"sender"`
	Attachments []MessageAttachment `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE;" json:"attachments"`
}

// MessageAttachment is metadata for a file stored by the upload service.
type MessageAttachment struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	MessageID  uint      `gorm:"not null;index" json:"message_id"`
	FileName   string    `gorm:"size:255;not null" json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `gorm:"size:100" json:"mime_type"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}
