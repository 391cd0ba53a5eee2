package rooms

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
)

// ChatMessageEvent is the frame type of a broadcast chat message.
const ChatMessageEvent = "chat_message"

// maxPreview bounds the message excerpt carried in notifications.
const maxPreview = 100

// Attachment is file metadata supplied by the upload service.
type Attachment struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
}

// Post is a message to persist and broadcast.
type Post struct {
	Room        *models.Room
	Sender      *models.User
	Content     string
	Attachments []Attachment
	// NotifyParticipants creates a notification for every participant
	// other than the sender. Workflow system messages leave it off and
	// notify their own audience.
	NotifyParticipants bool
}

// Poster writes chat messages.
type Poster struct {
	clock  clock.Clock
	center *notify.Center
}

// NewPoster returns a Poster creating notifications through center.
func NewPoster(c clock.Clock, center *notify.Center) *Poster {
	if c == nil {
		c = clock.Real()
	}
	return &Poster{clock: c, center: center}
}

// Post persists p through tx and queues its broadcast on eff.
func (p *Poster) Post(tx *gorm.DB, eff *effects.Effects, post Post) (*models.Message, error) {
	content := strings.TrimSpace(post.Content)
	if content == "" && len(post.Attachments) == 0 {
		return nil, errs.Validation(map[string]string{"content": "message content is required"})
	}
	for i, a := range post.Attachments {
		if strings.TrimSpace(a.FileName) == "" || a.URL == "" {
			return nil, errs.Validation(map[string]string{fmt.Sprintf("attachments[%d]", i): "file_name and url are required"})
		}
	}

	now := p.clock.Now()
	msg := &models.Message{
		RoomID:    post.Room.ID,
		SenderID:  post.Sender.ID,
		Content:   content,
		Timestamp: now,
	}
	for _, a := range post.Attachments {
		msg.Attachments = append(msg.Attachments, models.MessageAttachment{
			FileName:   a.FileName,
			FileSize:   a.FileSize,
			MimeType:   a.MimeType,
			URL:        a.URL,
			UploadedAt: now,
		})
	}
	if err := tx.Omit("Room", "Sender").Create(msg).Error; err != nil {
		return nil, errs.Integrity(err, "create message")
	}
	msg.Sender = *post.Sender

	eff.Broadcast(post.Room.ID, Event(msg, post.Room))

	if post.NotifyParticipants && p.center != nil {
		if err := p.notifyParticipants(tx, eff, post.Room, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (p *Poster) notifyParticipants(tx *gorm.DB, eff *effects.Effects, room *models.Room, msg *models.Message) error {
	ids, err := db.ParticipantIDs(tx, room.ID)
	if err != nil {
		return errs.Integrity(err, "list room participants")
	}

	typ := models.NotifyChatMessage
	title := "New message from " + msg.Sender.Username
	body := preview(msg.Content)
	if len(msg.Attachments) > 0 {
		typ = models.NotifyFileAttached
		title = msg.Sender.Username + " shared a file"
		if body == "" {
			body = msg.Attachments[0].FileName
		}
	}

	for _, id := range ids {
		if id == msg.SenderID {
			continue
		}
		_, err := p.center.Record(tx, eff, notify.Notice{
			UserID:  id,
			Type:    typ,
			Title:   title,
			Message: body,
			Data: map[string]any{
				"room_id":    room.ID,
				"room_type":  string(room.Type),
				"message_id": msg.ID,
				"sender_id":  msg.SenderID,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= maxPreview {
		return s
	}
	r := []rune(s)
	return string(r[:maxPreview]) + "..."
}

// Sender is the author block of a message view.
type Sender struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// MessageView is the wire form of a chat message.
type MessageView struct {
	ID          uint                       `json:"id"`
	Content     string                     `json:"content"`
	Sender      Sender                     `json:"sender"`
	Timestamp   string                     `json:"timestamp"`
	RoomType    models.RoomType            `json:"room_type"`
	RoomID      uint                       `json:"room_id"`
	IsRead      bool                       `json:"is_read"`
	Attachments []models.MessageAttachment `json:"attachments"`
}

// View renders msg, whose Sender must be loaded.
func View(msg *models.Message, room *models.Room) MessageView {
	atts := msg.Attachments
	if atts == nil {
		atts = []models.MessageAttachment{}
	}
	return MessageView{
		ID:      msg.ID,
		Content: msg.Content,
		Sender: Sender{
			ID:       msg.Sender.ID,
			Username: msg.Sender.Username,
			Avatar:   msg.Sender.Avatar,
		},
		Timestamp:   msg.Timestamp.UTC().Format(time.RFC3339Nano),
		RoomType:    room.Type,
		RoomID:      room.ID,
		IsRead:      msg.IsRead,
		Attachments: atts,
	}
}

// Event builds the chat_message frame for msg.
func Event(msg *models.Message, room *models.Room) broker.Event {
	return broker.Event{Type: ChatMessageEvent, Data: View(msg, room)}
}
