// Package notify persists per-user notifications and pushes them to the
// user's live notification channel.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/models"
)

// EventType is the outbound frame type of a pushed notification.
const EventType = "notification"

// Notice describes a notification to create.
type Notice struct {
	UserID  uint
	Type    models.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Center creates notifications.
type Center struct {
	clock      clock.Clock
	dispatcher *effects.Dispatcher
	log        *slog.Logger
}

// NewCenter returns a Center that pushes through d.
func NewCenter(c clock.Clock, d *effects.Dispatcher, log *slog.Logger) *Center {
	if c == nil {
		c = clock.Real()
	}
	return &Center{clock: c, dispatcher: d, log: logging.OrDiscard(log)}
}

// Record persists n through tx and queues its push on eff. The push is
// delivered only when the caller dispatches eff after committing.
func (c *Center) Record(tx *gorm.DB, eff *effects.Effects, n Notice) (*models.Notification, error) {
	if n.UserID == 0 {
		return nil, errs.New(errs.ValidationError, "notification recipient is required")
	}
	if n.Title == "" {
		return nil, errs.Validation(map[string]string{"title": "title is required"})
	}
	rec := &models.Notification{
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      datatypes.JSONMap(n.Data),
		CreatedAt: c.clock.Now(),
	}
	if rec.Data == nil {
		rec.Data = datatypes.JSONMap{}
	}
	if err := tx.Omit("User").Create(rec).Error; err != nil {
		return nil, errs.Integrity(err, "create notification")
	}
	eff.Push(rec.UserID, Event(rec))
	return rec, nil
}

// Send persists n and pushes it immediately. It is the entry point for
// collaborators outside a workflow transaction.
func (c *Center) Send(ctx context.Context, conn *gorm.DB, n Notice) (*models.Notification, error) {
	var eff effects.Effects
	var rec *models.Notification
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.User{}, n.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.New(errs.NotFound, "user #%d not found", n.UserID)
			}
			return err
		}
		var err error
		rec, err = c.Record(tx, &eff, n)
		return err
	})
	if err != nil {
		return nil, errs.Integrity(err, "send notification")
	}
	c.dispatcher.Dispatch(context.WithoutCancel(ctx), &eff)
	return rec, nil
}

// Payload is the data of a notification frame: the stored payload merged
// with the notification's own fields.
type Payload map[string]any

// Event builds the frame pushed for rec.
func Event(rec *models.Notification) broker.Event {
	data := Payload{}
	for k, v := range rec.Data {
		data[k] = v
	}
	data["id"] = rec.ID
	data["type"] = string(rec.Type)
	data["title"] = rec.Title
	data["message"] = rec.Message
	data["is_read"] = rec.IsRead
	data["created_at"] = rec.CreatedAt.Format(time.RFC3339Nano)
	return broker.Event{Type: EventType, Data: data}
}
