// Package rooms resolves chat rooms by type and id, creating direct and
// task rooms on first use.
//
// Room ids on the wire depend on the room type: a direct room is named by
// the other participant's user id, a task room by the task id and a group
// room by its own id. Resolution always yields the persisted room.
package rooms

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// Direct returns the one direct room between a and b, creating it when
// absent. Resolution is order independent.
func Direct(conn *gorm.DB, a, b uint) (*models.Room, error) {
	if a == b {
		return nil, errs.New(errs.ValidationError, "cannot open a direct room with yourself")
	}
	var n int64
	if err := conn.Model(&models.User{}).Where("id IN ?", []uint{a, b}).Count(&n).Error; err != nil {
		return nil, errs.Integrity(err, "look up direct room users")
	}
	if n != 2 {
		return nil, errs.New(errs.NotFound, "user not found")
	}

	key := models.DirectKey(a, b)
	room, err := getOrCreate(conn, "direct_key = ?", key, &models.Room{Type: models.RoomDirect, DirectKey: &key})
	if err != nil {
		return nil, err
	}
	if err := db.AddParticipants(conn, room.ID, a, b); err != nil {
		return nil, errs.Integrity(err, "add direct room participants")
	}
	return db.GetRoom(conn, room.ID)
}

// ForTask returns the room of task, creating it when absent. The creator
// and current assignees are kept as participants; task must have its
// Assignees loaded.
func ForTask(conn *gorm.DB, task *models.Task) (*models.Room, error) {
	taskID := task.ID
	room, err := getOrCreate(conn, "task_id = ?", taskID, &models.Room{Type: models.RoomTask, Name: task.Title, TaskID: &taskID})
	if err != nil {
		return nil, err
	}
	members := append([]uint{task.CreatedByID}, task.AssigneeIDs()...)
	if err := db.AddParticipants(conn, room.ID, members...); err != nil {
		return nil, errs.Integrity(err, "add task room participants")
	}
	return db.GetRoom(conn, room.ID)
}

// Resolve maps a (type, id) pair from a client to the room user may post
// in, creating direct and task rooms on demand.
func Resolve(conn *gorm.DB, user *models.User, typ models.RoomType, id uint) (*models.Room, error) {
	if id == 0 {
		return nil, errs.Validation(map[string]string{"room_id": "room id is required"})
	}
	switch typ {
	case models.RoomDirect:
		return Direct(conn, user.ID, id)
	case models.RoomTask:
		task, err := db.GetTaskByID(conn, id)
		if err != nil {
			return nil, err
		}
		if !access.CanViewTask(user, task) {
			return nil, errs.New(errs.PermissionDenied, "no access to task #%d", id)
		}
		room, err := ForTask(conn, task)
		if err != nil {
			return nil, err
		}
		if err := db.AddParticipants(conn, room.ID, user.ID); err != nil {
			return nil, errs.Integrity(err, "join task room")
		}
		return room, nil
	case models.RoomGroup:
		room, err := db.GetRoom(conn, id)
		if err != nil {
			return nil, err
		}
		if room.Type != models.RoomGroup {
			return nil, errs.New(errs.NotFound, "group room #%d not found", id)
		}
		if err := RequireMember(conn, room, user); err != nil {
			return nil, err
		}
		return room, nil
	default:
		return nil, errs.Validation(map[string]string{"room_type": "must be one of direct, task, group"})
	}
}

// RequireMember fails with PermissionDenied unless user participates in room.
func RequireMember(conn *gorm.DB, room *models.Room, user *models.User) error {
	ok, err := db.IsParticipant(conn, room.ID, user.ID)
	if err != nil {
		return errs.Integrity(err, "check room membership")
	}
	if !ok {
		return errs.New(errs.PermissionDenied, "not a participant of room #%d", room.ID)
	}
	return nil
}

// CreateRequest describes a room to open.
type CreateRequest struct {
	Type models.RoomType
	Name string
	// UserID is the other participant of a direct room.
	UserID uint
	// TaskID names the task of a task room.
	TaskID uint
	// ParticipantIDs are the initial members of a group room besides
	// the creator.
	ParticipantIDs []uint
}

// Create opens a room for user. Direct and task rooms are idempotent; a
// group room is always new.
func Create(conn *gorm.DB, user *models.User, req CreateRequest) (*models.Room, error) {
	switch req.Type {
	case models.RoomDirect:
		return Resolve(conn, user, models.RoomDirect, req.UserID)
	case models.RoomTask:
		return Resolve(conn, user, models.RoomTask, req.TaskID)
	case models.RoomGroup:
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return nil, errs.Validation(map[string]string{"name": "group rooms need a name"})
		}
		var room *models.Room
		err := conn.Transaction(func(tx *gorm.DB) error {
			room = &models.Room{Type: models.RoomGroup, Name: name}
			if err := tx.Omit("Participants", "Task").Create(room).Error; err != nil {
				return err
			}
			users, err := db.GetUsers(tx, req.ParticipantIDs)
			if err != nil {
				return err
			}
			ids := []uint{user.ID}
			for _, u := range users {
				ids = append(ids, u.ID)
			}
			return db.AddParticipants(tx, room.ID, ids...)
		})
		if err != nil {
			return nil, errs.Integrity(err, "create group room")
		}
		return db.GetRoom(conn, room.ID)
	default:
		return nil, errs.Validation(map[string]string{"room_type": "must be one of direct, task, group"})
	}
}

// getOrCreate finds the room matching where or inserts candidate. A
// concurrent creator that wins the unique index is re-read.
func getOrCreate(conn *gorm.DB, where string, arg any, candidate *models.Room) (*models.Room, error) {
	room, err := db.FindRoom(conn, where, arg)
	if err != nil {
		return nil, errs.Integrity(err, "find room")
	}
	if room != nil {
		return room, nil
	}
	inserted, err := db.InsertRoomIfAbsent(conn, candidate)
	if err != nil {
		return nil, errs.Integrity(err, "create room")
	}
	if inserted {
		return candidate, nil
	}
	room, err = db.FindRoom(conn, where, arg)
	if err != nil {
		return nil, errs.Integrity(err, "find room")
	}
	if room == nil {
		return nil, errs.Integrity(errors.New("room vanished after conflicting insert"), "create room")
	}
	return room, nil
}
