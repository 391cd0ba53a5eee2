package db

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// GetRoom retrieves a room with its participants loaded
func GetRoom(conn *gorm.DB, id uint) (*models.Room, error) {
	var room models.Room
	err := conn.Preload("Participants").First(&room, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.NotFound, "room #%d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindRoom returns the room matching where, or nil when none does.
func FindRoom(conn *gorm.DB, where string, args ...any) (*models.Room, error) {
	var room models.Room
	err := conn.Preload("Participants").Where(where, args...).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// InsertRoomIfAbsent inserts room unless a row with the same unique key
// already exists, and reports whether it inserted. room.ID is zero when
// the insert was skipped.
func InsertRoomIfAbsent(conn *gorm.DB, room *models.Room) (bool, error) {
	res := conn.Clauses(clause.OnConflict{DoNothing: true}).Omit("Participants", "Task").Create(room)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		room.ID = 0
		return false, nil
	}
	return true, nil
}

// AddParticipants adds users to a room, ignoring existing members.
func AddParticipants(conn *gorm.DB, roomID uint, userIDs ...uint) error {
	rows := make([]models.RoomParticipant, 0, len(userIDs))
	for _, id := range SortedUniqueIDs(userIDs) {
		rows = append(rows, models.RoomParticipant{RoomID: roomID, UserID: id})
	}
	if len(rows) == 0 {
		return nil
	}
	return conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// IsParticipant reports whether userID is a member of roomID.
func IsParticipant(conn *gorm.DB, roomID, userID uint) (bool, error) {
	var n int64
	err := conn.Model(&models.RoomParticipant{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&n).Error
	return n > 0, err
}

// ParticipantIDs lists the members of roomID.
func ParticipantIDs(conn *gorm.DB, roomID uint) ([]uint, error) {
	var ids []uint
	err := conn.Model(&models.RoomParticipant{}).Where("room_id = ?", roomID).Order("user_id").Pluck("user_id", &ids).Error
	return ids, err
}

// ListMessages returns a room's messages oldest first. A positive limit
// keeps only the newest limit messages.
func ListMessages(conn *gorm.DB, roomID uint, limit int) ([]models.Message, error) {
	q := conn.Preload("Sender").Preload("Attachments").Where("room_id = ?", roomID)
	var msgs []models.Message
	if limit > 0 {
		if err := q.Order("timestamp DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		return msgs, nil
	}
	if err := q.Order("timestamp ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRoomRead marks every unread message in roomID not sent by readerID as read.
func MarkRoomRead(conn *gorm.DB, roomID, readerID uint) (int64, error) {
	res := conn.Model(&models.Message{}).
		Where("room_id = ? AND is_read = ? AND sender_id <> ?", roomID, false, readerID).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
