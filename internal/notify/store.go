package notify

import (
	"context"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// ListOptions filters List.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
}

// List returns userID's notifications, newest first.
func List(ctx context.Context, conn *gorm.DB, userID uint, opts ListOptions) ([]models.Notification, error) {
	q := conn.WithContext(ctx).Where("user_id = ?", userID)
	if opts.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var out []models.Notification
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, errs.Integrity(err, "list notifications")
	}
	return out, nil
}

// UnreadCount returns how many of userID's notifications are unread.
func UnreadCount(ctx context.Context, conn *gorm.DB, userID uint) (int64, error) {
	var n int64
	err := conn.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, errs.Integrity(err, "count notifications")
}

// MarkRead marks one of userID's notifications read.
func MarkRead(ctx context.Context, conn *gorm.DB, userID, id uint) error {
	res := conn.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return errs.Integrity(res.Error, "mark notification read")
	}
	if res.RowsAffected == 0 {
		return ownedOrMissing(ctx, conn, userID, id)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read.
func MarkAllRead(ctx context.Context, conn *gorm.DB, userID uint) (int64, error) {
	res := conn.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, errs.Integrity(res.Error, "mark notifications read")
}

// Delete removes one of userID's notifications.
func Delete(ctx context.Context, conn *gorm.DB, userID, id uint) error {
	res := conn.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return errs.Integrity(res.Error, "delete notification")
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.NotFound, "notification #%d not found", id)
	}
	return nil
}

// Clear removes every notification of userID.
func Clear(ctx context.Context, conn *gorm.DB, userID uint) (int64, error) {
	res := conn.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Notification{})
	return res.RowsAffected, errs.Integrity(res.Error, "clear notifications")
}

// ownedOrMissing distinguishes an already-read notification from one
// that does not exist or belongs to someone else.
func ownedOrMissing(ctx context.Context, conn *gorm.DB, userID, id uint) error {
	var n int64
	if err := conn.WithContext(ctx).Model(&models.Notification{}).Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
		return errs.Integrity(err, "find notification")
	}
	if n == 0 {
		return errs.New(errs.NotFound, "notification #%d not found", id)
	}
	return nil
}
