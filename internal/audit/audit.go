// Package audit is the append-only activity trail of task mutations.
package audit

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// Entry is one record to append.
type Entry struct {
	// TaskID is zero for records that must outlive the task, such as
	// its deletion.
	TaskID    uint
	UserID    uint
	Action    string
	Details   map[string]any
	IPAddress string
}

// Log appends and queries activity records.
type Log struct {
	clock clock.Clock
}

// New returns a Log stamping records with c.
func New(c clock.Clock) *Log {
	if c == nil {
		c = clock.Real()
	}
	return &Log{clock: c}
}

// Append writes e through tx. Callers append inside the transaction of
// the mutation they record, so a failed append rolls the mutation back.
func (l *Log) Append(tx *gorm.DB, e Entry) (*models.ActivityLog, error) {
	if e.Action == "" {
		return nil, errs.New(errs.ValidationError, "audit action is required")
	}
	rec := &models.ActivityLog{
		Action:    e.Action,
		Details:   datatypes.JSONMap(e.Details),
		Timestamp: l.clock.Now(),
		IPAddress: e.IPAddress,
	}
	if rec.Details == nil {
		rec.Details = datatypes.JSONMap{}
	}
	if e.TaskID != 0 {
		id := e.TaskID
		rec.TaskID = &id
	}
	if e.UserID != 0 {
		id := e.UserID
		rec.UserID = &id
	}
	if err := tx.Omit("Task", "User").Create(rec).Error; err != nil {
		return nil, errs.Integrity(err, "append activity log")
	}
	return rec, nil
}

// Filter narrows Query. Zero fields are ignored.
type Filter struct {
	TaskID uint
	UserID uint
	Action string
	From   time.Time
	To     time.Time
	Limit  int
}

// DefaultLimit caps Query when Filter.Limit is unset.
const DefaultLimit = 200

// Query returns records about tasks viewer may read, newest first.
// Detached records (TaskID nil) are visible only to ScopeAll roles and
// to the actor who wrote them.
func (l *Log) Query(ctx context.Context, conn *gorm.DB, viewer *models.User, f Filter) ([]models.ActivityLog, error) {
	q := conn.WithContext(ctx).Model(&models.ActivityLog{}).Preload("User")

	if access.For(viewer.Role).Scope != access.ScopeAll {
		q = q.Where("activity_logs.task_id IN (?) OR (activity_logs.task_id IS NULL AND activity_logs.user_id = ?)",
			access.VisibleTaskIDs(conn, viewer), viewer.ID)
	}
	if f.TaskID != 0 {
		q = q.Where("activity_logs.task_id = ?", f.TaskID)
	}
	if f.UserID != 0 {
		q = q.Where("activity_logs.user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("activity_logs.action = ?", f.Action)
	}
	if !f.From.IsZero() {
		q = q.Where("activity_logs.timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("activity_logs.timestamp <= ?", f.To)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var out []models.ActivityLog
	err := q.Order("activity_logs.timestamp DESC, activity_logs.id DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errs.Integrity(err, "query activity logs")
	}
	return out, nil
}
