package db

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// CreateTaskRequest holds the data needed to create a new task
type CreateTaskRequest struct {
	Title       string
	Description string
	Priority    models.Priority
	DueDate     *time.Time
	CreatedByID uint
	AssigneeIDs []uint
}

// CreateTask inserts a task and its initial assignees. Unknown assignee
// ids are skipped.
func CreateTask(conn *gorm.DB, req CreateTaskRequest) (*models.Task, error) {
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	task := models.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		CreatedByID: req.CreatedByID,
		Priority:    priority,
		Status:      models.StatusTodo,
		DueDate:     req.DueDate,
	}

	if len(req.AssigneeIDs) > 0 {
		users, err := GetUsers(conn, req.AssigneeIDs)
		if err != nil {
			return nil, err
		}
		task.Assignees = users
	}

	if err := conn.Omit("CreatedBy", "Assignees.*").Create(&task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return GetTaskByID(conn, task.ID)
}

// GetTaskByID retrieves a task by ID with creator and assignees loaded
func GetTaskByID(conn *gorm.DB, id uint) (*models.Task, error) {
	var task models.Task
	err := conn.Preload("CreatedBy").Preload("Assignees").First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.NotFound, "task #%d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// TaskQueryOptions filters ListTasks
type TaskQueryOptions struct {
	Status   models.Status
	Priority models.Priority
	Search   string
	Limit    int
}

// ListTasks returns the tasks viewer may read, newest first
func ListTasks(conn *gorm.DB, viewer *models.User, opts TaskQueryOptions) ([]models.Task, error) {
	q := conn.Model(&models.Task{}).Scopes(access.VisibleTasks(viewer))
	if opts.Status != "" {
		q = q.Where("tasks.status = ?", opts.Status)
	}
	if opts.Priority != "" {
		q = q.Where("tasks.priority = ?", opts.Priority)
	}
	if s := strings.TrimSpace(opts.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(tasks.title) LIKE ? OR LOWER(tasks.description) LIKE ?", like, like)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var tasks []models.Task
	if err := q.Preload("CreatedBy").Preload("Assignees").Order("tasks.created_at DESC, tasks.id DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// SortedUniqueIDs returns ids de-duplicated in ascending order, dropping zeros.
func SortedUniqueIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// LockTasks takes exclusive row locks on the tasks with the given ids, in
// ascending id order, and returns the rows that exist. Must run inside a
// transaction. Missing ids are simply absent from the result.
func LockTasks(tx *gorm.DB, ids []uint) ([]models.Task, error) {
	ids = SortedUniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var tasks []models.Task
	err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}

	// Assignees are read after the locks are held.
	for i := range tasks {
		if err := tx.Model(&tasks[i]).Association("Assignees").Find(&tasks[i].Assignees); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// SetAssignees adds users to the task's assignee set, or makes the set
// exactly users when replace is true. It returns the users that were not
// already assigned.
func SetAssignees(tx *gorm.DB, task *models.Task, users []models.User, replace bool) ([]models.User, error) {
	current := make(map[uint]bool, len(task.Assignees))
	for _, u := range task.Assignees {
		current[u.ID] = true
	}

	var added []models.User
	for _, u := range users {
		if !current[u.ID] {
			added = append(added, u)
		}
	}

	assoc := tx.Model(task).Association("Assignees")
	if replace {
		if err := assoc.Replace(users); err != nil {
			return nil, fmt.Errorf("failed to replace assignees: %w", err)
		}
		task.Assignees = users
		return added, nil
	}

	if len(added) > 0 {
		if err := assoc.Append(added); err != nil {
			return nil, fmt.Errorf("failed to add assignees: %w", err)
		}
	}
	task.Assignees = append(task.Assignees, added...)
	return added, nil
}

// DeleteTask removes a task and everything that cascades with it: its
// chat room and messages, assignments, activity entries and assignee rows.
func DeleteTask(tx *gorm.DB, task *models.Task) error {
	var roomIDs []uint
	if err := tx.Model(&models.Room{}).Where("task_id = ?", task.ID).Pluck("id", &roomIDs).Error; err != nil {
		return err
	}
	if len(roomIDs) > 0 {
		msgIDs := tx.Model(&models.Message{}).Select("id").Where("room_id IN ?", roomIDs)
		steps := []*gorm.DB{
			tx.Where("message_id IN (?)", msgIDs).Delete(&models.MessageAttachment{}),
			tx.Where("room_id IN ?", roomIDs).Delete(&models.Message{}),
			tx.Where("room_id IN ?", roomIDs).Delete(&models.RoomParticipant{}),
			tx.Where("id IN ?", roomIDs).Delete(&models.Room{}),
		}
		for _, step := range steps {
			if step.Error != nil {
				return step.Error
			}
		}
	}

	steps := []*gorm.DB{
		tx.Where("task_id = ?", task.ID).Delete(&models.Assignment{}),
		tx.Where("task_id = ?", task.ID).Delete(&models.ActivityLog{}),
		tx.Where("task_id = ?", task.ID).Delete(&models.TaskAssignee{}),
		tx.Delete(&models.Task{}, task.ID),
	}
	for _, step := range steps {
		if step.Error != nil {
			return step.Error
		}
	}
	return nil
}
