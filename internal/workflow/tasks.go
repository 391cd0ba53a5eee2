package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// CreateRequest creates a task.
type CreateRequest struct {
	Title       string
	Description string
	Priority    models.Priority
	DueDate     *time.Time
	AssigneeIDs []uint
	Actor       Actor
}

// TaskResult is a committed single-task mutation.
type TaskResult struct {
	Task    *models.Task
	Effects *effects.Effects
}

// CreateTask inserts a task, records it and notifies its assignees.
func (s *Service) CreateTask(ctx context.Context, req CreateRequest) (*TaskResult, error) {
	actor := req.Actor.User
	if !access.For(actor.Role).CanCreateTask {
		return nil, errs.New(errs.PermissionDenied, "%s may not create tasks", actor.Role)
	}
	title := strings.TrimSpace(req.Title)
	bad := map[string]string{}
	if title == "" {
		bad["title"] = "title is required"
	} else if utf8.RuneCountInString(title) > maxTitleLen {
		bad["title"] = fmt.Sprintf("must be at most %d characters", maxTitleLen)
	}
	if req.Priority != "" && !req.Priority.Valid() {
		bad["priority"] = "must be one of low, normal, high, urgent"
	}
	if len(bad) > 0 {
		return nil, errs.Validation(bad)
	}

	res := &TaskResult{}
	eff, err := s.run(ctx, "create task", func(tx *gorm.DB, eff *effects.Effects) error {
		task, err := db.CreateTask(tx, db.CreateTaskRequest{
			Title:       title,
			Description: req.Description,
			Priority:    req.Priority,
			DueDate:     req.DueDate,
			CreatedByID: actor.ID,
			AssigneeIDs: req.AssigneeIDs,
		})
		if err != nil {
			return err
		}
		if _, err := s.audit.Append(tx, audit.Entry{
			TaskID:    task.ID,
			UserID:    actor.ID,
			Action:    models.ActionCreated,
			Details:   map[string]any{"title": task.Title, "assignee_ids": task.AssigneeIDs()},
			IPAddress: req.Actor.IP,
		}); err != nil {
			return err
		}
		err = s.notifyUsers(tx, eff, task.AssigneeIDs(), models.NotifyTaskAssigned,
			"New task assigned",
			fmt.Sprintf("%s assigned you to task: %s", actor.Username, task.Title),
			map[string]any{"task_id": task.ID, "assigned_by": actor.ID},
		)
		res.Task = task
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}

// AssignRequest assigns users to one task.
type AssignRequest struct {
	TaskID  uint
	UserIDs []uint
	Replace bool
	Actor   Actor
}

// AssignTask is the single-task form of BulkAssign. A task outside the
// actor's permitted subset is an error rather than a skip.
func (s *Service) AssignTask(ctx context.Context, req AssignRequest) (*TaskResult, error) {
	actor := req.Actor.User
	if !access.For(actor.Role).CanAssign {
		return nil, errs.New(errs.PermissionDenied, "%s may not assign tasks", actor.Role)
	}
	users, err := s.resolveAssignees(s.db.WithContext(ctx), req.UserIDs, req.Replace)
	if err != nil {
		return nil, err
	}

	res := &TaskResult{}
	eff, err := s.run(ctx, "assign task", func(tx *gorm.DB, eff *effects.Effects) error {
		task, err := lockOne(tx, actor, req.TaskID)
		if err != nil {
			return err
		}
		if !permitted(actor, task) {
			return errs.New(errs.PermissionDenied, "%s may not assign task #%d", actor.Username, task.ID)
		}
		res.Task = task
		return s.assignRow(tx, eff, req.Actor, task, users, req.Replace, false)
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}

// GetTask returns a task visible to viewer.
func (s *Service) GetTask(ctx context.Context, viewer *models.User, id uint) (*models.Task, error) {
	task, err := db.GetTaskByID(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, errs.Integrity(err, "get task")
	}
	if !access.CanViewTask(viewer, task) {
		return nil, errs.New(errs.NotFound, "task #%d not found", id)
	}
	return task, nil
}

// ListTasks returns the tasks viewer may read.
func (s *Service) ListTasks(ctx context.Context, viewer *models.User, opts db.TaskQueryOptions) ([]models.Task, error) {
	tasks, err := db.ListTasks(s.db.WithContext(ctx), viewer, opts)
	return tasks, errs.Integrity(err, "list tasks")
}
