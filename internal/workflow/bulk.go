package workflow

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// BulkResult reports which requested tasks a bulk operation touched.
type BulkResult struct {
	// Affected holds the ids changed, ascending.
	Affected []uint
	// Skipped holds requested ids that do not exist or are outside the
	// actor's permitted subset.
	Skipped []uint
	Effects *effects.Effects
}

// BulkUpdateRequest applies Patch to every task in IDs.
type BulkUpdateRequest struct {
	IDs   []uint
	Patch map[string]any
	Actor Actor
}

// BulkAssignRequest assigns UserIDs to every task in IDs. With Replace
// the assignee set becomes exactly UserIDs; otherwise they are added.
type BulkAssignRequest struct {
	IDs     []uint
	UserIDs []uint
	Replace bool
	Actor   Actor
}

// BulkDeleteRequest deletes every task in IDs.
type BulkDeleteRequest struct {
	IDs   []uint
	Actor Actor
}

// permitted reports whether the bulk actor may touch task: every task
// for ScopeAll roles, otherwise tasks they created or that have an
// assignee in their team.
func permitted(actor *models.User, task *models.Task) bool {
	if access.For(actor.Role).Scope == access.ScopeAll || task.CreatedByID == actor.ID {
		return true
	}
	for _, a := range task.Assignees {
		if access.InTeam(actor.Role, a.Role) {
			return true
		}
	}
	return false
}

// bulk is the shared skeleton: gate on capability, lock the sorted ids,
// keep the permitted subset and apply fn to each row inside one
// transaction. Any error rolls back every row.
func (s *Service) bulk(ctx context.Context, op string, actor *models.User, ids []uint, needDelete bool,
	fn func(tx *gorm.DB, eff *effects.Effects, task *models.Task) error,
) (*BulkResult, error) {
	caps := access.For(actor.Role)
	if !caps.CanBulkOperate || (needDelete && !caps.CanBulkDelete) {
		return nil, errs.New(errs.PermissionDenied, "%s may not run %s", actor.Role, op)
	}
	ids = db.SortedUniqueIDs(ids)
	if len(ids) == 0 {
		return nil, errs.Validation(map[string]string{"ids": "at least one task id is required"})
	}

	res := &BulkResult{}
	eff, err := s.run(ctx, op, func(tx *gorm.DB, eff *effects.Effects) error {
		res.Affected, res.Skipped = nil, nil
		tasks, err := db.LockTasks(tx, ids)
		if err != nil {
			return err
		}
		locked := make(map[uint]*models.Task, len(tasks))
		for i := range tasks {
			locked[tasks[i].ID] = &tasks[i]
		}

		for _, id := range ids {
			task, ok := locked[id]
			if !ok || !permitted(actor, task) {
				res.Skipped = append(res.Skipped, id)
				continue
			}
			if err := fn(tx, eff, task); err != nil {
				return fmt.Errorf("task #%d: %w", id, err)
			}
			res.Affected = append(res.Affected, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}

// BulkUpdate patches every permitted task. The patch is validated before
// any row is read.
func (s *Service) BulkUpdate(ctx context.Context, req BulkUpdateRequest) (*BulkResult, error) {
	actor := req.Actor.User
	if !access.For(actor.Role).CanBulkOperate {
		return nil, errs.New(errs.PermissionDenied, "%s may not run bulk update", actor.Role)
	}
	patch, err := ParsePatch(req.Patch, s.clock.Now())
	if err != nil {
		return nil, err
	}
	fields := patch.Fields()

	return s.bulk(ctx, "bulk update", actor, req.IDs, false, func(tx *gorm.DB, eff *effects.Effects, task *models.Task) error {
		return s.updateRow(tx, eff, req.Actor, task, patch, fields, true)
	})
}

func (s *Service) updateRow(tx *gorm.DB, eff *effects.Effects, actor Actor, task *models.Task, patch TaskPatch, fields []string, bulk bool) error {
	if err := tx.Model(task).Updates(patch.columns()).Error; err != nil {
		return err
	}
	patch.apply(task)

	if _, err := s.audit.Append(tx, audit.Entry{
		TaskID:    task.ID,
		UserID:    actor.User.ID,
		Action:    models.ActionUpdated,
		Details:   map[string]any{"fields": fields, "changes": patch.changes(), "bulk": bulk},
		IPAddress: actor.IP,
	}); err != nil {
		return err
	}

	list := strings.Join(fields, ", ")
	err := s.notifyUsers(tx, eff, task.AssigneeIDs(), models.NotifyTaskUpdated,
		"Task updated",
		fmt.Sprintf("%s updated %s of task: %s", actor.User.Username, list, task.Title),
		map[string]any{"task_id": task.ID, "fields": fields},
	)
	if err != nil {
		return err
	}
	return s.systemMessage(tx, eff, task, actor.User, fmt.Sprintf("Task updated by %s: %s", actor.User.Username, list))
}

// BulkAssign assigns users to every permitted task. Unknown user ids are
// ignored.
func (s *Service) BulkAssign(ctx context.Context, req BulkAssignRequest) (*BulkResult, error) {
	actor := req.Actor.User
	if !access.For(actor.Role).CanBulkOperate {
		return nil, errs.New(errs.PermissionDenied, "%s may not run bulk assign", actor.Role)
	}
	users, err := s.resolveAssignees(s.db.WithContext(ctx), req.UserIDs, req.Replace)
	if err != nil {
		return nil, err
	}

	return s.bulk(ctx, "bulk assign", actor, req.IDs, false, func(tx *gorm.DB, eff *effects.Effects, task *models.Task) error {
		return s.assignRow(tx, eff, req.Actor, task, users, req.Replace, true)
	})
}

// resolveAssignees loads the known users among ids. Without replace at
// least one must exist.
func (s *Service) resolveAssignees(conn *gorm.DB, ids []uint, replace bool) ([]models.User, error) {
	ids = db.SortedUniqueIDs(ids)
	if len(ids) == 0 && !replace {
		return nil, errs.Validation(map[string]string{"user_ids": "at least one user id is required"})
	}
	users, err := db.GetUsers(conn, ids)
	if err != nil {
		return nil, errs.Integrity(err, "resolve assignees")
	}
	if len(users) == 0 && !replace {
		return nil, errs.Validation(map[string]string{"user_ids": "no known users"})
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

func (s *Service) assignRow(tx *gorm.DB, eff *effects.Effects, actor Actor, task *models.Task, users []models.User, replace, bulk bool) error {
	added, err := db.SetAssignees(tx, task, users, replace)
	if err != nil {
		return err
	}

	if _, err := s.audit.Append(tx, audit.Entry{
		TaskID: task.ID,
		UserID: actor.User.ID,
		Action: models.ActionAssigned,
		Details: map[string]any{
			"user_ids":  userIDs(users),
			"added_ids": userIDs(added),
			"replace":   replace,
			"bulk":      bulk,
		},
		IPAddress: actor.IP,
	}); err != nil {
		return err
	}

	err = s.notifyUsers(tx, eff, userIDs(added), models.NotifyTaskAssigned,
		"New task assigned",
		fmt.Sprintf("%s assigned you to task: %s", actor.User.Username, task.Title),
		map[string]any{"task_id": task.ID, "assigned_by": actor.User.ID},
	)
	if err != nil {
		return err
	}

	switch {
	case replace:
		return s.systemMessage(tx, eff, task, actor.User, fmt.Sprintf("Assignees set to %s by %s", usernames(task.Assignees), actor.User.Username))
	case len(added) > 0:
		return s.systemMessage(tx, eff, task, actor.User, fmt.Sprintf("%s assigned %s to this task", actor.User.Username, usernames(added)))
	}
	return nil
}

// BulkDelete deletes every permitted task. Each deletion is recorded in
// an audit entry detached from the task so it outlives the cascade.
func (s *Service) BulkDelete(ctx context.Context, req BulkDeleteRequest) (*BulkResult, error) {
	actor := req.Actor
	return s.bulk(ctx, "bulk delete", actor.User, req.IDs, true, func(tx *gorm.DB, eff *effects.Effects, task *models.Task) error {
		assignees := task.AssigneeIDs()
		if _, err := s.audit.Append(tx, audit.Entry{
			UserID: actor.User.ID,
			Action: models.ActionDeleted,
			Details: map[string]any{
				"task_id":      task.ID,
				"title":        task.Title,
				"assignee_ids": assignees,
				"bulk":         true,
			},
			IPAddress: actor.IP,
		}); err != nil {
			return err
		}
		if err := db.DeleteTask(tx, task); err != nil {
			return err
		}
		return s.notifyUsers(tx, eff, assignees, models.NotifyTaskDeleted,
			"Task deleted",
			fmt.Sprintf("%s deleted task: %s", actor.User.Username, task.Title),
			map[string]any{"task_id": task.ID},
		)
	})
}
