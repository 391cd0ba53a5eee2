package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// ProposeRequest proposes UserIDs for a task.
type ProposeRequest struct {
	TaskID  uint
	UserIDs []uint
	Actor   Actor
}

// ProposeResult lists the assignments for every resolved user, new or
// existing.
type ProposeResult struct {
	Assignments []models.Assignment
	// Created holds the ids of assignments created by this call.
	Created []uint
	// Skipped holds requested user ids that do not exist.
	Skipped []uint
	Effects *effects.Effects
}

// Propose creates a pending assignment per requested user. Unknown users
// are skipped; a repeat proposal returns the existing assignment.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*ProposeResult, error) {
	actor := req.Actor.User
	requested := db.SortedUniqueIDs(req.UserIDs)
	if len(requested) == 0 {
		return nil, errs.Validation(map[string]string{"user_ids": "at least one user id is required"})
	}
	res := &ProposeResult{}

	eff, err := s.run(ctx, "propose assignment", func(tx *gorm.DB, eff *effects.Effects) error {
		task, err := lockOne(tx, actor, req.TaskID)
		if err != nil {
			return err
		}
		if task.CreatedByID != actor.ID && !access.For(actor.Role).CanAssign {
			return errs.New(errs.PermissionDenied, "%s may not propose assignments for task #%d", actor.Username, task.ID)
		}

		users, err := db.GetUsers(tx, requested)
		if err != nil {
			return err
		}
		found := make(map[uint]bool, len(users))
		for _, u := range users {
			found[u.ID] = true
		}
		for _, id := range requested {
			if !found[id] {
				res.Skipped = append(res.Skipped, id)
			}
		}

		for _, u := range users {
			a, created, err := s.getOrCreateAssignment(tx, task.ID, u.ID, actor.ID)
			if err != nil {
				return err
			}
			res.Assignments = append(res.Assignments, *a)
			if !created {
				continue
			}
			res.Created = append(res.Created, a.ID)
			err = s.notifyUsers(tx, eff, []uint{u.ID}, models.NotifyAssignmentPending,
				"Assignment proposed",
				fmt.Sprintf("%s proposed you for task: %s", actor.Username, task.Title),
				map[string]any{"task_id": task.ID, "assignment_id": a.ID, "proposed_by": actor.ID},
			)
			if err != nil {
				return err
			}
		}

		if len(res.Created) == 0 {
			return nil
		}
		_, err = s.audit.Append(tx, audit.Entry{
			TaskID:    task.ID,
			UserID:    actor.ID,
			Action:    models.ActionAssignmentProposed,
			Details:   map[string]any{"user_ids": requested, "assignment_ids": res.Created},
			IPAddress: req.Actor.IP,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}

// getOrCreateAssignment inserts a pending assignment unless one exists
// for (task, user), relying on the unique index under concurrency.
func (s *Service) getOrCreateAssignment(tx *gorm.DB, taskID, userID, byID uint) (*models.Assignment, bool, error) {
	a := &models.Assignment{
		TaskID:       taskID,
		UserID:       userID,
		AssignedByID: byID,
		Status:       models.AssignmentPending,
		CreatedAt:    s.clock.Now(),
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Task", "User", "AssignedBy").Create(a)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return a, true, nil
	}

	existing := &models.Assignment{}
	if err := tx.Where("task_id = ? AND user_id = ?", taskID, userID).First(existing).Error; err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Response is an assignee's answer to a proposal.
type Response string

const (
	Accept Response = "accept"
	Reject Response = "reject"
)

// RespondRequest answers assignment AssignmentID of task TaskID.
type RespondRequest struct {
	TaskID       uint
	AssignmentID uint
	Action       Response
	Reason       string
	Actor        Actor
}

// RespondResult is a committed response.
type RespondResult struct {
	Assignment *models.Assignment
	Task       *models.Task
	Effects    *effects.Effects
}

// Respond accepts or rejects a pending assignment owned by the actor.
// Accepting adds the actor to the task's assignees.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (*RespondResult, error) {
	if req.Action != Accept && req.Action != Reject {
		return nil, errs.Validation(map[string]string{"action": "must be accept or reject"})
	}
	actor := req.Actor.User
	reason := strings.TrimSpace(req.Reason)
	res := &RespondResult{}

	eff, err := s.run(ctx, "respond to assignment", func(tx *gorm.DB, eff *effects.Effects) error {
		tasks, err := db.LockTasks(tx, []uint{req.TaskID})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return errs.New(errs.NotFound, "task #%d not found", req.TaskID)
		}
		task := &tasks[0]

		a := &models.Assignment{}
		err = tx.Where("id = ? AND task_id = ? AND user_id = ?", req.AssignmentID, task.ID, actor.ID).First(a).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.New(errs.NotFound, "assignment #%d not found", req.AssignmentID)
		}
		if err != nil {
			return err
		}
		if a.Status != models.AssignmentPending {
			return errs.New(errs.AlreadyResponded, "assignment #%d is already %s", a.ID, a.Status)
		}

		status, action, verb := models.AssignmentAccepted, models.ActionAssignmentAccepted, "accepted"
		if req.Action == Reject {
			status, action, verb = models.AssignmentRejected, models.ActionAssignmentRejected, "rejected"
		}
		now := s.clock.Now()
		upd := tx.Model(&models.Assignment{}).
			Where("id = ? AND status = ?", a.ID, models.AssignmentPending).
			Updates(map[string]any{"status": status, "responded_at": now, "reason": reason})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return errs.New(errs.AlreadyResponded, "assignment #%d is already answered", a.ID)
		}
		a.Status, a.RespondedAt, a.Reason = status, &now, reason

		if req.Action == Accept {
			if _, err := db.SetAssignees(tx, task, []models.User{*actor}, false); err != nil {
				return err
			}
		}

		details := map[string]any{"assignment_id": a.ID}
		if reason != "" {
			details["reason"] = reason
		}
		if _, err := s.audit.Append(tx, audit.Entry{
			TaskID:    task.ID,
			UserID:    actor.ID,
			Action:    action,
			Details:   details,
			IPAddress: req.Actor.IP,
		}); err != nil {
			return err
		}

		text := fmt.Sprintf("%s %s assignment for task: %s", actor.Username, verb, task.Title)
		err = s.notifyUsers(tx, eff, []uint{a.AssignedByID}, models.NotifyAssignmentReply,
			"Assignment "+verb, text,
			map[string]any{"task_id": task.ID, "assignment_id": a.ID, "status": string(status)},
		)
		if err != nil {
			return err
		}
		if err := s.systemMessage(tx, eff, task, actor, text); err != nil {
			return err
		}

		res.Assignment, res.Task = a, task
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}

// AssignmentFilter narrows ListAssignments.
type AssignmentFilter struct {
	TaskID uint
	Status models.AssignmentStatus
}

// ListAssignments returns the assignments viewer may see: their own, or
// every assignment on a visible task for roles that manage assignments.
func (s *Service) ListAssignments(ctx context.Context, viewer *models.User, f AssignmentFilter) ([]models.Assignment, error) {
	q := s.db.WithContext(ctx).Preload("User").Preload("AssignedBy")
	if access.For(viewer.Role).CanListAssignments {
		q = q.Where("task_id IN (?)", access.VisibleTaskIDs(s.db, viewer))
	} else {
		q = q.Where("user_id = ?", viewer.ID)
	}
	if f.TaskID != 0 {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Assignment
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, errs.Integrity(err, "list assignments")
	}
	return out, nil
}
