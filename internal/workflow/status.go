package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

// transitions lists the allowed targets of each non-terminal status.
var transitions = map[models.Status][]models.Status{
	models.StatusTodo:       {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusReview, models.StatusDone, models.StatusCancelled},
	models.StatusReview:     {models.StatusInProgress, models.StatusDone, models.StatusCancelled},
}

// Allowed returns the statuses reachable from from.
func Allowed(from models.Status) []models.Status {
	return slices.Clone(transitions[from])
}

// CanTransition reports whether from to to is in the transition table.
func CanTransition(from, to models.Status) bool {
	return slices.Contains(transitions[from], to)
}

// NeedsReason reports whether moving to target requires a reason.
func NeedsReason(target models.Status) bool {
	return target == models.StatusDone || target == models.StatusCancelled
}

// TransitionRequest moves a task to Target.
type TransitionRequest struct {
	TaskID uint
	Target models.Status
	Reason string
	Actor  Actor
}

// TransitionResult is a committed transition.
type TransitionResult struct {
	Task    *models.Task
	From    models.Status
	Effects *effects.Effects
}

// Transition applies a status change. Table and reason checks happen
// before any write; on success the change, its audit entry, assignee
// notifications and the room's system message commit together.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	actor := req.Actor.User
	reason := strings.TrimSpace(req.Reason)
	res := &TransitionResult{}

	eff, err := s.run(ctx, "transition task", func(tx *gorm.DB, eff *effects.Effects) error {
		task, err := lockOne(tx, actor, req.TaskID)
		if err != nil {
			return err
		}
		if !access.CanTransition(actor, task) {
			return errs.New(errs.PermissionDenied, "%s may not change the status of task #%d", actor.Username, task.ID)
		}
		if !CanTransition(task.Status, req.Target) {
			return errs.New(errs.InvalidTransition, "cannot move task #%d from %s to %s", task.ID, task.Status, req.Target)
		}
		if NeedsReason(req.Target) && reason == "" {
			return errs.New(errs.MissingReason, "a reason is required to move a task to %s", req.Target)
		}

		from := task.Status
		updates := map[string]any{"status": req.Target}
		if req.Target == models.StatusDone {
			now := s.clock.Now()
			updates["completed_at"] = now
			task.CompletedAt = &now
		}
		if err := tx.Model(task).Updates(updates).Error; err != nil {
			return err
		}
		task.Status = req.Target

		details := map[string]any{"old_status": string(from), "new_status": string(req.Target)}
		if reason != "" {
			details["reason"] = reason
		}
		if _, err := s.audit.Append(tx, audit.Entry{
			TaskID:    task.ID,
			UserID:    actor.ID,
			Action:    models.ActionStatusChanged,
			Details:   details,
			IPAddress: req.Actor.IP,
		}); err != nil {
			return err
		}

		err = s.notifyUsers(tx, eff, task.AssigneeIDs(), models.NotifyStatusChange,
			"Task status changed",
			fmt.Sprintf("%s moved %q from %s to %s", actor.Username, task.Title, from, req.Target),
			map[string]any{"task_id": task.ID, "old_status": string(from), "new_status": string(req.Target)},
		)
		if err != nil {
			return err
		}

		text := fmt.Sprintf("Status changed to %s by %s", req.Target, actor.Username)
		if reason != "" {
			text += ". Reason: " + reason
		}
		if err := s.systemMessage(tx, eff, task, actor, text); err != nil {
			return err
		}

		res.Task, res.From = task, from
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Effects = eff
	return res, nil
}
