package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/parser"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

type createTaskBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	// DueDate takes anything parser.ParseDueDate understands.
	DueDate     string `json:"due_date"`
	AssigneeIDs []uint `json:"assignee_ids"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body createTaskBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	var due *time.Time
	if strings.TrimSpace(body.DueDate) != "" {
		d, err := parser.ParseDueDate(body.DueDate, s.clock.Now())
		if err != nil {
			s.fail(w, r, errs.Validation(map[string]string{"due_date": err.Error()}))
			return
		}
		due = d
	}
	res, err := s.workflow.CreateTask(r.Context(), workflow.CreateRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    models.Priority(strings.ToLower(body.Priority)),
		DueDate:     due,
		AssigneeIDs: body.AssigneeIDs,
		Actor:       actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Task)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	tasks, err := s.workflow.ListTasks(r.Context(), p.User, db.TaskQueryOptions{
		Status:   models.Status(q.Get("status")),
		Priority: models.Priority(q.Get("priority")),
		Search:   q.Get("search"),
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.workflow.GetTask(r.Context(), p.User, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type assignBody struct {
	UserIDs []uint `json:"user_ids"`
	Replace bool   `json:"replace"`
}

func (s *Server) assignTask(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body assignBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.AssignTask(r.Context(), workflow.AssignRequest{
		TaskID:  id,
		UserIDs: body.UserIDs,
		Replace: body.Replace,
		Actor:   actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Task)
}

type statusBody struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type statusResponse struct {
	Task *models.Task  `json:"task"`
	From models.Status `json:"from"`
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body statusBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.Transition(r.Context(), workflow.TransitionRequest{
		TaskID: id,
		Target: models.Status(body.Status),
		Reason: body.Reason,
		Actor:  actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Task: res.Task, From: res.From})
}

type proposeBody struct {
	UserIDs []uint `json:"user_ids"`
}

type proposeResponse struct {
	Assignments []models.Assignment `json:"assignments"`
	Created     []uint              `json:"created"`
	Skipped     []uint              `json:"skipped"`
}

func (s *Server) proposeAssignment(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body proposeBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.Propose(r.Context(), workflow.ProposeRequest{
		TaskID:  id,
		UserIDs: body.UserIDs,
		Actor:   actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if len(res.Created) > 0 {
		code = http.StatusCreated
	}
	writeJSON(w, code, proposeResponse{
		Assignments: nonNil(res.Assignments),
		Created:     nonNil(res.Created),
		Skipped:     nonNil(res.Skipped),
	})
}

type respondBody struct {
	AssignmentID uint   `json:"assignment_id"`
	Action       string `json:"action"`
	Reason       string `json:"reason"`
}

type respondResponse struct {
	Assignment *models.Assignment `json:"assignment"`
	Task       *models.Task       `json:"task"`
}

func (s *Server) respondAssignment(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body respondBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.Respond(r.Context(), workflow.RespondRequest{
		TaskID:       id,
		AssignmentID: body.AssignmentID,
		Action:       workflow.Response(body.Action),
		Reason:       body.Reason,
		Actor:        actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{Assignment: res.Assignment, Task: res.Task})
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	taskID, err := queryID(r, "task_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.workflow.ListAssignments(r.Context(), p.User, workflow.AssignmentFilter{
		TaskID: taskID,
		Status: models.AssignmentStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

type bulkResponse struct {
	Affected []uint `json:"affected"`
	Skipped  []uint `json:"skipped"`
}

func writeBulk(w http.ResponseWriter, res *workflow.BulkResult) {
	writeJSON(w, http.StatusOK, bulkResponse{Affected: nonNil(res.Affected), Skipped: nonNil(res.Skipped)})
}

type bulkUpdateBody struct {
	TaskIDs []uint         `json:"task_ids"`
	Updates map[string]any `json:"updates"`
}

func (s *Server) bulkUpdate(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body bulkUpdateBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.BulkUpdate(r.Context(), workflow.BulkUpdateRequest{
		IDs:   body.TaskIDs,
		Patch: body.Updates,
		Actor: actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeBulk(w, res)
}

type bulkAssignBody struct {
	TaskIDs []uint `json:"task_ids"`
	UserIDs []uint `json:"user_ids"`
	Replace bool   `json:"replace"`
}

func (s *Server) bulkAssign(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body bulkAssignBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.BulkAssign(r.Context(), workflow.BulkAssignRequest{
		IDs:     body.TaskIDs,
		UserIDs: body.UserIDs,
		Replace: body.Replace,
		Actor:   actor(r, p),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeBulk(w, res)
}

type bulkDeleteBody struct {
	TaskIDs []uint `json:"task_ids"`
}

func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body bulkDeleteBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.workflow.BulkDelete(r.Context(), workflow.BulkDeleteRequest{IDs: body.TaskIDs, Actor: actor(r, p)})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeBulk(w, res)
}

func (s *Server) activityLogs(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var f audit.Filter
	var err error
	if f.TaskID, err = queryID(r, "task_id"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.UserID, err = queryID(r, "user_id"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		s.fail(w, r, err)
		return
	}
	f.Action = r.URL.Query().Get("action")

	ctx, cancel := s.opContext(r)
	defer cancel()
	logs, err := s.audit.Query(ctx, s.conn, p.User, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
