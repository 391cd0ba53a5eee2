package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

func TestParsePatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := workflow.ParsePatch(map[string]any{"title": " New ", "priority": "URGENT", "due_date": "2026-02-01"}, now)
	require.NoError(t, err)
	assert.Equal(t, "New", *p.Title)
	assert.Equal(t, models.PriorityUrgent, *p.Priority)
	assert.Equal(t, []string{"due_date", "priority", "title"}, p.Fields())

	p, err = workflow.ParsePatch(map[string]any{"due_date": nil}, now)
	require.NoError(t, err)
	assert.True(t, p.ClearDueDate)

	_, err = workflow.ParsePatch(map[string]any{"title": "", "priority": "whenever", "status": "done", "colour": "red", "due_date": 7}, now)
	var ve *errs.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, errs.ValidationError, ve.Kind)
	for _, f := range []string{"title", "priority", "status", "colour", "due_date"} {
		assert.Contains(t, ve.Fields, f)
	}

	_, err = workflow.ParsePatch(nil, now)
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestBulkUpdateAppliesToPermittedRows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	atm := dbtest.User(t, e.conn, "atm", models.RoleATM)
	t1 := dbtest.Task(t, e.conn, boss, "one", clerk)
	t2 := dbtest.Task(t, e.conn, boss, "two", clerk, atm)
	t3 := dbtest.Task(t, e.conn, boss, "three")
	clerkInbox := e.listen(clerk)

	res, err := e.svc.BulkUpdate(ctx, workflow.BulkUpdateRequest{
		IDs:   []uint{t3.ID, t1.ID, 9999, t2.ID, t1.ID},
		Patch: map[string]any{"priority": "high", "description": "escalated"},
		Actor: actor(boss),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(t1, t2, t3), res.Affected)
	assert.Equal(t, []uint{9999}, res.Skipped)

	for _, task := range []*models.Task{t1, t2, t3} {
		got := dbtest.Reload(t, e.conn, task.ID)
		assert.Equal(t, models.PriorityHigh, got.Priority)
		assert.Equal(t, "escalated", got.Description)
		msgs := e.roomMessages(t, task)
		require.Len(t, msgs, 1)
		assert.Equal(t, "Task updated by boss: description, priority", msgs[0].Content)
	}
	assert.EqualValues(t, 3, e.count(t, &models.ActivityLog{}, "action = ?", models.ActionUpdated))
	assert.EqualValues(t, 2, e.count(t, &models.Notification{}, "user_id = ?", clerk.ID))
	assert.EqualValues(t, 1, e.count(t, &models.Notification{}, "user_id = ?", atm.ID))
	assert.Len(t, clerkInbox.types(), 2)
}

func TestBulkUpdateValidatesBeforeWriting(t *testing.T) {
	e := newEnv(t)
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	task := dbtest.Task(t, e.conn, boss, "stable")

	_, err := e.svc.BulkUpdate(context.Background(), workflow.BulkUpdateRequest{
		IDs:   []uint{task.ID},
		Patch: map[string]any{"title": "renamed", "priority": "asap"},
		Actor: actor(boss),
	})
	require.True(t, errs.Is(err, errs.ValidationError))
	assert.Equal(t, "stable", dbtest.Reload(t, e.conn, task.ID).Title)

	_, err = e.svc.BulkUpdate(context.Background(), workflow.BulkUpdateRequest{Patch: map[string]any{"title": "x"}, Actor: actor(boss)})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestBulkCapabilityGates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	task := dbtest.Task(t, e.conn, boss, "gated", clerk)

	_, err := e.svc.BulkUpdate(ctx, workflow.BulkUpdateRequest{IDs: ids(task), Patch: map[string]any{"title": "x"}, Actor: actor(clerk)})
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	_, err = e.svc.BulkAssign(ctx, workflow.BulkAssignRequest{IDs: ids(task), UserIDs: []uint{clerk.ID}, Actor: actor(clerk)})
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	_, err = e.svc.BulkDelete(ctx, workflow.BulkDeleteRequest{IDs: ids(task), Actor: actor(lead)})
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	assert.Equal(t, "gated", dbtest.Reload(t, e.conn, task.ID).Title)
}

func TestTeamLeadPermittedSubset(t *testing.T) {
	e := newEnv(t)
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	other := dbtest.User(t, e.conn, "other", models.RoleSupervisor)
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)

	teamTask := dbtest.Task(t, e.conn, boss, "team", clerk)
	ownTask := dbtest.Task(t, e.conn, lead, "own")
	foreign := dbtest.Task(t, e.conn, boss, "foreign", other)

	res, err := e.svc.BulkUpdate(context.Background(), workflow.BulkUpdateRequest{
		IDs:   ids(teamTask, ownTask, foreign),
		Patch: map[string]any{"priority": "low"},
		Actor: actor(lead),
	})
	require.NoError(t, err)
	assert.Equal(t, ids(teamTask, ownTask), res.Affected)
	assert.Equal(t, ids(foreign), res.Skipped)
	assert.Equal(t, models.PriorityNormal, dbtest.Reload(t, e.conn, foreign.ID).Priority)
}

func TestBulkAssignReplaceAndAppend(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	a := dbtest.User(t, e.conn, "a", models.RoleClerk)
	b := dbtest.User(t, e.conn, "b", models.RoleClerk)
	c := dbtest.User(t, e.conn, "c", models.RoleATM)
	t1 := dbtest.Task(t, e.conn, boss, "t1", a)
	t2 := dbtest.Task(t, e.conn, boss, "t2", b)

	res, err := e.svc.BulkAssign(ctx, workflow.BulkAssignRequest{IDs: ids(t1, t2), UserIDs: []uint{a.ID, c.ID, 555}, Actor: actor(boss)})
	require.NoError(t, err)
	assert.Equal(t, ids(t1, t2), res.Affected)
	assert.ElementsMatch(t, []uint{a.ID, c.ID}, dbtest.Reload(t, e.conn, t1.ID).AssigneeIDs())
	assert.ElementsMatch(t, []uint{a.ID, b.ID, c.ID}, dbtest.Reload(t, e.conn, t2.ID).AssigneeIDs())

	// a was already on t1, so t1 yields one notification (c) and t2 two (a, c)
	assert.EqualValues(t, 3, e.count(t, &models.Notification{}, "type = ?", models.NotifyTaskAssigned))
	assert.Equal(t, "boss assigned c to this task", e.roomMessages(t, t1)[0].Content)

	_, err = e.svc.BulkAssign(ctx, workflow.BulkAssignRequest{IDs: ids(t1, t2), UserIDs: []uint{b.ID}, Replace: true, Actor: actor(boss)})
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, dbtest.Reload(t, e.conn, t1.ID).AssigneeIDs())
	assert.Equal(t, []uint{b.ID}, dbtest.Reload(t, e.conn, t2.ID).AssigneeIDs())
	msgs := e.roomMessages(t, t2)
	assert.Equal(t, "Assignees set to b by boss", msgs[len(msgs)-1].Content)

	_, err = e.svc.BulkAssign(ctx, workflow.BulkAssignRequest{IDs: ids(t1), UserIDs: []uint{404}, Actor: actor(boss)})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestBulkDeleteKeepsAuditTrail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	t1 := dbtest.Task(t, e.conn, boss, "gone-1", clerk)
	t2 := dbtest.Task(t, e.conn, boss, "gone-2")
	keep := dbtest.Task(t, e.conn, boss, "kept")

	_, err := e.svc.Transition(ctx, workflow.TransitionRequest{TaskID: t1.ID, Target: models.StatusInProgress, Actor: actor(boss)})
	require.NoError(t, err)

	res, err := e.svc.BulkDelete(ctx, workflow.BulkDeleteRequest{IDs: ids(t1, t2), Actor: actor(boss)})
	require.NoError(t, err)
	assert.Equal(t, ids(t1, t2), res.Affected)

	assert.EqualValues(t, 1, e.count(t, &models.Task{}, "1 = 1"))
	assert.EqualValues(t, keep.ID, dbtest.Reload(t, e.conn, keep.ID).ID)
	assert.Zero(t, e.count(t, &models.Room{}, "1 = 1"), "task rooms cascade")

	logs, err := e.audit.Query(ctx, e.conn, boss, audit.Filter{Action: models.ActionDeleted})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].TaskID)
	assert.Equal(t, "gone-2", logs[0].Details["title"])
	assert.Zero(t, e.count(t, &models.ActivityLog{}, "action = ?", models.ActionStatusChanged), "task-bound entries cascade")

	var n models.Notification
	require.NoError(t, e.conn.Where("user_id = ? AND type = ?", clerk.ID, models.NotifyTaskDeleted).First(&n).Error)
	assert.Contains(t, n.Message, "gone-1")
}

func TestBulkRollsBackOnMidwayFailure(t *testing.T) {
	e := newEnv(t)
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	t1 := dbtest.Task(t, e.conn, boss, "first", clerk)
	t2 := dbtest.Task(t, e.conn, boss, "second", clerk)
	inbox := e.listen(clerk)
	failNthAudit(t, e.conn, 2)

	_, err := e.svc.BulkUpdate(context.Background(), workflow.BulkUpdateRequest{
		IDs:   ids(t1, t2),
		Patch: map[string]any{"title": "rewritten"},
		Actor: actor(boss),
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IntegrityFailure))

	assert.Equal(t, "first", dbtest.Reload(t, e.conn, t1.ID).Title)
	assert.Equal(t, "second", dbtest.Reload(t, e.conn, t2.ID).Title)
	assert.Zero(t, e.count(t, &models.ActivityLog{}, "1 = 1"))
	assert.Zero(t, e.count(t, &models.Notification{}, "1 = 1"))
	assert.Zero(t, e.count(t, &models.Message{}, "1 = 1"))
	assert.Empty(t, inbox.types(), "nothing is pushed for a rolled back transaction")
}

func TestBulkAssignRollsBackOnMidwayFailure(t *testing.T) {
	for _, replace := range []bool{true, false} {
		t.Run(map[bool]string{true: "replace", false: "append"}[replace], func(t *testing.T) {
			e := newEnv(t)
			boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
			clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
			atm := dbtest.User(t, e.conn, "atm", models.RoleATM)
			t1 := dbtest.Task(t, e.conn, boss, "first", clerk)
			t2 := dbtest.Task(t, e.conn, boss, "second")
			inbox := e.listen(atm)
			failNthAudit(t, e.conn, 2)

			_, err := e.svc.BulkAssign(context.Background(), workflow.BulkAssignRequest{
				IDs:     ids(t1, t2),
				UserIDs: []uint{atm.ID},
				Replace: replace,
				Actor:   actor(boss),
			})
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.IntegrityFailure))

			assert.Equal(t, []uint{clerk.ID}, dbtest.Reload(t, e.conn, t1.ID).AssigneeIDs())
			assert.Empty(t, dbtest.Reload(t, e.conn, t2.ID).AssigneeIDs())
			assert.Zero(t, e.count(t, &models.ActivityLog{}, "1 = 1"))
			assert.Zero(t, e.count(t, &models.Notification{}, "1 = 1"))
			assert.Zero(t, e.count(t, &models.Message{}, "1 = 1"))
			assert.Empty(t, inbox.types())
		})
	}
}

func TestBulkDeleteRollsBackOnMidwayFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	atm := dbtest.User(t, e.conn, "atm", models.RoleATM)
	t1 := dbtest.Task(t, e.conn, boss, "first", clerk)
	t2 := dbtest.Task(t, e.conn, boss, "second", clerk)

	_, err := e.svc.Transition(ctx, workflow.TransitionRequest{TaskID: t1.ID, Target: models.StatusInProgress, Actor: actor(boss)})
	require.NoError(t, err)
	_, err = e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: t2.ID, UserIDs: []uint{atm.ID}, Actor: actor(boss)})
	require.NoError(t, err)

	roomCount := e.count(t, &models.Room{}, "1 = 1")
	logs := e.count(t, &models.ActivityLog{}, "1 = 1")
	messages := e.count(t, &models.Message{}, "1 = 1")
	notifications := e.count(t, &models.Notification{}, "1 = 1")
	require.NotZero(t, roomCount)
	require.NotZero(t, logs)
	inbox := e.listen(clerk)
	failNthAudit(t, e.conn, 2)

	_, err = e.svc.BulkDelete(ctx, workflow.BulkDeleteRequest{IDs: ids(t1, t2), Actor: actor(boss)})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IntegrityFailure))

	assert.EqualValues(t, 2, e.count(t, &models.Task{}, "1 = 1"))
	assert.Equal(t, models.StatusInProgress, dbtest.Reload(t, e.conn, t1.ID).Status)
	assert.Equal(t, []uint{clerk.ID}, dbtest.Reload(t, e.conn, t2.ID).AssigneeIDs())
	assert.Equal(t, roomCount, e.count(t, &models.Room{}, "1 = 1"))
	assert.Equal(t, logs, e.count(t, &models.ActivityLog{}, "1 = 1"))
	assert.Equal(t, messages, e.count(t, &models.Message{}, "1 = 1"))
	assert.Equal(t, notifications, e.count(t, &models.Notification{}, "1 = 1"))
	assert.EqualValues(t, 1, e.count(t, &models.Assignment{}, "task_id = ?", t2.ID))
	assert.Empty(t, inbox.types())
}
