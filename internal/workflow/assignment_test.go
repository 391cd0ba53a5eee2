package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

func TestProposeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	bob := dbtest.User(t, e.conn, "bob", models.RoleClerk)
	task := dbtest.Task(t, e.conn, lead, "Sample invoices")
	inbox := e.listen(bob)

	first, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID, 999, bob.ID}, Actor: actor(lead)})
	require.NoError(t, err)
	require.Len(t, first.Assignments, 1)
	assert.Len(t, first.Created, 1)
	assert.Equal(t, []uint{999}, first.Skipped)
	assert.Equal(t, models.AssignmentPending, first.Assignments[0].Status)

	second, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID}, Actor: actor(lead)})
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, first.Assignments[0].ID, second.Assignments[0].ID)

	assert.EqualValues(t, 1, e.count(t, &models.Assignment{}, "task_id = ?", task.ID))
	assert.EqualValues(t, 1, e.count(t, &models.ActivityLog{}, "action = ?", models.ActionAssignmentProposed))
	assert.Equal(t, []string{notify.EventType}, inbox.types())
}

func TestProposeRequiresAuthority(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	boss := dbtest.User(t, e.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, e.conn, "clerk", models.RoleClerk)
	bob := dbtest.User(t, e.conn, "bob", models.RoleClerk)
	task := dbtest.Task(t, e.conn, boss, "Boss task", clerk)

	_, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID}, Actor: actor(clerk)})
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	_, err = e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, Actor: actor(boss)})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestRespondAccept(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	bob := dbtest.User(t, e.conn, "bob", models.RoleClerk)
	eve := dbtest.User(t, e.conn, "eve", models.RoleClerk)
	task := dbtest.Task(t, e.conn, lead, "Inventory count")
	leadInbox := e.listen(lead)

	prop, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID}, Actor: actor(lead)})
	require.NoError(t, err)
	assignmentID := prop.Created[0]

	_, err = e.svc.Respond(ctx, workflow.RespondRequest{TaskID: task.ID, AssignmentID: assignmentID, Action: workflow.Accept, Actor: actor(eve)})
	assert.True(t, errs.Is(err, errs.NotFound), "only the proposed user may respond")

	_, err = e.svc.Respond(ctx, workflow.RespondRequest{TaskID: task.ID, AssignmentID: assignmentID, Action: "maybe", Actor: actor(bob)})
	assert.True(t, errs.Is(err, errs.ValidationError))

	res, err := e.svc.Respond(ctx, workflow.RespondRequest{TaskID: task.ID, AssignmentID: assignmentID, Action: workflow.Accept, Reason: "happy to", Actor: actor(bob)})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentAccepted, res.Assignment.Status)
	require.NotNil(t, res.Assignment.RespondedAt)
	assert.Equal(t, "happy to", res.Assignment.Reason)

	assert.True(t, dbtest.Reload(t, e.conn, task.ID).HasAssignee(bob.ID))
	msgs := e.roomMessages(t, task)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob accepted assignment for task: Inventory count", msgs[0].Content)
	assert.Equal(t, []string{notify.EventType}, leadInbox.types())
	assert.EqualValues(t, 1, e.count(t, &models.ActivityLog{}, "action = ?", models.ActionAssignmentAccepted))

	_, err = e.svc.Respond(ctx, workflow.RespondRequest{TaskID: task.ID, AssignmentID: assignmentID, Action: workflow.Reject, Actor: actor(bob)})
	assert.True(t, errs.Is(err, errs.AlreadyResponded))
}

func TestRespondReject(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	bob := dbtest.User(t, e.conn, "bob", models.RoleClerk)
	task := dbtest.Task(t, e.conn, lead, "Overtime audit")

	prop, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID}, Actor: actor(lead)})
	require.NoError(t, err)

	res, err := e.svc.Respond(ctx, workflow.RespondRequest{TaskID: task.ID, AssignmentID: prop.Created[0], Action: workflow.Reject, Reason: "on leave", Actor: actor(bob)})
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentRejected, res.Assignment.Status)
	assert.False(t, dbtest.Reload(t, e.conn, task.ID).HasAssignee(bob.ID))

	msgs := e.roomMessages(t, task)
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob rejected assignment for task: Overtime audit", msgs[0].Content)

	var n models.Notification
	require.NoError(t, e.conn.Where("user_id = ? AND type = ?", lead.ID, models.NotifyAssignmentReply).First(&n).Error)
	assert.Equal(t, "Assignment rejected", n.Title)
}

func TestListAssignments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	lead := dbtest.User(t, e.conn, "lead", models.RoleATL)
	bob := dbtest.User(t, e.conn, "bob", models.RoleClerk)
	amy := dbtest.User(t, e.conn, "amy", models.RoleClerk)
	task := dbtest.Task(t, e.conn, lead, "Split duty")

	_, err := e.svc.Propose(ctx, workflow.ProposeRequest{TaskID: task.ID, UserIDs: []uint{bob.ID, amy.ID}, Actor: actor(lead)})
	require.NoError(t, err)

	all, err := e.svc.ListAssignments(ctx, lead, workflow.AssignmentFilter{TaskID: task.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := e.svc.ListAssignments(ctx, bob, workflow.AssignmentFilter{Status: models.AssignmentPending})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "bob", mine[0].User.Username)
	assert.Equal(t, "lead", mine[0].AssignedBy.Username)
}
