package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
)

func TestAppendStampsAndStoresDetails(t *testing.T) {
	conn := dbtest.Open(t)
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	log := audit.New(clock.Fake(start))

	boss := dbtest.User(t, conn, "boss", models.RoleSupervisor)
	task := dbtest.Task(t, conn, boss, "Quarterly review")

	rec, err := log.Append(conn, audit.Entry{
		TaskID:    task.ID,
		UserID:    boss.ID,
		Action:    models.ActionStatusChanged,
		Details:   map[string]any{"old_status": "todo", "new_status": "in_progress"},
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, start, rec.Timestamp)

	got, err := log.Query(context.Background(), conn, boss, audit.Filter{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "in_progress", got[0].Details["new_status"])
	assert.Equal(t, "boss", got[0].User.Username)
}

func TestAppendRequiresAction(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := audit.New(nil).Append(conn, audit.Entry{})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestQueryRespectsVisibility(t *testing.T) {
	conn := dbtest.Open(t)
	c := clock.Fake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	c.AutoStep(time.Minute)
	log := audit.New(c)

	boss := dbtest.User(t, conn, "boss", models.RoleSupervisor)
	alice := dbtest.User(t, conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, conn, "bob", models.RoleClerk)
	aliceTask := dbtest.Task(t, conn, boss, "alice task", alice)
	bobTask := dbtest.Task(t, conn, boss, "bob task", bob)

	for _, id := range []uint{aliceTask.ID, bobTask.ID} {
		_, err := log.Append(conn, audit.Entry{TaskID: id, UserID: boss.ID, Action: models.ActionCreated})
		require.NoError(t, err)
	}
	_, err := log.Append(conn, audit.Entry{UserID: boss.ID, Action: models.ActionDeleted, Details: map[string]any{"task_id": 99}})
	require.NoError(t, err)

	ctx := context.Background()
	all, err := log.Query(ctx, conn, boss, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.ActionDeleted, all[0].Action, "newest first")
	assert.Nil(t, all[0].TaskID)

	mine, err := log.Query(ctx, conn, alice, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, aliceTask.ID, *mine[0].TaskID)

	deletes, err := log.Query(ctx, conn, boss, audit.Filter{Action: models.ActionDeleted})
	require.NoError(t, err)
	assert.Len(t, deletes, 1)

	limited, err := log.Query(ctx, conn, boss, audit.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
