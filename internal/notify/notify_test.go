package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/wsconn"
)

func TestRecordQueuesPushUntilDispatch(t *testing.T) {
	conn := dbtest.Open(t)
	alice := dbtest.User(t, conn, "alice", models.RoleClerk)
	center := notify.NewCenter(clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil, nil)

	var eff effects.Effects
	rec, err := center.Record(conn, &eff, notify.Notice{
		UserID: alice.ID, Type: models.NotifyTaskAssigned, Title: "New task", Message: "You got one",
		Data: map[string]any{"task_id": 12},
	})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)

	pushes := eff.Items()
	require.Len(t, pushes, 1)
	assert.Equal(t, effects.ToUser, pushes[0].Target)
	assert.Equal(t, alice.ID, pushes[0].ID)
	data := pushes[0].Event.Data.(notify.Payload)
	assert.Equal(t, 12, data["task_id"])
	assert.Equal(t, "task_assigned", data["type"])
	assert.Equal(t, "2026-01-01T00:00:00Z", data["created_at"])

	_, err = center.Record(conn, &eff, notify.Notice{UserID: alice.ID})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestSendUnknownUser(t *testing.T) {
	conn := dbtest.Open(t)
	center := notify.NewCenter(nil, effects.NewDispatcher(broker.NewMemory(nil), nil), nil)
	_, err := center.Send(context.Background(), conn, notify.Notice{UserID: 42, Title: "hi"})
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestHousekeeping(t *testing.T) {
	conn := dbtest.Open(t)
	alice := dbtest.User(t, conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, conn, "bob", models.RoleClerk)
	center := notify.NewCenter(nil, nil, nil)
	ctx := context.Background()

	var eff effects.Effects
	var ids []uint
	for _, title := range []string{"one", "two", "three"} {
		rec, err := center.Record(conn, &eff, notify.Notice{UserID: alice.ID, Type: models.NotifyTaskUpdated, Title: title})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	bobs, err := center.Record(conn, &eff, notify.Notice{UserID: bob.ID, Title: "bob's"})
	require.NoError(t, err)

	require.NoError(t, notify.MarkRead(ctx, conn, alice.ID, ids[0]))
	assert.True(t, errs.Is(notify.MarkRead(ctx, conn, alice.ID, bobs.ID), errs.NotFound), "other users' notifications are invisible")

	unread, err := notify.UnreadCount(ctx, conn, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	list, err := notify.List(ctx, conn, alice.ID, notify.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := notify.MarkAllRead(ctx, conn, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, notify.Delete(ctx, conn, alice.ID, ids[1]))
	assert.True(t, errs.Is(notify.Delete(ctx, conn, alice.ID, ids[1]), errs.NotFound))

	cleared, err := notify.Clear(ctx, conn, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleared)

	left, err := notify.List(ctx, conn, bob.ID, notify.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestGatewayDeliversPushes(t *testing.T) {
	conn := dbtest.Open(t)
	alice := dbtest.User(t, conn, "alice", models.RoleClerk)

	cfg := config.Default().Auth
	cfg.Secret = "test-secret-0123456789"
	authn := auth.New(cfg, conn, nil, nil)
	b := broker.NewMemory(nil)
	center := notify.NewCenter(nil, effects.NewDispatcher(b, nil), nil)

	srv := httptest.NewServer(notify.NewGateway(authn, b, wsconn.Options{}, nil))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := authn.Issue(alice, 0)
	require.NoError(t, err)
	ws, _, err := websocket.Dial(ctx, wsURL+"?token="+tok, nil)
	require.NoError(t, err)
	defer ws.CloseNow()

	require.Eventually(t, func() bool { return b.Stats().UserChannels == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = center.Send(ctx, conn, notify.Notice{UserID: alice.ID, Type: models.NotifyDueDate, Title: "Due soon"})
	require.NoError(t, err)

	var frame struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, ws, &frame))
	assert.Equal(t, notify.EventType, frame.Type)
	assert.Equal(t, "Due soon", frame.Data["title"])
	assert.Equal(t, "due_date", frame.Data["type"])
}
