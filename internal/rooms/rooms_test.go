package rooms_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
)

func TestDirectRoomIsOrderIndependent(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleClerk)

	ab, err := rooms.Direct(conn, a.ID, b.ID)
	require.NoError(t, err)
	ba, err := rooms.Direct(conn, b.ID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Len(t, ab.Participants, 2)

	var n int64
	require.NoError(t, conn.Model(&models.Room{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestDirectRoomErrors(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)

	_, err := rooms.Direct(conn, a.ID, a.ID)
	assert.True(t, errs.Is(err, errs.ValidationError))

	_, err = rooms.Direct(conn, a.ID, 404)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestResolveTaskRoom(t *testing.T) {
	conn := dbtest.Open(t)
	boss := dbtest.User(t, conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, conn, "clerk", models.RoleClerk)
	outsider := dbtest.User(t, conn, "outsider", models.RoleClerk)
	task := dbtest.Task(t, conn, boss, "Audit Q3", clerk)

	room, err := rooms.Resolve(conn, clerk, models.RoomTask, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomTask, room.Type)
	assert.Equal(t, "Audit Q3", room.Name)

	ids, err := db.ParticipantIDs(conn, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{boss.ID, clerk.ID}, ids)

	again, err := rooms.Resolve(conn, boss, models.RoomTask, task.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	_, err = rooms.Resolve(conn, outsider, models.RoomTask, task.ID)
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	_, err = rooms.Resolve(conn, clerk, models.RoomTask, 9999)
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = rooms.Resolve(conn, clerk, "broadcast", task.ID)
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestGroupRoomMembership(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleATM)
	c := dbtest.User(t, conn, "c", models.RoleATM)

	room, err := rooms.Create(conn, a, rooms.CreateRequest{Type: models.RoomGroup, Name: "ops", ParticipantIDs: []uint{b.ID, 777}})
	require.NoError(t, err)
	assert.Len(t, room.Participants, 2)

	_, err = rooms.Resolve(conn, b, models.RoomGroup, room.ID)
	require.NoError(t, err)
	_, err = rooms.Resolve(conn, c, models.RoomGroup, room.ID)
	assert.True(t, errs.Is(err, errs.PermissionDenied))

	_, err = rooms.Create(conn, a, rooms.CreateRequest{Type: models.RoomGroup})
	assert.True(t, errs.Is(err, errs.ValidationError))
}

func TestPostPersistsAndQueuesEffects(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleClerk)
	room, err := rooms.Direct(conn, a.ID, b.ID)
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := clock.Fake(now)
	poster := rooms.NewPoster(c, notify.NewCenter(c, nil, nil))

	var eff effects.Effects
	msg, err := poster.Post(conn, &eff, rooms.Post{Room: room, Sender: a, Content: "  hello  ", NotifyParticipants: true})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, now, msg.Timestamp)

	chat := eff.Filter(rooms.ChatMessageEvent)
	require.Len(t, chat, 1)
	assert.Equal(t, effects.ToRoom, chat[0].Target)
	view := chat[0].Event.Data.(rooms.MessageView)
	assert.Equal(t, "a", view.Sender.Username)
	assert.Equal(t, models.RoomDirect, view.RoomType)
	assert.NotNil(t, view.Attachments)

	pushes := eff.Filter(notify.EventType)
	require.Len(t, pushes, 1)
	assert.Equal(t, b.ID, pushes[0].ID, "sender is not notified")

	stored, err := db.ListMessages(conn, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestPostWithAttachmentNotifiesFileShared(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleClerk)
	room, err := rooms.Direct(conn, a.ID, b.ID)
	require.NoError(t, err)
	poster := rooms.NewPoster(nil, notify.NewCenter(nil, nil, nil))

	var eff effects.Effects
	msg, err := poster.Post(conn, &eff, rooms.Post{
		Room:               room,
		Sender:             a,
		Attachments:        []rooms.Attachment{{FileName: "ledger.xlsx", FileSize: 2048, MimeType: "application/vnd.ms-excel", URL: "/files/ledger.xlsx"}},
		NotifyParticipants: true,
	})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)

	var n models.Notification
	require.NoError(t, conn.Where("user_id = ?", b.ID).First(&n).Error)
	assert.Equal(t, models.NotifyFileAttached, n.Type)
	assert.Equal(t, "ledger.xlsx", n.Message)
}

func TestPostRejectsEmptyContent(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleClerk)
	room, err := rooms.Direct(conn, a.ID, b.ID)
	require.NoError(t, err)

	var eff effects.Effects
	_, err = rooms.NewPoster(nil, nil).Post(conn, &eff, rooms.Post{Room: room, Sender: a, Content: "   "})
	assert.True(t, errs.Is(err, errs.ValidationError))
	assert.Zero(t, eff.Len())
}
