package db_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/models"
)

func TestInsertRoomIfAbsentKeepsOneDirectRoom(t *testing.T) {
	conn := dbtest.Open(t)
	key := models.DirectKey(5, 2)
	assert.Equal(t, "2:5", key)

	first := models.Room{Type: models.RoomDirect, DirectKey: &key}
	inserted, err := db.InsertRoomIfAbsent(conn, &first)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotZero(t, first.ID)

	dup := models.Room{Type: models.RoomDirect, DirectKey: &key}
	inserted, err = db.InsertRoomIfAbsent(conn, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, dup.ID)

	found, err := db.FindRoom(conn, "direct_key = ?", key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestListMessagesAndMarkRead(t *testing.T) {
	conn := dbtest.Open(t)
	a := dbtest.User(t, conn, "a", models.RoleClerk)
	b := dbtest.User(t, conn, "b", models.RoleClerk)
	room := models.Room{Type: models.RoomGroup, Name: "ops"}
	_, err := db.InsertRoomIfAbsent(conn, &room)
	require.NoError(t, err)
	require.NoError(t, db.AddParticipants(conn, room.ID, a.ID, b.ID, a.ID))

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, sender := range []uint{a.ID, b.ID, a.ID} {
		require.NoError(t, conn.Create(&models.Message{
			RoomID: room.ID, SenderID: sender, Content: string(rune('x' + i)), Timestamp: base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	all, err := db.ListMessages(conn, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "x", all[0].Content)

	last2, err := db.ListMessages(conn, room.ID, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, "y", last2[0].Content)
	assert.Equal(t, "z", last2[1].Content)

	n, err := db.MarkRoomRead(conn, room.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := db.ParticipantIDs(conn, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID}, ids)

	ok, err := db.IsParticipant(conn, room.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
