package chat_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/chat"
	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/db/dbtest"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
)

type harness struct {
	conn   *gorm.DB
	authn  *auth.Authenticator
	broker *broker.Memory
	url    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	cfg := config.Default().Auth
	cfg.Secret = "test-secret-0123456789"
	authn := auth.New(cfg, conn, nil, nil)
	b := broker.NewMemory(nil)
	dispatcher := effects.NewDispatcher(b, nil)

	gw := chat.NewGateway(chat.Deps{
		DB:         conn,
		Auth:       authn,
		Broker:     b,
		Poster:     rooms.NewPoster(nil, notify.NewCenter(nil, dispatcher, nil)),
		Dispatcher: dispatcher,
	})
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &harness{conn: conn, authn: authn, broker: b, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *harness) dial(t *testing.T, ctx context.Context, user *models.User) *websocket.Conn {
	t.Helper()
	tok, err := h.authn.Issue(user, 0)
	require.NoError(t, err)
	ws, _, err := websocket.Dial(ctx, h.url, &websocket.DialOptions{Subprotocols: []string{tok}})
	require.NoError(t, err)
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func read(t *testing.T, ctx context.Context, ws *websocket.Conn) frame {
	t.Helper()
	var f frame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	return f
}

func write(t *testing.T, ctx context.Context, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, ws, v))
}

func TestAnonymousHandshakeRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, h.url+"?token=null", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubprotocolTokenIsEchoed(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok, err := h.authn.Issue(alice, 0)
	require.NoError(t, err)
	ws, _, err := websocket.Dial(ctx, h.url, &websocket.DialOptions{Subprotocols: []string{tok}})
	require.NoError(t, err)
	defer ws.CloseNow()
	assert.Equal(t, tok, ws.Subprotocol())
}

func TestDirectMessageReachesBothParticipants(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, h.conn, "bob", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wa := h.dial(t, ctx, alice)
	wb := h.dial(t, ctx, bob)

	// each side names the other party; both resolve to the same room
	write(t, ctx, wa, map[string]any{"type": "join_room", "room_type": "direct", "room_id": bob.ID})
	write(t, ctx, wb, map[string]any{"type": "join_room", "room_type": "direct", "room_id": fmt.Sprint(alice.ID)})
	ja, jb := read(t, ctx, wa), read(t, ctx, wb)
	require.Equal(t, chat.EventRoomJoined, ja.Type)
	require.Equal(t, chat.EventRoomJoined, jb.Type)
	assert.JSONEq(t, string(ja.Data), string(jb.Data))

	write(t, ctx, wa, map[string]any{"type": "send_message", "room_type": "direct", "room_id": bob.ID, "content": "hello bob"})

	var views []rooms.MessageView
	for _, ws := range []*websocket.Conn{wa, wb} {
		f := read(t, ctx, ws)
		require.Equal(t, rooms.ChatMessageEvent, f.Type)
		var v rooms.MessageView
		require.NoError(t, json.Unmarshal(f.Data, &v))
		views = append(views, v)
	}
	assert.Equal(t, views[0].ID, views[1].ID)
	assert.Equal(t, "hello bob", views[1].Content)
	assert.Equal(t, "alice", views[1].Sender.Username)
	assert.Equal(t, models.RoomDirect, views[1].RoomType)
	assert.Empty(t, views[1].Attachments)

	msgs, err := db.ListMessages(h.conn, views[0].RoomID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	var n int64
	require.NoError(t, h.conn.Model(&models.Notification{}).Where("user_id = ? AND type = ?", bob.ID, models.NotifyChatMessage).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestAlternatingMessagesArriveInOrder(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, h.conn, "bob", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wa := h.dial(t, ctx, alice)
	wb := h.dial(t, ctx, bob)
	write(t, ctx, wa, map[string]any{"type": "join_room", "room_type": "direct", "room_id": bob.ID})
	write(t, ctx, wb, map[string]any{"type": "join_room", "room_type": "direct", "room_id": alice.ID})
	require.Equal(t, chat.EventRoomJoined, read(t, ctx, wa).Type)
	require.Equal(t, chat.EventRoomJoined, read(t, ctx, wb).Type)

	sends := []struct {
		ws   *websocket.Conn
		peer uint
		text string
	}{
		{wa, bob.ID, "one"},
		{wb, alice.ID, "two"},
		{wa, bob.ID, "three"},
	}
	seen := map[*websocket.Conn][]rooms.MessageView{}
	for _, s := range sends {
		write(t, ctx, s.ws, map[string]any{"type": "send_message", "room_type": "direct", "room_id": s.peer, "content": s.text})
		for _, ws := range []*websocket.Conn{wa, wb} {
			f := read(t, ctx, ws)
			require.Equal(t, rooms.ChatMessageEvent, f.Type)
			var v rooms.MessageView
			require.NoError(t, json.Unmarshal(f.Data, &v))
			seen[ws] = append(seen[ws], v)
		}
	}

	require.Len(t, seen[wa], 3)
	require.Len(t, seen[wb], 3)
	var prev time.Time
	for i := range sends {
		a, b := seen[wa][i], seen[wb][i]
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, sends[i].text, a.Content)
		assert.Equal(t, a.Timestamp, b.Timestamp)

		at, err := time.Parse(time.RFC3339Nano, a.Timestamp)
		require.NoError(t, err)
		assert.False(t, at.Before(prev), "message %d is older than its predecessor", i)
		prev = at
	}
	assert.Equal(t, "bob", seen[wa][1].Sender.Username)

	msgs, err := db.ListMessages(h.conn, seen[wa][0].RoomID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, seen[wa][i].ID, m.ID)
	}
}

func TestSendWithoutJoinBindsToTargetRoom(t *testing.T) {
	h := newHarness(t)
	boss := dbtest.User(t, h.conn, "boss", models.RoleSupervisor)
	clerk := dbtest.User(t, h.conn, "clerk", models.RoleClerk)
	task := dbtest.Task(t, h.conn, boss, "Ledger audit", clerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := h.dial(t, ctx, clerk)
	write(t, ctx, ws, map[string]any{"type": "send_message", "room_type": "task", "room_id": task.ID, "message": "on it"})

	f := read(t, ctx, ws)
	require.Equal(t, rooms.ChatMessageEvent, f.Type)
	var v rooms.MessageView
	require.NoError(t, json.Unmarshal(f.Data, &v))
	assert.Equal(t, "on it", v.Content)
	assert.Equal(t, 1, h.broker.RoomSize(v.RoomID))
}

func TestBadFramesKeepConnectionOpen(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, h.conn, "bob", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := h.dial(t, ctx, alice)
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("{not json")))
	write(t, ctx, ws, map[string]any{"type": "dance"})
	write(t, ctx, ws, map[string]any{"type": "typing", "room_id": 1, "is_typing": true})

	bad := map[string]any{"type": "send_message", "room_type": "direct", "room_id": bob.ID, "content": "   "}
	write(t, ctx, ws, bad)
	f := read(t, ctx, ws)
	require.Equal(t, chat.EventError, f.Type)
	var e struct {
		Message         string         `json:"message"`
		OriginalMessage map[string]any `json:"original_message"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &e))
	assert.Contains(t, e.Message, "content")
	assert.Equal(t, "send_message", e.OriginalMessage["type"])

	write(t, ctx, ws, map[string]any{"type": "join_room", "room_type": "group", "room_id": 999})
	f = read(t, ctx, ws)
	require.Equal(t, chat.EventError, f.Type)

	write(t, ctx, ws, map[string]any{"type": "join_room", "room_type": "direct", "room_id": bob.ID})
	assert.Equal(t, chat.EventRoomJoined, read(t, ctx, ws).Type)
}

func TestTypingAndLeave(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	bob := dbtest.User(t, h.conn, "bob", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wa := h.dial(t, ctx, alice)
	wb := h.dial(t, ctx, bob)
	write(t, ctx, wa, map[string]any{"type": "join_room", "room_type": "direct", "room_id": bob.ID})
	write(t, ctx, wb, map[string]any{"type": "join_room", "room_type": "direct", "room_id": alice.ID})
	read(t, ctx, wa)
	read(t, ctx, wb)

	write(t, ctx, wa, map[string]any{"type": "typing", "is_typing": true})
	f := read(t, ctx, wb)
	require.Equal(t, chat.EventTyping, f.Type)
	var td struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		IsTyping bool `json:"is_typing"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &td))
	assert.Equal(t, "alice", td.User.Username)
	assert.True(t, td.IsTyping)

	write(t, ctx, wb, map[string]any{"type": "leave_room"})
	assert.Equal(t, chat.EventRoomLeft, read(t, ctx, wb).Type)
}

func TestPresenceFollowsConnection(t *testing.T) {
	h := newHarness(t)
	alice := dbtest.User(t, h.conn, "alice", models.RoleClerk)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	online := func() bool {
		u, err := db.GetUser(h.conn, alice.ID)
		return err == nil && u.IsOnline
	}

	ws := h.dial(t, ctx, alice)
	require.Eventually(t, online, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return !online() }, 2*time.Second, 10*time.Millisecond)

	u, err := db.GetUser(h.conn, alice.ID)
	require.NoError(t, err)
	assert.NotNil(t, u.LastSeen)
	assert.Equal(t, broker.Stats{}, h.broker.Stats())
}
