package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/rooms"
	"github.com/balkashynov/wrokhub/internal/wsconn"
)

// Inbound frame types.
const (
	FrameJoinRoom    = "join_room"
	FrameLeaveRoom   = "leave_room"
	FrameSendMessage = "send_message"
	FrameTyping      = "typing"
)

// session is the state of one chat connection. All methods run on the
// connection's read loop.
type session struct {
	g          *Gateway
	conn       *wsconn.Conn
	user       *models.User
	membership *Membership
	log        *slog.Logger
}

func newSession(g *Gateway, c *wsconn.Conn) *session {
	return &session{
		g:          g,
		conn:       c,
		user:       c.Principal().User,
		membership: NewMembership(g.broker, c),
		log:        c.Log(),
	}
}

func (s *session) open(ctx context.Context) {
	s.g.setPresence(ctx, s.user.ID, true)
	s.log.InfoContext(ctx, "chat connected", "username", s.user.Username, "auth_source", s.conn.Principal().Source)
}

func (s *session) close(ctx context.Context) {
	s.g.broker.UnsubscribeAll(s.conn)
	s.conn.Close("")
	s.g.setPresence(ctx, s.user.ID, false)
	s.log.InfoContext(ctx, "chat disconnected")
}

func (s *session) handle(ctx context.Context, raw []byte) {
	if !gjson.ValidBytes(raw) {
		s.log.WarnContext(ctx, "dropping frame", "error", errs.New(errs.MalformedFrame, "invalid JSON"), "bytes", len(raw))
		return
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		s.log.WarnContext(ctx, "dropping frame", "error", errs.New(errs.MalformedFrame, "frame is not an object"))
		return
	}

	switch typ := frame.Get("type").String(); typ {
	case FrameJoinRoom:
		s.join(ctx, frame, raw)
	case FrameLeaveRoom:
		s.leave(ctx)
	case FrameSendMessage:
		s.send(ctx, frame, raw)
	case FrameTyping:
		s.typing(ctx, frame)
	default:
		s.log.InfoContext(ctx, "ignoring frame", "error", errs.New(errs.UnknownFrameType, "%q", typ))
	}
}

func (s *session) join(ctx context.Context, frame gjson.Result, raw []byte) {
	room, err := s.resolve(ctx, frame)
	if err != nil {
		s.fail(ctx, err, raw)
		return
	}
	tr := s.membership.Bind(room.ID, room.Type)
	s.log.DebugContext(ctx, "membership changed", "transition", tr, "room_id", room.ID)
	s.reply(ctx, broker.Event{Type: EventRoomJoined, Data: roomRef{RoomID: room.ID, RoomType: room.Type}})
}

func (s *session) leave(ctx context.Context) {
	roomID, roomType, ok := s.membership.Current()
	if s.membership.Unbind() == Unbound && ok {
		s.reply(ctx, broker.Event{Type: EventRoomLeft, Data: roomRef{RoomID: roomID, RoomType: roomType}})
	}
}

func (s *session) send(ctx context.Context, frame gjson.Result, raw []byte) {
	content := frame.Get("content")
	if !content.Exists() {
		content = frame.Get("message")
	}
	text := strings.TrimSpace(content.String())
	if text == "" {
		s.fail(ctx, errs.Validation(map[string]string{"content": "message content is required"}), raw)
		return
	}

	pctx, cancel := s.g.persistContext(ctx)
	defer cancel()

	var (
		eff  effects.Effects
		room *models.Room
	)
	err := s.g.db.WithContext(pctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = s.resolveWith(tx, frame)
		if err != nil {
			return err
		}
		_, err = s.g.poster.Post(tx, &eff, rooms.Post{
			Room:               room,
			Sender:             s.user,
			Content:            text,
			NotifyParticipants: true,
		})
		return err
	})
	if err != nil {
		s.fail(ctx, err, raw)
		return
	}

	if tr := s.membership.Bind(room.ID, room.Type); tr != Stay {
		s.log.DebugContext(ctx, "membership changed by send", "transition", tr, "room_id", room.ID)
	}
	s.g.dispatcher.Dispatch(pctx, &eff)
}

func (s *session) typing(ctx context.Context, frame gjson.Result) {
	roomID, _, ok := s.membership.Current()
	if !ok {
		return
	}
	s.g.broker.Publish(ctx, roomID, broker.Event{Type: EventTyping, Data: typingData{
		User:     userRef{ID: s.user.ID, Username: s.user.Username},
		IsTyping: frame.Get("is_typing").Bool(),
		RoomID:   roomID,
	}})
}

func (s *session) resolve(ctx context.Context, frame gjson.Result) (*models.Room, error) {
	conn, cancel := db.WithTimeout(context.WithoutCancel(ctx), s.g.db, s.g.opTimeout)
	defer cancel()
	return s.resolveWith(conn, frame)
}

func (s *session) resolveWith(conn *gorm.DB, frame gjson.Result) (*models.Room, error) {
	typ := models.RoomType(frame.Get("room_type").String())
	if !typ.Valid() {
		return nil, errs.Validation(map[string]string{"room_type": "must be one of direct, task, group"})
	}
	return rooms.Resolve(conn, s.user, typ, uint(frame.Get("room_id").Uint()))
}

// fail reports err to this connection only.
func (s *session) fail(ctx context.Context, err error, raw []byte) {
	s.log.InfoContext(ctx, "frame failed", "kind", errs.KindOf(err), "error", err)
	s.reply(ctx, broker.Event{Type: EventError, Data: errorData{
		Message:         clientMessage(err),
		Kind:            errs.KindOf(err),
		OriginalMessage: json.RawMessage(raw),
	}})
}

func (s *session) reply(ctx context.Context, ev broker.Event) {
	if err := s.conn.Deliver(ev); err != nil {
		s.log.WarnContext(ctx, "reply dropped", "event", ev.Type, "error", err)
	}
}

// clientMessage hides storage details from clients.
func clientMessage(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind == errs.IntegrityFailure {
		return "internal error"
	}
	if e.Kind == errs.ValidationError {
		return e.Error()
	}
	return e.Message
}

type roomRef struct {
	RoomID   uint            `json:"room_id"`
	RoomType models.RoomType `json:"room_type"`
}

type userRef struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

type typingData struct {
	User     userRef `json:"user"`
	IsTyping bool    `json:"is_typing"`
	RoomID   uint    `json:"room_id"`
}

type errorData struct {
	Message         string          `json:"message"`
	Kind            errs.Kind       `json:"kind,omitempty"`
	OriginalMessage json.RawMessage `json:"original_message"`
}
