// Package chat serves the chat websocket: room membership, message
// persistence and fan-out, and typing indicators.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/rooms"
	"github.com/balkashynov/wrokhub/internal/wsconn"
)

// Outbound frame types besides rooms.ChatMessageEvent.
const (
	EventRoomJoined = "room_joined"
	EventRoomLeft   = "room_left"
	EventTyping     = "typing"
	EventError      = "error"
)

// Deps are the collaborators of a Gateway.
type Deps struct {
	DB         *gorm.DB
	Auth       *auth.Authenticator
	Broker     broker.Broker
	Poster     *rooms.Poster
	Dispatcher *effects.Dispatcher
	Clock      clock.Clock
	Conn       wsconn.Options
	// OpTimeout bounds each persistence call made for a frame.
	OpTimeout time.Duration
	Log       *slog.Logger
}

// Gateway is the chat websocket handler.
type Gateway struct {
	db         *gorm.DB
	authn      *auth.Authenticator
	broker     broker.Broker
	poster     *rooms.Poster
	dispatcher *effects.Dispatcher
	clock      clock.Clock
	connOpts   wsconn.Options
	opTimeout  time.Duration
	log        *slog.Logger
}

// NewGateway builds a chat handler from d.
func NewGateway(d Deps) *Gateway {
	log := logging.OrDiscard(d.Log).With("component", "chat")
	d.Conn.Log = log
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.OpTimeout <= 0 {
		d.OpTimeout = 5 * time.Second
	}
	return &Gateway{
		db:         d.DB,
		authn:      d.Auth,
		broker:     d.Broker,
		poster:     d.Poster,
		dispatcher: d.Dispatcher,
		clock:      d.Clock,
		connOpts:   d.Conn,
		opTimeout:  d.OpTimeout,
		log:        log,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := wsconn.Accept(w, r, g.authn, g.connOpts)
	if err != nil {
		return
	}
	s := newSession(g, c)
	s.open(r.Context())
	defer s.close(r.Context())

	for {
		raw, err := c.Read(r.Context())
		if err != nil {
			if !wsconn.IsClosed(err) {
				s.log.WarnContext(r.Context(), "chat read failed", "error", err)
			}
			return
		}
		s.handle(r.Context(), raw)
	}
}

// persistContext detaches from the connection so a disconnect mid-frame
// does not abort a write, while still bounding it.
func (g *Gateway) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.opTimeout)
}

func (g *Gateway) setPresence(ctx context.Context, userID uint, online bool) {
	conn, cancel := db.WithTimeout(context.WithoutCancel(ctx), g.db, g.opTimeout)
	defer cancel()
	if err := db.SetPresence(conn, userID, online, g.clock.Now()); err != nil {
		g.log.WarnContext(ctx, "presence update failed", "user_id", userID, "online", online, "error", err)
	}
}
