package notify

import (
	"log/slog"
	"net/http"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/wsconn"
)

// Gateway serves the per-user notification websocket. It is push-only:
// inbound frames are read and discarded.
type Gateway struct {
	authn  *auth.Authenticator
	broker broker.Broker
	opts   wsconn.Options
	log    *slog.Logger
}

// NewGateway returns a notification websocket handler.
func NewGateway(authn *auth.Authenticator, b broker.Broker, opts wsconn.Options, log *slog.Logger) *Gateway {
	log = logging.OrDiscard(log).With("component", "notifications")
	opts.Log = log
	return &Gateway{authn: authn, broker: b, opts: opts, log: log}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := wsconn.Accept(w, r, g.authn, g.opts)
	if err != nil {
		return
	}
	defer c.Close("")

	user := c.Principal().User
	g.broker.SubscribeUser(c, user.ID)
	defer g.broker.UnsubscribeAll(c)
	c.Log().InfoContext(r.Context(), "notification channel open", "username", user.Username)

	for {
		if _, err := c.Read(r.Context()); err != nil {
			if !wsconn.IsClosed(err) {
				c.Log().WarnContext(r.Context(), "notification channel read failed", "error", err)
			}
			c.Log().InfoContext(r.Context(), "notification channel closed")
			return
		}
	}
}
