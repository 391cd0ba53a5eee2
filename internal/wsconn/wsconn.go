// Package wsconn wraps an accepted websocket as a broker subscriber with a
// bounded outbound queue drained by a single writer goroutine.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/logging"
)

// Options configure accepted connections.
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	OriginPatterns []string
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
	Log       *slog.Logger
	// Registry, when set, tracks accepted connections until they close.
	Registry *Registry
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	o.Log = logging.OrDiscard(o.Log)
	return o
}

// Conn is one authenticated websocket connection.
type Conn struct {
	id        string
	ws        *websocket.Conn
	principal *auth.Principal
	remote    string

	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	log          *slog.Logger
	registry     *Registry
}

// Accept authenticates r and upgrades it. Requests without a valid
// credential get HTTP 401 and no upgrade; the returned error is then
// non-nil and the response has already been written.
func Accept(w http.ResponseWriter, r *http.Request, authn *auth.Authenticator, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	principal, err := authn.Authenticate(r.Context(), r)
	if err != nil {
		opts.Log.InfoContext(r.Context(), "websocket handshake rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "error", err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return nil, err
	}

	acceptOpts := &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}
	if principal.Source == auth.SourceSubprotocol {
		// The client offered its token as the first subprotocol; the
		// handshake must select it or browsers drop the connection.
		acceptOpts.Subprotocols = []string{principal.Token}
	}
	ws, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		opts.Log.WarnContext(r.Context(), "websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil, err
	}
	ws.SetReadLimit(opts.ReadLimit)

	c := &Conn{
		id:           uuid.NewString(),
		ws:           ws,
		principal:    principal,
		remote:       r.RemoteAddr,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		registry:     opts.Registry,
	}
	c.log = opts.Log.With("conn_id", c.id, "user_id", principal.ID())
	if c.registry != nil {
		c.registry.add(c)
	}
	go c.writeLoop()
	return c, nil
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Principal returns the authenticated user of the connection.
func (c *Conn) Principal() *auth.Principal { return c.principal }

// RemoteAddr returns the peer address seen at handshake.
func (c *Conn) RemoteAddr() string { return c.remote }

// Log returns the connection-scoped logger.
func (c *Conn) Log() *slog.Logger { return c.log }

// Deliver queues ev without blocking. A full queue drops the frame.
func (c *Conn) Deliver(ev broker.Event) error {
	select {
	case <-c.done:
		return broker.ErrClosed
	default:
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return broker.ErrSlowConsumer
	}
}

// Read blocks for the next inbound frame.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the connection with a normal status. Safe to call more
// than once.
func (c *Conn) Close(reason string) {
	c.closeWith(websocket.StatusNormalClosure, reason)
}

func (c *Conn) closeWith(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.registry != nil {
			c.registry.remove(c)
		}
		_ = c.ws.Close(code, reason)
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if !IsClosed(err) {
					c.log.Warn("websocket write failed", "error", err)
				}
				c.closeWith(websocket.StatusPolicyViolation, "write failed")
				return
			}
		}
	}
}

// IsClosed reports whether err is an ordinary end of connection.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}

// Registry holds the open connections of a server so they can be closed
// together on shutdown. Hijacked connections are not covered by
// http.Server.Shutdown.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]struct{})}
}

func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every open connection with StatusGoingAway and waits
// for the close handshakes to finish.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	open := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		open = append(open, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range open {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.closeWith(websocket.StatusGoingAway, reason)
		}(c)
	}
	wg.Wait()
	return len(open)
}
