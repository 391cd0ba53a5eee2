// Package server exposes wrokhub over HTTP: the chat and notification
// websockets plus the JSON API for tasks, rooms, assignments, activity
// logs and notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/chat"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
	"github.com/balkashynov/wrokhub/internal/workflow"
	"github.com/balkashynov/wrokhub/internal/wsconn"
)

// Status reports the lifecycle state of the listener.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusDraining Status = "draining"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Server wires the core components behind one HTTP listener.
type Server struct {
	cfg   config.Config
	conn  *gorm.DB
	clock clock.Clock
	log   *slog.Logger

	authn      *auth.Authenticator
	broker     broker.Broker
	dispatcher *effects.Dispatcher
	center     *notify.Center
	poster     *rooms.Poster
	audit      *audit.Log
	workflow   *workflow.Service
	conns      *wsconn.Registry
	handler    http.Handler

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    Status
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithClock lets tests control timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBroker replaces the in-memory broker.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) {
		if b != nil {
			s.broker = b
		}
	}
}

// New assembles the server around conn. Nothing listens until Start.
func New(cfg config.Config, conn *gorm.DB, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		conn:   conn,
		clock:  clock.Real(),
		log:    logging.Discard(),
		status: StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.broker == nil {
		s.broker = broker.NewMemory(s.log.With("component", "broker"))
	}

	s.authn = auth.New(cfg.Auth, conn, s.clock, s.log)
	s.dispatcher = effects.NewDispatcher(s.broker, s.log)
	s.center = notify.NewCenter(s.clock, s.dispatcher, s.log)
	s.poster = rooms.NewPoster(s.clock, s.center)
	s.audit = audit.New(s.clock)
	s.conns = wsconn.NewRegistry()
	s.workflow = workflow.New(workflow.Deps{
		DB:         conn,
		Center:     s.center,
		Poster:     s.poster,
		Audit:      s.audit,
		Dispatcher: s.dispatcher,
		Clock:      s.clock,
		OpTimeout:  cfg.Database.OpTimeout,
		Log:        s.log,
	})
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	connOpts := wsconn.Options{
		SendBuffer:     s.cfg.Broker.SendBuffer,
		WriteTimeout:   s.cfg.Broker.WriteTimeout,
		OriginPatterns: s.cfg.Server.AllowedOrigins,
		Registry:       s.conns,
	}
	chatGateway := chat.NewGateway(chat.Deps{
		DB:         s.conn,
		Auth:       s.authn,
		Broker:     s.broker,
		Poster:     s.poster,
		Dispatcher: s.dispatcher,
		Clock:      s.clock,
		Conn:       connOpts,
		OpTimeout:  s.cfg.Database.OpTimeout,
		Log:        s.log,
	})
	notifyGateway := notify.NewGateway(s.authn, s.broker, connOpts, s.log)

	mux := http.NewServeMux()
	// Websocket handlers need the raw ResponseWriter for the hijack.
	mux.Handle("GET /ws/chat/", chatGateway)
	mux.Handle("GET /ws/notifications/", notifyGateway)

	api := http.NewServeMux()
	api.HandleFunc("GET /health", s.handleHealth)

	api.Handle("POST /api/tasks", s.authed(s.createTask))
	api.Handle("GET /api/tasks", s.authed(s.listTasks))
	api.Handle("GET /api/tasks/{id}", s.authed(s.getTask))
	api.Handle("POST /api/tasks/{id}/assign", s.authed(s.assignTask))
	api.Handle("POST /api/tasks/{id}/status", s.authed(s.updateStatus))
	api.Handle("POST /api/tasks/{id}/propose_assignment", s.authed(s.proposeAssignment))
	api.Handle("POST /api/tasks/{id}/respond_assignment", s.authed(s.respondAssignment))
	api.Handle("POST /api/tasks/bulk_update", s.authed(s.bulkUpdate))
	api.Handle("POST /api/tasks/bulk_assign", s.authed(s.bulkAssign))
	api.Handle("POST /api/tasks/bulk_delete", s.authed(s.bulkDelete))
	api.Handle("GET /api/assignments", s.authed(s.listAssignments))
	api.Handle("GET /api/activity_logs", s.authed(s.activityLogs))

	api.Handle("POST /api/rooms", s.authed(s.createRoom))
	api.Handle("GET /api/rooms/{id}/messages", s.authed(s.roomMessages))
	api.Handle("POST /api/rooms/{id}/mark_read", s.authed(s.markRoomRead))
	api.Handle("POST /api/rooms/{id}/attachments", s.authed(s.postAttachment))

	api.Handle("GET /api/notifications", s.authed(s.listNotifications))
	api.Handle("POST /api/notifications/{id}/read", s.authed(s.readNotification))
	api.Handle("POST /api/notifications/read_all", s.authed(s.readAllNotifications))
	api.Handle("POST /api/notifications/send", s.authed(s.sendNotification))
	api.Handle("DELETE /api/notifications/{id}", s.authed(s.deleteNotification))
	api.Handle("DELETE /api/notifications", s.authed(s.clearNotifications))

	mux.Handle("/", s.observe(api))
	return mux
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the TCP listener and begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server: already started")
	}
	addr := s.cfg.Server.Addr
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock.Now()
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = srv
	s.status = StatusReady
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", "error", err)
		}
	}()
	s.log.Info("listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown closes open websockets, stops accepting connections and waits
// for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if n := s.conns.CloseAll("server shutting down"); n > 0 {
		s.log.Info("closed websocket connections", "count", n)
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the http:// URL of the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	return "http://" + addr
}

// Status reports the lifecycle state.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats reports the broker's current fan-out state.
func (s *Server) Stats() broker.Stats { return s.broker.Stats() }

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock.Now().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Rooms         int    `json:"rooms"`
	UserChannels  int    `json:"user_channels"`
	Subscribers   int    `json:"subscribers"`
	Connections   int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.broker.Stats()
	resp := healthResponse{
		Status:        string(s.Status()),
		Database:      "ok",
		UptimeSeconds: s.uptimeSeconds(),
		Rooms:         stats.Rooms,
		UserChannels:  stats.UserChannels,
		Subscribers:   stats.Subscribers,
		Connections:   s.conns.Len(),
	}
	code := http.StatusOK
	if err := s.pingDB(r.Context()); err != nil {
		s.log.WarnContext(r.Context(), "health: database unreachable", "error", err)
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) pingDB(ctx context.Context) error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
