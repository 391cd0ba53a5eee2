package server

import (
	"net/http"
	"strings"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
)

type notificationList struct {
	Notifications []notify.Payload `json:"notifications"`
	UnreadCount   int64            `json:"unread_count"`
}

// listNotifications returns the caller's notifications and marks them
// read, as fetching them means they were seen.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()

	list, err := notify.List(ctx, s.conn, p.ID(), notify.ListOptions{
		UnreadOnly: r.URL.Query().Get("unread") == "true",
		Limit:      limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := notify.MarkAllRead(ctx, s.conn, p.ID()); err != nil {
		s.fail(w, r, err)
		return
	}
	out := notificationList{Notifications: make([]notify.Payload, 0, len(list))}
	for i := range list {
		list[i].IsRead = true
		out.Notifications = append(out.Notifications, notify.Event(&list[i]).Data.(notify.Payload))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) readNotification(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := notify.MarkRead(ctx, s.conn, p.ID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) readAllNotifications(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	n, err := notify.MarkAllRead(ctx, s.conn, p.ID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := s.opContext(r)
	defer cancel()
	if err := notify.Delete(ctx, s.conn, p.ID(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearNotifications(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	ctx, cancel := s.opContext(r)
	defer cancel()
	n, err := notify.Clear(ctx, s.conn, p.ID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type sendBody struct {
	UserID  uint           `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// sendNotification is the persist-and-push entry point for reminder and
// e-mail jobs.
func (s *Server) sendNotification(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	if !access.For(p.User.Role).CanSendNotifications {
		s.fail(w, r, errs.New(errs.PermissionDenied, "%s may not send notifications", p.User.Role))
		return
	}
	var body sendBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	bad := map[string]string{}
	if body.UserID == 0 {
		bad["user_id"] = "recipient is required"
	}
	if strings.TrimSpace(body.Type) == "" {
		bad["type"] = "notification type is required"
	}
	if strings.TrimSpace(body.Title) == "" {
		bad["title"] = "title is required"
	}
	if len(bad) > 0 {
		s.fail(w, r, errs.Validation(bad))
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	rec, err := s.center.Send(ctx, s.conn, notify.Notice{
		UserID:  body.UserID,
		Type:    models.NotificationType(body.Type),
		Title:   body.Title,
		Message: body.Message,
		Data:    body.Data,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, notify.Event(rec).Data)
}
