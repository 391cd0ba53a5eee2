package server

import (
	"context"
	"net/http"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/rooms"
)

// opContext bounds a request's persistence work by the configured
// operation timeout.
func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	if d := s.cfg.Database.OpTimeout; d > 0 {
		return context.WithTimeout(r.Context(), d)
	}
	return context.WithCancel(r.Context())
}

// opDB is opContext for handlers that only talk to the database.
func (s *Server) opDB(r *http.Request) (*gorm.DB, context.CancelFunc) {
	return db.WithTimeout(r.Context(), s.conn, s.cfg.Database.OpTimeout)
}

type createRoomBody struct {
	RoomType       models.RoomType `json:"room_type"`
	Name           string          `json:"name"`
	UserID         uint            `json:"user_id"`
	TaskID         uint            `json:"task_id"`
	ParticipantIDs []uint          `json:"participant_ids"`
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body createRoomBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, cancel := s.opDB(r)
	defer cancel()
	room, err := rooms.Create(conn, p.User, rooms.CreateRequest{
		Type:           body.RoomType,
		Name:           body.Name,
		UserID:         body.UserID,
		TaskID:         body.TaskID,
		ParticipantIDs: body.ParticipantIDs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// memberRoom loads the {id} room and checks p participates in it.
func (s *Server) memberRoom(conn *gorm.DB, r *http.Request, p *auth.Principal) (*models.Room, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	room, err := db.GetRoom(conn, id)
	if err != nil {
		return nil, errs.Integrity(err, "get room")
	}
	if err := rooms.RequireMember(conn, room, p.User); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, cancel := s.opDB(r)
	defer cancel()
	room, err := s.memberRoom(conn, r, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := db.ListMessages(conn, room.ID, limit)
	if err != nil {
		s.fail(w, r, errs.Integrity(err, "list messages"))
		return
	}
	views := make([]rooms.MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, rooms.View(&msgs[i], room))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) markRoomRead(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	conn, cancel := s.opDB(r)
	defer cancel()
	room, err := s.memberRoom(conn, r, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := db.MarkRoomRead(conn, room.ID, p.ID())
	if err != nil {
		s.fail(w, r, errs.Integrity(err, "mark room read"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

type attachmentBody struct {
	Content     string             `json:"content"`
	Attachments []rooms.Attachment `json:"attachments"`
}

// postAttachment records a message carrying attachment metadata from the
// upload service and publishes it like any other chat message.
func (s *Server) postAttachment(w http.ResponseWriter, r *http.Request, p *auth.Principal) {
	var body attachmentBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(body.Attachments) == 0 {
		s.fail(w, r, errs.Validation(map[string]string{"attachments": "at least one attachment is required"}))
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()
	var (
		eff  effects.Effects
		msg  *models.Message
		room *models.Room
	)
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if room, err = s.memberRoom(tx, r, p); err != nil {
			return err
		}
		msg, err = s.poster.Post(tx, &eff, rooms.Post{
			Room:               room,
			Sender:             p.User,
			Content:            body.Content,
			Attachments:        body.Attachments,
			NotifyParticipants: true,
		})
		if err != nil {
			return err
		}
		if room.TaskID == nil {
			return nil
		}
		names := make([]string, 0, len(body.Attachments))
		for _, a := range body.Attachments {
			names = append(names, a.FileName)
		}
		_, err = s.audit.Append(tx, audit.Entry{
			TaskID:    *room.TaskID,
			UserID:    p.ID(),
			Action:    models.ActionFileAttached,
			Details:   map[string]any{"message_id": msg.ID, "files": names},
			IPAddress: clientIP(r),
		})
		return err
	})
	if err != nil {
		s.fail(w, r, errs.Integrity(err, "post attachment"))
		return
	}
	s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), &eff)
	writeJSON(w, http.StatusCreated, rooms.View(msg, room))
}
