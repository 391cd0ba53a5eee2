// Package workflow implements the task mutations: status transitions,
// assignment proposals and bulk edits. Every mutation runs in one
// transaction together with its audit entries, notification rows and
// system chat messages; live broadcasts and pushes are dispatched only
// after the commit.
package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/access"
	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
)

// Actor is the user performing a mutation.
type Actor struct {
	User *models.User
	// IP is recorded on audit entries when known.
	IP string
}

// Deps are the collaborators of a Service.
type Deps struct {
	DB         *gorm.DB
	Center     *notify.Center
	Poster     *rooms.Poster
	Audit      *audit.Log
	Dispatcher *effects.Dispatcher
	Clock      clock.Clock
	// OpTimeout bounds each mutation's transaction.
	OpTimeout time.Duration
	Log       *slog.Logger
}

// Service runs task workflows.
type Service struct {
	db         *gorm.DB
	center     *notify.Center
	poster     *rooms.Poster
	audit      *audit.Log
	dispatcher *effects.Dispatcher
	clock      clock.Clock
	opTimeout  time.Duration
	log        *slog.Logger
}

// New returns a Service wired from d.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.OpTimeout <= 0 {
		d.OpTimeout = 5 * time.Second
	}
	if d.Audit == nil {
		d.Audit = audit.New(d.Clock)
	}
	return &Service{
		db:         d.DB,
		center:     d.Center,
		poster:     d.Poster,
		audit:      d.Audit,
		dispatcher: d.Dispatcher,
		clock:      d.Clock,
		opTimeout:  d.OpTimeout,
		log:        logging.OrDiscard(d.Log).With("component", "workflow"),
	}
}

// run executes fn in a transaction and dispatches its effects once the
// transaction has committed. On error nothing is dispatched.
func (s *Service) run(ctx context.Context, op string, fn func(tx *gorm.DB, eff *effects.Effects) error) (*effects.Effects, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	eff := &effects.Effects{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, eff)
	})
	if err != nil {
		err = errs.Integrity(err, op)
		if errs.Is(err, errs.IntegrityFailure) {
			s.log.ErrorContext(ctx, op+" rolled back", "error", err)
		} else {
			s.log.DebugContext(ctx, op+" rejected", "error", err)
		}
		return nil, err
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), eff)
	s.log.InfoContext(ctx, op, "effects", eff.Len())
	return eff, nil
}

// lockOne locks a single task visible to actor.
func lockOne(tx *gorm.DB, actor *models.User, taskID uint) (*models.Task, error) {
	tasks, err := db.LockTasks(tx, []uint{taskID})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 || !access.CanViewTask(actor, &tasks[0]) {
		return nil, errs.New(errs.NotFound, "task #%d not found", taskID)
	}
	return &tasks[0], nil
}

// notifyUsers records one notification per user id.
func (s *Service) notifyUsers(tx *gorm.DB, eff *effects.Effects, userIDs []uint, typ models.NotificationType, title, message string, data map[string]any) error {
	for _, id := range db.SortedUniqueIDs(userIDs) {
		if _, err := s.center.Record(tx, eff, notify.Notice{
			UserID:  id,
			Type:    typ,
			Title:   title,
			Message: message,
			Data:    data,
		}); err != nil {
			return err
		}
	}
	return nil
}

// systemMessage posts text into task's room on behalf of actor.
func (s *Service) systemMessage(tx *gorm.DB, eff *effects.Effects, task *models.Task, actor *models.User, text string) error {
	room, err := rooms.ForTask(tx, task)
	if err != nil {
		return err
	}
	_, err = s.poster.Post(tx, eff, rooms.Post{Room: room, Sender: actor, Content: text})
	return err
}

func usernames(users []models.User) string {
	if len(users) == 0 {
		return "nobody"
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return strings.Join(names, ", ")
}

func userIDs(users []models.User) []uint {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
