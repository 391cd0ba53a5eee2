package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

type seedTask struct {
	title       string
	description string
	priority    models.Priority
	path        []models.Status
	due         time.Duration
}

var seedTasks = []seedTask{
	{"Annual Financial Audit", "Complete the annual financial audit for Q4", models.PriorityHigh,
		[]models.Status{models.StatusInProgress}, 14 * 24 * time.Hour},
	{"Update Security Protocols", "Review and update company security protocols", models.PriorityUrgent,
		nil, 7 * 24 * time.Hour},
	{"Client Meeting Preparation", "Prepare materials for upcoming client meeting", models.PriorityNormal,
		[]models.Status{models.StatusInProgress, models.StatusReview}, 3 * 24 * time.Hour},
	{"Database Migration", "Migrate legacy database to new cloud infrastructure", models.PriorityHigh,
		[]models.Status{models.StatusInProgress, models.StatusDone}, -24 * time.Hour},
	{"Team Training Session", "Organize training session for new team members", models.PriorityLow,
		nil, 30 * 24 * time.Hour},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users, tasks and chat messages",
	Long: `Create one user per role (test_clerk, test_atm, test_atl,
test_supervisor) plus admin, then a handful of tasks in different
states and a short direct conversation. Existing users are reused.`,
	Args: cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		users, err := seedUsers(db.DB)
		if err != nil {
			return err
		}
		admin := users[len(users)-1]
		staff := users[:len(users)-1]

		wf := newWorkflow(db.DB)
		lead := workflow.Actor{User: admin, IP: "seed"}
		now := time.Now().UTC()
		for _, st := range seedTasks {
			due := now.Add(st.due)
			res, err := wf.CreateTask(cmd.Context(), workflow.CreateRequest{
				Title:       st.title,
				Description: st.description,
				Priority:    st.priority,
				DueDate:     &due,
				AssigneeIDs: []uint{staff[0].ID, staff[1].ID, staff[2].ID},
				Actor:       lead,
			})
			if err != nil {
				return err
			}
			for _, target := range st.path {
				req := workflow.TransitionRequest{TaskID: res.Task.ID, Target: target, Actor: lead}
				if target.Terminal() {
					req.Reason = "seeded"
				}
				if _, err := wf.Transition(cmd.Context(), req); err != nil {
					return err
				}
			}
			fmt.Printf("Created task: %s\n", st.title)
		}

		if err := seedChat(db.DB, staff[0], staff[1]); err != nil {
			return err
		}
		fmt.Println("✅ Seed complete")
		return nil
	}),
}

// seedUsers returns test users for every role followed by admin.
func seedUsers(conn *gorm.DB) ([]*models.User, error) {
	specs := make([]models.User, 0, len(models.Roles)+1)
	for _, role := range models.Roles {
		specs = append(specs, models.User{
			Username: "test_" + string(role),
			Email:    string(role) + "@wrokhub.local",
			Role:     role,
		})
	}
	specs = append(specs, models.User{Username: "admin", Email: "admin@wrokhub.local", Role: models.RoleSupervisor})

	out := make([]*models.User, 0, len(specs))
	for i := range specs {
		u, err := db.FindUser(conn, specs[i].Username)
		if err == nil {
			out = append(out, u)
			continue
		}
		if !errs.Is(err, errs.NotFound) {
			return nil, err
		}
		u = &specs[i]
		if err := db.CreateUser(conn, u); err != nil {
			return nil, err
		}
		fmt.Printf("Created user: %s (role: %s)\n", u.Username, u.Role)
		out = append(out, u)
	}
	return out, nil
}

func seedChat(conn *gorm.DB, a, b *models.User) error {
	c := clock.Real()
	poster := rooms.NewPoster(c, notify.NewCenter(c, nil, logger))
	lines := []struct {
		from    *models.User
		content string
	}{
		{a, "Hello! How are you doing?"},
		{b, "Hi! I'm good, working on the audit report."},
		{a, "Great! Let me know if you need any help."},
	}
	return conn.Transaction(func(tx *gorm.DB) error {
		room, err := rooms.Direct(tx, a.ID, b.ID)
		if err != nil {
			return err
		}
		var eff effects.Effects
		for _, l := range lines {
			if _, err := poster.Post(tx, &eff, rooms.Post{Room: room, Sender: l.from, Content: l.content}); err != nil {
				return err
			}
		}
		return nil
	})
}
