package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/parser"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, list and move tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [task description]",
	Short: "Add a new task",
	Long: `Add a new task, acting as --as.

Smart parsing syntax:
  @alice,bob  - Assignees (usernames, comma-separated or repeated)
  +priority   - Priority (low/normal/high/urgent or 1-4)
  due:3days   - Due date (yyyy-mm-dd, dd/mm/yyyy, X days, X hours, X weeks)

Example:
  wrokhub --as lead task add "Reconcile Q3 ledger @clerk1 +high due:5d"`,
	Args: cobra.MinimumNArgs(1),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		parsed := parser.ParseTitle(strings.Join(args, " "), time.Now().UTC())
		if len(parsed.Errors) > 0 {
			return fmt.Errorf("could not parse task: %s", strings.Join(parsed.Errors, "; "))
		}
		assignees, err := db.FindUsers(db.DB, parsed.Assignees)
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")

		res, err := newWorkflow(db.DB).CreateTask(cmd.Context(), workflow.CreateRequest{
			Title:       parsed.Title,
			Description: note,
			Priority:    parsed.Priority,
			DueDate:     parsed.DueDate,
			AssigneeIDs: ids(assignees),
			Actor:       a,
		})
		if err != nil {
			return err
		}
		t := res.Task
		fmt.Printf("✅ New task \"%s\" added - ID: %d\n", t.Title, t.ID)
		if len(t.Assignees) > 0 {
			fmt.Printf("Assigned to: %s\n", userNames(t.Assignees))
		}
		if t.DueDate != nil {
			fmt.Printf("Due: %s\n", parser.FormatDueDate(t.DueDate, time.Now().UTC()))
		}
		return nil
	}),
}

var taskListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks visible to the acting user",
	Args:    cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		u, err := actingUser()
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		priority, _ := cmd.Flags().GetString("priority")
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")
		tasks, err := newWorkflow(db.DB).ListTasks(cmd.Context(), u, db.TaskQueryOptions{
			Status:   models.Status(status),
			Priority: models.Priority(priority),
			Search:   search,
			Limit:    limit,
		})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		fmt.Printf("%-5s %-12s %-40s %-8s %-12s %s\n", "ID", "STATUS", "TITLE", "PRIORITY", "DUE", "ASSIGNEES")
		fmt.Println(strings.Repeat("-", 96))
		now := time.Now().UTC()
		for _, t := range tasks {
			title := t.Title
			if len(title) > 38 {
				title = title[:35] + "..."
			}
			due := "-"
			if t.DueDate != nil {
				due = parser.FormatDueDate(t.DueDate, now)
			}
			fmt.Printf("%-5d %-12s %-40s %-8s %-12s %s\n", t.ID, t.Status, title, t.Priority, due, userNames(t.Assignees))
		}
		return nil
	}),
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [status]",
	Short: "Move a task to another status",
	Long: `Move a task through its lifecycle:

  todo -> in_progress | cancelled
  in_progress -> review | done | cancelled
  review -> in_progress | done | cancelled

done and cancelled need --reason.`,
	Args: cobra.ExactArgs(2),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		res, err := newWorkflow(db.DB).Transition(cmd.Context(), workflow.TransitionRequest{
			TaskID: id,
			Target: models.Status(args[1]),
			Reason: reason,
			Actor:  a,
		})
		if err != nil {
			return err
		}
		fmt.Printf("🔁 Task #%d: %s -> %s\n", res.Task.ID, res.From, res.Task.Status)
		if res.Task.CompletedAt != nil {
			fmt.Printf("Completed at: %s\n", res.Task.CompletedAt.Format("15:04:05"))
		}
		return nil
	}),
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign [task-id] [user...]",
	Short: "Assign users to a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		users, err := db.FindUsers(db.DB, args[1:])
		if err != nil {
			return err
		}
		replace, _ := cmd.Flags().GetBool("replace")
		res, err := newWorkflow(db.DB).AssignTask(cmd.Context(), workflow.AssignRequest{
			TaskID:  id,
			UserIDs: ids(users),
			Replace: replace,
			Actor:   a,
		})
		if err != nil {
			return err
		}
		fmt.Printf("👥 Task #%d assignees: %s\n", res.Task.ID, userNames(res.Task.Assignees))
		return nil
	}),
}

var taskProposeCmd = &cobra.Command{
	Use:   "propose [task-id] [user...]",
	Short: "Propose users for a task; they accept or reject",
	Args:  cobra.MinimumNArgs(2),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		users, err := db.FindUsers(db.DB, args[1:])
		if err != nil {
			return err
		}
		res, err := newWorkflow(db.DB).Propose(cmd.Context(), workflow.ProposeRequest{TaskID: id, UserIDs: ids(users), Actor: a})
		if err != nil {
			return err
		}
		for _, as := range res.Assignments {
			fmt.Printf("📨 Assignment #%d for user #%d: %s\n", as.ID, as.UserID, as.Status)
		}
		return nil
	}),
}

var taskRespondCmd = &cobra.Command{
	Use:   "respond [task-id] [assignment-id] [accept|reject]",
	Short: "Answer an assignment proposal",
	Args:  cobra.ExactArgs(3),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		taskID, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		assignmentID, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		res, err := newWorkflow(db.DB).Respond(cmd.Context(), workflow.RespondRequest{
			TaskID:       taskID,
			AssignmentID: assignmentID,
			Action:       workflow.Response(args[2]),
			Reason:       reason,
			Actor:        a,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✅ Assignment #%d %s\n", res.Assignment.ID, res.Assignment.Status)
		return nil
	}),
}

func parseTaskID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid ID '%s'", s)
	}
	return uint(n), nil
}

func ids(users []models.User) []uint {
	out := make([]uint, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func userNames(users []models.User) string {
	if len(users) == 0 {
		return "-"
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return strings.Join(names, ",")
}

func init() {
	taskAddCmd.Flags().String("note", "", "Task description")
	taskListCmd.Flags().StringP("status", "s", "", "Filter by status")
	taskListCmd.Flags().StringP("priority", "p", "", "Filter by priority")
	taskListCmd.Flags().String("search", "", "Search title and description")
	taskListCmd.Flags().Int("limit", 0, "Maximum tasks to show")
	taskListCmd.Flags().Bool("json", false, "JSON output")
	taskStatusCmd.Flags().StringP("reason", "r", "", "Reason (required for done and cancelled)")
	taskAssignCmd.Flags().Bool("replace", false, "Replace the assignee set instead of adding")
	taskRespondCmd.Flags().StringP("reason", "r", "", "Optional reason")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskStatusCmd, taskAssignCmd, taskProposeCmd, taskRespondCmd)
}
