package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Update, assign or delete many tasks at once",
	Long: `Bulk commands apply to every listed task the acting user may touch
and skip the rest. All rows change together or not at all.`,
}

var bulkUpdateCmd = &cobra.Command{
	Use:   "update [task-id...]",
	Short: "Patch fields on many tasks",
	Long: `Patch title, description, priority or due_date on many tasks.

Example:
  wrokhub --as lead bulk update 3 4 7 --set priority=urgent --set due_date=2days
  wrokhub --as lead bulk update 3 --set due_date=`,
	Args: cobra.MinimumNArgs(1),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		taskIDs, err := parseTaskIDs(args)
		if err != nil {
			return err
		}
		sets, _ := cmd.Flags().GetStringArray("set")
		patch, err := parseSets(sets)
		if err != nil {
			return err
		}
		res, err := newWorkflow(db.DB).BulkUpdate(cmd.Context(), workflow.BulkUpdateRequest{IDs: taskIDs, Patch: patch, Actor: a})
		if err != nil {
			return err
		}
		printBulk("updated", res)
		return nil
	}),
}

var bulkAssignCmd = &cobra.Command{
	Use:   "assign [task-id...] --to user[,user]",
	Short: "Assign users to many tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		taskIDs, err := parseTaskIDs(args)
		if err != nil {
			return err
		}
		to, _ := cmd.Flags().GetStringSlice("to")
		users, err := db.FindUsers(db.DB, to)
		if err != nil {
			return err
		}
		replace, _ := cmd.Flags().GetBool("replace")
		res, err := newWorkflow(db.DB).BulkAssign(cmd.Context(), workflow.BulkAssignRequest{
			IDs:     taskIDs,
			UserIDs: ids(users),
			Replace: replace,
			Actor:   a,
		})
		if err != nil {
			return err
		}
		printBulk("assigned", res)
		return nil
	}),
}

var bulkDeleteCmd = &cobra.Command{
	Use:   "delete [task-id...]",
	Short: "Delete many tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		a, err := actor()
		if err != nil {
			return err
		}
		taskIDs, err := parseTaskIDs(args)
		if err != nil {
			return err
		}
		res, err := newWorkflow(db.DB).BulkDelete(cmd.Context(), workflow.BulkDeleteRequest{IDs: taskIDs, Actor: a})
		if err != nil {
			return err
		}
		printBulk("deleted", res)
		return nil
	}),
}

func parseTaskIDs(args []string) ([]uint, error) {
	out := make([]uint, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part == "" {
				continue
			}
			id, err := parseTaskID(part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// parseSets turns key=value pairs into a patch. An empty value clears
// due_date.
func parseSets(sets []string) (map[string]any, error) {
	patch := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		if key == "due_date" && value == "" {
			patch[key] = nil
			continue
		}
		patch[key] = value
	}
	return patch, nil
}

func printBulk(verb string, res *workflow.BulkResult) {
	fmt.Printf("✅ %s %d task(s)", verb, len(res.Affected))
	if len(res.Affected) > 0 {
		fmt.Printf(": %s", joinIDs(res.Affected))
	}
	fmt.Println()
	if len(res.Skipped) > 0 {
		fmt.Printf("Skipped: %s\n", joinIDs(res.Skipped))
	}
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " ")
}

func init() {
	bulkUpdateCmd.Flags().StringArray("set", nil, "Field to patch as key=value (repeatable)")
	bulkAssignCmd.Flags().StringSlice("to", nil, "Users to assign (comma-separated)")
	bulkAssignCmd.Flags().Bool("replace", false, "Replace assignee sets instead of adding")
	_ = bulkAssignCmd.MarkFlagRequired("to")
	_ = bulkUpdateCmd.MarkFlagRequired("set")

	bulkCmd.AddCommand(bulkUpdateCmd, bulkAssignCmd, bulkDeleteCmd)
}
