package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the activity audit log",
	Args:  cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		viewer, err := actingUser()
		if err != nil {
			return err
		}
		f := audit.Filter{}
		f.TaskID, _ = cmd.Flags().GetUint("task")
		f.Action, _ = cmd.Flags().GetString("action")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		if ref, _ := cmd.Flags().GetString("user"); ref != "" {
			u, err := db.FindUser(db.DB, ref)
			if err != nil {
				return err
			}
			f.UserID = u.ID
		}
		if f.From, err = flagTime(cmd, "from"); err != nil {
			return err
		}
		if f.To, err = flagTime(cmd, "to"); err != nil {
			return err
		}

		entries, err := audit.New(clock.Real()).Query(cmd.Context(), db.DB, viewer, f)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No activity found.")
			return nil
		}
		for _, e := range entries {
			who := "-"
			if e.User != nil {
				who = e.User.Username
			}
			task := "-"
			if e.TaskID != nil {
				task = fmt.Sprintf("#%d", *e.TaskID)
			}
			details, _ := json.Marshal(e.Details)
			fmt.Printf("%s  %-6s %-16s %-20s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), task, who, e.Action, details)
		}
		return nil
	}),
}

func flagTime(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q, want RFC3339 or yyyy-mm-dd", name, v)
}

func init() {
	logsCmd.Flags().Uint("task", 0, "Only entries for this task")
	logsCmd.Flags().String("user", "", "Only entries by this user")
	logsCmd.Flags().String("action", "", "Only this action (created, status_changed, ...)")
	logsCmd.Flags().String("from", "", "Earliest timestamp")
	logsCmd.Flags().String("to", "", "Latest timestamp")
	logsCmd.Flags().Int("limit", 0, "Maximum entries")
	logsCmd.Flags().Bool("json", false, "JSON output")
}
