package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		// db.Open migrates as well; this is a no-op after the first run.
		if err := db.Migrate(db.DB); err != nil {
			return err
		}
		fmt.Printf("✅ Schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wrokhub %s (commit %s, built %s)\n", version, commit, date)
	},
}
