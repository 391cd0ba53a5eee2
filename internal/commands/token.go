package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
)

var tokenCmd = &cobra.Command{
	Use:   "token [user-id|username]",
	Short: "Issue an access token for a user",
	Long: `Sign an access token with the configured auth secret. Clients pass
it as "Authorization: Bearer <token>", the access cookie, the ?token=
query parameter or a websocket subprotocol.`,
	Args: cobra.ExactArgs(1),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		u, err := db.FindUser(db.DB, args[0])
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := auth.New(cfg.Auth, db.DB, clock.Real(), logger).Issue(u, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}),
}

func init() {
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default from config)")
}
