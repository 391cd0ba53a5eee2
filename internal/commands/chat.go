package commands

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/balkashynov/wrokhub/internal/auth"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [direct|task|group] [id]",
	Short: "Open an interactive chat room",
	Long: `Open a chat room on a running server, acting as --as.

The id is the other user's id for direct rooms, the task id for task
rooms and the room id for group rooms.

Example:
  wrokhub --as test_clerk chat direct 2
  wrokhub --as test_atl chat task 14 --server http://10.0.0.5:8080`,
	Args: cobra.ExactArgs(2),
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		u, err := actingUser()
		if err != nil {
			return err
		}
		typ := models.RoomType(args[0])
		if !typ.Valid() {
			return fmt.Errorf("invalid room type '%s' (use direct, task or group)", args[0])
		}
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			if err := cfg.Validate(); err != nil {
				return err
			}
			if token, err = auth.New(cfg.Auth, db.DB, clock.Real(), logger).Issue(u, 0); err != nil {
				return err
			}
		}
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = "http://" + cfg.Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return tui.RunChatTUI(ctx, tui.ChatOptions{
			Server:   server,
			Token:    token,
			Username: u.Username,
			Target:   tui.Target{RoomType: string(typ), ID: id},
		})
	}),
}

func init() {
	chatCmd.Flags().String("server", "", "Server base URL (default from config server.addr)")
	chatCmd.Flags().String("token", "", "Access token (default: issued locally with the configured secret)")
}
