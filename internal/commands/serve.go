package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/server"
)

const statsInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket and HTTP API server",
	Long: `Serve the chat (/ws/chat/) and notification (/ws/notifications/)
websockets and the JSON API until interrupted.

Examples:
  wrokhub serve
  wrokhub serve --addr 0.0.0.0:9000
  WROKHUB_AUTH_SECRET=... wrokhub serve -c /etc/wrokhub.yaml`,
	Args: cobra.NoArgs,
	RunE: withDB(func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(cfg, db.DB, server.WithLogger(logger))
		if err := srv.Start(ctx); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					st := srv.Stats()
					logger.Debug("broker stats", "rooms", st.Rooms, "user_channels", st.UserChannels, "subscribers", st.Subscribers)
				}
			}
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}),
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
}
