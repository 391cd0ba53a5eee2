package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/audit"
	"github.com/balkashynov/wrokhub/internal/broker"
	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/db"
	"github.com/balkashynov/wrokhub/internal/effects"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/notify"
	"github.com/balkashynov/wrokhub/internal/rooms"
	"github.com/balkashynov/wrokhub/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFile  string
	dbPath   string
	actingAs string

	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "wrokhub",
	Short: "Real-time collaboration backbone for task teams",
	Long: `wrokhub serves task chat rooms, live notifications and the task
workflow (status changes, assignment proposals, bulk edits) over
websockets and a JSON API. The task and bulk commands drive the same
workflow directly against the database.`,
	SilenceUsage:       true,
	PersistentPreRunE:  loadConfig,
	PersistentPostRunE: closeAll,
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if dbPath != "" {
		loaded.Database.Path = dbPath
	}
	cfg = loaded

	l, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logger, logCloser = l, closer
	return nil
}

func closeAll(cmd *cobra.Command, args []string) error {
	if db.DB != nil {
		_ = db.Close(db.DB)
		db.DB = nil
	}
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// initDB opens the configured database into db.DB
func initDB() error {
	if db.DB != nil {
		return nil
	}
	return db.Initialize(cfg.Database, logger)
}

// withDB wraps a command function to initialize the database first
func withDB(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := initDB(); err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

// newWorkflow builds a workflow service over conn. Pushes go to a local
// broker with no subscribers; rows and system messages are persisted and
// reach clients on their next fetch.
func newWorkflow(conn *gorm.DB) *workflow.Service {
	c := clock.Real()
	d := effects.NewDispatcher(broker.NewMemory(logger), logger)
	center := notify.NewCenter(c, d, logger)
	return workflow.New(workflow.Deps{
		DB:         conn,
		Center:     center,
		Poster:     rooms.NewPoster(c, center),
		Audit:      audit.New(c),
		Dispatcher: d,
		Clock:      c,
		OpTimeout:  cfg.Database.OpTimeout,
		Log:        logger,
	})
}

// actor resolves --as into the user the command acts for.
func actor() (workflow.Actor, error) {
	if actingAs == "" {
		return workflow.Actor{}, fmt.Errorf("--as <user> is required")
	}
	u, err := db.FindUser(db.DB, actingAs)
	if err != nil {
		return workflow.Actor{}, err
	}
	return workflow.Actor{User: u, IP: "cli"}, nil
}

func actingUser() (*models.User, error) {
	a, err := actor()
	return a.User, err
}

// SetVersion sets the version information
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "wrokhub.yaml", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&actingAs, "as", "", "username or id of the acting user")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(bulkCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}
