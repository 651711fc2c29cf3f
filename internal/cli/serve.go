package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/hobbysync/internal/app"
	"github.com/roach88/hobbysync/internal/logging"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port     int
	Database string
	SyncDir  string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP API and the sync engine.

Settings come from the config file, HOBBYSYNC_* environment variables
and the flags below, later sources winning. Flows interrupted by a
previous shutdown are resumed before the listener opens. SIGINT or
SIGTERM drains in-flight work and exits.

Examples:
  hobbysync serve
  hobbysync serve --config ./hobbysync.yaml
  hobbysync serve --port 9000 --db /var/lib/hobbysync/hobbysync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.SyncDir, "syncs", "", "directory of .cue sync rules (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.SyncDir != "" {
		cfg.Engine.SyncDir = opts.SyncDir
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: cmd.ErrOrStderr(),
	})

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.Close()

	if cfg.LLM.APIKey == "" {
		slog.Warn("no LLM API key configured; hobby suggestions and milestone generation are disabled")
	}

	if err := a.Serve(ctx, slog.Default()); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	slog.Info("server stopped")
	return nil
}
