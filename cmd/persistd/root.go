package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/wilhg/persist/pkg/config"
	"github.com/wilhg/persist/pkg/otel"
)

var validFormats = []string{"text", "json"}

// rootOptions holds the resolved configuration shared by every subcommand.
// Flags override the PERSIST_* environment.
type rootOptions struct {
	cfg      config.Config
	logger   *slog.Logger
	format   string
	shutdown func(context.Context) error

	databaseURL  string
	writerID     string
	lock         string
	replayFilter string
	snapEvery    int64
	logLevel     string
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "persistd",
		Short:         "persistd - persistent entities over SQL",
		Long:          "Run, migrate and drive event-sourced and durable-state entities.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			return opts.resolve(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.databaseURL, "database-url", "", "database URL (overrides PERSIST_DATABASE_URL)")
	pf.StringVar(&opts.writerID, "writer-id", "", "writer id stamped on written events")
	pf.StringVar(&opts.lock, "lock", "", "lock backend (none|local|postgres|redis)")
	pf.StringVar(&opts.replayFilter, "replay-filter", "", "replay filter (off|fail|warn|repair-by-discard-old)")
	pf.Int64Var(&opts.snapEvery, "snapshot-every", 0, "snapshot every N events, 0 disables")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newAccountCommand(opts))

	return cmd
}

// resolve loads the environment, applies changed flags, then sets up the
// logger and tracer provider.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("database-url") {
		cfg.DatabaseURL = o.databaseURL
	}
	if flags.Changed("writer-id") {
		cfg.WriterID = o.writerID
	}
	if flags.Changed("lock") {
		cfg.LockBackend = o.lock
	}
	if flags.Changed("replay-filter") {
		cfg.ReplayFilter = o.replayFilter
	}
	if flags.Changed("snapshot-every") {
		cfg.SnapshotEvery = o.snapEvery
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = cfg.Logger(cmd.ErrOrStderr())

	shutdown, err := otel.Init(cmd.Context(), otel.Config{
		ServiceVersion: version,
		UseStdout:      cfg.TraceStdout,
		Writer:         cmd.ErrOrStderr(),
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	o.shutdown = shutdown
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "persistd %s (commit=%s, date=%s)\n", version, commit, date)
			return nil
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the journal, snapshot and state tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			opts.logger.Info("schema migrated", slog.String("dialect", st.Dialect()))
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}
