// Command logdiff compares a target log run against a baseline run and
// prints the lines that look new.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/raaihank/log-sentinel/internal/config"
	"github.com/raaihank/log-sentinel/internal/content"
	"github.com/raaihank/log-sentinel/internal/logger"
	"github.com/raaihank/log-sentinel/internal/tracing"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// errAnomalies makes diff exit with status 1 when --fail-on-anomaly is set
var errAnomalies = errors.New("anomalies found")

// app carries the state shared by subcommands
type app struct {
	configPath string
	verbose    bool
	fs         afero.Fs

	cfg    *config.Config
	log    *logger.Logger
	closer tracing.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string) int {
	root := newRootCommand(&app{fs: afero.NewOsFs()})
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errAnomalies) {
			return 1
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "logdiff",
		Short: "Find new log lines in a run compared to a known good run",
		Long: `logdiff learns what a known good run (the baseline) logs and reports
the lines of another run (the target) that do not look like anything the
baseline printed, grouped in chunks with surrounding context.

Both runs can be a directory of log files, a single log file or a parquet
line dump. Rotated and compressed files are merged into one source.

Example:
  logdiff diff runs/good runs/bad
  logdiff diff --threshold 0.4 --json report.json.gz runs/good runs/bad
  logdiff train runs/good
  logdiff fingerprint runs/good`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log progress to stderr")

	root.AddCommand(newDiffCommand(a))
	root.AddCommand(newTrainCommand(a))
	root.AddCommand(newFingerprintCommand(a))
	root.AddCommand(newExportCommand(a))
	root.AddCommand(newModelsCommand(a))
	root.AddCommand(newConfigCommand(a))
	root.AddCommand(newVersionCommand())
	return root
}

// setup loads configuration, logging and tracing
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lc := cfg.LoggerConfig()
	lc.Format = "console"
	if !a.verbose {
		lc.Level = "warn"
	}
	log, err := logger.New(lc)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	closer, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.cfg, a.log, a.closer = cfg, log, closer
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.closer != nil {
		return a.closer(context.WithoutCancel(ctx))
	}
	return nil
}

func (a *app) reader() (*content.Reader, error) {
	return content.NewReader(a.fs, a.cfg.Content, a.log.WithComponent("content").Logger)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "logdiff %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
