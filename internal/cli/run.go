package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gdbprobe/internal/config"
	"github.com/roach88/gdbprobe/internal/diag"
	"github.com/roach88/gdbprobe/internal/harness"
	"github.com/roach88/gdbprobe/internal/store"
	"github.com/roach88/gdbprobe/internal/supervisor"
)

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	NoHistory bool
	Variant   string
	Filter    string
	FirstOnly bool
	Debugger  string

	// Processes overrides the supervisor (for testing).
	Processes harness.ProcessFactory
	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs store.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <daemon-binary> <scenario-dir>",
		Short: "Run the scenarios of a directory against a daemon",
		Long: `Run every NNN_*.txt scenario of a directory against the daemon.

For each scenario the daemon is started in the foreground, gdb is attached
to it, the scenario's ticket and message fields are written into the
daemon's memory and the expect fields are checked. Both processes are torn
down after every scenario.

Runs are recorded in a SQLite history database unless --no-history is set.

Example:
  gdbprobe run ./src/boothd ./test/unit-tests
  gdbprobe run --filter '01*' --variant ticket ./src/boothd ./test/unit-tests
  gdbprobe run --format json --no-history ./src/boothd ./test/unit-tests`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (default: <log-dir>/<prefix>.db)")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record the run")
	cmd.Flags().StringVar(&opts.Variant, "variant", "", "step variant (ticket|message|auto)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios matching this glob")
	cmd.Flags().BoolVar(&opts.FirstOnly, "first-only", false, "stop after the first scenario")
	cmd.Flags().StringVar(&opts.Debugger, "gdb", "", "debugger binary")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *RunOptions, daemon, dir string) error {
	if geteuid() == 0 {
		return NewExitError(ExitFailure, "refusing to run as root")
	}

	info, err := os.Stat(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to access scenario directory", err)
	}
	if !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s is not a directory", dir))
	}

	cfg, err := runConfig(opts, dir)
	if err != nil {
		return err
	}

	consoleLevel := slog.LevelWarn
	if opts.Verbose {
		consoleLevel = slog.LevelDebug
	}
	logs, err := diag.Open(diag.Options{
		Dir:          cfg.LogDir,
		Prefix:       cfg.LogPrefix,
		Console:      cmd.ErrOrStderr(),
		ConsoleLevel: consoleLevel,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open logs", err)
	}
	defer logs.Close()
	logger := logs.Logger()

	factory := opts.Processes
	if factory == nil {
		factory = supervisorFactory(cfg, daemon, dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The first signal cancels the run and kills the current scenario's
	// processes; a second one gets the default behavior.
	context.AfterFunc(ctx, stop)

	h := harness.New(harness.Options{
		Dir:          dir,
		DefaultsFile: cfg.DefaultsFile,
		Variant:      cfg.Variant,
		Filter:       opts.Filter,
		FirstOnly:    opts.FirstOnly,
		Processes:    factory,
		Logs:         logs,
	})
	result, err := h.Run(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	runID := ""
	if !opts.NoHistory {
		ids := opts.RunIDs
		if ids == nil {
			ids = store.UUIDv7Generator{}
		}
		runID = ids.Generate()
		// History is best effort; the run's outcome stands.
		if err := recordRun(ctx, cfg.ResultsDB, runID, result); err != nil {
			logger.Error("failed to record run", "db", cfg.ResultsDB, "error", err)
			runID = ""
		}
	}

	if err := writeRunResult(cmd.OutOrStdout(), opts.Format, runID, result); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", len(result.Failed()), len(result.Scenarios)))
	}
	return nil
}

// runConfig loads the config file and applies the run flags on top.
func runConfig(opts *RunOptions, dir string) (*config.Config, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, err
	}
	if opts.Variant != "" {
		cfg.Variant = opts.Variant
	}
	if opts.Debugger != "" {
		cfg.Debugger = opts.Debugger
	}
	if opts.Database != "" {
		cfg.ResultsDB = opts.Database
	}
	cfg.Resolve(dir)
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func supervisorFactory(cfg *config.Config, daemon, dir string) harness.ProcessFactory {
	return func(name string, logger *slog.Logger) harness.Processes {
		return supervisor.New(supervisor.Options{
			Daemon:         daemon,
			DaemonConfig:   cfg.DaemonConfig,
			BindAddress:    cfg.BindAddress,
			LockFile:       cfg.LockFile,
			ScenarioDir:    dir,
			Debugger:       cfg.Debugger,
			Prompt:         cfg.Prompt,
			Breakpoints:    cfg.Breakpoints,
			SelfTest:       cfg.SelfTest,
			StartupTimeout: cfg.StartupTimeout,
			AttachTimeout:  cfg.AttachTimeout,
			CommandTimeout: cfg.CommandTimeout,
			Logger:         logger,
		})
	}
}

func recordRun(ctx context.Context, path, id string, result *harness.RunResult) error {
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	// A cancelled run is still recorded.
	return s.WriteRun(context.WithoutCancel(ctx), id, result)
}

// runOutput is the JSON payload of the run command.
type runOutput struct {
	RunID string `json:"run_id,omitempty"`
	*harness.RunResult
}

func writeRunResult(w io.Writer, format, runID string, result *harness.RunResult) error {
	formatter := &OutputFormatter{Format: format, Writer: w}
	if formatter.JSON() {
		return formatter.Success(runOutput{RunID: runID, RunResult: result})
	}

	for _, s := range result.Scenarios {
		writeScenarioLine(w, s)
	}
	fmt.Fprintln(w)
	passed := len(result.Scenarios) - len(result.Failed())
	fmt.Fprintf(w, "%d/%d scenarios passed in %s\n", passed, len(result.Scenarios), result.Duration.Round(time.Millisecond))
	if runID != "" {
		fmt.Fprintf(w, "run %s\n", runID)
	}
	return nil
}

func writeScenarioLine(w io.Writer, s harness.ScenarioResult) {
	if s.Pass {
		fmt.Fprintf(w, "✓ %s (%s, %d checks)\n", s.Name, s.Variant, len(s.Checks))
		return
	}
	fmt.Fprintf(w, "✗ %s [%s]\n", s.Name, s.Kind)
	fmt.Fprintf(w, "    %s\n", s.Error)
	if s.LogPath != "" {
		fmt.Fprintf(w, "    log: %s\n", s.LogPath)
	}
}
