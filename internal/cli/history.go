package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gdbprobe/internal/harness"
	"github.com/roach88/gdbprobe/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Scenario string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show the runs recorded in the history database, newest first.

With a run id, show the scenarios of that run and their checks. With
--scenario, show how one scenario fared across runs.

Example:
  gdbprobe history --limit 5
  gdbprobe history --scenario 002_expiry.txt
  gdbprobe history 0192f0c4-7a51-7cc4-9d7e-2f3a58a0b1c2`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.Scenario != "" {
					return NewExitError(ExitCommandError, "--scenario cannot be combined with a run id")
				}
				return showRun(cmd, opts, args[0])
			}
			if opts.Scenario != "" {
				return scenarioHistory(cmd, opts)
			}
			return listRuns(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite history database (default: <log-dir>/<prefix>.db)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "show the history of one scenario")

	return cmd
}

// openHistory opens an existing history database. A missing database is
// reported rather than created.
func openHistory(opts *HistoryOptions) (*store.Store, error) {
	path := opts.Database
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return nil, err
		}
		cfg.Resolve("")
		path = cfg.ResultsDB
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "no run history", err)
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	return s, nil
}

func listRuns(cmd *cobra.Command, opts *HistoryOptions) error {
	s, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(context.Background(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(runs)
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		writeRunSummary(w, r)
	}
	return nil
}

func showRun(cmd *cobra.Command, opts *HistoryOptions, id string) error {
	s, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, scenarios, err := s.ReadRun(context.Background(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("unknown run %s", id), err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(map[string]interface{}{
			"run":       summary,
			"scenarios": scenarios,
		})
	}
	w := cmd.OutOrStdout()
	writeRunSummary(w, summary)
	fmt.Fprintln(w)
	for _, sc := range scenarios {
		writeScenarioLine(w, sc)
		writeChecks(w, sc.Checks)
	}
	return nil
}

func scenarioHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	s, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	name := filepath.Base(opts.Scenario)
	history, err := s.ScenarioHistory(context.Background(), name, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read scenario history", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(map[string]interface{}{
			"scenario": name,
			"runs":     history,
		})
	}
	w := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintf(w, "no runs of %s recorded\n", name)
		return nil
	}
	for _, h := range history {
		mark := "✓"
		detail := fmt.Sprintf("%d checks", len(h.Checks))
		if !h.Pass {
			mark = "✗"
			detail = fmt.Sprintf("[%s] %s", h.Kind, h.Error)
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n", mark, h.RunID, h.Started.Local().Format(time.DateTime), detail)
	}
	return nil
}

func writeRunSummary(w io.Writer, r store.RunSummary) {
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s  %s  %d/%d passed  %s  %s\n",
		mark,
		r.ID,
		r.Started.Local().Format(time.DateTime),
		r.Scenarios-r.Failed,
		r.Scenarios,
		r.Duration.Round(time.Millisecond),
		r.Dir,
	)
}

func writeChecks(w io.Writer, checks []harness.Check) {
	for _, c := range checks {
		if c.Pass {
			fmt.Fprintf(w, "    ✓ %s == %s\n", c.Expression, c.Expected)
			continue
		}
		fmt.Fprintf(w, "    ✗ %s == %s (got %s)\n", c.Expression, c.Expected, c.Actual)
	}
}
