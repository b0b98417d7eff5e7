package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/gdbprobe/internal/access"
	"github.com/roach88/gdbprobe/internal/diag"
	"github.com/roach88/gdbprobe/internal/scenario"
	"github.com/roach88/gdbprobe/internal/session"
)

// Processes is the daemon/debugger pair of one scenario.
// *supervisor.Supervisor implements it.
type Processes interface {
	Start() error
	Stop()
	// Interrupt kills the processes from another goroutine so a blocked
	// Start or step returns. Stop still follows.
	Interrupt()
	Session() *session.Session
	SiteID() string
}

// ProcessFactory creates the processes for the named scenario. The logger
// writes to that scenario's log.
type ProcessFactory func(name string, logger *slog.Logger) Processes

// Options configures a Harness.
type Options struct {
	// Dir holds the scenario files and the defaults file.
	Dir string
	// DefaultsFile is the defaults basename. Defaults to scenario.DefaultsFile.
	DefaultsFile string
	// Variant is ticket, message or auto (the default).
	Variant string
	// Filter is a glob on scenario basenames. Empty runs all.
	Filter string
	// FirstOnly stops after the first discovered scenario.
	FirstOnly bool

	Processes ProcessFactory
	Logs      *diag.Logs
}

// Harness runs the scenarios of one directory.
type Harness struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Harness.
func New(opts Options) *Harness {
	if opts.DefaultsFile == "" {
		opts.DefaultsFile = scenario.DefaultsFile
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Logs != nil {
		logger = opts.Logs.Logger()
	}
	return &Harness{opts: opts, logger: logger}
}

// Scenarios returns the scenario basenames a Run would execute, in order.
func (h *Harness) Scenarios() ([]string, error) {
	names, err := Discover(h.opts.Dir, h.opts.DefaultsFile)
	if err != nil {
		return nil, err
	}
	names, err = Filter(names, h.opts.Filter)
	if err != nil {
		return nil, err
	}
	if h.opts.FirstOnly && len(names) > 1 {
		names = names[:1]
	}
	return names, nil
}

// Defaults loads the defaults record of the scenario directory.
func (h *Harness) Defaults() (*scenario.Record, error) {
	return scenario.LoadDefaultsFile(filepath.Join(h.opts.Dir, h.opts.DefaultsFile))
}

// Run executes every scenario in order. Scenario failures are recorded in
// the result; the returned error is for problems that prevent running at
// all. Cancelling ctx stops before the next scenario.
func (h *Harness) Run(ctx context.Context) (*RunResult, error) {
	if h.opts.Logs == nil {
		return nil, errors.New("harness: Run needs Logs")
	}
	names, err := h.Scenarios()
	if err != nil {
		return nil, err
	}
	defaults, err := h.Defaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	result := NewRunResult(h.opts.Dir)
	h.logger.Info("starting run", "dir", h.opts.Dir, "scenarios", len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			h.logger.Warn("run interrupted", "remaining", len(names)-len(result.Scenarios))
			break
		}
		result.Add(h.runScenario(ctx, name, defaults))
	}
	result.Duration = time.Since(result.Started)

	h.logger.Info("run finished",
		"pass", result.Pass,
		"scenarios", len(result.Scenarios),
		"failed", len(result.Failed()),
	)
	return result, nil
}

// runScenario never returns early without stopping the processes and
// closing the scenario log.
func (h *Harness) runScenario(ctx context.Context, name string, defaults *scenario.Record) ScenarioResult {
	start := time.Now()
	res := NewScenarioResult(name)

	sl, err := h.opts.Logs.Scenario(name)
	if err != nil {
		res.Fail(err)
		h.logger.Error("scenario failed", "scenario", name, "error", err)
		return *res
	}
	defer sl.Close()
	res.LogPath = sl.Path()
	logger := sl.Logger()

	logger.Warn("running scenario")
	procs := h.opts.Processes(name, logger)
	err = func() error {
		defer procs.Stop()
		// Cancellation kills the children; whatever waits on them fails.
		stop := context.AfterFunc(ctx, procs.Interrupt)
		defer stop()
		return h.execute(procs, filepath.Join(h.opts.Dir, name), defaults, logger, res)
	}()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("interrupted: %w", err)
	}

	res.Duration = time.Since(start)
	if err != nil {
		res.Fail(err)
		logger.Error("scenario failed", "kind", res.Kind, "error", err)
	} else {
		logger.Info("scenario passed", "checks", len(res.Checks), "duration", res.Duration)
	}
	return *res
}

func (h *Harness) execute(procs Processes, path string, defaults *scenario.Record, logger *slog.Logger, res *ScenarioResult) error {
	if err := procs.Start(); err != nil {
		return err
	}
	res.SiteID = procs.SiteID()

	rec, err := scenario.LoadScenario(path, defaults)
	if err != nil {
		return err
	}
	step, err := StepFor(h.opts.Variant, rec)
	if err != nil {
		return err
	}
	res.Variant = step.Name()

	sess := procs.Session()
	acc := access.New(sess, logger)
	if err := acc.Apply(accessFields(rec.Section(scenario.SectionTicket)), access.ContextTicket, ""); err != nil {
		return err
	}
	logger.Info("ticket state applied", "fields", rec.Section(scenario.SectionTicket).Len())

	return step.Run(&StepContext{
		Record:   rec,
		Session:  sess,
		Accessor: acc,
		Logger:   logger,
		Result:   res,
	})
}
