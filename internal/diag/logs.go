// Package diag owns the harness's log sinks: one aggregate sequence log per
// run, one log per scenario, and a console mirror of warnings and errors.
package diag

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultPrefix names log files when no prefix is configured.
const DefaultPrefix = "gdbprobe"

// ScenarioHeader is the first line of every per-scenario log.
const ScenarioHeader = "## vim: set ft=messages : ##"

// Logs is the set of sinks for one run.
type Logs struct {
	dir     string
	prefix  string
	seq     *os.File
	seqH    slog.Handler
	console slog.Handler
	logger  *slog.Logger
}

// Options configures Open.
type Options struct {
	Dir          string     // defaults to os.TempDir()
	Prefix       string     // defaults to DefaultPrefix
	Console      io.Writer  // nil disables the console mirror
	ConsoleLevel slog.Level // records below are not mirrored
}

// Open creates (truncating) the aggregate log <dir>/<prefix>.seq.
func Open(opts Options) (*Logs, error) {
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(opts.Dir, opts.Prefix+".seq")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequence log: %w", err)
	}

	l := &Logs{
		dir:    opts.Dir,
		prefix: opts.Prefix,
		seq:    f,
		seqH:   NewLineHandler(f, slog.LevelInfo),
	}
	handlers := Fanout{l.seqH}
	if opts.Console != nil {
		l.console = NewConsoleHandler(opts.Console, opts.ConsoleLevel)
		handlers = append(handlers, l.console)
	}
	l.logger = slog.New(handlers)
	return l, nil
}

// Logger returns the run-level logger (sequence log plus console).
func (l *Logs) Logger() *slog.Logger {
	return l.logger
}

// SeqPath returns the aggregate log path.
func (l *Logs) SeqPath() string {
	return l.seq.Name()
}

// Path returns the log file path used for the named scenario.
func (l *Logs) Path(scenario string) string {
	return filepath.Join(l.dir, l.prefix+"."+scenario)
}

// Close closes the aggregate log.
func (l *Logs) Close() error {
	return l.seq.Close()
}

// ScenarioLog is the log of one scenario. Its logger writes to the scenario
// file at DEBUG and to the run sinks at their own thresholds.
type ScenarioLog struct {
	file   *os.File
	logger *slog.Logger
}

// Scenario opens a fresh log for the named scenario and writes the header.
func (l *Logs) Scenario(name string) (*ScenarioLog, error) {
	f, err := os.Create(l.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario log: %w", err)
	}
	if _, err := fmt.Fprintln(f, ScenarioHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write scenario log header: %w", err)
	}

	handlers := Fanout{NewLineHandler(f, slog.LevelDebug), l.seqH}
	if l.console != nil {
		handlers = append(handlers, l.console)
	}
	return &ScenarioLog{
		file:   f,
		logger: slog.New(handlers).With("scenario", name),
	}, nil
}

func (s *ScenarioLog) Logger() *slog.Logger {
	return s.logger
}

func (s *ScenarioLog) Path() string {
	return s.file.Name()
}

// Close closes the scenario file. Closing twice is harmless.
func (s *ScenarioLog) Close() error {
	err := s.file.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
