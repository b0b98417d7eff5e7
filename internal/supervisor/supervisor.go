// Package supervisor runs the daemon under test and the debugger attached to
// it as one unit.
//
// A Supervisor moves through NotStarted, DaemonUp, DebuggerAttached and
// Instrumented as Start makes progress. Stop is valid in every state and
// always ends in Stopped; it is also what Start runs before returning any
// error, so a failed start never leaves a child behind.
package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/gdbprobe/internal/diag"
	"github.com/roach88/gdbprobe/internal/session"
)

// State is the lifecycle position of a Supervisor.
type State int

const (
	NotStarted State = iota
	DaemonUp
	DebuggerAttached
	Instrumented
	Stopped
)

var stateNames = map[State]string{
	NotStarted:       "not-started",
	DaemonUp:         "daemon-up",
	DebuggerAttached: "debugger-attached",
	Instrumented:     "instrumented",
	Stopped:          "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Startup stages reported by StartupError.
const (
	StageDaemon     = "daemon"
	StageDebugger   = "debugger"
	StageInstrument = "instrument"
)

// StartupError is returned by Start when either process does not come up.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed (%s): %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Options configures a Supervisor.
type Options struct {
	Daemon       string // daemon binary
	DaemonConfig string
	BindAddress  string
	LockFile     string
	// ScenarioDir/bin is put first on the children's PATH.
	ScenarioDir string

	Debugger    string
	Prompt      string
	Breakpoints []string
	// SelfTest is queried and checked against itself after attach.
	// Empty skips the self-test.
	SelfTest string

	StartupTimeout time.Duration
	AttachTimeout  time.Duration
	CommandTimeout time.Duration

	Tokens session.TokenGenerator
	Logger *slog.Logger

	// Env is appended to both children's environment.
	Env []string
}

// DaemonArgs is the daemon's command line after the binary.
func DaemonArgs(opts Options) []string {
	return []string{"daemon", "-D", "-c", opts.DaemonConfig, "-s", opts.BindAddress, "-l", opts.LockFile}
}

// DebuggerArgs is the debugger's command line after the binary.
func DebuggerArgs(pid int) []string {
	return []string{"-quiet", "-p", strconv.Itoa(pid), "-nx", "-nh"}
}

// Supervisor owns one daemon and one debugger at a time.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	daemon   *Process
	debugger *Process
	mirrors  []*diag.Mirror
	session  *session.Session
	siteID   string

	// live is guarded by liveMu, not mu, so Interrupt never waits on a
	// blocked Start.
	liveMu      sync.Mutex
	live        []*Process
	interrupted bool
}

// ErrInterrupted is returned by Start after Interrupt.
var ErrInterrupted = errors.New("supervisor interrupted")

// New creates a Supervisor in the NotStarted state.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{opts: opts, logger: logger}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the debug session, or nil before the debugger is attached.
func (s *Supervisor) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SiteID is the self-test value read after attach.
func (s *Supervisor) SiteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siteID
}

// Daemon returns the daemon process handle, or nil.
func (s *Supervisor) Daemon() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daemon
}

// Debugger returns the debugger process handle, or nil.
func (s *Supervisor) Debugger() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugger
}

// Start brings up the daemon, attaches the debugger and installs the
// breakpoints. Any failure stops whatever was started and is returned as a
// *StartupError.
func (s *Supervisor) Start() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted && s.state != Stopped {
		return fmt.Errorf("supervisor already started (%s)", s.state)
	}
	s.liveMu.Lock()
	interrupted := s.interrupted
	s.liveMu.Unlock()
	if interrupted {
		return &StartupError{Stage: StageDaemon, Err: ErrInterrupted}
	}
	s.state = NotStarted

	stage := StageDaemon
	defer func() {
		if err != nil {
			s.logger.Error("startup failed", "stage", stage, "error", err)
			s.stopLocked()
			err = &StartupError{Stage: stage, Err: err}
		}
	}()

	s.removeLock()
	if err := s.startDaemon(); err != nil {
		return err
	}
	s.state = DaemonUp

	stage = StageDebugger
	if err := s.attach(); err != nil {
		return err
	}
	s.state = DebuggerAttached

	stage = StageInstrument
	if err := s.instrument(); err != nil {
		return err
	}
	s.state = Instrumented
	return nil
}

func (s *Supervisor) startDaemon() error {
	cmd := exec.Command(s.opts.Daemon, DaemonArgs(s.opts)...)
	cmd.Env = s.environ()

	mirror := diag.NewMirror(s.logger, slog.LevelDebug, "daemon")
	s.mirrors = append(s.mirrors, mirror)

	s.logger.Info("starting daemon", "binary", s.opts.Daemon, "args", strings.Join(cmd.Args[1:], " "))
	p, err := startProcess("daemon", cmd, mirror)
	if err != nil {
		return err
	}
	s.daemon = p
	if err := s.track(p); err != nil {
		return err
	}

	if _, err := p.Output().ExpectLiteral(s.opts.BindAddress, s.opts.StartupTimeout); err != nil {
		return fmt.Errorf("waiting for daemon to report %s: %w", s.opts.BindAddress, err)
	}
	s.logger.Info("daemon up", "pid", p.Pid())
	return nil
}

func (s *Supervisor) attach() error {
	cmd := exec.Command(s.opts.Debugger, DebuggerArgs(s.daemon.Pid())...)
	cmd.Env = s.environ()

	mirror := diag.NewMirror(s.logger, slog.LevelDebug, "debugger")
	s.mirrors = append(s.mirrors, mirror)

	s.logger.Info("attaching debugger", "binary", s.opts.Debugger, "pid", s.daemon.Pid())
	p, err := startProcess("debugger", cmd, mirror)
	if err != nil {
		return err
	}
	s.debugger = p
	if err := s.track(p); err != nil {
		return err
	}

	if _, err := p.Output().ExpectLiteral("(gdb)", s.opts.AttachTimeout); err != nil {
		return fmt.Errorf("waiting for debugger prompt: %w", err)
	}

	s.session = session.New(p.Input(), p.Output(), session.Options{
		Prompt:  s.opts.Prompt,
		Timeout: s.opts.CommandTimeout,
		Tokens:  s.opts.Tokens,
		Logger:  s.logger,
	})
	if err := s.session.Handshake(s.opts.AttachTimeout); err != nil {
		return err
	}
	s.logger.Info("debugger attached", "pid", p.Pid())
	return nil
}

func (s *Supervisor) instrument() error {
	if s.opts.SelfTest != "" {
		id, err := s.session.Query(s.opts.SelfTest)
		if err != nil {
			return fmt.Errorf("self-test: %w", err)
		}
		if err := s.session.CheckEquals(s.opts.SelfTest, id); err != nil {
			return fmt.Errorf("self-test: %w", err)
		}
		s.siteID = id
		s.logger.Info("self-test passed", "expression", s.opts.SelfTest, "value", id)
	}

	for _, fn := range s.opts.Breakpoints {
		if err := s.session.Break(fn); err != nil {
			return fmt.Errorf("breakpoint %s: %w", fn, err)
		}
	}
	return nil
}

// track registers p for Interrupt. A process started after Interrupt is
// killed at once.
func (s *Supervisor) track(p *Process) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.interrupted {
		_ = p.Kill()
		return ErrInterrupted
	}
	s.live = append(s.live, p)
	return nil
}

// Interrupt kills the children without taking the lock, so a Start or a
// session call blocked on their output fails promptly with a closed
// stream. Stop must still be called. An interrupted Supervisor does not
// start again.
func (s *Supervisor) Interrupt() {
	s.liveMu.Lock()
	s.interrupted = true
	live := append([]*Process(nil), s.live...)
	s.liveMu.Unlock()

	s.logger.Warn("interrupted, killing processes", "count", len(live))
	for _, p := range live {
		if err := p.Kill(); err != nil {
			s.logger.Debug("interrupt", "error", err)
		}
	}
}

// Stop tears both processes down and removes the lock file. It never fails:
// problems killing a process that is already gone are logged at debug level.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.state == Stopped && s.daemon == nil && s.debugger == nil {
		return
	}
	s.removeLock()

	// Killing the debugger may take the attached daemon with it.
	if s.debugger != nil {
		if err := s.debugger.Kill(); err != nil {
			s.logger.Debug("stopping debugger", "error", err)
		}
		_ = s.debugger.close()
		s.debugger = nil
	}
	if s.daemon != nil {
		if s.daemon.Alive() {
			if err := s.daemon.Kill(); err != nil {
				s.logger.Debug("stopping daemon", "error", err)
			}
		}
		_ = s.daemon.close()
		s.daemon = nil
	}
	s.liveMu.Lock()
	s.live = nil
	s.liveMu.Unlock()
	for _, m := range s.mirrors {
		m.Flush()
	}
	s.mirrors = nil
	s.session = nil
	s.state = Stopped
	s.logger.Info("processes stopped")
}

func (s *Supervisor) removeLock() {
	if s.opts.LockFile == "" {
		return
	}
	if err := os.Remove(s.opts.LockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("removing lock file", "path", s.opts.LockFile, "error", err)
	}
}

// environ returns the children's environment: ours, with the scenario's
// bin directory first on PATH, plus Options.Env.
func (s *Supervisor) environ() []string {
	env := make([]string, 0, len(os.Environ())+len(s.opts.Env)+1)
	path := os.Getenv("PATH")
	if s.opts.ScenarioDir != "" {
		bin := filepath.Join(s.opts.ScenarioDir, "bin")
		if path == "" {
			path = bin
		} else {
			path = bin + string(os.PathListSeparator) + path
		}
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "PATH=") {
			env = append(env, kv)
		}
	}
	env = append(env, "PATH="+path)
	return append(env, s.opts.Env...)
}
