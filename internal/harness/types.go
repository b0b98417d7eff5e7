package harness

import (
	"errors"
	"time"

	"github.com/roach88/gdbprobe/internal/expect"
	"github.com/roach88/gdbprobe/internal/session"
	"github.com/roach88/gdbprobe/internal/supervisor"
)

// Failure kinds recorded in ScenarioResult.Kind.
const (
	KindStartup   = "startup"
	KindProtocol  = "protocol"
	KindAssertion = "assertion"
	KindTimeout   = "timeout"
	KindExited    = "exited"
	KindError     = "error"
)

// Check is one evaluated expectation.
type Check struct {
	Expression string `json:"expression"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual,omitempty"`
	Pass       bool   `json:"pass"`
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Variant  string        `json:"variant,omitempty"`
	Pass     bool          `json:"pass"`
	SiteID   string        `json:"site_id,omitempty"`
	Checks   []Check       `json:"checks"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	LogPath  string        `json:"log_path,omitempty"`
	Duration time.Duration `json:"duration"`

	// Err is the failure itself, for errors.Is/As by callers.
	Err error `json:"-"`
}

// NewScenarioResult creates a passing result.
func NewScenarioResult(name string) *ScenarioResult {
	return &ScenarioResult{Name: name, Pass: true, Checks: []Check{}}
}

// Fail marks the result failed with err.
func (r *ScenarioResult) Fail(err error) {
	r.Pass = false
	r.Err = err
	r.Error = err.Error()
	r.Kind = Classify(err)
}

// AddCheck records an evaluated expectation.
func (r *ScenarioResult) AddCheck(c Check) {
	r.Checks = append(r.Checks, c)
}

// Classify names the failure category of err.
func Classify(err error) string {
	var (
		startupErr   *supervisor.StartupError
		assertionErr *session.AssertionError
		protocolErr  *session.ProtocolError
	)
	switch {
	case errors.As(err, &startupErr):
		return KindStartup
	case errors.As(err, &assertionErr):
		return KindAssertion
	case errors.As(err, &protocolErr):
		return KindProtocol
	case errors.Is(err, expect.ErrTimeout):
		return KindTimeout
	case errors.Is(err, session.ErrInferiorExited):
		return KindExited
	default:
		return KindError
	}
}

// RunResult aggregates the scenarios of one run.
type RunResult struct {
	Pass      bool             `json:"pass"`
	Dir       string           `json:"dir"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// NewRunResult creates an empty, passing run.
func NewRunResult(dir string) *RunResult {
	return &RunResult{Pass: true, Dir: dir, Started: time.Now(), Scenarios: []ScenarioResult{}}
}

// Add appends a scenario outcome.
func (r *RunResult) Add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	if !s.Pass {
		r.Pass = false
	}
}

// Failed returns the failed scenarios.
func (r *RunResult) Failed() []ScenarioResult {
	var failed []ScenarioResult
	for _, s := range r.Scenarios {
		if !s.Pass {
			failed = append(failed, s)
		}
	}
	return failed
}
