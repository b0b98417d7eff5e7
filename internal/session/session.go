package session

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/gdbprobe/internal/expect"
)

// UseDefault as a timeout selects the session's configured timeout.
const UseDefault time.Duration = -1

// maxForeignStops bounds how many other breakpoints ContinueTo passes over.
const maxForeignStops = 64

var (
	valuePattern      = regexp.MustCompile(`(?m)^\$\d+ = (.*\S)\s*$`)
	breakpointPattern = regexp.MustCompile(`Breakpoint \d+, (?:0x[0-9a-fA-F]+ in )?([A-Za-z_]\w*) \(`)
	exitedPattern     = regexp.MustCompile(`\[Inferior \d+ \(process \d+\) exited|The program is not being run`)
)

// DefaultPrompt returns a prompt string unlikely to occur in any output:
// it embeds the harness pid and the current time.
func DefaultPrompt() string {
	return fmt.Sprintf("GDBPROBE-PROMPT-%d-%d", os.Getpid(), time.Now().Unix())
}

// Options configures a Session.
type Options struct {
	// Prompt is installed by Handshake. Defaults to DefaultPrompt().
	Prompt string

	// Timeout applies to every wait that passes UseDefault.
	// Zero waits indefinitely.
	Timeout time.Duration

	// Tokens generates sync tokens. Defaults to RandomTokens.
	Tokens TokenGenerator

	// Logger receives commands and answers at debug level.
	Logger *slog.Logger
}

// Session is one debugger conversation.
type Session struct {
	in      io.Writer
	out     *expect.Stream
	prompt  string
	promptR *regexp.Regexp
	timeout time.Duration
	tokens  TokenGenerator
	logger  *slog.Logger

	// pending is true while a prompt is owed for a written command.
	pending bool
}

// New creates a session writing commands to in and reading the debugger's
// output from out.
func New(in io.Writer, out *expect.Stream, opts Options) *Session {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt()
	}
	if opts.Tokens == nil {
		opts.Tokens = RandomTokens{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		in:      in,
		out:     out,
		prompt:  opts.Prompt,
		promptR: regexp.MustCompile(regexp.QuoteMeta(opts.Prompt) + `\r?\n`),
		timeout: opts.Timeout,
		tokens:  opts.Tokens,
		logger:  opts.Logger,
	}
}

// Prompt returns the custom prompt this session synchronizes on.
func (s *Session) Prompt() string {
	return s.prompt
}

// Handshake makes the debugger's output deterministic (no paging, no line
// wrapping, no confirmation queries), installs the custom prompt followed by
// a newline, and synchronizes once to flush any startup banner.
func (s *Session) Handshake(timeout time.Duration) error {
	for _, cmd := range []string{
		"set pagination off",
		"set width 0",
		"set confirm off",
		"set prompt " + s.prompt + `\n`,
	} {
		if err := s.Send(cmd); err != nil {
			return err
		}
	}
	banner, err := s.Sync(timeout)
	if err != nil {
		return fmt.Errorf("debugger handshake: %w", err)
	}
	s.logger.Debug("debugger handshake complete", "banner", banner)
	return nil
}

// Send writes command to the debugger. It does not wait for an answer.
func (s *Session) Send(command string) error {
	s.logger.Debug("debugger command", "command", command)
	if _, err := io.WriteString(s.in, command+"\n"); err != nil {
		return fmt.Errorf("send %q: %w", command, err)
	}
	s.pending = true
	return nil
}

// Sync waits until the debugger has answered everything sent so far and
// returns the raw answer: the output before the first prompt. If no command
// is outstanding the answer is whatever output is already buffered, so two
// consecutive syncs on a quiet debugger return "" the second time.
func (s *Session) Sync(timeout time.Duration) (string, error) {
	timeout = s.resolve(timeout)

	var answer string
	if s.pending {
		m, err := s.out.Expect(s.promptR, timeout)
		if err != nil {
			return "", fmt.Errorf("waiting for prompt: %w", err)
		}
		answer = m.Before
		s.pending = false
	} else {
		answer = s.out.Drain()
	}

	// Prove the buffer is drained: the fresh token can only show up after
	// everything the debugger produced before it.
	token := marker(s.tokens.Generate())
	if err := s.Send("print '" + token + "'"); err != nil {
		return "", err
	}
	skipped, err := s.out.ExpectLiteral(token, timeout)
	if err != nil {
		return "", fmt.Errorf("waiting for sync token: %w", err)
	}
	if _, err := s.out.Expect(s.promptR, timeout); err != nil {
		return "", fmt.Errorf("waiting for prompt after sync token: %w", err)
	}
	s.pending = false

	if strings.TrimSpace(skipped.Before) != "" {
		s.logger.Debug("output between answer and sync token", "output", skipped.Before)
	}
	return answer, nil
}

// Exec sends command and returns its answer.
func (s *Session) Exec(command string) (string, error) {
	if err := s.Send(command); err != nil {
		return "", err
	}
	answer, err := s.Sync(UseDefault)
	if err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}
	s.logger.Debug("debugger answer", "command", command, "answer", answer)
	return answer, nil
}

// Query prints expression and returns its value as text. An answer that is
// not of the form "$<n> = <value>" is a *ProtocolError.
func (s *Session) Query(expression string) (string, error) {
	command := "print " + expression
	answer, err := s.Exec(command)
	if err != nil {
		return "", err
	}
	m := valuePattern.FindStringSubmatch(answer)
	if m == nil {
		return "", &ProtocolError{Command: command, Answer: answer}
	}
	s.logger.Debug("query", "expression", expression, "value", m[1])
	return m[1], nil
}

// CheckEquals asserts that (expression) == (expected) evaluates to 1 in the
// debugger. On mismatch it returns an *AssertionError carrying what the
// debugger reports for expression.
func (s *Session) CheckEquals(expression, expected string) error {
	result, err := s.Query("(" + expression + ") == (" + expected + ")")
	if err != nil {
		return err
	}
	s.logger.Debug("check", "expression", expression, "expected", expected, "result", result)
	if result == "1" {
		return nil
	}

	actual, err := s.Query(expression)
	if err != nil {
		actual = fmt.Sprintf("<unavailable: %v>", err)
	}
	return &AssertionError{
		Expression: expression,
		Expected:   expected,
		Actual:     actual,
		Result:     result,
	}
}

// Break sets a breakpoint on function.
func (s *Session) Break(function string) error {
	answer, err := s.Exec("break " + function)
	if err != nil {
		return err
	}
	if !strings.Contains(answer, "Breakpoint") {
		return &ProtocolError{Command: "break " + function, Answer: answer}
	}
	return nil
}

// Continue resumes the inferior and waits until it stops at a breakpoint,
// returning the function it stopped in.
func (s *Session) Continue(timeout time.Duration) (string, error) {
	if err := s.Send("continue"); err != nil {
		return "", err
	}
	answer, err := s.Sync(timeout)
	if err != nil {
		return "", fmt.Errorf("continue: %w", err)
	}
	if m := breakpointPattern.FindStringSubmatch(answer); m != nil {
		s.logger.Debug("stopped at breakpoint", "function", m[1])
		return m[1], nil
	}
	if exitedPattern.MatchString(answer) {
		return "", fmt.Errorf("continue: %w: %s", ErrInferiorExited, strings.TrimSpace(answer))
	}
	return "", &ProtocolError{Command: "continue", Answer: answer}
}

// ContinueTo resumes the inferior until it stops in function, passing over
// other breakpoints.
func (s *Session) ContinueTo(function string, timeout time.Duration) error {
	for i := 0; i < maxForeignStops; i++ {
		stopped, err := s.Continue(timeout)
		if err != nil {
			return err
		}
		if stopped == function {
			return nil
		}
		s.logger.Debug("passing breakpoint", "function", stopped, "want", function)
	}
	return fmt.Errorf("continue to %s: stopped %d times elsewhere", function, maxForeignStops)
}

func (s *Session) resolve(timeout time.Duration) time.Duration {
	if timeout == UseDefault {
		return s.timeout
	}
	return timeout
}
