package session

import (
	"errors"
	"fmt"
)

// ErrInferiorExited is returned when a resumed inferior exits instead of
// stopping at a breakpoint.
var ErrInferiorExited = errors.New("inferior exited")

// ProtocolError means the debugger answered with something other than a
// value. It indicates the side channel itself is broken, usually because
// the debugger printed an error message.
type ProtocolError struct {
	Command string
	Answer  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected debugger answer to %q: %q", e.Command, e.Answer)
}

// AssertionError is a failed expected/actual comparison. Actual is what the
// debugger reports for Expression; Result is the value of the comparison.
type AssertionError struct {
	Expression string
	Expected   string
	Actual     string
	Result     string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Expression, e.Expected, e.Actual)
}
