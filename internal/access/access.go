// Package access reads and injects named internal values of the daemon
// through a debugger session.
//
// Scenario files use shorthand field names ("state", "owner"). Translate
// turns them into fully qualified debugger expressions for one of a closed
// set of contexts; SetValue picks an encoding from the textual form of the
// value. All values stay text: comparisons happen in the debugger.
package access

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/gdbprobe/internal/session"
)

// Context selects where a shorthand name lives inside the daemon.
type Context int

const (
	// ContextTicket is the first ticket of the daemon's configuration.
	ContextTicket Context = iota
	// ContextMessage is the inbound message being processed.
	ContextMessage
)

var contextNames = map[Context]string{
	ContextTicket:  "ticket",
	ContextMessage: "message",
}

// locationPrefixes is the fixed translation table.
var locationPrefixes = map[Context]string{
	ContextTicket:  "booth_conf->ticket[0].",
	ContextMessage: "msg->",
}

func (c Context) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Context(%d)", int(c))
}

// ParseContext maps a section name to its Context.
func ParseContext(name string) (Context, error) {
	for c, n := range contextNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown context %q", name)
}

// Translate returns the debugger expression for a shorthand name.
// It panics for a Context outside the defined set: there is no fallback.
func Translate(name string, c Context) string {
	prefix, ok := locationPrefixes[c]
	if !ok {
		panic(fmt.Sprintf("access: no translation for %v", c))
	}
	return prefix + name
}

// Conversion names an in-process function wrapped around a value before
// assignment, e.g. "htonl" for network byte order. Empty means none.
type Conversion string

// NetworkOrder converts 32-bit values to network byte order.
const NetworkOrder Conversion = "htonl"

// Debugger is the part of a debug session the accessor needs.
type Debugger interface {
	Exec(command string) (string, error)
	Query(expression string) (string, error)
}

// Accessor sets and gets values at debugger locations.
type Accessor struct {
	debugger Debugger
	logger   *slog.Logger
}

// New creates an Accessor.
func New(debugger Debugger, logger *slog.Logger) *Accessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{debugger: debugger, logger: logger}
}

// Command returns the debugger command SetValue issues:
//
//   - a quoted string literal is copied into the (fixed-size character
//     buffer) location with strcpy, since it cannot be assigned;
//   - with a conversion, the value is wrapped in a call to it;
//   - anything else is a plain scalar assignment.
func Command(location, value string, conv Conversion) string {
	switch {
	case strings.HasPrefix(value, `"`):
		return "print strcpy(" + location + ", " + value + ")"
	case conv != "":
		return "set variable " + location + " = " + string(conv) + "(" + value + ")"
	default:
		return "set variable " + location + " = " + value
	}
}

// SetValue injects value at location. A string copy must produce a value
// and an assignment must produce no output; anything else is a
// *session.ProtocolError.
func (a *Accessor) SetValue(location, value string, conv Conversion) error {
	a.logger.Debug("setting value", "location", location, "value", value, "conversion", string(conv))

	command := Command(location, value, conv)
	if expression, ok := strings.CutPrefix(command, "print "); ok {
		if _, err := a.debugger.Query(expression); err != nil {
			return fmt.Errorf("set %s: %w", location, err)
		}
		return nil
	}

	answer, err := a.debugger.Exec(command)
	if err != nil {
		return fmt.Errorf("set %s: %w", location, err)
	}
	if strings.TrimSpace(answer) != "" {
		return fmt.Errorf("set %s: %w", location, &session.ProtocolError{Command: command, Answer: answer})
	}
	return nil
}

// GetValue returns the debugger's textual rendering of location.
func (a *Accessor) GetValue(location string) (string, error) {
	value, err := a.debugger.Query(location)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", location, err)
	}
	return value, nil
}

// Field is one shorthand name and its raw value.
type Field struct {
	Name  string
	Value string
}

// Apply translates and sets every field in order.
func (a *Accessor) Apply(fields []Field, c Context, conv Conversion) error {
	for _, f := range fields {
		if err := a.SetValue(Translate(f.Name, c), f.Value, conv); err != nil {
			return err
		}
	}
	return nil
}
