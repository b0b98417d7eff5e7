package harness

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gdbprobe/internal/access"
	"github.com/roach88/gdbprobe/internal/config"
	"github.com/roach88/gdbprobe/internal/scenario"
	"github.com/roach88/gdbprobe/internal/session"
)

// ReceiveBreakpoint is where the message variant injects its message.
const ReceiveBreakpoint = "process_recv"

// StepContext is what a step works with.
type StepContext struct {
	Record   *scenario.Record
	Session  *session.Session
	Accessor *access.Accessor
	Logger   *slog.Logger
	Result   *ScenarioResult
}

// Step is the scenario-specific part of a run, after the ticket section
// has been applied.
type Step interface {
	Name() string
	Run(sc *StepContext) error
}

// TicketStep checks the expect section against the daemon's state.
type TicketStep struct{}

func (TicketStep) Name() string { return config.VariantTicket }

func (TicketStep) Run(sc *StepContext) error {
	return CheckExpectations(sc)
}

// MessageStep waits for the daemon to receive a message, overwrites it
// with the message section in network byte order, then checks the expect
// section.
type MessageStep struct {
	Breakpoint string
}

func (MessageStep) Name() string { return config.VariantMessage }

func (m MessageStep) Run(sc *StepContext) error {
	bp := m.Breakpoint
	if bp == "" {
		bp = ReceiveBreakpoint
	}
	if err := sc.Session.ContinueTo(bp, session.UseDefault); err != nil {
		return err
	}
	sc.Logger.Info("daemon stopped for message injection", "breakpoint", bp)

	fields := accessFields(sc.Record.Section(scenario.SectionMessage))
	if err := sc.Accessor.Apply(fields, access.ContextMessage, access.NetworkOrder); err != nil {
		return err
	}
	return CheckExpectations(sc)
}

// StepFor returns the step for a variant. Auto chooses by whether rec has
// message fields.
func StepFor(variant string, rec *scenario.Record) (Step, error) {
	switch variant {
	case config.VariantTicket:
		return TicketStep{}, nil
	case config.VariantMessage:
		return MessageStep{}, nil
	case config.VariantAuto, "":
		if rec.Section(scenario.SectionMessage).Len() > 0 {
			return MessageStep{}, nil
		}
		return TicketStep{}, nil
	default:
		return nil, fmt.Errorf("unknown variant %q", variant)
	}
}

// CheckExpectations evaluates the expect section in order and stops at
// the first failure.
func CheckExpectations(sc *StepContext) error {
	for _, f := range sc.Record.Section(scenario.SectionExpect).Fields() {
		expr := access.Translate(f.Name, access.ContextTicket)
		err := sc.Session.CheckEquals(expr, f.Value)

		check := Check{Expression: expr, Expected: f.Value, Pass: err == nil}
		var assertionErr *session.AssertionError
		if errors.As(err, &assertionErr) {
			check.Actual = assertionErr.Actual
		}
		sc.Result.AddCheck(check)

		if err != nil {
			return err
		}
		sc.Logger.Info("expectation met", "expression", expr, "value", f.Value)
	}
	return nil
}

func accessFields(s *scenario.Section) []access.Field {
	var fields []access.Field
	for _, f := range s.Fields() {
		fields = append(fields, access.Field{Name: f.Name, Value: f.Value})
	}
	return fields
}
