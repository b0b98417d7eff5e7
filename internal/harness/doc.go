// Package harness runs scenario files against the daemon under test.
//
// A scenario directory holds a defaults file (_defaults.txt) and scenarios
// named NNN_<anything>.txt, which run in filename order. For each scenario
// the harness:
//
//  1. opens a log file for it;
//  2. starts the daemon and attaches the debugger;
//  3. loads the scenario over a copy of the defaults;
//  4. writes every field of the "ticket" section into the daemon;
//  5. runs the step variant (ticket or message), which ends by checking
//     the "expect" section;
//  6. stops both processes and closes the log, whatever happened before.
//
// A failed scenario is recorded in the RunResult and the next one runs.
//
// # Variants
//
// The ticket variant only checks expectations. The message variant first
// resumes the daemon until it stops in the receive breakpoint, then writes
// the "message" section into the in-flight message, converting each value
// to network byte order, and checks expectations after that. The auto
// variant picks message when the scenario has a non-empty message section.
//
// # Expectations
//
// Each "expect" line is "<ticket field> <value>" and passes when the
// debugger evaluates (booth_conf->ticket[0].<field>) == (<value>) to 1.
// The first failing expectation ends the scenario.
package harness
