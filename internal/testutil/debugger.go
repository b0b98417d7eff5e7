package testutil

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// InitialPrompt is the prompt a freshly attached gdb prints.
const InitialPrompt = "(gdb) "

// FakeDebugger interprets the subset of gdb's interactive text conventions
// the harness depends on, against an in-memory table of expressions.
//
// Supported commands:
//
//	set prompt <text>          (a trailing \n escape becomes a newline)
//	set pagination|width|confirm ...
//	set variable <loc> = <value>   (<value> may be htonl(<n>))
//	print <expr>               ('quoted' symbols, strcpy(loc, "s"), htonl/ntohl,
//	                           (a) == (b), known locations, literals)
//	break <function>
//	continue                   (reports the next queued breakpoint hit)
//
// After Hang, the next continue prints "Continuing." and no prompt, as gdb
// does while the inferior runs.
//
// Everything else answers like gdb does for an unknown command.
type FakeDebugger struct {
	mu          sync.Mutex
	vars        map[string]string
	hits        []string
	breakpoints []string
	transcript  []string
	prompt      string
	history     int
	out         io.Writer
	hang        bool
	running     bool

	// Banner is written before the first prompt.
	Banner string
}

// NewFakeDebugger creates a fake debugger whose inferior holds vars.
func NewFakeDebugger(vars map[string]string) *FakeDebugger {
	f := &FakeDebugger{
		vars:   make(map[string]string),
		prompt: InitialPrompt,
		Banner: "Attaching to process 4242\nReading symbols from /usr/sbin/boothd...\n",
	}
	for k, v := range vars {
		f.vars[k] = v
	}
	return f
}

// QueueHits appends functions that successive "continue" commands stop in.
func (f *FakeDebugger) QueueHits(functions ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, functions...)
}

// Hang makes the next "continue" leave the inferior running forever.
func (f *FakeDebugger) Hang() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = true
}

// Set stores a value as the inferior would hold it.
func (f *FakeDebugger) Set(location, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vars[location] = value
}

// Value returns the stored value of a location.
func (f *FakeDebugger) Value(location string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vars[location]
	return v, ok
}

// Transcript returns every command line received, in order.
func (f *FakeDebugger) Transcript() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transcript...)
}

// Breakpoints returns the functions breakpoints were set on.
func (f *FakeDebugger) Breakpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.breakpoints...)
}

// Emit writes text to the output outside of any command cycle, the way
// output of a running inferior reaches the terminal.
func (f *FakeDebugger) Emit(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out == nil {
		return fmt.Errorf("fake debugger not serving")
	}
	_, err := io.WriteString(f.out, text)
	return err
}

// Serve answers commands read from r on w until r ends.
func (f *FakeDebugger) Serve(r io.Reader, w io.Writer) error {
	f.mu.Lock()
	f.out = w
	_, err := io.WriteString(w, f.Banner+f.prompt)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		f.mu.Lock()
		f.transcript = append(f.transcript, line)
		answer := f.execute(line)
		if !f.running {
			answer += f.prompt
		}
		_, err := io.WriteString(w, answer)
		f.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (f *FakeDebugger) execute(line string) string {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "":
		return ""
	case "set":
		return f.executeSet(rest)
	case "print", "p":
		value, err := f.eval(rest)
		if err != "" {
			return err
		}
		f.history++
		return fmt.Sprintf("$%d = %s\n", f.history, value)
	case "break", "b", "breakpoint":
		f.breakpoints = append(f.breakpoints, rest)
		return fmt.Sprintf("Breakpoint %d at 0x4011d6: file %s.c, line 42.\n", len(f.breakpoints), rest)
	case "continue", "c":
		if f.hang {
			f.running = true
			return "Continuing.\n"
		}
		if len(f.hits) == 0 {
			return "Continuing.\n[Inferior 1 (process 4242) exited normally]\n"
		}
		hit := f.hits[0]
		f.hits = f.hits[1:]
		number := 0
		for i, b := range f.breakpoints {
			if b == hit {
				number = i + 1
			}
		}
		return fmt.Sprintf("Continuing.\n\nBreakpoint %d, %s (fd=3) at %s.c:42\n42\t%s.c: No such file or directory.\n", number, hit, hit, hit)
	default:
		return fmt.Sprintf("Undefined command: %q.  Try \"help\".\n", verb)
	}
}

func (f *FakeDebugger) executeSet(rest string) string {
	sub, arg, _ := strings.Cut(rest, " ")
	switch sub {
	case "prompt":
		f.prompt = strings.ReplaceAll(arg, `\n`, "\n")
		return ""
	case "pagination", "width", "confirm", "height":
		return ""
	case "variable", "var":
		location, value, ok := strings.Cut(arg, "=")
		if !ok {
			return "A syntax error in expression, near `'.\n"
		}
		evaluated, errText := f.eval(strings.TrimSpace(value))
		if errText != "" {
			return errText
		}
		f.vars[strings.TrimSpace(location)] = evaluated
		return ""
	default:
		return fmt.Sprintf("Undefined set command: %q.  Try \"help set\".\n", sub)
	}
}

// eval returns the printed value of expr, or gdb's error text.
func (f *FakeDebugger) eval(expr string) (string, string) {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(expr, "'") && strings.HasSuffix(expr, "'") && len(expr) > 1 {
		return "", fmt.Sprintf("No symbol \"%s\" in current context.\n", strings.Trim(expr, "'"))
	}

	if inner, ok := call(expr, "strcpy"); ok {
		location, literal, ok := strings.Cut(inner, ",")
		if !ok {
			return "", "Too few arguments in function call.\n"
		}
		location = strings.TrimSpace(location)
		literal = strings.TrimSpace(literal)
		f.vars[location] = literal
		return "0x601040 <booth_conf+64> " + literal, ""
	}

	for _, fn := range []string{"htonl", "ntohl"} {
		if inner, ok := call(expr, fn); ok {
			value, errText := f.eval(inner)
			if errText != "" {
				return "", errText
			}
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return "", "Invalid number \"" + value + "\".\n"
			}
			return strconv.FormatUint(uint64(swap32(uint32(n))), 10), ""
		}
	}

	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		if left, right, ok := strings.Cut(expr[1:len(expr)-1], ") == ("); ok {
			a, errText := f.eval(left)
			if errText != "" {
				return "", errText
			}
			b, errText := f.eval(right)
			if errText != "" {
				return "", errText
			}
			if a == b {
				return "1", ""
			}
			return "0", ""
		}
	}

	if value, ok := f.vars[expr]; ok {
		return value, ""
	}
	if _, err := strconv.ParseInt(expr, 0, 64); err == nil {
		return expr, ""
	}
	if strings.HasPrefix(expr, `"`) && strings.HasSuffix(expr, `"`) && len(expr) > 1 {
		return expr, ""
	}
	return "", fmt.Sprintf("No symbol \"%s\" in current context.\n", expr)
}

// call returns the argument text of "fn(...)".
func call(expr, fn string) (string, bool) {
	if !strings.HasPrefix(expr, fn+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	return expr[len(fn)+1 : len(expr)-1], true
}

func swap32(n uint32) uint32 {
	return n>>24 | (n>>8)&0xff00 | (n<<8)&0xff0000 | n<<24
}
