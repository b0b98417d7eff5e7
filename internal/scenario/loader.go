// Package scenario parses declarative scenario files.
//
// A scenario file is line oriented:
//
//	# comment
//	ticket:
//	owner    "node1"
//	expires  100
//
// A line "<identifier>:" opens (or reopens) a section. Any other non-blank,
// non-comment line is a field name, whitespace, and the rest of the line as
// the raw value. A data line before the first section header is an error.
//
// Loading merges into a starting record, so a scenario is read on top of a
// copy of the defaults: scenario fields override default fields one by one
// and fields the scenario does not mention keep their default.
package scenario

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultsFile is the reserved basename of the cross-scenario defaults.
const DefaultsFile = "_defaults.txt"

// Standard sections every record loaded by LoadDefaults starts with.
const (
	SectionTicket  = "ticket"
	SectionMessage = "message"
	SectionExpect  = "expect"
)

var (
	// ErrNoSection is returned for a data line before any section header.
	ErrNoSection = errors.New("data line before any section header")
	// ErrInvalidUTF8 is returned for a line that is not UTF-8.
	ErrInvalidUTF8 = errors.New("line is not valid UTF-8")
)

var (
	commentLine = regexp.MustCompile(`^\s*#`)
	blankLine   = regexp.MustCompile(`^\s*$`)
	headerLine  = regexp.MustCompile(`^\s*(\w+)\s*:\s*$`)
	dataLine    = regexp.MustCompile(`^\s*(\S+)\s*(.*?)\s*$`)
)

// ParseError locates a malformed line.
type ParseError struct {
	File string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v: %q", e.File, e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads scenario text from r into into. name is used in errors.
// Values are kept byte for byte; a leading byte order mark is dropped and
// a line that is not valid UTF-8 is an error.
func Parse(r io.Reader, name string, into *Record) error {
	var current *Section

	br := bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop)))
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if line == "" && err != nil {
			return nil
		}
		lineNo++
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if !utf8.ValidString(line) {
			return &ParseError{File: name, Line: lineNo, Text: line, Err: ErrInvalidUTF8}
		}
		switch {
		case commentLine.MatchString(line), blankLine.MatchString(line):
		case headerLine.MatchString(line):
			current = into.Ensure(headerLine.FindStringSubmatch(line)[1])
		case current == nil:
			return &ParseError{File: name, Line: lineNo, Text: line, Err: ErrNoSection}
		default:
			m := dataLine.FindStringSubmatch(line)
			current.Set(m[1], m[2])
		}
		if err != nil {
			return nil
		}
	}
}

// Load parses the file at path on top of base and returns base. A nil base
// starts from an empty record.
func Load(path string, base *Record) (*Record, error) {
	if base == nil {
		base = NewRecord()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()

	if err := Parse(f, filepath.Base(path), base); err != nil {
		return nil, err
	}
	return base, nil
}

// LoadDefaults reads the defaults file in dir. The result always has the
// ticket, message and expect sections, so scenarios can rely on them. A
// missing defaults file yields just those empty sections.
func LoadDefaults(dir string) (*Record, error) {
	return LoadDefaultsFile(filepath.Join(dir, DefaultsFile))
}

// LoadDefaultsFile is LoadDefaults for an explicit path.
func LoadDefaultsFile(path string) (*Record, error) {
	base := NewRecord(SectionTicket, SectionMessage, SectionExpect)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	return Load(path, base)
}

// LoadScenario reads one scenario over a deep copy of defaults; defaults
// itself is never modified.
func LoadScenario(path string, defaults *Record) (*Record, error) {
	return Load(path, defaults.Clone())
}
