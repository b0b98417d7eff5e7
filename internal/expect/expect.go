// Package expect matches patterns against an unframed, chunked output
// stream.
//
// A Stream owns a goroutine that copies everything the source produces into
// an in-memory buffer. Expect blocks until a pattern appears in the
// unconsumed part of that buffer, then consumes the buffer up to the end of
// the match and returns both the text before the match and the match itself.
// Text after the match stays buffered for the next call.
package expect

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

// DefaultMaxBuffer bounds unconsumed output kept in memory (1MB). Older
// bytes are dropped first, so a stream nobody waits on can't grow forever.
const DefaultMaxBuffer = 1 << 20

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("expect: timed out")

	// ErrClosed is returned when the source ends before the pattern appears.
	ErrClosed = errors.New("expect: stream closed")
)

// TimeoutError is returned when a pattern does not appear in time.
type TimeoutError struct {
	Pattern  string
	Timeout  time.Duration
	Buffered string // unconsumed output at the time of expiry
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %q (buffered: %q)", e.Timeout, e.Pattern, e.Buffered)
}

// Is makes errors.Is(err, ErrTimeout) hold for every TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Match is the result of a successful Expect.
type Match struct {
	Before string   // consumed output preceding the match
	Text   string   // the matched text
	Groups []string // submatches, Groups[0] == Text
}

// Option configures a Stream.
type Option func(*Stream)

// WithTee copies every chunk read from the source to w as well.
// Write errors on w are ignored so the source keeps draining.
func WithTee(w io.Writer) Option {
	return func(s *Stream) { s.tee = w }
}

// WithMaxBuffer overrides DefaultMaxBuffer.
func WithMaxBuffer(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.max = n
		}
	}
}

// Stream is a buffered view of an output source.
//
// Thread-safety: Expect and the accessors may be called from any goroutine,
// but concurrent Expect calls race for the same bytes; callers serialize them.
type Stream struct {
	mu      sync.Mutex
	buf     []byte
	err     error         // terminal read error, set once
	changed chan struct{} // closed and replaced whenever buf or err changes
	max     int
	tee     io.Writer
	done    chan struct{} // closed when the reader goroutine exits
}

// NewStream starts reading r in the background.
func NewStream(r io.Reader, opts ...Option) *Stream {
	s := &Stream{
		changed: make(chan struct{}),
		max:     DefaultMaxBuffer,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.pump(r)
	return s
}

func (s *Stream) pump(r io.Reader) {
	defer close(s.done)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if s.tee != nil {
				_, _ = s.tee.Write(chunk[:n])
			}
			s.mu.Lock()
			s.buf = append(s.buf, chunk[:n]...)
			if over := len(s.buf) - s.max; over > 0 {
				s.buf = append(s.buf[:0], s.buf[over:]...)
			}
			s.broadcastLocked()
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.broadcastLocked()
			s.mu.Unlock()
			return
		}
	}
}

func (s *Stream) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Expect waits until re matches the unconsumed output. A timeout <= 0 waits
// indefinitely.
func (s *Stream) Expect(re *regexp.Regexp, timeout time.Duration) (Match, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		s.mu.Lock()
		if loc := re.FindSubmatchIndex(s.buf); loc != nil {
			m := Match{
				Before: string(s.buf[:loc[0]]),
				Text:   string(s.buf[loc[0]:loc[1]]),
			}
			for i := 0; i < len(loc); i += 2 {
				if loc[i] < 0 {
					m.Groups = append(m.Groups, "")
					continue
				}
				m.Groups = append(m.Groups, string(s.buf[loc[i]:loc[i+1]]))
			}
			s.buf = append(s.buf[:0], s.buf[loc[1]:]...)
			s.mu.Unlock()
			return m, nil
		}
		if s.err != nil {
			buffered, cause := string(s.buf), s.err
			s.mu.Unlock()
			return Match{Before: buffered}, fmt.Errorf("waiting for %q: %w (%v)", re.String(), ErrClosed, cause)
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-expired:
			return Match{}, &TimeoutError{Pattern: re.String(), Timeout: timeout, Buffered: s.Buffered()}
		}
	}
}

// ExpectLiteral waits for text to appear verbatim.
func (s *Stream) ExpectLiteral(text string, timeout time.Duration) (Match, error) {
	return s.Expect(regexp.MustCompile(regexp.QuoteMeta(text)), timeout)
}

// Buffered returns the unconsumed output without consuming it.
func (s *Stream) Buffered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Drain consumes and returns all unconsumed output.
func (s *Stream) Drain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := string(s.buf)
	s.buf = s.buf[:0]
	return out
}

// Err returns the error that ended the source, or nil while it is open.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the source has ended and the reader goroutine exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
