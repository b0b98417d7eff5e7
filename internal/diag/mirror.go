package diag

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Mirror is an io.Writer that logs every complete line written to it. It
// is used as the tee of child process output so the daemon's and the
// debugger's text lands in the scenario log.
type Mirror struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	source string
	buf    []byte
}

// NewMirror logs lines at level with a source=<source> attribute.
func NewMirror(logger *slog.Logger, level slog.Level, source string) *Mirror {
	return &Mirror{logger: logger, level: level, source: source}
}

func (m *Mirror) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = append(m.buf, p...)
	for {
		i := bytes.IndexByte(m.buf, '\n')
		if i < 0 {
			break
		}
		m.emit(m.buf[:i])
		m.buf = m.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (m *Mirror) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) > 0 {
		m.emit(m.buf)
		m.buf = nil
	}
}

func (m *Mirror) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	m.logger.Log(context.Background(), m.level, string(line), "source", m.source)
}
