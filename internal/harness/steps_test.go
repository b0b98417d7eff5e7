package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/gdbprobe/internal/scenario"
)

func mustRecord(t *testing.T, content string) *scenario.Record {
	t.Helper()
	path := filepath.Join(t.TempDir(), "001_x.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	rec, err := scenario.Load(path, nil)
	require.NoError(t, err)
	return rec
}
