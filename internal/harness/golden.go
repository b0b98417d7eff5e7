package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertTranscript compares the debugger commands of a run against the
// golden file testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertTranscript(t *testing.T, name string, commands []string) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(strings.Join(commands, "\n")+"\n"))
}
