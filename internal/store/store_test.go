package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/gdbprobe/internal/harness"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(started time.Time, pass bool) *harness.RunResult {
	run := harness.NewRunResult("/srv/scenarios")
	run.Started = started
	run.Duration = 1500 * time.Millisecond

	ok := harness.NewScenarioResult("001_owner.txt")
	ok.Variant = "ticket"
	ok.SiteID = "3232235777"
	ok.Duration = 700 * time.Millisecond
	ok.AddCheck(harness.Check{Expression: "booth_conf->ticket[0].owner", Expected: `"node1"`, Pass: true})
	run.Add(*ok)

	if !pass {
		bad := harness.NewScenarioResult("002_expiry.txt")
		bad.Variant = "ticket"
		bad.AddCheck(harness.Check{Expression: "booth_conf->ticket[0].expires", Expected: "100", Actual: "600"})
		bad.Fail(errors.New("booth_conf->ticket[0].expires: expected 100, got 600"))
		bad.Kind = harness.KindAssertion
		run.Add(*bad)
	}
	return run
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"foreign_keys": "1",
		"busy_timeout": "5000",
	} {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Fatal("expected error for unreachable path")
	}
}

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, time.March, 7, 9, 5, 3, 0, time.UTC)

	if err := s.WriteRun(ctx, "run-1", testRun(started, false)); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}

	run, scenarios, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Pass || run.Scenarios != 2 || run.Failed != 1 {
		t.Errorf("summary = %+v", run)
	}
	if !run.Started.Equal(started) {
		t.Errorf("started = %v, want %v", run.Started, started)
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", run.Duration)
	}

	if len(scenarios) != 2 {
		t.Fatalf("got %d scenarios, want 2", len(scenarios))
	}
	if scenarios[0].Name != "001_owner.txt" || !scenarios[0].Pass || scenarios[0].SiteID != "3232235777" {
		t.Errorf("first scenario = %+v", scenarios[0])
	}
	bad := scenarios[1]
	if bad.Pass || bad.Kind != harness.KindAssertion || !strings.Contains(bad.Error, "expected 100, got 600") {
		t.Errorf("second scenario = %+v", bad)
	}
	if len(bad.Checks) != 1 || bad.Checks[0].Actual != "600" {
		t.Errorf("checks = %+v", bad.Checks)
	}
}

func TestWriteRun_DuplicateIDRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := testRun(time.Now(), true)

	if err := s.WriteRun(ctx, "dup", run); err != nil {
		t.Fatalf("first WriteRun() failed: %v", err)
	}
	if err := s.WriteRun(ctx, "dup", run); err == nil {
		t.Fatal("second WriteRun() with same id should fail")
	}

	_, scenarios, err := s.ReadRun(ctx, "dup")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if len(scenarios) != 1 {
		t.Errorf("failed write must not add rows, got %d scenarios", len(scenarios))
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.ReadRun(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 7, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.WriteRun(ctx, id, testRun(base.Add(time.Duration(i)*time.Minute), i != 1)); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "c,b,a" {
		t.Errorf("order = %v, want c,b,a", ids)
	}
	if runs[1].Pass {
		t.Error("run b should have failed")
	}

	runs, err = s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns(2) failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("limit ignored: got %d runs", len(runs))
	}
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)

	runs, err := s.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", runs)
	}
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	first, second := g.Generate(), g.Generate()

	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("not a UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Errorf("version = %d, want 7", parsed.Version())
	}
	if first == second {
		t.Error("ids must be unique")
	}
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("r1", "r2")
	if got := g.Generate(); got != "r1" {
		t.Errorf("got %q", got)
	}
	if got := g.Generate(); got != "r2" {
		t.Errorf("got %q", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("exhausted generator should panic")
		}
	}()
	g.Generate()
}

func TestScenarioHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 7, 9, 0, 0, 0, time.UTC)

	// Runs a and c pass; b also runs 002_expiry.txt, which fails.
	for i, id := range []string{"a", "b", "c"} {
		if err := s.WriteRun(ctx, id, testRun(base.Add(time.Duration(i)*time.Minute), i != 1)); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	history, err := s.ScenarioHistory(ctx, "001_owner.txt", 0)
	if err != nil {
		t.Fatalf("ScenarioHistory() failed: %v", err)
	}
	var ids []string
	for _, h := range history {
		ids = append(ids, h.RunID)
	}
	if strings.Join(ids, ",") != "c,b,a" {
		t.Errorf("order = %v, want c,b,a", ids)
	}
	if !history[0].Started.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("started = %v", history[0].Started)
	}
	if history[0].SiteID != "3232235777" || len(history[0].Checks) != 1 {
		t.Errorf("scenario not read back: %+v", history[0].ScenarioResult)
	}

	failed, err := s.ScenarioHistory(ctx, "002_expiry.txt", 0)
	if err != nil {
		t.Fatalf("ScenarioHistory() failed: %v", err)
	}
	if len(failed) != 1 || failed[0].RunID != "b" || failed[0].Pass {
		t.Fatalf("got %+v, want one failed execution in run b", failed)
	}
	if failed[0].Kind != harness.KindAssertion || failed[0].Checks[0].Actual != "600" {
		t.Errorf("failure not read back: %+v", failed[0].ScenarioResult)
	}

	limited, err := s.ScenarioHistory(ctx, "001_owner.txt", 1)
	if err != nil {
		t.Fatalf("ScenarioHistory(1) failed: %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "c" {
		t.Errorf("limit: got %+v", limited)
	}
}

func TestScenarioHistory_Unknown(t *testing.T) {
	s := createTestStore(t)

	history, err := s.ScenarioHistory(context.Background(), "999_none.txt", 0)
	if err != nil {
		t.Fatalf("ScenarioHistory() failed: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", history)
	}
}

func TestOpen_SchemaIndexes(t *testing.T) {
	s := createTestStore(t)

	for _, name := range []string{"idx_runs_started", "idx_scenario_results_name"} {
		var got string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&got)
		if err != nil {
			t.Errorf("index %s: %v", name, err)
		}
	}
}
