package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/gdbprobe/internal/harness"
)

// ErrRunNotFound is returned by ReadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run history.
type RunSummary struct {
	ID        string        `json:"id"`
	Dir       string        `json:"dir"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Pass      bool          `json:"pass"`
	Scenarios int           `json:"scenarios"`
	Failed    int           `json:"failed"`
}

// ScenarioRun is one execution of a scenario, with the run it belonged to.
type ScenarioRun struct {
	RunID   string    `json:"run_id"`
	Started time.Time `json:"started"`
	harness.ScenarioResult
}

const scenarioColumns = "name, variant, pass, site_id, kind, error, checks, log_path, duration_ms"

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT id, dir, started_at, duration_ms, pass, scenario_count, failed_count
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run and its scenarios in execution order.
func (s *Store) ReadRun(ctx context.Context, id string) (RunSummary, []harness.ScenarioResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dir, started_at, duration_ms, pass, scenario_count, failed_count
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunSummary{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scenarioColumns+`
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return RunSummary{}, nil, fmt.Errorf("query scenario results: %w", err)
	}
	defer rows.Close()

	scenarios := []harness.ScenarioResult{}
	for rows.Next() {
		var sc harness.ScenarioResult
		if err := scanScenario(rows, &sc); err != nil {
			return RunSummary{}, nil, err
		}
		scenarios = append(scenarios, sc)
	}
	if err := rows.Err(); err != nil {
		return RunSummary{}, nil, fmt.Errorf("iterate scenario results: %w", err)
	}
	return run, scenarios, nil
}

// ScenarioHistory returns the executions of the named scenario across runs,
// most recent first. limit <= 0 means all.
func (s *Store) ScenarioHistory(ctx context.Context, name string, limit int) ([]ScenarioRun, error) {
	query := `
		SELECT r.id, r.started_at, s.name, s.variant, s.pass, s.site_id, s.kind, s.error,
		       s.checks, s.log_path, s.duration_ms
		FROM scenario_results s
		JOIN runs r ON r.id = s.run_id
		WHERE s.name = ?
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC
	`
	args := []any{name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scenario history: %w", err)
	}
	defer rows.Close()

	history := []ScenarioRun{}
	for rows.Next() {
		var (
			sr      ScenarioRun
			started string
		)
		if err := scanScenario(rows, &sr.ScenarioResult, &sr.RunID, &started); err != nil {
			return nil, err
		}
		if sr.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		history = append(history, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenario history: %w", err)
	}
	return history, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunSummary, error) {
	var (
		run        RunSummary
		started    string
		durationMS int64
		pass       int
	)
	if err := row.Scan(&run.ID, &run.Dir, &started, &durationMS, &pass, &run.Scenarios, &run.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunSummary{}, err
		}
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	run.Started = t
	run.Duration = millis(durationMS)
	run.Pass = pass == 1
	return run, nil
}

// scanScenario scans scenarioColumns into sc, preceded by any extra
// destinations.
func scanScenario(row scanner, sc *harness.ScenarioResult, extra ...any) error {
	var (
		pass       int
		checksJSON string
		durationMS int64
	)
	dest := append(extra, &sc.Name, &sc.Variant, &pass, &sc.SiteID, &sc.Kind, &sc.Error, &checksJSON, &sc.LogPath, &durationMS)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("scan scenario result: %w", err)
	}
	sc.Pass = pass == 1
	sc.Duration = millis(durationMS)
	if err := json.Unmarshal([]byte(checksJSON), &sc.Checks); err != nil {
		return fmt.Errorf("unmarshal checks of %s: %w", sc.Name, err)
	}
	return nil
}
