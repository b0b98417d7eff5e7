package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/gdbprobe/internal/harness"
)

// timeLayout is how timestamps are stored; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// WriteRun stores a finished run and its scenarios under id in one
// transaction.
func (s *Store) WriteRun(ctx context.Context, id string, run *harness.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, dir, started_at, duration_ms, pass, scenario_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		run.Dir,
		run.Started.UTC().Format(timeLayout),
		run.Duration.Milliseconds(),
		boolInt(run.Pass),
		len(run.Scenarios),
		len(run.Failed()),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	for i, sc := range run.Scenarios {
		checks, err := marshalChecks(sc.Checks)
		if err != nil {
			return fmt.Errorf("write run: scenario %s: %w", sc.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scenario_results
			(run_id, position, name, variant, pass, site_id, kind, error, checks, log_path, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			i,
			sc.Name,
			sc.Variant,
			boolInt(sc.Pass),
			sc.SiteID,
			sc.Kind,
			sc.Error,
			checks,
			sc.LogPath,
			sc.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("write run: scenario %s: %w", sc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func marshalChecks(checks []harness.Check) (string, error) {
	if checks == nil {
		checks = []harness.Check{}
	}
	data, err := json.Marshal(checks)
	if err != nil {
		return "", fmt.Errorf("marshal checks: %w", err)
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
