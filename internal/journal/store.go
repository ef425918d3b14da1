// Package journal records mode runs and visit outcomes in the in-memory
// database so the control surface can show recent history.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"url-time/internal/database"
	"url-time/internal/scheduler"
	"url-time/internal/settings"
	"url-time/internal/visit"
)

const writeTimeout = 2 * time.Second

// Store is both a scheduler.Sink and a scheduler.RunRecorder.
type Store struct {
	db     *sql.DB
	keep   int
	logger *zap.Logger
}

var (
	_ scheduler.Sink        = (*Store)(nil)
	_ scheduler.RunRecorder = (*Store)(nil)
)

// NewStore creates a journal on an open database handle. At most keep visit
// outcomes are retained; keep <= 0 retains everything.
func NewStore(db *sql.DB, keep int, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, keep: keep, logger: logger}, nil
}

// Publish records outcome. Failures are logged; the visit path never sees them.
func (s *Store) Publish(outcome visit.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.SaveOutcome(ctx, outcome); err != nil {
		s.logger.Warn("journal outcome", zap.String("url", outcome.URL), zap.Error(err))
	}
}

// SaveOutcome inserts outcome and prunes rows beyond the retention limit.
func (s *Store) SaveOutcome(ctx context.Context, outcome visit.Outcome) error {
	var status any
	if outcome.Status != 0 {
		status = outcome.Status
	}
	var elapsed any
	if outcome.Elapsed != nil {
		elapsed = *outcome.Elapsed
	}
	var mode any
	if outcome.Mode != "" {
		mode = string(outcome.Mode)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO visit_outcomes (
			level, url, status, elapsed, access_count, mode, message, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(outcome.Level), outcome.URL, status, elapsed, outcome.AccessCount, mode, outcome.Message, outcome.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	if err := database.Prune(ctx, s.db, s.keep); err != nil {
		return fmt.Errorf("prune outcomes: %w", err)
	}
	return nil
}

// RunStarted inserts an open run row.
func (s *Store) RunStarted(ctx context.Context, info scheduler.RunInfo) error {
	var planned any
	if info.Mode == settings.ModeRandom {
		planned = info.Planned
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mode_runs (id, mode, planned, visits, started_at)
		VALUES (?, ?, ?, 0, ?)
	`, info.ID, string(info.Mode), planned, info.StartedAt.UnixMilli())
	return err
}

// RunFinished closes the run row, inserting it when RunStarted was missed.
func (s *Store) RunFinished(ctx context.Context, info scheduler.RunInfo) error {
	finished := time.Now()
	if info.FinishedAt != nil {
		finished = *info.FinishedAt
	}
	var planned any
	if info.Mode == settings.ModeRandom {
		planned = info.Planned
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mode_runs (id, mode, planned, visits, started_at, finished_at, stop_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			visits = excluded.visits,
			finished_at = excluded.finished_at,
			stop_reason = excluded.stop_reason
	`, info.ID, string(info.Mode), planned, info.Visits, info.StartedAt.UnixMilli(), finished.UnixMilli(), info.Reason)
	return err
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]visit.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, url, status, elapsed, access_count, mode, message, timestamp
		FROM visit_outcomes
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := make([]visit.Outcome, 0)
	for rows.Next() {
		var (
			o         visit.Outcome
			level     string
			status    sql.NullInt64
			elapsed   sql.NullFloat64
			mode      sql.NullString
			timestamp int64
		)
		if err := rows.Scan(&level, &o.URL, &status, &elapsed, &o.AccessCount, &mode, &o.Message, &timestamp); err != nil {
			return nil, err
		}
		o.Level = visit.Level(level)
		if status.Valid {
			o.Status = int(status.Int64)
		}
		if elapsed.Valid {
			value := elapsed.Float64
			o.Elapsed = &value
		}
		if mode.Valid {
			o.Mode = settings.Mode(mode.String)
		}
		o.Timestamp = time.UnixMilli(timestamp).UTC()
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]scheduler.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, planned, visits, started_at, finished_at, stop_reason
		FROM mode_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]scheduler.RunInfo, 0)
	for rows.Next() {
		var (
			run        scheduler.RunInfo
			mode       string
			planned    sql.NullInt64
			startedAt  int64
			finishedAt sql.NullInt64
			reason     sql.NullString
		)
		if err := rows.Scan(&run.ID, &mode, &planned, &run.Visits, &startedAt, &finishedAt, &reason); err != nil {
			return nil, err
		}
		run.Mode = settings.Mode(mode)
		if planned.Valid {
			run.Planned = int(planned.Int64)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		if finishedAt.Valid {
			finished := time.UnixMilli(finishedAt.Int64).UTC()
			run.FinishedAt = &finished
		}
		if reason.Valid {
			run.Reason = reason.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
